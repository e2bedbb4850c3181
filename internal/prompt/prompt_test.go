package prompt

import (
	"strings"
	"testing"

	"github.com/dshills/trialscribe/internal/compliance"
)

func TestBuildDraftPrompt_EmbedsTaskAndContextVerbatim(t *testing.T) {
	got := BuildDraftPrompt("Write a Protocol Synopsis paragraph.", "- [1] (guide.md) snippet text...")

	if !strings.Contains(got, "TASK: Write a Protocol Synopsis paragraph.") {
		t.Errorf("prompt missing task: %q", got)
	}
	if !strings.Contains(got, "- [1] (guide.md) snippet text...") {
		t.Errorf("prompt missing context: %q", got)
	}
	if !strings.Contains(got, "CONTEXT (guidance snippets):") {
		t.Errorf("prompt missing context header: %q", got)
	}
}

func TestBuildRevisionPrompt_IssuesInCheckerOrder(t *testing.T) {
	issues := []compliance.Issue{
		{Rule: "risk_mitigation", Message: "Mention risk mitigation when risks are discussed."},
		{Rule: "min_length", Message: "Provide at least ~150 words for sufficient detail."},
	}
	got := BuildRevisionPrompt("prior draft text", issues)

	if !strings.Contains(got, "DRAFT:\nprior draft text") {
		t.Errorf("prompt missing prior draft: %q", got)
	}
	first := strings.Index(got, "- risk_mitigation:")
	second := strings.Index(got, "- min_length:")
	if first < 0 || second < 0 {
		t.Fatalf("prompt missing issue bullets: %q", got)
	}
	if first > second {
		t.Error("issues not in checker order")
	}
	if !strings.Contains(got, "Preserve meaning and structure.") {
		t.Errorf("prompt missing preservation instruction: %q", got)
	}
}

func TestSystemInstructions_Fixed(t *testing.T) {
	if !strings.Contains(DraftSystem, "clinical-trial documentation assistant") {
		t.Errorf("DraftSystem changed: %q", DraftSystem)
	}
	if !strings.Contains(ReviseSystem, "compliance editor") {
		t.Errorf("ReviseSystem changed: %q", ReviseSystem)
	}
}
