package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	llmpkg "github.com/dshills/trialscribe/internal/llm"
	"github.com/dshills/trialscribe/internal/store"
)

// anthropicFixture builds a minimal Messages API response carrying text.
func anthropicFixture(text string) []byte {
	body := map[string]any{
		"id":    "msg_test",
		"model": "claude-3-5-sonnet-20241022",
		"content": []map[string]string{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
	}
	data, _ := json.Marshal(body)
	return data
}

// setupMockAnthropicServer starts a test server that returns the given
// responses in sequence, repeating the last one. It points the anthropic
// provider at the server and restores the URL on cleanup.
func setupMockAnthropicServer(t *testing.T, responses ...[]byte) {
	t.Helper()
	idx := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		body := responses[idx]
		if idx < len(responses)-1 {
			idx++
		}
		w.Write(body) //nolint:errcheck
	}))
	original := llmpkg.AnthropicAPIURL()
	llmpkg.SetAnthropicAPIURL(srv.URL)
	t.Cleanup(func() {
		srv.Close()
		llmpkg.SetAnthropicAPIURL(original)
	})
}

// seedStore ingests a small guidance corpus into a fresh store and returns
// the store path.
func seedStore(t *testing.T) string {
	t.Helper()
	guidanceDir := t.TempDir()
	guidance := `# Risk Management

Every identified risk requires a documented mitigation strategy and an
assigned owner. Risk reviews occur at each protocol amendment.

# Informed Consent

Participants may withdraw consent at any time without penalty. The consent
process documents participant rights and withdrawal procedures.
`
	if err := os.WriteFile(filepath.Join(guidanceDir, "guide.md"), []byte(guidance), 0o644); err != nil {
		t.Fatalf("writing guidance fixture: %v", err)
	}

	storePath := filepath.Join(t.TempDir(), "test.db")
	if err := runIngest(guidanceDir, storePath, ""); err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	return storePath
}

// cleanDraftText is long enough to satisfy the length rule and mentions
// mitigation and withdrawal so the topic rules stay quiet.
var cleanDraftText = "Risk mitigation and consent withdrawal procedures are documented. " +
	strings.TrimSpace(strings.Repeat("All study procedures follow the protocol as written and approved. ", 25))

// baseRunFlags returns runFlags with unset numeric sentinels, matching the
// flag defaults.
func baseRunFlags(storePath string) runFlags {
	return runFlags{
		task:        "Draft the Risk Management section",
		storePath:   storePath,
		model:       "anthropic:claude-3-5-sonnet-20241022",
		maxIters:    -1,
		temperature: -1,
		maxTokens:   -1,
	}
}

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "test-key-for-integration-tests")
}

// --- Tests ---

func TestRunDraft_CleanFirstDraft(t *testing.T) {
	setTestEnv(t)
	setupMockAnthropicServer(t, anthropicFixture(cleanDraftText))
	storePath := seedStore(t)

	flags := baseRunFlags(storePath)
	flags.out = filepath.Join(t.TempDir(), "draft.md")

	if err := runDraft(flags); err != nil {
		t.Fatalf("runDraft: %v", err)
	}

	data, err := os.ReadFile(flags.out)
	if err != nil {
		t.Fatalf("reading draft output: %v", err)
	}
	if string(data) != cleanDraftText {
		t.Errorf("draft output does not match model response")
	}
}

func TestRunDraft_RevisionLoop(t *testing.T) {
	setTestEnv(t)
	// First draft trips the placeholder and length rules; the revision
	// passes every check.
	setupMockAnthropicServer(t,
		anthropicFixture("Enrollment target: TBD."),
		anthropicFixture(cleanDraftText),
	)
	storePath := seedStore(t)

	flags := baseRunFlags(storePath)
	flags.out = filepath.Join(t.TempDir(), "draft.md")

	if err := runDraft(flags); err != nil {
		t.Fatalf("runDraft: %v", err)
	}

	data, _ := os.ReadFile(flags.out)
	if string(data) != cleanDraftText {
		t.Errorf("expected revised draft in output, got %q", data)
	}
}

func TestRunDraft_EventsJSONL(t *testing.T) {
	setTestEnv(t)
	setupMockAnthropicServer(t,
		anthropicFixture("Enrollment target: TBD."),
		anthropicFixture(cleanDraftText),
	)
	storePath := seedStore(t)

	flags := baseRunFlags(storePath)
	flags.out = filepath.Join(t.TempDir(), "draft.md")
	flags.eventsPath = filepath.Join(t.TempDir(), "events.jsonl")

	if err := runDraft(flags); err != nil {
		t.Fatalf("runDraft: %v", err)
	}

	f, err := os.Open(flags.eventsPath)
	if err != nil {
		t.Fatalf("opening events file: %v", err)
	}
	defer f.Close()

	var states []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev struct {
			State string `json:"state"`
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid JSONL line: %v", err)
		}
		if ev.RunID == "" {
			t.Error("event missing run_id")
		}
		states = append(states, ev.State)
	}

	want := []string{"retrieve", "draft", "check", "revise", "check", "end"}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state[%d] = %q, want %q", i, states[i], want[i])
		}
	}
}

func TestRunDraft_RunHistoryPersisted(t *testing.T) {
	setTestEnv(t)
	setupMockAnthropicServer(t, anthropicFixture(cleanDraftText))
	storePath := seedStore(t)

	flags := baseRunFlags(storePath)
	flags.out = filepath.Join(t.TempDir(), "draft.md")
	if err := runDraft(flags); err != nil {
		t.Fatalf("runDraft: %v", err)
	}

	var buf strings.Builder
	if err := listRuns(storePath, "", 20, &buf); err != nil {
		t.Fatalf("listRuns: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "clean") {
		t.Errorf("runs listing missing clean status: %q", out)
	}
	if !strings.Contains(out, "Draft the Risk Management section") {
		t.Errorf("runs listing missing task: %q", out)
	}
}

func TestRunDraft_MissingCredential_ExitsCode4(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	storePath := seedStore(t)

	err := runDraft(baseRunFlags(storePath))
	if err == nil {
		t.Fatal("expected error without ANTHROPIC_API_KEY")
	}
	var ee *exitErr
	if asExitErr(err, &ee) {
		if ee.code != 4 {
			t.Errorf("expected exit code 4, got %d", ee.code)
		}
	} else {
		t.Errorf("expected exitErr, got %T: %v", err, err)
	}
}

func TestRunDraft_EmptyIndex_ExitsCode5(t *testing.T) {
	setTestEnv(t)
	setupMockAnthropicServer(t, anthropicFixture(cleanDraftText))
	storePath := filepath.Join(t.TempDir(), "empty.db")

	err := runDraft(baseRunFlags(storePath))
	if err == nil {
		t.Fatal("expected error for empty index")
	}
	var ee *exitErr
	if asExitErr(err, &ee) {
		if ee.code != 5 {
			t.Errorf("expected exit code 5, got %d", ee.code)
		}
	} else {
		t.Errorf("expected exitErr, got %T: %v", err, err)
	}
}

func TestRunDraft_InvalidModel_ExitsCode3(t *testing.T) {
	setTestEnv(t)
	storePath := seedStore(t)

	flags := baseRunFlags(storePath)
	flags.model = "no-provider-separator"

	err := runDraft(flags)
	if err == nil {
		t.Fatal("expected error for malformed model string")
	}
	var ee *exitErr
	if asExitErr(err, &ee) {
		if ee.code != 3 {
			t.Errorf("expected exit code 3, got %d", ee.code)
		}
	}
}

func TestRunIngest_MissingDir_ExitsCode3(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "test.db")
	err := runIngest("/nonexistent/guidance", storePath, "")
	if err == nil {
		t.Fatal("expected error for missing guidance directory")
	}
	var ee *exitErr
	if asExitErr(err, &ee) {
		if ee.code != 3 {
			t.Errorf("expected exit code 3, got %d", ee.code)
		}
	}
}

func TestListRuns_EmptyStore(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "test.db")
	var buf strings.Builder
	if err := listRuns(storePath, "", 20, &buf); err != nil {
		t.Fatalf("listRuns: %v", err)
	}
	if !strings.Contains(buf.String(), "No runs recorded.") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestRunDraft_MaxItersZero_NoRevisionCalls(t *testing.T) {
	setTestEnv(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write(anthropicFixture("Enrollment target: TBD.")) //nolint:errcheck
	}))
	original := llmpkg.AnthropicAPIURL()
	llmpkg.SetAnthropicAPIURL(srv.URL)
	t.Cleanup(func() {
		srv.Close()
		llmpkg.SetAnthropicAPIURL(original)
	})

	storePath := seedStore(t)
	flags := baseRunFlags(storePath)
	flags.maxIters = 0
	flags.out = filepath.Join(t.TempDir(), "draft.md")

	if err := runDraft(flags); err != nil {
		t.Fatalf("runDraft: %v", err)
	}
	if calls != 1 {
		t.Errorf("generation calls = %d, want 1", calls)
	}
}

func TestRunDraft_NoTaskUsesDemoTask(t *testing.T) {
	setTestEnv(t)
	setupMockAnthropicServer(t, anthropicFixture(cleanDraftText))
	storePath := seedStore(t)

	flags := baseRunFlags(storePath)
	flags.task = ""
	flags.out = filepath.Join(t.TempDir(), "draft.md")

	if err := runDraft(flags); err != nil {
		t.Fatalf("runDraft without --task: %v", err)
	}

	var buf strings.Builder
	if err := listRuns(storePath, "", 20, &buf); err != nil {
		t.Fatalf("listRuns: %v", err)
	}
	if !strings.Contains(buf.String(), "Protocol Synopsis") {
		t.Errorf("run record should carry the demo task, got %q", buf.String())
	}
}

func TestShowRun_ReplaysTransitionsInOrder(t *testing.T) {
	setTestEnv(t)
	setupMockAnthropicServer(t,
		anthropicFixture("Enrollment target: TBD."),
		anthropicFixture(cleanDraftText),
	)
	storePath := seedStore(t)

	flags := baseRunFlags(storePath)
	flags.out = filepath.Join(t.TempDir(), "draft.md")
	if err := runDraft(flags); err != nil {
		t.Fatalf("runDraft: %v", err)
	}

	st, err := store.Open(storePath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	runs, err := store.NewRunRepository(st).List(context.Background(), 1)
	st.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("listing runs: %v (%d runs)", err, len(runs))
	}

	var buf strings.Builder
	if err := showRun(storePath, "", runs[0].ID, &buf); err != nil {
		t.Fatalf("showRun: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Draft the Risk Management section") {
		t.Errorf("replay missing task header: %q", out)
	}
	// Transitions must appear in emission order even though the whole run
	// happens within the same wall-clock instant.
	want := []string{"retrieve", "draft", "check", "revise", "check", "end"}
	rest := out
	for _, state := range want {
		i := strings.Index(rest, "  "+state+"\n")
		if i < 0 {
			t.Fatalf("replay missing or misordered state %q:\n%s", state, out)
		}
		rest = rest[i+len(state):]
	}
}

func TestShowRun_UnknownRun_ExitsCode3(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "test.db")
	var buf strings.Builder
	err := showRun(storePath, "", "does-not-exist", &buf)
	if err == nil {
		t.Fatal("expected error for unknown run id")
	}
	var ee *exitErr
	if asExitErr(err, &ee) {
		if ee.code != 3 {
			t.Errorf("expected exit code 3, got %d", ee.code)
		}
	}
}

func TestTruncateTask_MultibyteSafe(t *testing.T) {
	task := strings.Repeat("é", 80)
	got := truncateTask(task)
	if got != strings.Repeat("é", 60)+"..." {
		t.Errorf("truncateTask mangled multibyte text: %q", got)
	}
	short := "Draft the Protocol Synopsis"
	if truncateTask(short) != short {
		t.Errorf("short task should pass through unchanged")
	}
}

// asExitErr is a type-assertion helper for *exitErr.
func asExitErr(err error, out **exitErr) bool {
	e, ok := err.(*exitErr)
	if ok {
		*out = e
	}
	return ok
}
