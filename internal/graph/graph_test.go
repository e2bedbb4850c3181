package graph

import (
	"strings"
	"testing"
)

func TestNewRenderer_Mermaid(t *testing.T) {
	r, err := NewRenderer("mermaid")
	if err != nil {
		t.Fatalf("NewRenderer mermaid: %v", err)
	}
	out, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "flowchart TD") {
		t.Errorf("expected mermaid flowchart header, got %q", s)
	}
	for _, edge := range []string{"R[retrieve] --> D[draft]", "D --> C[check]", "V --> C"} {
		if !strings.Contains(s, edge) {
			t.Errorf("missing edge %q", edge)
		}
	}
	if !strings.Contains(s, "no issues / max iters") {
		t.Error("missing terminal edge label")
	}
}

func TestNewRenderer_DOT(t *testing.T) {
	r, err := NewRenderer("dot")
	if err != nil {
		t.Fatalf("NewRenderer dot: %v", err)
	}
	out, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "digraph") {
		t.Errorf("expected digraph header, got %q", s)
	}
	if !strings.Contains(s, "revise -> check;") {
		t.Error("missing revise back-edge")
	}
}

func TestNewRenderer_Unknown(t *testing.T) {
	if _, err := NewRenderer("png"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
