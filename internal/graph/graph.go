// Package graph renders the pipeline's state diagram. The topology is
// static: every run visits the same nodes, only the check/revise cycle
// count varies.
package graph

import "fmt"

// Renderer formats the pipeline diagram into bytes for output.
type Renderer interface {
	Render() ([]byte, error)
}

// NewRenderer returns a Renderer for the given format string.
// Supported formats: "mermaid" (default), "dot".
func NewRenderer(format string) (Renderer, error) {
	switch format {
	case "mermaid":
		return &mermaidRenderer{}, nil
	case "dot":
		return &dotRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: supported formats are mermaid, dot", format)
	}
}

type mermaidRenderer struct{}

const mermaidDiagram = `flowchart TD
  R[retrieve] --> D[draft]
  D --> C[check]
  C -- no issues / max iters --> E{{END}}
  C -- issues remain --> V[revise]
  V --> C
`

func (r *mermaidRenderer) Render() ([]byte, error) {
	return []byte(mermaidDiagram), nil
}

type dotRenderer struct{}

const dotDiagram = `digraph trialscribe {
  rankdir=TB;
  retrieve -> draft;
  draft -> check;
  check -> end [label="no issues / max iters"];
  check -> revise [label="issues remain"];
  revise -> check;
}
`

func (r *dotRenderer) Render() ([]byte, error) {
	return []byte(dotDiagram), nil
}
