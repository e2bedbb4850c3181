// Package scribe runs the draft/check/revise loop that produces a
// clinical-trial section. The loop is strictly sequential: retrieve, draft,
// then a bounded check/revise cycle. All external capabilities are injected.
package scribe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/trialscribe/internal/compliance"
	"github.com/dshills/trialscribe/internal/events"
	"github.com/dshills/trialscribe/internal/llm"
	"github.com/dshills/trialscribe/internal/logging"
	"github.com/dshills/trialscribe/internal/prompt"
	"github.com/dshills/trialscribe/internal/retrieval"
)

// DefaultMaxIterations is the revision budget when the host does not
// override it.
const DefaultMaxIterations = 2

// Checker evaluates a draft for compliance.
type Checker func(text string) compliance.Result

// Options configures a Runner.
type Options struct {
	// MaxIterations bounds revision calls per run; must be ≥ 0.
	MaxIterations int
	// TopK is the number of snippets retrieved per run.
	TopK int
	// PreviewLen bounds each snippet in the formatted context.
	PreviewLen int
	Temperature float64
	MaxTokens   int
	// Sink receives a notification after every state transition. Nil is
	// valid: the loop never depends on an observer being attached.
	Sink events.Sink
	// Checker overrides the default rule table when non-nil.
	Checker Checker
	// RunID identifies runs started by this Runner. Empty means a fresh
	// id per run. Hosts that persist run records ahead of time set this
	// so events and the record share an id.
	RunID string
}

// Result is the terminal outcome of a run. Issues holds whatever the last
// check reported: an exhausted revision budget still returns the
// best-effort draft, and callers distinguish a clean pass by Issues being
// empty.
type Result struct {
	RunID      string
	Draft      string
	Issues     []compliance.Issue
	Iterations int
	Model      string
	// DraftHistory holds every draft version in order: the initial draft
	// followed by one entry per revision.
	DraftHistory []string
}

// Runner executes drafting runs. Safe for concurrent use: each run owns
// its own state.
type Runner struct {
	retriever retrieval.Retriever
	generator llm.Provider
	check     Checker
	opts      Options
}

// NewRunner wires a Runner from its injected capabilities.
func NewRunner(retriever retrieval.Retriever, generator llm.Provider, opts Options) (*Runner, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must be ≥ 0, got %d", opts.MaxIterations)
	}
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.PreviewLen <= 0 {
		opts.PreviewLen = retrieval.DefaultPreviewLen
	}
	check := opts.Checker
	if check == nil {
		check = compliance.Check
	}
	return &Runner{retriever: retriever, generator: generator, check: check, opts: opts}, nil
}

// Run executes one full pass of the loop for task. Retrieval and
// generation failures abort the run; there is no partial-success mode.
func (r *Runner) Run(ctx context.Context, task string) (*Result, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("task is required")
	}

	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := logging.Component("scribe").With().Str("run_id", runID).Logger()

	state := RunState{Task: task, MaxIterations: r.opts.MaxIterations}

	// retrieve
	snippets, err := r.retriever.Retrieve(ctx, task, r.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	state.Context = retrieval.FormatContext(snippets, r.opts.PreviewLen)
	log.Debug().Int("snippets", len(snippets)).Msg("context retrieved")
	r.emit(runID, StateRetrieve, map[string]string{"context": events.Preview(state.Context)})

	// draft
	resp, err := r.generator.Complete(ctx, &llm.Request{
		SystemPrompt: prompt.DraftSystem,
		UserPrompt:   prompt.BuildDraftPrompt(state.Task, state.Context),
		Temperature:  r.opts.Temperature,
		MaxTokens:    r.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("drafting failed: %w", err)
	}
	state.Draft = resp.Content
	model := resp.Model
	history := []string{state.Draft}
	log.Debug().Msg("initial draft produced")
	r.emit(runID, StateDraft, map[string]string{"draft": events.Preview(state.Draft)})

	// check/revise, bounded by the iteration budget
	for {
		result := r.check(state.Draft)
		state.Issues = result.Issues
		r.emit(runID, StateCheck, map[string]string{"issues": issueSummary(result.Issues)})

		if result.OK {
			break
		}
		// The bound check happens strictly before issuing another
		// revision, so at most MaxIterations revision calls occur.
		if state.Iteration >= state.MaxIterations {
			log.Warn().Int("issues", len(state.Issues)).Msg("revision budget exhausted, emitting best-effort draft")
			break
		}

		resp, err := r.generator.Complete(ctx, &llm.Request{
			SystemPrompt: prompt.ReviseSystem,
			UserPrompt:   prompt.BuildRevisionPrompt(state.Draft, state.Issues),
			Temperature:  r.opts.Temperature,
			MaxTokens:    r.opts.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("revision failed: %w", err)
		}
		state.Draft = resp.Content
		state.Iteration++
		history = append(history, state.Draft)
		log.Debug().Int("iteration", state.Iteration).Msg("draft revised")
		r.emit(runID, StateRevise, map[string]string{
			"draft":     events.Preview(state.Draft),
			"iteration": strconv.Itoa(state.Iteration),
		})
	}

	r.emit(runID, StateEnd, nil)
	log.Info().Int("iterations", state.Iteration).Int("open_issues", len(state.Issues)).Msg("run complete")

	return &Result{
		RunID:        runID,
		Draft:        state.Draft,
		Issues:       state.Issues,
		Iterations:   state.Iteration,
		Model:        model,
		DraftHistory: history,
	}, nil
}

// emit notifies the optional sink of a transition.
func (r *Runner) emit(runID string, s State, changed map[string]string) {
	if r.opts.Sink == nil {
		return
	}
	r.opts.Sink.Emit(events.Event{
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		State:     string(s),
		Changed:   changed,
	})
}

func issueSummary(issues []compliance.Issue) string {
	if len(issues) == 0 {
		return "none"
	}
	rules := make([]string, len(issues))
	for i, issue := range issues {
		rules[i] = issue.Rule
	}
	return strings.Join(rules, ", ")
}
