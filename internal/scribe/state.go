package scribe

import "github.com/dshills/trialscribe/internal/compliance"

// State names one node of the drafting loop.
type State string

// The five states. Control flows retrieve → draft → check, then cycles
// check/revise until the draft is clean or the revision budget is spent,
// and finishes at end.
const (
	StateRetrieve State = "retrieve"
	StateDraft    State = "draft"
	StateCheck    State = "check"
	StateRevise   State = "revise"
	StateEnd      State = "end"
)

// RunState is the working state of a single run. It is owned exclusively
// by that run and discarded when the final draft is returned.
type RunState struct {
	Task          string
	Context       string
	Draft         string
	Issues        []compliance.Issue
	Iteration     int
	MaxIterations int
}
