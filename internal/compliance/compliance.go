// Package compliance evaluates draft text against an ordered table of
// heuristic rules. Checking is a pure function: rules accumulate, never
// short-circuit, and the same input always yields the same issues in the
// same order.
package compliance

import "strings"

// MinWords is the minimum whitespace-delimited word count a draft must reach.
const MinWords = 150

// Issue describes a single rule violation in a draft.
type Issue struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result is the outcome of a compliance check. OK is true iff no rule fired.
type Result struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

// document is the pre-computed view of a draft that rule predicates read.
// Lowering and word counting happen once per check, not once per rule.
type document struct {
	raw     string
	lowered string
	words   int
}

// Rule pairs a stable identifier with a predicate over the draft.
// Fires reports whether the rule is violated.
type Rule struct {
	ID      string
	Message string
	Fires   func(doc *document) bool
}

// DefaultRules is the built-in rule table, evaluated in declaration order.
var DefaultRules = []Rule{
	{
		ID:      "no_placeholders",
		Message: "Remove TBD/placeholder language.",
		Fires: func(doc *document) bool {
			return strings.Contains(doc.raw, "TBD") || strings.Contains(doc.lowered, "to be determined")
		},
	},
	{
		ID:      "risk_mitigation",
		Message: "Mention risk mitigation when risks are discussed.",
		Fires: func(doc *document) bool {
			return strings.Contains(doc.lowered, "risk") && !strings.Contains(doc.lowered, "mitigation")
		},
	},
	{
		ID:      "consent_withdrawal",
		Message: "State withdrawal rights in consent context.",
		Fires: func(doc *document) bool {
			return strings.Contains(doc.lowered, "consent") && !strings.Contains(doc.lowered, "withdraw")
		},
	},
	{
		ID:      "min_length",
		Message: "Provide at least ~150 words for sufficient detail.",
		Fires: func(doc *document) bool {
			return doc.words < MinWords
		},
	},
}

// Check evaluates text against the default rule table.
func Check(text string) Result {
	return CheckWith(DefaultRules, text)
}

// CheckWith evaluates text against a custom rule table in order. Every rule
// is evaluated; all fired rules appear in the result in table order.
func CheckWith(rules []Rule, text string) Result {
	doc := &document{
		raw:     text,
		lowered: strings.ToLower(text),
		words:   len(strings.Fields(text)),
	}

	var issues []Issue
	for _, r := range rules {
		if r.Fires(doc) {
			issues = append(issues, Issue{Rule: r.ID, Message: r.Message})
		}
	}

	return Result{OK: len(issues) == 0, Issues: issues}
}

// FormatIssues renders issues as a bulleted "rule: message" list joined by
// newlines, preserving checker order. Used verbatim in revision prompts.
func FormatIssues(issues []Issue) string {
	var sb strings.Builder
	for i, issue := range issues {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(issue.Rule)
		sb.WriteString(": ")
		sb.WriteString(issue.Message)
	}
	return sb.String()
}
