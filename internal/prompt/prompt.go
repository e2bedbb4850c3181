// Package prompt builds the fixed drafting and revision prompts.
package prompt

import (
	"strings"

	"github.com/dshills/trialscribe/internal/compliance"
)

// DraftSystem is the fixed system instruction for the initial drafting call.
const DraftSystem = "You are a clinical-trial documentation assistant. Write clear, precise, " +
	"and compliant text. Follow retrieved guidance carefully and avoid ambiguous statements."

// ReviseSystem is the fixed system instruction for revision calls.
const ReviseSystem = "You are a meticulous compliance editor for clinical-trial documents."

// BuildDraftPrompt embeds the task and retrieved context verbatim into the
// drafting user turn.
func BuildDraftPrompt(task, context string) string {
	var sb strings.Builder
	sb.WriteString("TASK: ")
	sb.WriteString(task)
	sb.WriteString("\n\nCONTEXT (guidance snippets):\n")
	sb.WriteString(context)
	sb.WriteString("\n\nWrite the requested section. Use neutral tone and professional clinical-trial style.")
	return sb.String()
}

// BuildRevisionPrompt embeds the prior draft and the checker's issues, in
// checker order, into the revision user turn. The instruction asks for the
// full revised text with meaning and structure preserved.
func BuildRevisionPrompt(draft string, issues []compliance.Issue) string {
	var sb strings.Builder
	sb.WriteString("Revise the DRAFT to resolve the following compliance issues. Preserve meaning and structure.\n\n")
	sb.WriteString("DRAFT:\n")
	sb.WriteString(draft)
	sb.WriteString("\n\nCOMPLIANCE ISSUES:\n")
	sb.WriteString(compliance.FormatIssues(issues))
	sb.WriteString("\n\nReturn the full revised text, improved but not overly verbose.")
	return sb.String()
}
