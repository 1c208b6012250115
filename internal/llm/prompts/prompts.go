// Package prompts builds the grading prompts sent to the LLM. The
// prompts instruct the model to answer in the SCORE/FEEDBACK textual
// protocol that the grading service parses.
package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agora-edu/agora/internal/model"
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// BuildShortAnswer builds the grading prompt for a short-answer question
// graded against its model answer.
func BuildShortAnswer(q model.Question, answer string) string {
	var sb strings.Builder
	sb.WriteString("You are grading a short-answer question on a philosophy exam.\n\n")
	sb.WriteString("QUESTION: " + q.Prompt + "\n\n")
	sb.WriteString(fmt.Sprintf("MAX POINTS: %d\n\n", q.MaxPoints))

	if q.ModelAnswer != "" {
		sb.WriteString("MODEL ANSWER (not shown to student):\n" + q.ModelAnswer + "\n\n")
	}

	sb.WriteString("STUDENT ANSWER:\n" + SanitizeAnswer(answer) + "\n\n")

	sb.WriteString("Grade the student's answer against the model answer for accuracy and completeness.\n")
	writeProtocol(&sb, q.MaxPoints)
	return sb.String()
}

// BuildEssay builds the rubric-aware grading prompt for an essay question.
func BuildEssay(q model.Question, answer string) string {
	var sb strings.Builder
	sb.WriteString("You are grading an essay question on a philosophy exam.\n\n")
	sb.WriteString("QUESTION: " + q.Prompt + "\n\n")
	sb.WriteString(fmt.Sprintf("MAX POINTS: %d\n\n", q.MaxPoints))

	if q.Rubric != "" {
		sb.WriteString("GRADING RUBRIC:\n" + q.Rubric + "\n\n")
	}
	if q.ModelAnswer != "" {
		sb.WriteString("MODEL ANSWER (not shown to student):\n" + q.ModelAnswer + "\n\n")
	}

	sb.WriteString("STUDENT ESSAY:\n" + SanitizeAnswer(answer) + "\n\n")

	sb.WriteString("Evaluate the essay on these criteria:\n")
	sb.WriteString("- Clarity of the argument\n")
	sb.WriteString("- Understanding of the philosophical concepts\n")
	sb.WriteString("- Use of course material and primary sources\n")
	sb.WriteString("- Critical thinking and engagement with objections\n")
	sb.WriteString("- Writing quality\n\n")
	writeProtocol(&sb, q.MaxPoints)
	return sb.String()
}

func writeProtocol(sb *strings.Builder, maxPoints int) {
	sb.WriteString("Respond in exactly this format:\n")
	sb.WriteString(fmt.Sprintf("SCORE: <points>/%d\n", maxPoints))
	sb.WriteString("FEEDBACK: <two or three sentences of feedback for the student>\n")
}

// SanitizeAnswer strips tag-injection attempts, trims whitespace, and
// truncates overlong answers before they are embedded in a prompt.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
