// Package grading turns submitted answer sets into scores and feedback.
// Multiple-choice and short-answer keys are graded deterministically;
// free text is forwarded to an LLM behind the Generator interface and
// scored through the SCORE/FEEDBACK protocol. Grading never fails a
// request: unparseable or unavailable grader responses degrade to a
// fixed partial credit.
package grading

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/agora-edu/agora/internal/i18n"
	"github.com/agora-edu/agora/internal/llm"
	"github.com/agora-edu/agora/internal/llm/prompts"
	"github.com/agora-edu/agora/internal/model"
)

// FallbackFraction is the share of a question's max points awarded when
// automated free-text grading cannot produce a real score, either
// because the grader response was unparseable or because the grader was
// unreachable.
const FallbackFraction = 0.6

// essayPassFraction is the share of max points at or above which an
// essay counts as correct in the per-question contract.
const essayPassFraction = 0.5

// Generator produces raw LLM completions for grading prompts. It mirrors
// the generate endpoint contract so tests can substitute a deterministic
// stub.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error)
}

// Service grades exam submissions.
type Service struct {
	gen   Generator
	model string
}

// NewService creates a grading service. model is the default model name
// passed through to the generator.
func NewService(gen Generator, model string) *Service {
	return &Service{gen: gen, model: model}
}

// GradeSubmission grades a flat answer list against an exam and produces
// the per-question submission response. Answers are keyed by question id
// with last write wins; questions without a present answer score zero.
func (s *Service) GradeSubmission(ctx context.Context, exam model.Exam, answers []model.Answer) model.SubmissionResult {
	byID := make(map[string]model.AnswerValue, len(answers))
	for _, a := range answers {
		byID[a.QuestionID] = a.Value
	}

	var earned, possible float64
	results := make([]model.PerQuestionResult, 0, len(exam.Questions))

	for _, q := range exam.Questions {
		res := s.gradeQuestion(ctx, q, byID[q.ID])
		earned += res.Earned
		possible += float64(res.MaxPoints)
		results = append(results, res)
	}

	return model.SubmissionResult{
		ScorePct:    percentage(earned, possible),
		PerQuestion: results,
	}
}

func (s *Service) gradeQuestion(ctx context.Context, q model.Question, v model.AnswerValue) model.PerQuestionResult {
	res := model.PerQuestionResult{
		QuestionID: q.ID,
		MaxPoints:  q.MaxPoints,
	}

	if !v.Present() {
		res.Feedback = i18n.T(ctx, "GradeNoAnswer")
		res.Expected = expectedAnswer(q)
		return res
	}

	switch q.Type {
	case model.QuestionMCQ:
		if v.Choice != nil && *v.Choice == q.ChoiceKey {
			res.Correct = true
			res.Earned = float64(q.MaxPoints)
			res.Feedback = i18n.T(ctx, "GradeCorrect")
		} else {
			res.Expected = expectedAnswer(q)
			res.Feedback = i18n.Td(ctx, "GradeIncorrect", map[string]any{"Expected": res.Expected})
		}
	case model.QuestionShort:
		if v.Text != nil && MatchShortAnswer(q.Accept, *v.Text) {
			res.Correct = true
			res.Earned = float64(q.MaxPoints)
			res.Feedback = i18n.T(ctx, "GradeCorrect")
		} else {
			res.Expected = expectedAnswer(q)
			res.Feedback = i18n.Td(ctx, "GradeIncorrect", map[string]any{"Expected": res.Expected})
		}
	case model.QuestionEssay:
		answer := ""
		if v.Text != nil {
			answer = *v.Text
		}
		score, feedback := s.gradeFreeText(ctx, prompts.BuildEssay(q, answer), q.MaxPoints)
		res.Earned = score
		res.Feedback = feedback
		res.Correct = q.MaxPoints > 0 && score >= essayPassFraction*float64(q.MaxPoints)
	}

	return res
}

// GradeSections grades the section submission contract: multiple choice
// deterministically, short answers and selected essays through the LLM
// against their model answers.
func (s *Service) GradeSections(ctx context.Context, exam model.Exam, sub model.SectionSubmission) model.SectionResult {
	modelName := s.model
	if sub.Model != "" {
		modelName = sub.Model
	}

	mc := s.gradeMCSection(ctx, exam, sub.Answers.MC)
	sa := s.gradeFreeTextSection(ctx, exam, model.QuestionShort, sub.Answers.SA, nil, modelName)
	essay := s.gradeFreeTextSection(ctx, exam, model.QuestionEssay, sub.Answers.Essay, sub.SelectedEssays, modelName)

	totalEarned := mc.detail.Earned + sa.detail.Earned + essay.detail.Earned
	totalMax := mc.detail.MaxPoints + sa.detail.MaxPoints + essay.detail.MaxPoints

	return model.SectionResult{
		Success: true,
		Score:   percentage(totalEarned, totalMax),
		Feedback: map[string]string{
			model.SectionMC:    mc.feedback,
			model.SectionSA:    sa.feedback,
			model.SectionEssay: essay.feedback,
		},
		Details: []model.SectionDetail{mc.detail, sa.detail, essay.detail},
	}
}

type sectionScore struct {
	detail   model.SectionDetail
	feedback string
}

func (s *Service) gradeMCSection(ctx context.Context, exam model.Exam, answers map[string]int) sectionScore {
	var earned, max float64
	var correct, total int
	for _, q := range exam.Questions {
		if q.Type != model.QuestionMCQ {
			continue
		}
		total++
		max += float64(q.MaxPoints)
		if idx, ok := answers[q.ID]; ok && idx == q.ChoiceKey {
			correct++
			earned += float64(q.MaxPoints)
		}
	}
	return sectionScore{
		detail:   model.SectionDetail{Section: model.SectionMC, Earned: earned, MaxPoints: max},
		feedback: fmt.Sprintf("%d/%d correct. %s", correct, total, sectionSummary(ctx, earned, max)),
	}
}

func (s *Service) gradeFreeTextSection(ctx context.Context, exam model.Exam, qType model.QuestionType, answers map[string]string, selected []string, modelName string) sectionScore {
	selectedSet := make(map[string]bool, len(selected))
	for _, id := range selected {
		selectedSet[id] = true
	}

	name := model.SectionSA
	if qType == model.QuestionEssay {
		name = model.SectionEssay
	}

	var earned, max float64
	var lines []string
	for _, q := range exam.Questions {
		if q.Type != qType {
			continue
		}
		// Essays outside the selected set do not count toward the total.
		if qType == model.QuestionEssay && len(selectedSet) > 0 && !selectedSet[q.ID] {
			continue
		}
		max += float64(q.MaxPoints)

		answer, ok := answers[q.ID]
		if !ok || strings.TrimSpace(answer) == "" {
			lines = append(lines, q.ID+": "+i18n.T(ctx, "GradeNoAnswer"))
			continue
		}

		var prompt string
		if qType == model.QuestionEssay {
			prompt = prompts.BuildEssay(q, answer)
		} else {
			prompt = prompts.BuildShortAnswer(q, answer)
		}
		score, feedback := s.gradeFreeTextWithModel(ctx, prompt, q.MaxPoints, modelName)
		earned += score
		lines = append(lines, q.ID+": "+feedback)
	}

	fb := sectionSummary(ctx, earned, max)
	if len(lines) > 0 {
		fb += "\n\n" + strings.Join(lines, "\n\n")
	}
	return sectionScore{
		detail:   model.SectionDetail{Section: name, Earned: earned, MaxPoints: max},
		feedback: fb,
	}
}

func (s *Service) gradeFreeText(ctx context.Context, prompt string, maxPoints int) (float64, string) {
	return s.gradeFreeTextWithModel(ctx, prompt, maxPoints, s.model)
}

// gradeFreeTextWithModel always produces a score: a real one when the
// grader answers in protocol, otherwise the fallback partial credit.
func (s *Service) gradeFreeTextWithModel(ctx context.Context, prompt string, maxPoints int, modelName string) (float64, string) {
	fallback := FallbackFraction * float64(maxPoints)

	resp, err := s.gen.Generate(ctx, llm.GenerateRequest{Prompt: prompt, Model: modelName})
	if err != nil || !resp.Success {
		if err != nil {
			slog.Error("free-text grading call failed", "error", err)
		} else {
			slog.Warn("free-text grading returned unsuccessful response")
		}
		return fallback, i18n.Td(ctx, "GradeErrorFallback", map[string]any{"Points": formatPoints(fallback)})
	}

	parsed, err := ParseScoreFeedback(resp.Content)
	if err != nil {
		slog.Warn("unparseable grader response", "error", err, "raw", resp.Content)
		return fallback, i18n.Td(ctx, "GradeParseFallback", map[string]any{"Points": formatPoints(fallback)})
	}

	score := parsed.Score
	// Rescale when the grader echoed a different max than the question's.
	if parsed.Max != float64(maxPoints) && parsed.Max > 0 {
		score = parsed.Score / parsed.Max * float64(maxPoints)
	}
	if score > float64(maxPoints) {
		score = float64(maxPoints)
	}

	feedback := parsed.Feedback
	if feedback == "" {
		feedback = fmt.Sprintf("SCORE: %s/%d", formatPoints(score), maxPoints)
	}
	return score, feedback
}

// MatchShortAnswer reports whether a submitted short answer matches any
// accepted pattern. Literals compare trimmed and case-insensitively;
// regex patterns honor an "i" flag.
func MatchShortAnswer(accept []model.AcceptPattern, answer string) bool {
	trimmed := strings.TrimSpace(answer)
	for _, p := range accept {
		if p.Regex {
			pattern := p.Value
			if strings.Contains(p.Flags, "i") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				slog.Warn("invalid accept pattern", "pattern", p.Value, "error", err)
				continue
			}
			if re.MatchString(trimmed) {
				return true
			}
			continue
		}
		if strings.EqualFold(trimmed, strings.TrimSpace(p.Value)) {
			return true
		}
	}
	return false
}

func expectedAnswer(q model.Question) string {
	switch q.Type {
	case model.QuestionMCQ:
		if q.ChoiceKey >= 0 && q.ChoiceKey < len(q.Choices) {
			return q.Choices[q.ChoiceKey]
		}
	case model.QuestionShort:
		for _, p := range q.Accept {
			if !p.Regex {
				return p.Value
			}
		}
		if len(q.Accept) > 0 {
			return q.Accept[0].Value
		}
	}
	return ""
}

func sectionSummary(ctx context.Context, earned, max float64) string {
	return i18n.Td(ctx, "SectionSummary", map[string]any{
		"Earned": formatPoints(earned),
		"Max":    formatPoints(max),
	})
}

func formatPoints(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func percentage(earned, possible float64) float64 {
	if possible <= 0 {
		return 0
	}
	return earned / possible * 100
}
