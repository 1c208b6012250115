package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// AttemptState represents the lifecycle state of one exam attempt.
type AttemptState string

const (
	StateIdle       AttemptState = "idle"
	StateInProgress AttemptState = "in_progress"
	StateSubmitted  AttemptState = "submitted"
)

// QuestionType discriminates the question variants.
type QuestionType string

const (
	QuestionMCQ   QuestionType = "mcq"
	QuestionShort QuestionType = "short"
	QuestionEssay QuestionType = "essay"
)

// AcceptPattern is one acceptable short-answer form: a literal string or,
// when Regex is set, a regular expression. Flags may contain "i" for
// case-insensitive matching.
type AcceptPattern struct {
	Value string `json:"value"`
	Regex bool   `json:"regex,omitempty"`
	Flags string `json:"flags,omitempty"`
}

// UnmarshalJSON accepts either a bare string literal or the full object form.
func (p *AcceptPattern) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = AcceptPattern{Value: s}
		return nil
	}
	type plain AcceptPattern
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = AcceptPattern(v)
	return nil
}

// MarshalJSON emits the compact string form for plain literals.
func (p AcceptPattern) MarshalJSON() ([]byte, error) {
	if !p.Regex && p.Flags == "" {
		return json.Marshal(p.Value)
	}
	type plain AcceptPattern
	return json.Marshal(plain(p))
}

// Question is a tagged variant: the mcq, short, or essay shape depending
// on Type. The answerKey wire field is polymorphic (a choice index for
// mcq, a pattern list for short), so Question carries custom JSON
// marshaling.
type Question struct {
	ID          string
	Type        QuestionType
	Prompt      string
	Choices     []string        // mcq: ordered choice strings
	ChoiceKey   int             // mcq: zero-based index into Choices
	Accept      []AcceptPattern // short: acceptable literals/patterns
	Rubric      string          // essay: optional grading rubric
	ModelAnswer string          // short/essay: reference answer for LLM grading
	Explanation string
	MaxPoints   int
}

type questionJSON struct {
	ID          string          `json:"id"`
	Type        QuestionType    `json:"type"`
	Prompt      string          `json:"prompt"`
	Choices     []string        `json:"choices,omitempty"`
	AnswerKey   json.RawMessage `json:"answerKey,omitempty"`
	Rubric      string          `json:"rubric,omitempty"`
	ModelAnswer string          `json:"modelAnswer,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	MaxPoints   int             `json:"maxPoints"`
}

// UnmarshalJSON decodes the polymorphic answerKey field by question type.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw questionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.ID = raw.ID
	q.Type = raw.Type
	q.Prompt = raw.Prompt
	q.Choices = raw.Choices
	q.Rubric = raw.Rubric
	q.ModelAnswer = raw.ModelAnswer
	q.Explanation = raw.Explanation
	q.MaxPoints = raw.MaxPoints
	q.ChoiceKey = 0
	q.Accept = nil

	if len(raw.AnswerKey) == 0 {
		return nil
	}
	switch raw.Type {
	case QuestionMCQ:
		if err := json.Unmarshal(raw.AnswerKey, &q.ChoiceKey); err != nil {
			return fmt.Errorf("question %s: answerKey: %w", raw.ID, err)
		}
	case QuestionShort:
		if err := json.Unmarshal(raw.AnswerKey, &q.Accept); err != nil {
			return fmt.Errorf("question %s: answerKey: %w", raw.ID, err)
		}
	}
	return nil
}

// MarshalJSON encodes the answerKey field according to the question type.
func (q Question) MarshalJSON() ([]byte, error) {
	raw := questionJSON{
		ID:          q.ID,
		Type:        q.Type,
		Prompt:      q.Prompt,
		Choices:     q.Choices,
		Rubric:      q.Rubric,
		ModelAnswer: q.ModelAnswer,
		Explanation: q.Explanation,
		MaxPoints:   q.MaxPoints,
	}
	switch q.Type {
	case QuestionMCQ:
		key, err := json.Marshal(q.ChoiceKey)
		if err != nil {
			return nil, err
		}
		raw.AnswerKey = key
	case QuestionShort:
		if len(q.Accept) > 0 {
			key, err := json.Marshal(q.Accept)
			if err != nil {
				return nil, err
			}
			raw.AnswerKey = key
		}
	}
	return json.Marshal(raw)
}

// Exam is an immutable exam definition.
type Exam struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	DurationSec int        `json:"durationSec"`
	Questions   []Question `json:"questions"`
}

// ExamSummary is the list-view shape of an exam, without questions.
type ExamSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	DurationSec  int    `json:"durationSec"`
	NumQuestions int    `json:"numQuestions"`
}

// Validate checks the structural invariants: unique question ids and,
// for mcq questions, an answerKey that indexes into the choices.
func (e Exam) Validate() error {
	seen := make(map[string]bool, len(e.Questions))
	for _, q := range e.Questions {
		if q.ID == "" {
			return fmt.Errorf("exam %s: question with empty id", e.ID)
		}
		if seen[q.ID] {
			return fmt.Errorf("exam %s: duplicate question id %s", e.ID, q.ID)
		}
		seen[q.ID] = true
		switch q.Type {
		case QuestionMCQ:
			if q.ChoiceKey < 0 || q.ChoiceKey >= len(q.Choices) {
				return fmt.Errorf("exam %s: question %s: answerKey %d out of range for %d choices",
					e.ID, q.ID, q.ChoiceKey, len(q.Choices))
			}
		case QuestionShort, QuestionEssay:
		default:
			return fmt.Errorf("exam %s: question %s: unknown type %q", e.ID, q.ID, q.Type)
		}
	}
	return nil
}

// QuestionByID returns the question with the given id, or nil.
func (e Exam) QuestionByID(id string) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}

// AnswerValue holds one submitted answer value: a choice index for mcq
// questions or free text for short/essay questions. On the wire it is a
// bare JSON number or string.
type AnswerValue struct {
	Choice *int
	Text   *string
}

// ChoiceAnswer builds an mcq answer value.
func ChoiceAnswer(index int) AnswerValue {
	return AnswerValue{Choice: &index}
}

// TextAnswer builds a free-text answer value.
func TextAnswer(text string) AnswerValue {
	return AnswerValue{Text: &text}
}

// Present reports whether the value counts as an answer for the submit
// guard: any number counts (including 0); a string counts only if it is
// non-empty after trimming whitespace.
func (v AnswerValue) Present() bool {
	if v.Choice != nil {
		return true
	}
	return v.Text != nil && strings.TrimSpace(*v.Text) != ""
}

// MarshalJSON emits the bare number or string form.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Choice != nil:
		return json.Marshal(*v.Choice)
	case v.Text != nil:
		return json.Marshal(*v.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON number (choice index) or string (free text).
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	*v = AnswerValue{}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.Text = &s
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("answer value must be a number or string: %w", err)
	}
	idx := int(f)
	v.Choice = &idx
	return nil
}

// Answer associates a submitted value with a question id.
type Answer struct {
	QuestionID string      `json:"questionId"`
	Value      AnswerValue `json:"value"`
}

// PerQuestionResult is the graded outcome for one question.
type PerQuestionResult struct {
	QuestionID string  `json:"questionId"`
	Correct    bool    `json:"correct"`
	Feedback   string  `json:"feedback"`
	Expected   string  `json:"expected,omitempty"`
	Earned     float64 `json:"earned"`
	MaxPoints  int     `json:"maxPoints"`
}

// SubmissionResult is the response of the per-question submission contract.
type SubmissionResult struct {
	ScorePct    float64             `json:"scorePct"`
	PerQuestion []PerQuestionResult `json:"perQuestion"`
}

// SectionAnswers groups answers by section for the section submission
// contract; keys are question ids.
type SectionAnswers struct {
	MC    map[string]int    `json:"mc"`
	SA    map[string]string `json:"sa"`
	Essay map[string]string `json:"essay"`
}

// SectionSubmission is the request of the section submission contract.
// It is a distinct operation from the per-question contract, not a
// variant of it.
type SectionSubmission struct {
	ExamID         string         `json:"examId"`
	UserID         string         `json:"userId"`
	Answers        SectionAnswers `json:"answers"`
	SelectedEssays []string       `json:"selectedEssays,omitempty"`
	Exam           *Exam          `json:"exam,omitempty"`
	Model          string         `json:"model,omitempty"`
}

// Fixed feedback keys of the section contract.
const (
	SectionMC    = "Multiple Choice"
	SectionSA    = "Short Answer"
	SectionEssay = "Essays"
)

// SectionDetail is the per-section score breakdown.
type SectionDetail struct {
	Section   string  `json:"section"`
	Earned    float64 `json:"earned"`
	MaxPoints float64 `json:"maxPoints"`
}

// SectionResult is the response of the section submission contract.
type SectionResult struct {
	Success  bool              `json:"success"`
	Score    float64           `json:"score"`
	Feedback map[string]string `json:"feedback"`
	Details  []SectionDetail   `json:"details"`
}

// Attempt is one persisted exam attempt.
type Attempt struct {
	ID          string    `json:"id"`
	ExamID      string    `json:"exam_id"`
	UserID      int64     `json:"user_id"`
	ScorePct    float64   `json:"score_pct"`
	StartedAt   time.Time `json:"started_at"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AttemptView combines an attempt with its per-question results.
type AttemptView struct {
	Attempt Attempt             `json:"attempt"`
	Results []PerQuestionResult `json:"results"`
}
