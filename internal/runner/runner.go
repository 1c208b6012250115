// Package runner drives a single exam attempt on the student side: a
// small state machine over the answer sheet, a countdown timer, and a
// guarded submit path that talks to the server through the Submitter
// interface.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agora-edu/agora/internal/model"
)

var (
	// ErrNotInProgress is returned by operations that require a running
	// attempt.
	ErrNotInProgress = errors.New("attempt is not in progress")

	// ErrIncomplete is returned by Submit while any question still lacks
	// an answer.
	ErrIncomplete = errors.New("not all questions are answered")

	// ErrBusy is returned when a submission is already in flight.
	ErrBusy = errors.New("submission already in progress")
)

// Submitter sends a completed answer sheet to the grading backend.
type Submitter interface {
	Submit(ctx context.Context, examID string, answers []model.Answer) (model.SubmissionResult, error)
}

// Runner holds the state of one exam attempt. All methods are safe for
// concurrent use; the timer expiry path reenters through ForceSubmit.
type Runner struct {
	mu        sync.Mutex
	exam      model.Exam
	state     model.AttemptState
	index     int
	answers   map[string]model.AnswerValue
	result    *model.SubmissionResult
	lastErr   error
	busy      bool
	timer     *Timer
	submitter Submitter
}

// New creates a runner for the given exam in the idle state.
func New(exam model.Exam, submitter Submitter) *Runner {
	return &Runner{
		exam:      exam,
		state:     model.StateIdle,
		answers:   make(map[string]model.AnswerValue),
		submitter: submitter,
	}
}

// State returns the current attempt state.
func (r *Runner) State() model.AttemptState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Exam returns the exam under attempt.
func (r *Runner) Exam() model.Exam {
	return r.exam
}

// Start moves the attempt from idle to in progress and starts the
// countdown when the exam carries a duration. Expiry force-submits
// whatever is answered.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != model.StateIdle {
		return ErrNotInProgress
	}
	r.state = model.StateInProgress
	r.index = 0
	if r.exam.DurationSec > 0 {
		r.startTimerLocked(ctx, time.Duration(r.exam.DurationSec)*time.Second, time.Second)
	}
	return nil
}

// startTimerLocked arms the countdown. The expiry submit must outlive
// the caller, so it runs on a context detached from cancellation.
func (r *Runner) startTimerLocked(ctx context.Context, d, interval time.Duration) {
	expiryCtx := context.WithoutCancel(ctx)
	r.timer = NewTimer(d, func() {
		// Best effort; the attempt keeps its error for the UI.
		_ = r.ForceSubmit(expiryCtx)
	})
	r.timer.interval = interval
	r.timer.Start()
}

// Current returns the question at the cursor. It keeps working after
// submission so the student can review the exam alongside the result.
func (r *Runner) Current() (model.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == model.StateIdle {
		return model.Question{}, ErrNotInProgress
	}
	return r.exam.Questions[r.index], nil
}

// Index returns the cursor position.
func (r *Runner) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// SetAnswer records an answer for a question. Recording a non-present
// value clears the slot.
func (r *Runner) SetAnswer(questionID string, v model.AnswerValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != model.StateInProgress {
		return ErrNotInProgress
	}
	if r.exam.QuestionByID(questionID) == nil {
		return errors.New("unknown question id: " + questionID)
	}
	if !v.Present() {
		delete(r.answers, questionID)
		return nil
	}
	r.answers[questionID] = v
	return nil
}

// Next advances the cursor, stopping at the last question.
func (r *Runner) Next() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index < len(r.exam.Questions)-1 {
		r.index++
	}
}

// Prev moves the cursor back, stopping at the first question.
func (r *Runner) Prev() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index > 0 {
		r.index--
	}
}

// GoTo jumps the cursor to a question index.
func (r *Runner) GoTo(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.exam.Questions) {
		return errors.New("question index out of range")
	}
	r.index = i
	return nil
}

// CanSubmit reports whether every question has a present answer.
func (r *Runner) CanSubmit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unanswered() == 0
}

// Unanswered returns how many questions still lack a present answer.
func (r *Runner) Unanswered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unanswered()
}

func (r *Runner) unanswered() int {
	n := 0
	for _, q := range r.exam.Questions {
		if v, ok := r.answers[q.ID]; !ok || !v.Present() {
			n++
		}
	}
	return n
}

// Submit sends the answer sheet for grading. It refuses while any
// question is unanswered; ForceSubmit skips that check. On failure the
// attempt stays in progress with the answers intact so the student can
// retry.
func (r *Runner) Submit(ctx context.Context) (model.SubmissionResult, error) {
	return r.submit(ctx, false)
}

// ForceSubmit submits whatever is answered, used on timer expiry.
func (r *Runner) ForceSubmit(ctx context.Context) error {
	_, err := r.submit(ctx, true)
	return err
}

func (r *Runner) submit(ctx context.Context, force bool) (model.SubmissionResult, error) {
	r.mu.Lock()
	if r.state != model.StateInProgress {
		r.mu.Unlock()
		return model.SubmissionResult{}, ErrNotInProgress
	}
	if r.busy {
		r.mu.Unlock()
		return model.SubmissionResult{}, ErrBusy
	}
	if !force && r.unanswered() > 0 {
		r.mu.Unlock()
		return model.SubmissionResult{}, ErrIncomplete
	}
	r.busy = true
	answers := r.orderedAnswers()
	examID := r.exam.ID
	r.mu.Unlock()

	// Network call runs without the lock so the UI can keep polling.
	result, err := r.submitter.Submit(ctx, examID, answers)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = false
	if err != nil {
		r.lastErr = err
		return model.SubmissionResult{}, err
	}
	r.state = model.StateSubmitted
	r.result = &result
	r.lastErr = nil
	if r.timer != nil {
		r.timer.Stop()
	}
	return result, nil
}

// Retake resets a submitted attempt back to idle with a blank sheet.
func (r *Runner) Retake() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != model.StateSubmitted {
		return errors.New("attempt has not been submitted")
	}
	r.state = model.StateIdle
	r.index = 0
	r.answers = make(map[string]model.AnswerValue)
	r.result = nil
	r.lastErr = nil
	r.timer = nil
	return nil
}

// Result returns the grading result of a submitted attempt.
func (r *Runner) Result() (model.SubmissionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return model.SubmissionResult{}, false
	}
	return *r.result, true
}

// Err returns the last submission error, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Answer returns the recorded answer for a question.
func (r *Runner) Answer(questionID string) (model.AnswerValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.answers[questionID]
	return v, ok
}

// Answers returns the recorded answers in exam question order.
func (r *Runner) Answers() []model.Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedAnswers()
}

func (r *Runner) orderedAnswers() []model.Answer {
	out := make([]model.Answer, 0, len(r.answers))
	for _, q := range r.exam.Questions {
		if v, ok := r.answers[q.ID]; ok {
			out = append(out, model.Answer{QuestionID: q.ID, Value: v})
		}
	}
	return out
}

// Remaining returns the countdown's time left, or zero when the exam is
// untimed.
func (r *Runner) Remaining() time.Duration {
	r.mu.Lock()
	t := r.timer
	r.mu.Unlock()
	if t == nil {
		return 0
	}
	return t.Remaining()
}
