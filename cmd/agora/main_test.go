package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	appI18n "github.com/agora-edu/agora/internal/i18n"
	"github.com/agora-edu/agora/internal/model"
	"github.com/agora-edu/agora/internal/runner"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// scriptSubmitter fails or succeeds on command, standing in for the
// HTTP client during loop tests.
type scriptSubmitter struct {
	err    error
	result model.SubmissionResult
	calls  int
}

func (s *scriptSubmitter) Submit(_ context.Context, _ string, _ []model.Answer) (model.SubmissionResult, error) {
	s.calls++
	if s.err != nil {
		return model.SubmissionResult{}, s.err
	}
	return s.result, nil
}

func takeExam() model.Exam {
	return model.Exam{
		ID:    "phil101-quiz",
		Title: "Quiz",
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionMCQ, Prompt: "Q1", Choices: []string{"a", "b"}, ChoiceKey: 0, MaxPoints: 1},
			{ID: "q2", Type: model.QuestionShort, Prompt: "Q2", Accept: []model.AcceptPattern{{Value: "ok"}}, MaxPoints: 1},
		},
	}
}

func TestTakeLoopIncompleteSubmit(t *testing.T) {
	sub := &scriptSubmitter{}
	r := runner.New(takeExam(), sub)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	in := strings.NewReader("answer 0\nsubmit\nquit\n")
	if err := takeLoop(ctx, r, in, &out); err != nil {
		t.Fatalf("takeLoop: %v", err)
	}

	if !strings.Contains(out.String(), "cannot submit: 1 of 2 questions unanswered") {
		t.Errorf("missing unanswered-count message in output:\n%s", out.String())
	}
	if sub.calls != 0 {
		t.Errorf("incomplete submit reached the submitter %d times", sub.calls)
	}
}

func TestTakeLoopFailedSubmitKeepsAttempt(t *testing.T) {
	sub := &scriptSubmitter{err: errors.New("server unavailable")}
	r := runner.New(takeExam(), sub)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	in := strings.NewReader("answer 0\nanswer ok\nsubmit\nquit\n")
	if err := takeLoop(ctx, r, in, &out); err != nil {
		t.Fatalf("takeLoop: %v", err)
	}

	if !strings.Contains(out.String(), "Submission failed; your answers were kept. Please try again.") {
		t.Errorf("missing failed-submit notice in output:\n%s", out.String())
	}
	if r.State() != model.StateInProgress {
		t.Errorf("state after failed submit = %v, want in_progress", r.State())
	}
	if len(r.Answers()) != 2 {
		t.Errorf("answers after failed submit = %d, want 2", len(r.Answers()))
	}
}

func TestTakeLoopSubmitPrintsResult(t *testing.T) {
	sub := &scriptSubmitter{result: model.SubmissionResult{
		ScorePct: 100,
		PerQuestion: []model.PerQuestionResult{
			{QuestionID: "q1", Correct: true, Earned: 1, MaxPoints: 1, Feedback: "Correct"},
			{QuestionID: "q2", Correct: true, Earned: 1, MaxPoints: 1, Feedback: "Correct"},
		},
	}}
	r := runner.New(takeExam(), sub)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	in := strings.NewReader("answer 0\nanswer ok\nsubmit\n")
	if err := takeLoop(ctx, r, in, &out); err != nil {
		t.Fatalf("takeLoop: %v", err)
	}

	if r.State() != model.StateSubmitted {
		t.Errorf("state after submit = %v, want submitted", r.State())
	}
	if !strings.Contains(out.String(), "Score: 100.0%") {
		t.Errorf("missing score line in output:\n%s", out.String())
	}
}
