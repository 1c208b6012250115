package store

import (
	"testing"
	"time"

	"github.com/agora-edu/agora/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testExam() model.Exam {
	return model.Exam{
		ID:          "phil101-final",
		Title:       "Introduction to Philosophy: Final Exam",
		DurationSec: 3600,
		Questions: []model.Question{
			{
				ID:        "q1",
				Type:      model.QuestionMCQ,
				Prompt:    "Who wrote the Republic?",
				Choices:   []string{"Aristotle", "Plato"},
				ChoiceKey: 1,
				MaxPoints: 2,
			},
			{
				ID:     "q2",
				Type:   model.QuestionShort,
				Prompt: "Name Socrates' method.",
				Accept: []model.AcceptPattern{
					{Value: "Socratic method"},
					{Value: "elench(us|os)", Regex: true, Flags: "i"},
				},
				MaxPoints: 3,
			},
			{
				ID:          "q3",
				Type:        model.QuestionEssay,
				Prompt:      "Assess the ontological argument.",
				Rubric:      "State the argument and one objection.",
				ModelAnswer: "The argument moves from concept to existence...",
				MaxPoints:   10,
			},
		},
	}
}

func TestExamRoundTrip(t *testing.T) {
	s := newTestStore(t)

	count, err := s.ExamCount()
	if err != nil {
		t.Fatalf("ExamCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 exams, got %d", count)
	}

	exam := testExam()
	if err := s.UpsertExam(exam); err != nil {
		t.Fatalf("UpsertExam: %v", err)
	}

	got, err := s.GetExam(exam.ID)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got == nil {
		t.Fatal("GetExam returned nil for stored exam")
	}
	if got.Title != exam.Title || got.DurationSec != exam.DurationSec {
		t.Errorf("exam header = %+v, want %+v", got, exam)
	}
	if len(got.Questions) != 3 {
		t.Fatalf("questions = %d, want 3", len(got.Questions))
	}
	if got.Questions[0].ChoiceKey != 1 {
		t.Errorf("mcq answer key = %d, want 1", got.Questions[0].ChoiceKey)
	}
	if len(got.Questions[1].Accept) != 2 {
		t.Fatalf("accept patterns = %d, want 2", len(got.Questions[1].Accept))
	}
	if p := got.Questions[1].Accept[1]; !p.Regex || p.Flags != "i" {
		t.Errorf("regex pattern lost flags: %+v", p)
	}
	if got.Questions[2].Rubric == "" || got.Questions[2].ModelAnswer == "" {
		t.Error("essay rubric or model answer lost")
	}

	missing, err := s.GetExam("nope")
	if err != nil {
		t.Fatalf("GetExam(missing): %v", err)
	}
	if missing != nil {
		t.Error("GetExam for unknown id should return nil")
	}
}

func TestUpsertExamReplacesQuestions(t *testing.T) {
	s := newTestStore(t)
	exam := testExam()
	if err := s.UpsertExam(exam); err != nil {
		t.Fatal(err)
	}

	exam.Title = "Final Exam v2"
	exam.Questions = exam.Questions[:1]
	if err := s.UpsertExam(exam); err != nil {
		t.Fatalf("second UpsertExam: %v", err)
	}

	got, err := s.GetExam(exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Final Exam v2" {
		t.Errorf("title = %q, want updated title", got.Title)
	}
	if len(got.Questions) != 1 {
		t.Errorf("questions after replace = %d, want 1", len(got.Questions))
	}

	count, err := s.ExamCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("exam count = %d, want 1", count)
	}
}

func TestListExams(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertExam(testExam()); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListExams()
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("exams = %d, want 1", len(list))
	}
	if list[0].NumQuestions != 3 {
		t.Errorf("numQuestions = %d, want 3", list[0].NumQuestions)
	}
}

func TestAttemptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertExam(testExam()); err != nil {
		t.Fatal(err)
	}

	started := time.Now().Add(-30 * time.Minute)
	attempt := model.Attempt{
		ID:          "attempt-1",
		ExamID:      "phil101-final",
		UserID:      1,
		ScorePct:    73.3,
		StartedAt:   started,
		SubmittedAt: time.Now(),
	}
	results := []model.PerQuestionResult{
		{QuestionID: "q1", Correct: true, Feedback: "Correct", Earned: 2, MaxPoints: 2},
		{QuestionID: "q2", Correct: false, Feedback: "Incorrect (Correct: Socratic method)", Expected: "Socratic method", MaxPoints: 3},
		{QuestionID: "q3", Correct: true, Feedback: "Well argued.", Earned: 9, MaxPoints: 10},
	}
	if err := s.InsertAttempt(attempt, results); err != nil {
		t.Fatalf("InsertAttempt: %v", err)
	}

	view, err := s.GetAttempt("attempt-1")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if view == nil {
		t.Fatal("GetAttempt returned nil for stored attempt")
	}
	if view.Attempt.ScorePct != 73.3 {
		t.Errorf("scorePct = %v, want 73.3", view.Attempt.ScorePct)
	}
	if len(view.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(view.Results))
	}
	if view.Results[1].Expected != "Socratic method" {
		t.Errorf("expected field lost: %+v", view.Results[1])
	}

	missing, err := s.GetAttempt("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("GetAttempt for unknown id should return nil")
	}
}

func TestListAttempts(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertExam(testExam()); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i, id := range []string{"a1", "a2"} {
		a := model.Attempt{
			ID:          id,
			ExamID:      "phil101-final",
			UserID:      int64(i + 1),
			StartedAt:   now.Add(time.Duration(i) * time.Minute),
			SubmittedAt: now.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertAttempt(a, nil); err != nil {
			t.Fatalf("InsertAttempt %s: %v", id, err)
		}
	}

	all, err := s.ListAttempts("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("attempts = %d, want 2", len(all))
	}
	if all[0].ID != "a2" {
		t.Errorf("newest first ordering broken: %v", all[0].ID)
	}

	byExam, err := s.ListAttempts("phil101-final")
	if err != nil {
		t.Fatal(err)
	}
	if len(byExam) != 2 {
		t.Errorf("filtered attempts = %d, want 2", len(byExam))
	}

	byUser, err := s.ListAttemptsForUser(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser) != 1 || byUser[0].ID != "a1" {
		t.Errorf("user attempts = %+v, want [a1]", byUser)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateUser(model.User{
		Username:     "socrates",
		DisplayName:  "Socrates of Athens",
		PasswordHash: "hash",
		Role:         model.UserRoleStudent,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByUsername("socrates")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("user lookup = %+v, want id %d", u, id)
	}

	byID, err := s.GetUserByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if byID == nil || byID.Username != "socrates" {
		t.Errorf("GetUserByID = %+v", byID)
	}

	missing, err := s.GetUserByUsername("plato")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("unknown username should return nil")
	}

	if _, err := s.CreateUser(model.User{Username: "socrates", PasswordHash: "x"}); err == nil {
		t.Error("duplicate username accepted")
	}

	if err := s.SetUserActive(id, false); err != nil {
		t.Fatal(err)
	}
	u, err = s.GetUserByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if u.Active {
		t.Error("user still active after SetUserActive(false)")
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateUser(model.User{Username: "plato", PasswordHash: "hash", Role: model.UserRoleTeacher, Active: true})
	if err != nil {
		t.Fatal(err)
	}

	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if token == "" {
		t.Fatal("empty session token")
	}

	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil || sess.UserID != id {
		t.Fatalf("session = %+v, want user %d", sess, id)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatal(err)
	}
	sess, err = s.GetAuthSession(token)
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Error("session survives deletion")
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	h, err := s.GetImportedFileHash("exams/intro.json")
	if err != nil {
		t.Fatal(err)
	}
	if h != "" {
		t.Errorf("hash for never-imported file = %q, want empty", h)
	}

	if err := s.SetImportedFileHash("exams/intro.json", "abc123"); err != nil {
		t.Fatal(err)
	}
	h, err = s.GetImportedFileHash("exams/intro.json")
	if err != nil {
		t.Fatal(err)
	}
	if h != "abc123" {
		t.Errorf("hash = %q, want abc123", h)
	}

	if err := s.SetImportedFileHash("exams/intro.json", "def456"); err != nil {
		t.Fatal(err)
	}
	h, _ = s.GetImportedFileHash("exams/intro.json")
	if h != "def456" {
		t.Errorf("hash after update = %q, want def456", h)
	}
}

func TestExportAllAttempts(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertExam(testExam()); err != nil {
		t.Fatal(err)
	}
	uid, err := s.CreateUser(model.User{Username: "student1", DisplayName: "Student One", PasswordHash: "hash", Role: model.UserRoleStudent, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	attempt := model.Attempt{
		ID:          "attempt-1",
		ExamID:      "phil101-final",
		UserID:      uid,
		ScorePct:    80,
		StartedAt:   time.Now().Add(-time.Hour),
		SubmittedAt: time.Now(),
	}
	results := []model.PerQuestionResult{{QuestionID: "q1", Correct: true, Earned: 2, MaxPoints: 2}}
	if err := s.InsertAttempt(attempt, results); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMetadata("subject", "Philosophy"); err != nil {
		t.Fatal(err)
	}

	export, err := s.ExportAllAttempts()
	if err != nil {
		t.Fatalf("ExportAllAttempts: %v", err)
	}
	if export.NumExams != 1 {
		t.Errorf("numExams = %d, want 1", export.NumExams)
	}
	if export.Subject != "Philosophy" {
		t.Errorf("subject = %q", export.Subject)
	}
	if len(export.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(export.Attempts))
	}
	a := export.Attempts[0]
	if a.Username != "student1" || a.ExamTitle == "" || len(a.Results) != 1 {
		t.Errorf("export attempt = %+v", a)
	}
}
