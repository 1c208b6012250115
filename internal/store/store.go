// Package store persists exams, attempts, and users in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agora-edu/agora/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		duration_sec INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		exam_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		prompt TEXT NOT NULL,
		choices TEXT NOT NULL DEFAULT '',
		answer_key TEXT NOT NULL DEFAULT '',
		rubric TEXT NOT NULL DEFAULT '',
		model_answer TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT '',
		max_points INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (exam_id, id),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		user_id INTEGER NOT NULL DEFAULT 0,
		score_pct REAL NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		submitted_at DATETIME NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS attempt_results (
		attempt_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		correct INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		expected TEXT NOT NULL DEFAULT '',
		earned REAL NOT NULL DEFAULT 0,
		max_points INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (attempt_id, question_id),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS course_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertExam stores an exam and its questions, replacing any previous
// version with the same id.
func (s *Store) UpsertExam(exam model.Exam) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO exams (id, title, duration_sec, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, duration_sec = excluded.duration_sec`,
		exam.ID, exam.Title, exam.DurationSec, time.Now(),
	)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE exam_id = ?`, exam.ID); err != nil {
		return err
	}

	for i, q := range exam.Questions {
		choices, answerKey, err := encodeQuestionKeys(q)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO questions (exam_id, id, position, type, prompt, choices, answer_key, rubric, model_answer, explanation, max_points)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exam.ID, q.ID, i, q.Type, q.Prompt, choices, answerKey, q.Rubric, q.ModelAnswer, q.Explanation, q.MaxPoints,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetExam returns an exam with its questions in position order, or nil
// if the id is unknown.
func (s *Store) GetExam(id string) (*model.Exam, error) {
	var exam model.Exam
	err := s.db.QueryRow(
		`SELECT id, title, duration_sec FROM exams WHERE id = ?`, id,
	).Scan(&exam.ID, &exam.Title, &exam.DurationSec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, type, prompt, choices, answer_key, rubric, model_answer, explanation, max_points
		 FROM questions WHERE exam_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		var choices, answerKey string
		if err := rows.Scan(&q.ID, &q.Type, &q.Prompt, &choices, &answerKey, &q.Rubric, &q.ModelAnswer, &q.Explanation, &q.MaxPoints); err != nil {
			return nil, err
		}
		if err := decodeQuestionKeys(&q, choices, answerKey); err != nil {
			return nil, fmt.Errorf("exam %s question %s: %w", id, q.ID, err)
		}
		exam.Questions = append(exam.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &exam, nil
}

// ListExams returns summaries of all stored exams.
func (s *Store) ListExams() ([]model.ExamSummary, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.title, e.duration_sec, COUNT(q.id)
		 FROM exams e LEFT JOIN questions q ON q.exam_id = e.id
		 GROUP BY e.id ORDER BY e.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.ExamSummary
	for rows.Next() {
		var e model.ExamSummary
		if err := rows.Scan(&e.ID, &e.Title, &e.DurationSec, &e.NumQuestions); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ExamCount returns the number of stored exams.
func (s *Store) ExamCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM exams`).Scan(&count)
	return count, err
}

// InsertAttempt stores a graded attempt with its per-question results.
func (s *Store) InsertAttempt(a model.Attempt, results []model.PerQuestionResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO attempts (id, exam_id, user_id, score_pct, started_at, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ExamID, a.UserID, a.ScorePct, a.StartedAt, a.SubmittedAt,
	)
	if err != nil {
		return err
	}

	for i, r := range results {
		_, err = tx.Exec(
			`INSERT INTO attempt_results (attempt_id, question_id, position, correct, feedback, expected, earned, max_points)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, r.QuestionID, i, r.Correct, r.Feedback, r.Expected, r.Earned, r.MaxPoints,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetAttempt returns an attempt with its results, or nil if not found.
func (s *Store) GetAttempt(id string) (*model.AttemptView, error) {
	var a model.Attempt
	err := s.db.QueryRow(
		`SELECT id, exam_id, user_id, score_pct, started_at, submitted_at FROM attempts WHERE id = ?`, id,
	).Scan(&a.ID, &a.ExamID, &a.UserID, &a.ScorePct, &a.StartedAt, &a.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT question_id, correct, feedback, expected, earned, max_points
		 FROM attempt_results WHERE attempt_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	view := model.AttemptView{Attempt: a}
	for rows.Next() {
		var r model.PerQuestionResult
		if err := rows.Scan(&r.QuestionID, &r.Correct, &r.Feedback, &r.Expected, &r.Earned, &r.MaxPoints); err != nil {
			return nil, err
		}
		view.Results = append(view.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListAttempts returns all attempts, newest first. A non-empty examID
// filters by exam.
func (s *Store) ListAttempts(examID string) ([]model.Attempt, error) {
	query := `SELECT id, exam_id, user_id, score_pct, started_at, submitted_at FROM attempts`
	var args []any
	if examID != "" {
		query += ` WHERE exam_id = ?`
		args = append(args, examID)
	}
	query += ` ORDER BY submitted_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.UserID, &a.ScorePct, &a.StartedAt, &a.SubmittedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListAttemptsForUser returns a user's attempts, newest first.
func (s *Store) ListAttemptsForUser(userID int64) ([]model.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, user_id, score_pct, started_at, submitted_at
		 FROM attempts WHERE user_id = ? ORDER BY submitted_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.UserID, &a.ScorePct, &a.StartedAt, &a.SubmittedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func encodeQuestionKeys(q model.Question) (choices string, answerKey string, err error) {
	if len(q.Choices) > 0 {
		b, err := json.Marshal(q.Choices)
		if err != nil {
			return "", "", err
		}
		choices = string(b)
	}
	switch q.Type {
	case model.QuestionMCQ:
		b, err := json.Marshal(q.ChoiceKey)
		if err != nil {
			return "", "", err
		}
		answerKey = string(b)
	case model.QuestionShort:
		if len(q.Accept) > 0 {
			b, err := json.Marshal(q.Accept)
			if err != nil {
				return "", "", err
			}
			answerKey = string(b)
		}
	}
	return choices, answerKey, nil
}

func decodeQuestionKeys(q *model.Question, choices, answerKey string) error {
	if choices != "" {
		if err := json.Unmarshal([]byte(choices), &q.Choices); err != nil {
			return fmt.Errorf("choices: %w", err)
		}
	}
	if answerKey == "" {
		return nil
	}
	switch q.Type {
	case model.QuestionMCQ:
		if err := json.Unmarshal([]byte(answerKey), &q.ChoiceKey); err != nil {
			return fmt.Errorf("answer key: %w", err)
		}
	case model.QuestionShort:
		if err := json.Unmarshal([]byte(answerKey), &q.Accept); err != nil {
			return fmt.Errorf("answer key: %w", err)
		}
	}
	return nil
}
