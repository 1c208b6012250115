package store

import (
	"fmt"
	"time"

	"github.com/agora-edu/agora/internal/model"
)

// ExportAllAttempts builds an export-ready snapshot of every graded
// attempt with its per-question results and the attempting user.
func (s *Store) ExportAllAttempts() (model.ResultsExport, error) {
	var out model.ResultsExport

	attempts, err := s.ListAttempts("")
	if err != nil {
		return out, fmt.Errorf("list attempts: %w", err)
	}

	examTitles := make(map[string]string)
	summaries, err := s.ListExams()
	if err != nil {
		return out, fmt.Errorf("list exams: %w", err)
	}
	for _, e := range summaries {
		examTitles[e.ID] = e.Title
	}

	for _, a := range attempts {
		view, err := s.GetAttempt(a.ID)
		if err != nil {
			return out, fmt.Errorf("get attempt %s: %w", a.ID, err)
		}

		var username, displayName string
		if a.UserID != 0 {
			user, err := s.GetUserByID(a.UserID)
			if err != nil {
				return out, fmt.Errorf("get user %d: %w", a.UserID, err)
			}
			if user != nil {
				username = user.Username
				displayName = user.DisplayName
			}
		}

		out.Attempts = append(out.Attempts, model.AttemptExport{
			AttemptID:   a.ID,
			ExamID:      a.ExamID,
			ExamTitle:   examTitles[a.ExamID],
			Username:    username,
			DisplayName: displayName,
			ScorePct:    a.ScorePct,
			StartedAt:   a.StartedAt,
			SubmittedAt: a.SubmittedAt,
			Results:     view.Results,
		})
	}

	out.CourseID, _ = s.GetMetadata("course_id")
	out.Subject, _ = s.GetMetadata("subject")
	out.Date, _ = s.GetMetadata("date")
	out.NumExams = len(summaries)
	out.ExportedAt = time.Now()

	return out, nil
}
