package model

import "time"

// ResultsExport is the top-level JSON structure for attempt export.
type ResultsExport struct {
	CourseID   string          `json:"course_id"`
	Subject    string          `json:"subject"`
	Date       string          `json:"date"`
	NumExams   int             `json:"num_exams"`
	Attempts   []AttemptExport `json:"attempts"`
	ExportedAt time.Time       `json:"exported_at"`
}

// AttemptExport holds one attempt's data for export.
type AttemptExport struct {
	AttemptID   string              `json:"attempt_id"`
	ExamID      string              `json:"exam_id"`
	ExamTitle   string              `json:"exam_title"`
	Username    string              `json:"username"`
	DisplayName string              `json:"display_name"`
	ScorePct    float64             `json:"score_pct"`
	StartedAt   time.Time           `json:"started_at"`
	SubmittedAt time.Time           `json:"submitted_at"`
	Results     []PerQuestionResult `json:"results"`
}
