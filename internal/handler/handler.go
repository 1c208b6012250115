// Package handler exposes the exam platform's JSON API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agora-edu/agora/internal/grading"
	appI18n "github.com/agora-edu/agora/internal/i18n"
	"github.com/agora-edu/agora/internal/llm"
	"github.com/agora-edu/agora/internal/model"
	"github.com/agora-edu/agora/internal/store"
)

// Config holds handler-level settings.
type Config struct {
	SecureCookies bool
	DefaultModel  string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	grader *grading.Service
	gen    grading.Generator
	config Config
}

// New creates a new Handler.
func New(s *store.Store, grader *grading.Service, gen grading.Generator, cfg Config) *Handler {
	return &Handler{store: s, grader: grader, gen: gen, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/api/exams", h.handleListExams)
		r.Get("/api/exams/{examID}", h.handleGetExam)
		r.Post("/api/exams/{examID}/submit", h.handleSubmit)
		r.Post("/api/exams/{examID}/submit-sections", h.handleSubmitSections)
		r.Post("/api/generate", h.handleGenerate)
		r.Get("/api/attempts", h.handleMyAttempts)
		r.Get("/api/attempts/{attemptID}", h.handleGetAttempt)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth, requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
		r.Get("/api/admin/attempts", h.handleAdminListAttempts)
		r.Post("/api/admin/exams", h.handleUploadExam)
		r.Get("/api/admin/export", h.handleExport)
		r.Get("/api/admin/users", h.handleListUsers)
		r.Post("/api/admin/users", h.handleCreateUser)
	})
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		slog.Error("list exams", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list exams")
		return
	}
	if exams == nil {
		exams = []model.ExamSummary{}
	}
	respondJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.lookupExam(w, r)
	if !ok {
		return
	}

	user := model.UserFromContext(r.Context())
	if user != nil && user.Role == model.UserRoleStudent {
		respondJSON(w, http.StatusOK, redactExam(exam))
		return
	}
	respondJSON(w, http.StatusOK, exam)
}

type submitRequest struct {
	Answers   []model.Answer `json:"answers"`
	StartedAt *time.Time     `json:"startedAt,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.lookupExam(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := h.grader.GradeSubmission(r.Context(), exam, req.Answers)

	now := time.Now()
	startedAt := now
	if req.StartedAt != nil {
		startedAt = *req.StartedAt
	}
	attempt := model.Attempt{
		ID:          uuid.NewString(),
		ExamID:      exam.ID,
		ScorePct:    result.ScorePct,
		StartedAt:   startedAt,
		SubmittedAt: now,
	}
	if user := model.UserFromContext(r.Context()); user != nil {
		attempt.UserID = user.ID
	}
	if err := h.store.InsertAttempt(attempt, result.PerQuestion); err != nil {
		// The grade is already computed; persistence failure should not
		// cost the student their result.
		slog.Error("persist attempt", "exam", exam.ID, "error", err)
	} else {
		slog.Info("graded attempt", "attempt", attempt.ID, "exam", exam.ID, "scorePct", result.ScorePct)
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSubmitSections(w http.ResponseWriter, r *http.Request) {
	var sub model.SectionSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	examID := chi.URLParam(r, "examID")
	if sub.ExamID == "" {
		sub.ExamID = examID
	}

	// The submission may carry its own exam definition; otherwise the
	// exam must be on file.
	var exam model.Exam
	if sub.Exam != nil {
		exam = *sub.Exam
		if err := exam.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid exam: "+err.Error())
			return
		}
	} else {
		stored, err := h.store.GetExam(sub.ExamID)
		if err != nil {
			slog.Error("get exam", "exam", sub.ExamID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to load exam")
			return
		}
		if stored == nil {
			respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "ExamNotFound"))
			return
		}
		exam = *stored
	}

	result := h.grader.GradeSections(r.Context(), exam, sub)

	now := time.Now()
	attempt := model.Attempt{
		ID:          uuid.NewString(),
		ExamID:      exam.ID,
		ScorePct:    result.Score,
		StartedAt:   now,
		SubmittedAt: now,
	}
	if user := model.UserFromContext(r.Context()); user != nil {
		attempt.UserID = user.ID
	}
	if err := h.store.InsertAttempt(attempt, nil); err != nil {
		slog.Error("persist section attempt", "exam", exam.ID, "error", err)
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req llm.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" && req.Content == "" {
		respondError(w, http.StatusBadRequest, "prompt or content is required")
		return
	}
	if req.Model == "" {
		req.Model = h.config.DefaultModel
	}

	resp, err := h.gen.Generate(r.Context(), req)
	if err != nil {
		slog.Error("generate", "model", req.Model, "error", err)
		respondJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   "generation failed",
		})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMyAttempts(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	attempts, err := h.store.ListAttemptsForUser(user.ID)
	if err != nil {
		slog.Error("list attempts", "user", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	view, err := h.store.GetAttempt(attemptID)
	if err != nil {
		slog.Error("get attempt", "attempt", attemptID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load attempt")
		return
	}
	if view == nil {
		respondError(w, http.StatusNotFound, "attempt not found")
		return
	}

	// Students may only see their own attempts.
	user := model.UserFromContext(r.Context())
	if user.Role == model.UserRoleStudent && view.Attempt.UserID != user.ID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) lookupExam(w http.ResponseWriter, r *http.Request) (model.Exam, bool) {
	examID := chi.URLParam(r, "examID")
	exam, err := h.store.GetExam(examID)
	if err != nil {
		slog.Error("get exam", "exam", examID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load exam")
		return model.Exam{}, false
	}
	if exam == nil {
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "ExamNotFound"))
		return model.Exam{}, false
	}
	return *exam, true
}

// Student-facing exam shape: no answer keys, reference answers, or
// explanations. Question marshaling would otherwise emit the mcq answer
// key unconditionally.
type examView struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	DurationSec int            `json:"durationSec"`
	Questions   []questionView `json:"questions"`
}

type questionView struct {
	ID        string             `json:"id"`
	Type      model.QuestionType `json:"type"`
	Prompt    string             `json:"prompt"`
	Choices   []string           `json:"choices,omitempty"`
	Rubric    string             `json:"rubric,omitempty"`
	MaxPoints int                `json:"maxPoints"`
}

func redactExam(exam model.Exam) examView {
	view := examView{
		ID:          exam.ID,
		Title:       exam.Title,
		DurationSec: exam.DurationSec,
		Questions:   make([]questionView, len(exam.Questions)),
	}
	for i, q := range exam.Questions {
		view.Questions[i] = questionView{
			ID:        q.ID,
			Type:      q.Type,
			Prompt:    q.Prompt,
			Choices:   q.Choices,
			Rubric:    q.Rubric,
			MaxPoints: q.MaxPoints,
		}
	}
	return view
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
