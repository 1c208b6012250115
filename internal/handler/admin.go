package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/agora-edu/agora/internal/model"
)

func (h *Handler) handleAdminListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.store.ListAttempts(r.URL.Query().Get("exam"))
	if err != nil {
		slog.Error("admin list attempts", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	respondJSON(w, http.StatusOK, attempts)
}

// handleUploadExam accepts an exam definition, validates it, and stores
// it, replacing any previous version.
func (h *Handler) handleUploadExam(w http.ResponseWriter, r *http.Request) {
	var exam model.Exam
	if err := json.NewDecoder(r.Body).Decode(&exam); err != nil {
		respondError(w, http.StatusBadRequest, "invalid exam JSON: "+err.Error())
		return
	}
	if exam.ID == "" {
		respondError(w, http.StatusBadRequest, "exam id is required")
		return
	}
	if err := exam.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpsertExam(exam); err != nil {
		slog.Error("upsert exam", "exam", exam.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store exam")
		return
	}
	slog.Info("exam uploaded", "exam", exam.ID, "questions", len(exam.Questions))
	respondJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"id":        exam.ID,
		"questions": len(exam.Questions),
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportAllAttempts()
	if err != nil {
		slog.Error("export attempts", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to export results")
		return
	}
	respondJSON(w, http.StatusOK, export)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("list users", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	infos := make([]userInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, userInfo{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Role:        u.Role,
		})
	}
	respondJSON(w, http.StatusOK, infos)
}

type createUserRequest struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"displayName"`
	Password    string         `json:"password"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	switch req.Role {
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	case "":
		req.Role = model.UserRoleStudent
	default:
		respondError(w, http.StatusBadRequest, "unknown role")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("hash password", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if err != nil {
		respondError(w, http.StatusConflict, "failed to create user")
		return
	}
	respondJSON(w, http.StatusCreated, userInfo{
		ID:          id,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Role:        req.Role,
	})
}
