package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/docnt/docnt/internal/auth"
	"github.com/docnt/docnt/internal/grading"
	appI18n "github.com/docnt/docnt/internal/i18n"
	"github.com/docnt/docnt/internal/store"
	"github.com/docnt/docnt/internal/uploads"
)

// maxJSONBody caps request bodies outside the upload endpoint.
const maxJSONBody = 1 << 20

// Config holds HTTP-level settings.
type Config struct {
	SecureCookies bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	grader   *grading.Grader
	uploads  *uploads.Store
	tokens   *auth.Issuer
	config   Config
	validate *validator.Validate
}

// New creates a new Handler.
func New(s *store.Store, g *grading.Grader, u *uploads.Store, tokens *auth.Issuer, cfg Config) *Handler {
	return &Handler{
		store:    s,
		grader:   g,
		uploads:  u,
		tokens:   tokens,
		config:   cfg,
		validate: validator.New(),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/uploads/*", h.handleServeUpload)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Get("/auth/me", h.handleMe)

			r.Get("/courses", h.handleListCourses)
			r.Post("/courses", h.handleCreateCourse)
			r.Get("/courses/{courseID}", h.handleGetCourse)
			r.Put("/courses/{courseID}", h.handleUpdateCourse)
			r.Delete("/courses/{courseID}", h.handleDeleteCourse)

			r.Get("/courses/{courseID}/students", h.handleListStudents)
			r.Post("/courses/{courseID}/students", h.handleCreateStudent)
			r.Put("/students/{studentID}", h.handleUpdateStudent)
			r.Post("/students/{studentID}/toggle", h.handleToggleStudent)

			r.Get("/courses/{courseID}/sections", h.handleListSections)
			r.Post("/courses/{courseID}/sections", h.handleCreateSection)
			r.Put("/sections/{sectionID}", h.handleUpdateSection)
			r.Delete("/sections/{sectionID}", h.handleDeleteSection)

			r.Get("/courses/{courseID}/exams", h.handleListExams)
			r.Post("/courses/{courseID}/exams", h.handleCreateExam)
			r.Get("/exams/{examID}", h.handleGetExam)
			r.Put("/exams/{examID}", h.handleUpdateExam)
			r.Delete("/exams/{examID}", h.handleDeleteExam)
			r.Get("/exams/{examID}/export", h.handleExportExam)

			r.Get("/exams/{examID}/rubric", h.handleGetRubric)
			r.Put("/exams/{examID}/rubric", h.handlePutRubric)

			r.Get("/exams/{examID}/grades", h.handleListExamGrades)
			r.Get("/courses/{courseID}/grades", h.handleListCourseGrades)
			r.Put("/exams/{examID}/students/{studentID}/grade", h.handlePutGrade)
			r.Delete("/exams/{examID}/students/{studentID}/grade", h.handleDeleteGrade)
			r.Post("/exams/{examID}/students/{studentID}/autograde", h.handleAutograde)

			r.Get("/questions", h.handleListQuestions)
			r.Post("/questions", h.handleCreateQuestion)
			r.Get("/questions/{questionID}", h.handleGetQuestion)
			r.Get("/exams/{examID}/questions", h.handleListExamQuestions)
			r.Put("/exams/{examID}/questions/{questionID}", h.handlePutExamQuestion)
			r.Delete("/exams/{examID}/questions/{questionID}", h.handleDeleteExamQuestion)

			r.Get("/events", h.handleListEvents)
			r.Post("/events", h.handleCreateEvent)
			r.Get("/events/upcoming", h.handleUpcomingEvents)
			r.Get("/events/{eventID}", h.handleGetEvent)
			r.Put("/events/{eventID}", h.handleUpdateEvent)
			r.Delete("/events/{eventID}", h.handleDeleteEvent)
			r.Post("/events/{eventID}/tags/{tagID}", h.handleAddEventTag)
			r.Delete("/events/{eventID}/tags/{tagID}", h.handleRemoveEventTag)
			r.Get("/tags", h.handleListTags)
			r.Post("/tags", h.handleCreateTag)

			r.Post("/ai/grade", h.handleGrade)
			r.Post("/upload", h.handleUpload)
		})
	})
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError sends a localized error message.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorBody{Error: appI18n.T(r.Context(), msgID)})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "InternalError")
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return fmt.Errorf("decode body: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

func (h *Handler) decodeOrReject(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := h.decode(w, r, dst); err != nil {
		slog.Debug("rejected request body", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return false
	}
	return true
}
