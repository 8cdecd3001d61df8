package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docnt/docnt/internal/model"
)

type questionRequest struct {
	Content       string             `json:"content" validate:"required,max=5000"`
	Type          model.QuestionType `json:"type" validate:"required,oneof=multiple_choice true_false short_answer essay"`
	Difficulty    model.Difficulty   `json:"difficulty" validate:"required,oneof=easy medium hard"`
	Unit          string             `json:"unit" validate:"max=100"`
	Points        int                `json:"points" validate:"gte=0"`
	Options       []string           `json:"options" validate:"omitempty,dive,required"`
	CorrectAnswer string             `json:"correctAnswer"`
	Tags          []string           `json:"tags" validate:"omitempty,dive,required,max=50"`
}

type examQuestionRequest struct {
	Order  int `json:"order" validate:"gte=0"`
	Points int `json:"points" validate:"gte=0"`
}

func (h *Handler) loadQuestion(w http.ResponseWriter, r *http.Request) *model.Question {
	q, err := h.store.GetQuestion(chi.URLParam(r, "questionID"))
	if err != nil {
		h.internalError(w, r, "failed to get question", err)
		return nil
	}
	if q == nil {
		writeError(w, r, http.StatusNotFound, "NotFound")
		return nil
	}
	if !canAccess(model.UserFromContext(r.Context()), q.UserID) {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return nil
	}
	return q
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	activeOnly := r.URL.Query().Get("all") == ""
	questions, err := h.store.ListQuestions(user.ID, activeOnly)
	if err != nil {
		h.internalError(w, r, "failed to list questions", err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	id, err := h.store.CreateQuestion(model.Question{
		UserID:        model.UserFromContext(r.Context()).ID,
		Content:       req.Content,
		Type:          req.Type,
		Difficulty:    req.Difficulty,
		Unit:          req.Unit,
		Points:        req.Points,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Tags:          req.Tags,
		Active:        true,
	})
	if err != nil {
		h.internalError(w, r, "failed to create question", err)
		return
	}
	q, err := h.store.GetQuestion(id)
	if err != nil {
		h.internalError(w, r, "failed to reload question", err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	if q := h.loadQuestion(w, r); q != nil {
		writeJSON(w, http.StatusOK, q)
	}
}

func (h *Handler) handleListExamQuestions(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	items, err := h.store.ListExamQuestions(e.ID)
	if err != nil {
		h.internalError(w, r, "failed to list exam questions", err)
		return
	}
	if items == nil {
		items = []model.ExamQuestion{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handlePutExamQuestion places a bank question on an exam and returns the
// exam with its new total.
func (h *Handler) handlePutExamQuestion(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	q := h.loadQuestion(w, r)
	if q == nil {
		return
	}
	var req examQuestionRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	points := req.Points
	if points == 0 {
		points = q.Points
	}
	if err := h.store.AddExamQuestion(e.ID, q.ID, req.Order, points); err != nil {
		h.internalError(w, r, "failed to add exam question", err)
		return
	}
	h.writeExam(w, r, e.ID)
}

func (h *Handler) handleDeleteExamQuestion(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	if err := h.store.RemoveExamQuestion(e.ID, chi.URLParam(r, "questionID")); err != nil {
		h.internalError(w, r, "failed to remove exam question", err)
		return
	}
	h.writeExam(w, r, e.ID)
}

func (h *Handler) writeExam(w http.ResponseWriter, r *http.Request, id string) {
	e, err := h.store.GetExam(id)
	if err != nil {
		h.internalError(w, r, "failed to reload exam", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
