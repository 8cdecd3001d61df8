package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/docnt/docnt/internal/grading"
	appI18n "github.com/docnt/docnt/internal/i18n"
	"github.com/docnt/docnt/internal/model"
)

type gradeSuccess struct {
	Success bool `json:"success"`
	*grading.Result
	GradeRecord *model.Grade `json:"gradeRecord,omitempty"`
}

type gradeFailure struct {
	Success     bool         `json:"success"`
	Error       string       `json:"error"`
	Kind        grading.Kind `json:"kind"`
	RawResponse string       `json:"rawResponse,omitempty"`
}

type rubricRequest struct {
	Name     string            `json:"name" validate:"max=200"`
	Rubric   map[string]string `json:"rubric" validate:"required,min=1,dive,keys,required,endkeys,required"`
	Points   map[string]int    `json:"points" validate:"omitempty,dive,gt=0"`
	ImageURL string            `json:"imageUrl"`
}

type autogradeRequest struct {
	ImageURL string `json:"imageUrl" validate:"required"`
}

type gradeRequest struct {
	Score      float64           `json:"score" validate:"gte=0"`
	Grade      *float64          `json:"grade" validate:"omitempty,gte=0,lte=7"`
	Status     model.GradeStatus `json:"status" validate:"omitempty,oneof=pending graded absent"`
	AnswersURL string            `json:"answersUrl"`
	Feedback   string            `json:"feedback"`
}

// gradingStatus maps a pipeline failure to its HTTP status and message ID.
func gradingStatus(kind grading.Kind) (int, string) {
	switch kind {
	case grading.KindInvalidRequest:
		return http.StatusBadRequest, "GradingInvalidRequest"
	case grading.KindEmptyRubric:
		return http.StatusBadRequest, "GradingEmptyRubric"
	case grading.KindImageRead:
		return http.StatusUnprocessableEntity, "GradingImageRead"
	case grading.KindUpstream:
		return http.StatusBadGateway, "GradingUpstream"
	case grading.KindResponseParse:
		return http.StatusBadGateway, "GradingParse"
	case grading.KindTimeout:
		return http.StatusGatewayTimeout, "GradingTimeout"
	default:
		return http.StatusInternalServerError, "GradingFailed"
	}
}

func writeGradingError(w http.ResponseWriter, r *http.Request, err error) {
	kind := grading.KindOf(err)
	status, msgID := gradingStatus(kind)
	body := gradeFailure{Error: appI18n.T(r.Context(), msgID), Kind: kind}
	if raw, ok := grading.RawResponse(err); ok {
		body.RawResponse = raw
	}
	writeJSON(w, status, body)
}

// handleGrade runs the pipeline on an ad-hoc request without persisting.
func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req grading.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		slog.Debug("rejected grading request", "error", err)
		writeGradingError(w, r, grading.ErrInvalidRequest)
		return
	}

	res, err := h.grader.Run(r.Context(), req)
	if err != nil {
		writeGradingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gradeSuccess{Success: true, Result: res})
}

func (h *Handler) handleGetRubric(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	rubric, err := h.store.GetRubric(e.ID)
	if err != nil {
		h.internalError(w, r, "failed to get rubric", err)
		return
	}
	if rubric == nil {
		writeError(w, r, http.StatusNotFound, "RubricMissing")
		return
	}
	writeJSON(w, http.StatusOK, rubric)
}

func (h *Handler) handlePutRubric(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	var req rubricRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = e.Title
	}
	rubric, err := h.store.UpsertRubric(model.GradingRubric{
		ExamID:   e.ID,
		UserID:   model.UserFromContext(r.Context()).ID,
		Name:     name,
		Rubric:   req.Rubric,
		Points:   req.Points,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		h.internalError(w, r, "failed to save rubric", err)
		return
	}
	slog.Info("saved rubric", "exam_id", e.ID, "questions", len(rubric.Rubric))
	writeJSON(w, http.StatusOK, rubric)
}

func (h *Handler) handleListExamGrades(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	grades, err := h.store.ListGradesByExam(e.ID)
	if err != nil {
		h.internalError(w, r, "failed to list grades", err)
		return
	}
	if grades == nil {
		grades = []model.GradeView{}
	}
	writeJSON(w, http.StatusOK, grades)
}

func (h *Handler) handleListCourseGrades(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	grades, err := h.store.ListGradesByCourse(c.ID)
	if err != nil {
		h.internalError(w, r, "failed to list grades", err)
		return
	}
	if grades == nil {
		grades = []model.GradeView{}
	}
	writeJSON(w, http.StatusOK, grades)
}

// loadExamStudent loads the exam and student named in the URL and checks
// the student is enrolled in the exam's course.
func (h *Handler) loadExamStudent(w http.ResponseWriter, r *http.Request) (*model.Exam, *model.Student) {
	e := h.loadExam(w, r)
	if e == nil {
		return nil, nil
	}
	st := h.loadStudent(w, r)
	if st == nil {
		return nil, nil
	}
	if st.CourseID != e.CourseID {
		writeError(w, r, http.StatusBadRequest, "StudentNotInCourse")
		return nil, nil
	}
	return e, st
}

func (h *Handler) handlePutGrade(w http.ResponseWriter, r *http.Request) {
	e, st := h.loadExamStudent(w, r)
	if e == nil {
		return
	}
	var req gradeRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	g, err := h.store.UpsertGrade(model.Grade{
		ExamID:     e.ID,
		StudentID:  st.ID,
		Score:      req.Score,
		Grade:      req.Grade,
		Status:     req.Status,
		AnswersURL: req.AnswersURL,
		Feedback:   req.Feedback,
	})
	if err != nil {
		h.internalError(w, r, "failed to save grade", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) handleDeleteGrade(w http.ResponseWriter, r *http.Request) {
	e, st := h.loadExamStudent(w, r)
	if e == nil {
		return
	}
	if err := h.store.DeleteGrade(e.ID, st.ID); err != nil {
		h.internalError(w, r, "failed to delete grade", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAutograde grades a student's answer sheet against the exam's stored
// rubric and records the grade. Failed runs leave existing grades untouched.
func (h *Handler) handleAutograde(w http.ResponseWriter, r *http.Request) {
	e, st := h.loadExamStudent(w, r)
	if e == nil {
		return
	}
	var req autogradeRequest
	if err := h.decode(w, r, &req); err != nil {
		slog.Debug("rejected autograde request", "error", err)
		writeGradingError(w, r, grading.ErrInvalidRequest)
		return
	}

	rubric, err := h.store.GetRubric(e.ID)
	if err != nil {
		h.internalError(w, r, "failed to get rubric", err)
		return
	}
	if rubric == nil {
		writeError(w, r, http.StatusBadRequest, "RubricMissing")
		return
	}

	res, err := h.grader.Run(r.Context(), grading.Request{
		ImageRef: req.ImageURL,
		Rubric:   rubric.Rubric,
		Points:   rubric.Points,
	})
	if err != nil {
		slog.Warn("autograde failed", "exam_id", e.ID, "student_id", st.ID, "kind", grading.KindOf(err))
		writeGradingError(w, r, err)
		return
	}

	answers, err := json.Marshal(res.Answers)
	if err != nil {
		h.internalError(w, r, "failed to encode answers", err)
		return
	}
	answersURL := req.ImageURL
	if strings.HasPrefix(answersURL, "data:") {
		answersURL = ""
	}
	grade := res.Grade
	record, err := h.store.UpsertGrade(model.Grade{
		ExamID:      e.ID,
		StudentID:   st.ID,
		Score:       float64(res.TotalScore),
		Grade:       &grade,
		Status:      model.GradeGraded,
		AnswersURL:  answersURL,
		AnswersData: answers,
	})
	if err != nil {
		h.internalError(w, r, "failed to save grade", err)
		return
	}
	if e.Status != model.ExamGraded {
		if err := h.store.UpdateExamStatus(e.ID, model.ExamGraded); err != nil {
			slog.Error("failed to mark exam graded", "exam_id", e.ID, "error", err)
		}
	}

	slog.Info("autograded student", "exam_id", e.ID, "student_id", st.ID, "grade", res.Grade)
	writeJSON(w, http.StatusOK, gradeSuccess{Success: true, Result: res, GradeRecord: record})
}
