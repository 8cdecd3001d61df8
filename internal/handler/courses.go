package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docnt/docnt/internal/model"
)

type courseRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Code        string `json:"code" validate:"max=50"`
	Period      string `json:"period" validate:"max=50"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
	Description string `json:"description"`
}

type studentRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email"`
	StudentCode string `json:"studentCode" validate:"max=50"`
}

type examRequest struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description"`
	Date        *time.Time       `json:"date"`
	Duration    int              `json:"duration" validate:"gte=0"`
	FileURL     string           `json:"fileUrl"`
	Status      model.ExamStatus `json:"status" validate:"omitempty,oneof=draft published graded"`
}

func canAccess(u *model.User, ownerID string) bool {
	return u != nil && (u.ID == ownerID || u.Role == model.UserRoleAdmin)
}

// loadCourse fetches the course named in the URL and checks the current
// user owns it. It writes the error response and returns nil otherwise.
func (h *Handler) loadCourse(w http.ResponseWriter, r *http.Request) *model.Course {
	c, err := h.store.GetCourse(chi.URLParam(r, "courseID"))
	if err != nil {
		h.internalError(w, r, "failed to get course", err)
		return nil
	}
	if c == nil {
		writeError(w, r, http.StatusNotFound, "NotFound")
		return nil
	}
	if !canAccess(model.UserFromContext(r.Context()), c.UserID) {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return nil
	}
	return c
}

func (h *Handler) loadExam(w http.ResponseWriter, r *http.Request) *model.Exam {
	e, err := h.store.GetExam(chi.URLParam(r, "examID"))
	if err != nil {
		h.internalError(w, r, "failed to get exam", err)
		return nil
	}
	if e == nil {
		writeError(w, r, http.StatusNotFound, "NotFound")
		return nil
	}
	if !canAccess(model.UserFromContext(r.Context()), e.UserID) {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return nil
	}
	return e
}

func (h *Handler) loadStudent(w http.ResponseWriter, r *http.Request) *model.Student {
	st, err := h.store.GetStudent(chi.URLParam(r, "studentID"))
	if err != nil {
		h.internalError(w, r, "failed to get student", err)
		return nil
	}
	if st == nil {
		writeError(w, r, http.StatusNotFound, "NotFound")
		return nil
	}
	c, err := h.store.GetCourse(st.CourseID)
	if err != nil {
		h.internalError(w, r, "failed to get course", err)
		return nil
	}
	if c == nil || !canAccess(model.UserFromContext(r.Context()), c.UserID) {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return nil
	}
	return st
}

func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	courses, err := h.store.ListCourses(user.ID)
	if err != nil {
		h.internalError(w, r, "failed to list courses", err)
		return
	}
	if courses == nil {
		courses = []model.Course{}
	}
	writeJSON(w, http.StatusOK, courses)
}

func (h *Handler) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())
	id, err := h.store.CreateCourse(model.Course{
		UserID:      user.ID,
		Name:        req.Name,
		Code:        req.Code,
		Period:      req.Period,
		Color:       req.Color,
		Description: req.Description,
	})
	if err != nil {
		h.internalError(w, r, "failed to create course", err)
		return
	}
	c, err := h.store.GetCourse(id)
	if err != nil {
		h.internalError(w, r, "failed to reload course", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	if c := h.loadCourse(w, r); c != nil {
		writeJSON(w, http.StatusOK, c)
	}
}

func (h *Handler) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	var req courseRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	c.Name, c.Code, c.Period, c.Color, c.Description = req.Name, req.Code, req.Period, req.Color, req.Description
	if err := h.store.UpdateCourse(*c); err != nil {
		h.internalError(w, r, "failed to update course", err)
		return
	}
	updated, err := h.store.GetCourse(c.ID)
	if err != nil {
		h.internalError(w, r, "failed to reload course", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	if err := h.store.DeleteCourse(c.ID); err != nil {
		h.internalError(w, r, "failed to delete course", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	activeOnly := r.URL.Query().Get("all") == ""
	students, err := h.store.ListStudents(c.ID, activeOnly)
	if err != nil {
		h.internalError(w, r, "failed to list students", err)
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	var req studentRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	id, err := h.store.CreateStudent(model.Student{
		CourseID:    c.ID,
		Name:        req.Name,
		Email:       req.Email,
		StudentCode: req.StudentCode,
		Active:      true,
	})
	if err != nil {
		h.internalError(w, r, "failed to create student", err)
		return
	}
	st, err := h.store.GetStudent(id)
	if err != nil {
		h.internalError(w, r, "failed to reload student", err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handler) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	st := h.loadStudent(w, r)
	if st == nil {
		return
	}
	var req studentRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	st.Name, st.Email, st.StudentCode = req.Name, req.Email, req.StudentCode
	if err := h.store.UpdateStudent(*st); err != nil {
		h.internalError(w, r, "failed to update student", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleToggleStudent(w http.ResponseWriter, r *http.Request) {
	st := h.loadStudent(w, r)
	if st == nil {
		return
	}
	if err := h.store.ToggleStudentActive(st.ID); err != nil {
		h.internalError(w, r, "failed to toggle student", err)
		return
	}
	st.Active = !st.Active
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	exams, err := h.store.ListExams(c.ID)
	if err != nil {
		h.internalError(w, r, "failed to list exams", err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	var req examRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	id, err := h.store.CreateExam(model.Exam{
		CourseID:    c.ID,
		UserID:      c.UserID,
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		Duration:    req.Duration,
		FileURL:     req.FileURL,
		Status:      req.Status,
	})
	if err != nil {
		h.internalError(w, r, "failed to create exam", err)
		return
	}
	e, err := h.store.GetExam(id)
	if err != nil {
		h.internalError(w, r, "failed to reload exam", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	if e := h.loadExam(w, r); e != nil {
		writeJSON(w, http.StatusOK, e)
	}
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	var req examRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	e.Title, e.Description, e.Date, e.Duration, e.FileURL = req.Title, req.Description, req.Date, req.Duration, req.FileURL
	if req.Status != "" {
		e.Status = req.Status
	}
	if err := h.store.UpdateExam(*e); err != nil {
		h.internalError(w, r, "failed to update exam", err)
		return
	}
	updated, err := h.store.GetExam(e.ID)
	if err != nil {
		h.internalError(w, r, "failed to reload exam", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	if err := h.store.DeleteExam(e.ID); err != nil {
		h.internalError(w, r, "failed to delete exam", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleExportExam(w http.ResponseWriter, r *http.Request) {
	e := h.loadExam(w, r)
	if e == nil {
		return
	}
	exp, err := h.store.ExportExam(e.ID)
	if err != nil {
		h.internalError(w, r, "failed to export exam", err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="exam-`+e.ID+`.json"`)
	writeJSON(w, http.StatusOK, exp)
}

type sectionRequest struct {
	Name     string               `json:"name" validate:"required,max=100"`
	Room     string               `json:"room" validate:"max=50"`
	Schedule []model.ScheduleItem `json:"schedule" validate:"omitempty,dive"`
	Active   *bool                `json:"active"`
}

func (h *Handler) loadSection(w http.ResponseWriter, r *http.Request) *model.Section {
	sec, err := h.store.GetSection(chi.URLParam(r, "sectionID"))
	if err != nil {
		h.internalError(w, r, "failed to get section", err)
		return nil
	}
	if sec == nil {
		writeError(w, r, http.StatusNotFound, "NotFound")
		return nil
	}
	c, err := h.store.GetCourse(sec.CourseID)
	if err != nil {
		h.internalError(w, r, "failed to get course", err)
		return nil
	}
	if c == nil || !canAccess(model.UserFromContext(r.Context()), c.UserID) {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return nil
	}
	return sec
}

func (h *Handler) handleListSections(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	sections, err := h.store.ListSections(c.ID)
	if err != nil {
		h.internalError(w, r, "failed to list sections", err)
		return
	}
	if sections == nil {
		sections = []model.Section{}
	}
	writeJSON(w, http.StatusOK, sections)
}

func (h *Handler) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	c := h.loadCourse(w, r)
	if c == nil {
		return
	}
	var req sectionRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	active := req.Active == nil || *req.Active
	id, err := h.store.CreateSection(model.Section{
		CourseID: c.ID,
		Name:     req.Name,
		Room:     req.Room,
		Schedule: req.Schedule,
		Active:   active,
	})
	if err != nil {
		h.internalError(w, r, "failed to create section", err)
		return
	}
	sec, err := h.store.GetSection(id)
	if err != nil {
		h.internalError(w, r, "failed to reload section", err)
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}

func (h *Handler) handleUpdateSection(w http.ResponseWriter, r *http.Request) {
	sec := h.loadSection(w, r)
	if sec == nil {
		return
	}
	var req sectionRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	sec.Name, sec.Room, sec.Schedule = req.Name, req.Room, req.Schedule
	if req.Active != nil {
		sec.Active = *req.Active
	}
	if err := h.store.UpdateSection(*sec); err != nil {
		h.internalError(w, r, "failed to update section", err)
		return
	}
	updated, err := h.store.GetSection(sec.ID)
	if err != nil {
		h.internalError(w, r, "failed to reload section", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	sec := h.loadSection(w, r)
	if sec == nil {
		return
	}
	if err := h.store.DeleteSection(sec.ID); err != nil {
		h.internalError(w, r, "failed to delete section", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
