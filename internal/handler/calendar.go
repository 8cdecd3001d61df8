package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docnt/docnt/internal/model"
	"github.com/docnt/docnt/internal/store"
)

// upcomingLimit caps the upcoming events list.
const upcomingLimit = 10

type eventRequest struct {
	Title        string          `json:"title" validate:"required,max=200"`
	Description  string          `json:"description" validate:"max=2000"`
	Type         model.EventType `json:"type" validate:"required,oneof=class assessment deadline meeting other"`
	StartDate    *time.Time      `json:"startDate" validate:"required"`
	EndDate      *time.Time      `json:"endDate"`
	AllDay       bool            `json:"allDay"`
	Location     string          `json:"location" validate:"max=200"`
	Notes        string          `json:"notes" validate:"max=5000"`
	Observations string          `json:"observations" validate:"max=5000"`
	CourseID     string          `json:"courseId"`
	SectionID    string          `json:"sectionId"`
	TagIDs       []string        `json:"tagIds" validate:"omitempty,dive,required"`
	Status       string          `json:"status" validate:"max=50"`
}

type tagRequest struct {
	Name  string `json:"name" validate:"required,max=50"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

func (h *Handler) loadEvent(w http.ResponseWriter, r *http.Request) *model.Event {
	e, err := h.store.GetEvent(chi.URLParam(r, "eventID"))
	if err != nil {
		h.internalError(w, r, "failed to get event", err)
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

// checkTag loads a tag and checks it belongs to ownerID. It writes the error
// response and returns false otherwise.
func (h *Handler) checkTag(w http.ResponseWriter, r *http.Request, tagID, ownerID string) bool {
	t, err := h.store.GetTag(tagID)
	if err != nil {
		h.internalError(w, r, "failed to get tag", err)
		return false
	}
	if t == nil {
		writeError(w, r, http.StatusNotFound, "NotFound")
		return false
	}
	if t.UserID != ownerID {
		writeError(w, r, http.StatusForbidden, "Forbidden")
		return false
	}
	return true
}

// eventFromRequest validates the course, section and tags an event refers
// to and fills e from req. A section alone implies its course.
func (h *Handler) eventFromRequest(w http.ResponseWriter, r *http.Request, req eventRequest, e *model.Event) bool {
	if req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return false
	}
	user := model.UserFromContext(r.Context())
	courseID := req.CourseID
	if req.SectionID != "" {
		sec, err := h.store.GetSection(req.SectionID)
		if err != nil {
			h.internalError(w, r, "failed to get section", err)
			return false
		}
		if sec == nil {
			writeError(w, r, http.StatusNotFound, "NotFound")
			return false
		}
		if courseID != "" && courseID != sec.CourseID {
			writeError(w, r, http.StatusBadRequest, "SectionNotInCourse")
			return false
		}
		courseID = sec.CourseID
	}
	if courseID != "" {
		c, err := h.store.GetCourse(courseID)
		if err != nil {
			h.internalError(w, r, "failed to get course", err)
			return false
		}
		if c == nil {
			writeError(w, r, http.StatusNotFound, "NotFound")
			return false
		}
		if !canAccess(user, c.UserID) {
			writeError(w, r, http.StatusForbidden, "Forbidden")
			return false
		}
	}
	for _, id := range req.TagIDs {
		if !h.checkTag(w, r, id, e.UserID) {
			return false
		}
	}

	e.CourseID, e.SectionID = courseID, req.SectionID
	e.Title, e.Description, e.Type = req.Title, req.Description, req.Type
	e.StartDate, e.EndDate, e.AllDay = *req.StartDate, req.EndDate, req.AllDay
	e.Location, e.Notes, e.Observations = req.Location, req.Notes, req.Observations
	e.Status = req.Status
	return true
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	q := r.URL.Query()
	f := model.EventFilter{CourseID: q.Get("courseId"), SectionID: q.Get("sectionId")}
	var err error
	if f.From, err = parseTimeParam(r, "from"); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	if f.To, err = parseTimeParam(r, "to"); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}
	events, err := h.store.ListEvents(user.ID, f)
	if err != nil {
		h.internalError(w, r, "failed to list events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	events, err := h.store.UpcomingEvents(user.ID, time.Now(), upcomingLimit)
	if err != nil {
		h.internalError(w, r, "failed to list upcoming events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	e := model.Event{UserID: model.UserFromContext(r.Context()).ID}
	if !h.eventFromRequest(w, r, req, &e) {
		return
	}
	id, err := h.store.CreateEvent(e, req.TagIDs)
	if err != nil {
		h.internalError(w, r, "failed to create event", err)
		return
	}
	created, err := h.store.GetEvent(id)
	if err != nil {
		h.internalError(w, r, "failed to reload event", err)
		return
	}
	slog.Info("created event", "event_id", id, "type", e.Type)
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if e := h.loadEvent(w, r); e != nil {
		writeJSON(w, http.StatusOK, e)
	}
}

// handleUpdateEvent replaces an event. Omitting tagIds keeps its tags.
func (h *Handler) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	e := h.loadEvent(w, r)
	if e == nil {
		return
	}
	var req eventRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	if !h.eventFromRequest(w, r, req, e) {
		return
	}
	if err := h.store.UpdateEvent(*e, req.TagIDs); err != nil {
		h.internalError(w, r, "failed to update event", err)
		return
	}
	updated, err := h.store.GetEvent(e.ID)
	if err != nil {
		h.internalError(w, r, "failed to reload event", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	e := h.loadEvent(w, r)
	if e == nil {
		return
	}
	if err := h.store.DeleteEvent(e.ID); err != nil {
		h.internalError(w, r, "failed to delete event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleAddEventTag(w http.ResponseWriter, r *http.Request) {
	e := h.loadEvent(w, r)
	if e == nil {
		return
	}
	tagID := chi.URLParam(r, "tagID")
	if !h.checkTag(w, r, tagID, e.UserID) {
		return
	}
	if err := h.store.AddEventTag(e.ID, tagID); err != nil {
		h.internalError(w, r, "failed to tag event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleRemoveEventTag(w http.ResponseWriter, r *http.Request) {
	e := h.loadEvent(w, r)
	if e == nil {
		return
	}
	if err := h.store.RemoveEventTag(e.ID, chi.URLParam(r, "tagID")); err != nil {
		h.internalError(w, r, "failed to untag event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	tags, err := h.store.ListTags(user.ID)
	if err != nil {
		h.internalError(w, r, "failed to list tags", err)
		return
	}
	if tags == nil {
		tags = []model.Tag{}
	}
	writeJSON(w, http.StatusOK, tags)
}

func (h *Handler) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())
	id, err := h.store.CreateTag(model.Tag{UserID: user.ID, Name: req.Name, Color: req.Color})
	if store.IsUniqueViolation(err) {
		writeError(w, r, http.StatusConflict, "TagTaken")
		return
	}
	if err != nil {
		h.internalError(w, r, "failed to create tag", err)
		return
	}
	t, err := h.store.GetTag(id)
	if err != nil {
		h.internalError(w, r, "failed to reload tag", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
