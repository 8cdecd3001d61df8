package model

import "time"

// ScheduleItem is one weekly slot of a section, e.g. {"Monday", "08:30", "10:00"}.
type ScheduleItem struct {
	Day   string `json:"day" validate:"required"`
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// Section is a group of a course with its own room and timetable.
type Section struct {
	ID         string         `json:"id"`
	CourseID   string         `json:"courseId"`
	Name       string         `json:"name"`
	Room       string         `json:"room,omitempty"`
	Schedule   []ScheduleItem `json:"schedule"`
	Active     bool           `json:"active"`
	EventCount int            `json:"eventCount"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// EventType classifies calendar events.
type EventType string

const (
	EventClass      EventType = "class"
	EventAssessment EventType = "assessment"
	EventDeadline   EventType = "deadline"
	EventMeeting    EventType = "meeting"
	EventOther      EventType = "other"
)

// EventScheduled is the status new events get.
const EventScheduled = "scheduled"

// Tag labels calendar events. Tags belong to the user who created them.
type Tag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventCourse is the course summary embedded in an event.
type EventCourse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// EventSection is the section summary embedded in an event.
type EventSection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is a calendar entry of one user, optionally tied to a course and
// one of its sections.
type Event struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	CourseID     string        `json:"courseId,omitempty"`
	SectionID    string        `json:"sectionId,omitempty"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Type         EventType     `json:"type"`
	StartDate    time.Time     `json:"startDate"`
	EndDate      *time.Time    `json:"endDate,omitempty"`
	AllDay       bool          `json:"allDay"`
	Location     string        `json:"location,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Observations string        `json:"observations,omitempty"`
	Status       string        `json:"status"`
	Course       *EventCourse  `json:"course,omitempty"`
	Section      *EventSection `json:"section,omitempty"`
	Tags         []Tag         `json:"tags"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// EventFilter narrows ListEvents. Zero fields do not filter.
type EventFilter struct {
	CourseID  string
	SectionID string
	From      *time.Time
	To        *time.Time
}
