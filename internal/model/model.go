package model

import (
	"context"
	"encoding/json"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleTeacher is the instructor role every registered user gets.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents an instructor account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Course is a class owned by one instructor.
type Course struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	Code         string    `json:"code"`
	Period       string    `json:"period"`
	Color        string    `json:"color"`
	Description  string    `json:"description"`
	StudentCount int       `json:"studentCount"`
	ExamCount    int       `json:"examCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Student is enrolled in exactly one course.
type Student struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"courseId"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	StudentCode string    `json:"studentCode,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ExamStatus is the lifecycle state of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
	ExamGraded    ExamStatus = "graded"
)

// Exam belongs to a course and its owner. TotalPoints and QuestionCount are
// derived from the bank questions placed on it.
type Exam struct {
	ID            string     `json:"id"`
	CourseID      string     `json:"courseId"`
	UserID        string     `json:"userId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	Duration      int        `json:"duration,omitempty"`
	FileURL       string     `json:"fileUrl,omitempty"`
	Status        ExamStatus `json:"status"`
	TotalPoints   int        `json:"totalPoints"`
	QuestionCount int        `json:"questionCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// GradingRubric is the answer key of a multiple-choice exam. An exam has at
// most one.
type GradingRubric struct {
	ID        string            `json:"id"`
	ExamID    string            `json:"examId"`
	UserID    string            `json:"userId"`
	Name      string            `json:"name"`
	Rubric    map[string]string `json:"rubric"`
	Points    map[string]int    `json:"points,omitempty"`
	ImageURL  string            `json:"imageUrl,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// GradeStatus is the state of a grade record.
type GradeStatus string

const (
	GradePending GradeStatus = "pending"
	GradeGraded  GradeStatus = "graded"
	GradeAbsent  GradeStatus = "absent"
)

// Grade is the result of one student on one exam, unique per (exam, student).
type Grade struct {
	ID          string          `json:"id"`
	ExamID      string          `json:"examId"`
	StudentID   string          `json:"studentId"`
	Score       float64         `json:"score"`
	Grade       *float64        `json:"grade,omitempty"`
	Status      GradeStatus     `json:"status"`
	AnswersURL  string          `json:"answersUrl,omitempty"`
	AnswersData json.RawMessage `json:"answersData,omitempty"`
	Feedback    string          `json:"feedback,omitempty"`
	CorrectedAt *time.Time      `json:"correctedAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// GradeView joins a grade with the names needed to display it.
type GradeView struct {
	Grade
	StudentName string     `json:"studentName"`
	ExamTitle   string     `json:"examTitle"`
	ExamDate    *time.Time `json:"examDate,omitempty"`
}
