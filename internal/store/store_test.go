package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/docnt/docnt/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fixture struct {
	userID   string
	courseID string
	examID   string
	students []string
}

// seed creates a teacher with one course, one exam and the named students.
func seed(t *testing.T, s *Store, names ...string) fixture {
	t.Helper()
	var f fixture
	var err error
	f.userID, err = s.CreateUser(model.User{Email: "prof@example.com", Name: "Prof", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	f.courseID, err = s.CreateCourse(model.Course{UserID: f.userID, Name: "Math 1", Code: "MAT1", Period: "2025-1"})
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	date := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	f.examID, err = s.CreateExam(model.Exam{CourseID: f.courseID, UserID: f.userID, Title: "Quiz 1", Date: &date})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	for _, n := range names {
		id, err := s.CreateStudent(model.Student{CourseID: f.courseID, Name: n, Active: true})
		if err != nil {
			t.Fatalf("CreateStudent(%s): %v", n, err)
		}
		f.students = append(f.students, id)
	}
	return f
}

func ptr[T any](v T) *T { return &v }

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id, err := s.CreateUser(model.User{Email: "a@example.com", Name: "Ana", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByEmail("a@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("expected user %s, got %+v", id, u)
	}
	if u.Role != model.UserRoleTeacher {
		t.Errorf("expected default role teacher, got %q", u.Role)
	}

	u, err = s.GetUserByID(id)
	if err != nil || u == nil || u.Email != "a@example.com" {
		t.Fatalf("GetUserByID: %+v, %v", u, err)
	}

	u, err = s.GetUserByEmail("missing@example.com")
	if err != nil || u != nil {
		t.Fatalf("expected nil user for unknown email, got %+v, %v", u, err)
	}

	_, err = s.CreateUser(model.User{Email: "a@example.com", PasswordHash: "x"})
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation for duplicate email, got %v", err)
	}
}

func TestRevokedTokens(t *testing.T) {
	s := newTestStore(t)

	if err := s.RevokeToken("live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if err := s.RevokeToken("live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken twice: %v", err)
	}
	if err := s.RevokeToken("old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if err := s.CleanupRevokedTokens(); err != nil {
		t.Fatalf("CleanupRevokedTokens: %v", err)
	}

	tests := []struct {
		id   string
		want bool
	}{
		{"live", true},
		{"old", false},
		{"never", false},
	}
	for _, tt := range tests {
		got, err := s.IsTokenRevoked(tt.id)
		if err != nil {
			t.Fatalf("IsTokenRevoked(%s): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("IsTokenRevoked(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCourseCRUD(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, "Bea", "Ana")

	list, err := s.ListCourses(f.userID)
	if err != nil {
		t.Fatalf("ListCourses: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 course, got %d", len(list))
	}
	if list[0].StudentCount != 2 || list[0].ExamCount != 1 {
		t.Errorf("expected 2 students / 1 exam, got %d / %d", list[0].StudentCount, list[0].ExamCount)
	}

	c := list[0]
	c.Name = "Math I"
	c.Color = "#ff0000"
	if err := s.UpdateCourse(c); err != nil {
		t.Fatalf("UpdateCourse: %v", err)
	}
	got, err := s.GetCourse(c.ID)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if got.Name != "Math I" || got.Color != "#ff0000" || got.Code != "MAT1" {
		t.Errorf("unexpected course after update: %+v", got)
	}

	if err := s.DeleteCourse(c.ID); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	got, err = s.GetCourse(c.ID)
	if err != nil || got != nil {
		t.Fatalf("expected course gone, got %+v, %v", got, err)
	}
	st, err := s.GetStudent(f.students[0])
	if err != nil || st != nil {
		t.Errorf("expected students deleted with course, got %+v, %v", st, err)
	}
	ex, err := s.GetExam(f.examID)
	if err != nil || ex != nil {
		t.Errorf("expected exams deleted with course, got %+v, %v", ex, err)
	}
}

func TestStudents(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, "Carla", "Ana", "Beto")

	list, err := s.ListStudents(f.courseID, true)
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	var names []string
	for _, st := range list {
		names = append(names, st.Name)
	}
	if len(names) != 3 || names[0] != "Ana" || names[1] != "Beto" || names[2] != "Carla" {
		t.Fatalf("expected students ordered by name, got %v", names)
	}

	// Carla is f.students[0].
	if err := s.ToggleStudentActive(f.students[0]); err != nil {
		t.Fatalf("ToggleStudentActive: %v", err)
	}
	st, err := s.GetStudent(f.students[0])
	if err != nil {
		t.Fatalf("GetStudent: %v", err)
	}
	if st.Active {
		t.Error("expected student inactive after toggle")
	}

	active, err := s.ListStudents(f.courseID, true)
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active students, got %d", len(active))
	}
	all, err := s.ListStudents(f.courseID, false)
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 students in total, got %d", len(all))
	}

	st.Name = "Carla M."
	st.StudentCode = "A-17"
	if err := s.UpdateStudent(*st); err != nil {
		t.Fatalf("UpdateStudent: %v", err)
	}
	st, _ = s.GetStudent(f.students[0])
	if st.Name != "Carla M." || st.StudentCode != "A-17" {
		t.Errorf("unexpected student after update: %+v", st)
	}
}

func TestExams(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)

	e, err := s.GetExam(f.examID)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if e.Status != model.ExamDraft {
		t.Errorf("expected draft status, got %q", e.Status)
	}
	if e.Date == nil || !e.Date.Equal(time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected exam date: %v", e.Date)
	}

	undated, err := s.CreateExam(model.Exam{CourseID: f.courseID, UserID: f.userID, Title: "Quiz 2"})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	e2, err := s.GetExam(undated)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if e2.Date != nil {
		t.Errorf("expected nil date, got %v", e2.Date)
	}

	e.Title = "Quiz 1 (final)"
	e.Duration = 45
	if err := s.UpdateExam(*e); err != nil {
		t.Fatalf("UpdateExam: %v", err)
	}
	if err := s.UpdateExamStatus(e.ID, model.ExamGraded); err != nil {
		t.Fatalf("UpdateExamStatus: %v", err)
	}
	e, _ = s.GetExam(f.examID)
	if e.Title != "Quiz 1 (final)" || e.Duration != 45 || e.Status != model.ExamGraded {
		t.Errorf("unexpected exam after update: %+v", e)
	}

	list, err := s.ListExams(f.courseID)
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 exams, got %d", len(list))
	}

	if err := s.DeleteExam(undated); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}
	list, _ = s.ListExams(f.courseID)
	if len(list) != 1 {
		t.Errorf("expected 1 exam after delete, got %d", len(list))
	}
}

func TestRubricUpsert(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)

	r, err := s.GetRubric(f.examID)
	if err != nil || r != nil {
		t.Fatalf("expected no rubric, got %+v, %v", r, err)
	}

	r, err = s.UpsertRubric(model.GradingRubric{
		ExamID: f.examID,
		UserID: f.userID,
		Name:   "Key",
		Rubric: map[string]string{"1": "A", "2": "C"},
	})
	if err != nil {
		t.Fatalf("UpsertRubric: %v", err)
	}
	firstID := r.ID
	if len(r.Rubric) != 2 || r.Rubric["2"] != "C" {
		t.Errorf("unexpected rubric: %v", r.Rubric)
	}
	if len(r.Points) != 0 {
		t.Errorf("expected no points, got %v", r.Points)
	}

	r, err = s.UpsertRubric(model.GradingRubric{
		ExamID: f.examID,
		UserID: f.userID,
		Name:   "Key v2",
		Rubric: map[string]string{"1": "B"},
		Points: map[string]int{"1": 3},
	})
	if err != nil {
		t.Fatalf("UpsertRubric again: %v", err)
	}
	if r.ID != firstID {
		t.Errorf("expected rubric to be updated in place, id %s != %s", r.ID, firstID)
	}
	if r.Name != "Key v2" || len(r.Rubric) != 1 || r.Points["1"] != 3 {
		t.Errorf("unexpected rubric after upsert: %+v", r)
	}
}

func TestGradeUpsert(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, "Ana")

	g, err := s.UpsertGrade(model.Grade{
		ExamID:      f.examID,
		StudentID:   f.students[0],
		Score:       2,
		Grade:       ptr(4.7),
		AnswersURL:  "/uploads/a.png",
		AnswersData: json.RawMessage(`{"1":"A","2":null}`),
	})
	if err != nil {
		t.Fatalf("UpsertGrade: %v", err)
	}
	if g.Status != model.GradeGraded {
		t.Errorf("expected default status graded, got %q", g.Status)
	}
	if g.CorrectedAt == nil {
		t.Error("expected corrected_at to be set")
	}
	if string(g.AnswersData) != `{"1":"A","2":null}` {
		t.Errorf("unexpected answers data: %s", g.AnswersData)
	}

	g2, err := s.UpsertGrade(model.Grade{
		ExamID:    f.examID,
		StudentID: f.students[0],
		Status:    model.GradeAbsent,
	})
	if err != nil {
		t.Fatalf("UpsertGrade again: %v", err)
	}
	if g2.ID != g.ID {
		t.Errorf("expected one grade per exam and student")
	}
	if g2.Status != model.GradeAbsent || g2.Grade != nil || g2.CorrectedAt != nil || g2.AnswersData != nil {
		t.Errorf("unexpected grade after overwrite: %+v", g2)
	}

	if err := s.DeleteGrade(f.examID, f.students[0]); err != nil {
		t.Fatalf("DeleteGrade: %v", err)
	}
	g, err = s.GetGrade(f.examID, f.students[0])
	if err != nil || g != nil {
		t.Errorf("expected grade gone, got %+v, %v", g, err)
	}
}

func TestListGrades(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, "Carla", "Ana", "Beto")

	for i, id := range f.students {
		if _, err := s.UpsertGrade(model.Grade{ExamID: f.examID, StudentID: id, Score: float64(i), Grade: ptr(float64(i + 1))}); err != nil {
			t.Fatalf("UpsertGrade: %v", err)
		}
	}
	// Beto drops out.
	if err := s.ToggleStudentActive(f.students[2]); err != nil {
		t.Fatalf("ToggleStudentActive: %v", err)
	}

	byExam, err := s.ListGradesByExam(f.examID)
	if err != nil {
		t.Fatalf("ListGradesByExam: %v", err)
	}
	if len(byExam) != 2 || byExam[0].StudentName != "Ana" || byExam[1].StudentName != "Carla" {
		t.Fatalf("unexpected grades by exam: %+v", byExam)
	}
	if byExam[0].ExamTitle != "Quiz 1" || byExam[0].ExamDate == nil {
		t.Errorf("expected exam details joined, got %+v", byExam[0])
	}

	byCourse, err := s.ListGradesByCourse(f.courseID)
	if err != nil {
		t.Fatalf("ListGradesByCourse: %v", err)
	}
	if len(byCourse) != 3 {
		t.Errorf("expected 3 grades by course, got %d", len(byCourse))
	}
}

func TestExportExam(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s, "Ana", "Beto")

	exp, err := s.ExportExam("missing")
	if err != nil || exp != nil {
		t.Fatalf("expected nil export for unknown exam, got %+v, %v", exp, err)
	}

	if _, err := s.UpsertRubric(model.GradingRubric{ExamID: f.examID, UserID: f.userID, Name: "Key", Rubric: map[string]string{"1": "A"}}); err != nil {
		t.Fatalf("UpsertRubric: %v", err)
	}
	if _, err := s.UpsertGrade(model.Grade{
		ExamID:      f.examID,
		StudentID:   f.students[0],
		Score:       1,
		Grade:       ptr(7.0),
		AnswersData: json.RawMessage(`{"1":"A"}`),
	}); err != nil {
		t.Fatalf("UpsertGrade: %v", err)
	}

	exp, err = s.ExportExam(f.examID)
	if err != nil {
		t.Fatalf("ExportExam: %v", err)
	}
	if exp.Course != "Math 1" || !exp.HasRubric {
		t.Errorf("unexpected export header: %+v", exp)
	}
	if len(exp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(exp.Results))
	}
	if exp.NumGraded != 1 || exp.Average == nil || *exp.Average != 7.0 {
		t.Errorf("expected one graded result averaging 7.0, got %d / %v", exp.NumGraded, exp.Average)
	}
	if exp.Results[0].Answers["1"] != "A" {
		t.Errorf("expected decoded answers, got %v", exp.Results[0].Answers)
	}
	if exp.Results[1].Status != model.GradePending {
		t.Errorf("expected ungraded student pending, got %q", exp.Results[1].Status)
	}
}
