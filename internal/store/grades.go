package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docnt/docnt/internal/model"
)

// UpsertRubric creates or replaces the rubric of an exam and returns the
// stored record.
func (s *Store) UpsertRubric(r model.GradingRubric) (*model.GradingRubric, error) {
	rubric, err := json.Marshal(r.Rubric)
	if err != nil {
		return nil, fmt.Errorf("encode rubric: %w", err)
	}
	if r.Points == nil {
		r.Points = map[string]int{}
	}
	points, err := json.Marshal(r.Points)
	if err != nil {
		return nil, fmt.Errorf("encode points: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO grading_rubrics (id, exam_id, user_id, name, rubric, points, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exam_id) DO UPDATE SET
			name = excluded.name, rubric = excluded.rubric, points = excluded.points,
			image_url = excluded.image_url, updated_at = excluded.updated_at`,
		newID(), r.ExamID, r.UserID, r.Name, string(rubric), string(points), r.ImageURL, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetRubric(r.ExamID)
}

// GetRubric returns the rubric of an exam, or nil if none was saved.
func (s *Store) GetRubric(examID string) (*model.GradingRubric, error) {
	var r model.GradingRubric
	var rubric, points string
	err := s.db.QueryRow(
		`SELECT id, exam_id, user_id, name, rubric, points, image_url, created_at, updated_at
		 FROM grading_rubrics WHERE exam_id = ?`, examID,
	).Scan(&r.ID, &r.ExamID, &r.UserID, &r.Name, &rubric, &points, &r.ImageURL, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rubric), &r.Rubric); err != nil {
		return nil, fmt.Errorf("decode rubric: %w", err)
	}
	if err := json.Unmarshal([]byte(points), &r.Points); err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	return &r, nil
}

// UpsertGrade writes the grade of a student on an exam, replacing any
// previous one. Status defaults to graded; graded records get a correction
// timestamp when none is given.
func (s *Store) UpsertGrade(g model.Grade) (*model.Grade, error) {
	now := time.Now()
	if g.Status == "" {
		g.Status = model.GradeGraded
	}
	if g.Status == model.GradeGraded && g.CorrectedAt == nil {
		g.CorrectedAt = &now
	}
	var answers any
	if len(g.AnswersData) > 0 {
		answers = string(g.AnswersData)
	}
	_, err := s.db.Exec(
		`INSERT INTO grades (id, exam_id, student_id, score, grade, status, answers_url, answers_data, feedback,
			corrected_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exam_id, student_id) DO UPDATE SET
			score = excluded.score, grade = excluded.grade, status = excluded.status,
			answers_url = excluded.answers_url, answers_data = excluded.answers_data,
			feedback = excluded.feedback, corrected_at = excluded.corrected_at,
			updated_at = excluded.updated_at`,
		newID(), g.ExamID, g.StudentID, g.Score, g.Grade, g.Status, g.AnswersURL, answers, g.Feedback,
		g.CorrectedAt, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetGrade(g.ExamID, g.StudentID)
}

const gradeColumns = `g.id, g.exam_id, g.student_id, g.score, g.grade, g.status, g.answers_url, g.answers_data,
	g.feedback, g.corrected_at, g.created_at, g.updated_at`

func scanGrade(row interface{ Scan(...any) error }, extra ...any) (model.Grade, error) {
	var g model.Grade
	var answers sql.NullString
	dest := []any{&g.ID, &g.ExamID, &g.StudentID, &g.Score, &g.Grade, &g.Status, &g.AnswersURL, &answers,
		&g.Feedback, &g.CorrectedAt, &g.CreatedAt, &g.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return g, err
	}
	if answers.Valid && answers.String != "" {
		g.AnswersData = json.RawMessage(answers.String)
	}
	return g, nil
}

// GetGrade returns the grade of a student on an exam, or nil.
func (s *Store) GetGrade(examID, studentID string) (*model.Grade, error) {
	g, err := scanGrade(s.db.QueryRow(
		`SELECT `+gradeColumns+` FROM grades g WHERE g.exam_id = ? AND g.student_id = ?`, examID, studentID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) listGradeViews(where string, args ...any) ([]model.GradeView, error) {
	rows, err := s.db.Query(
		`SELECT `+gradeColumns+`, st.name, e.title, e.date
		 FROM grades g
		 JOIN students st ON st.id = g.student_id
		 JOIN exams e ON e.id = g.exam_id
		 WHERE `+where, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var views []model.GradeView
	for rows.Next() {
		var v model.GradeView
		g, err := scanGrade(rows, &v.StudentName, &v.ExamTitle, &v.ExamDate)
		if err != nil {
			return nil, err
		}
		v.Grade = g
		views = append(views, v)
	}
	return views, rows.Err()
}

// ListGradesByExam returns the grades of active students on an exam,
// ordered by student name.
func (s *Store) ListGradesByExam(examID string) ([]model.GradeView, error) {
	return s.listGradeViews(`g.exam_id = ? AND st.active = 1 ORDER BY st.name`, examID)
}

// ListGradesByCourse returns every grade of a course, latest exam first.
func (s *Store) ListGradesByCourse(courseID string) ([]model.GradeView, error) {
	return s.listGradeViews(`e.course_id = ? ORDER BY e.date DESC, e.created_at DESC, st.name`, courseID)
}

// DeleteGrade removes the grade of a student on an exam.
func (s *Store) DeleteGrade(examID, studentID string) error {
	_, err := s.db.Exec(`DELETE FROM grades WHERE exam_id = ? AND student_id = ?`, examID, studentID)
	return err
}
