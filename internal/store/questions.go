package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docnt/docnt/internal/model"
)

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateQuestion adds a question to its owner's bank and returns its ID.
func (s *Store) CreateQuestion(q model.Question) (string, error) {
	options, err := encodeStrings(q.Options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	tags, err := encodeStrings(q.Tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	if q.Points <= 0 {
		q.Points = 1
	}
	id := newID()
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO questions (id, user_id, content, type, difficulty, unit, points, options, correct_answer, tags,
			active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, q.UserID, q.Content, q.Type, q.Difficulty, q.Unit, q.Points, options, q.CorrectAnswer, tags,
		q.Active, now, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

const questionColumns = `q.id, q.user_id, q.content, q.type, q.difficulty, q.unit, q.points, q.options,
	q.correct_answer, q.tags, q.active, q.created_at, q.updated_at`

func scanQuestion(row interface{ Scan(...any) error }, extra ...any) (model.Question, error) {
	var q model.Question
	var options, tags string
	dest := []any{&q.ID, &q.UserID, &q.Content, &q.Type, &q.Difficulty, &q.Unit, &q.Points, &options,
		&q.CorrectAnswer, &tags, &q.Active, &q.CreatedAt, &q.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return q, fmt.Errorf("decode options: %w", err)
	}
	if len(q.Options) == 0 {
		q.Options = nil
	}
	if err := json.Unmarshal([]byte(tags), &q.Tags); err != nil {
		return q, fmt.Errorf("decode tags: %w", err)
	}
	return q, nil
}

// GetQuestion returns a question by ID, or nil if it does not exist.
func (s *Store) GetQuestion(id string) (*model.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(`SELECT `+questionColumns+` FROM questions q WHERE q.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListQuestions returns a user's bank, newest first.
func (s *Store) ListQuestions(userID string, activeOnly bool) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions q WHERE q.user_id = ?`
	if activeOnly {
		query += ` AND q.active = 1`
	}
	query += ` ORDER BY q.created_at DESC`
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AddExamQuestion places a question on an exam, or updates its order and
// points if it is already there. The exam's total follows from the sum.
func (s *Store) AddExamQuestion(examID, questionID string, order, points int) error {
	if points <= 0 {
		points = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO exam_questions (exam_id, question_id, position, points) VALUES (?, ?, ?, ?)
		 ON CONFLICT(exam_id, question_id) DO UPDATE SET position = excluded.position, points = excluded.points`,
		examID, questionID, order, points,
	)
	if err != nil {
		return err
	}
	return s.touchExam(examID)
}

// RemoveExamQuestion takes a question off an exam.
func (s *Store) RemoveExamQuestion(examID, questionID string) error {
	_, err := s.db.Exec(`DELETE FROM exam_questions WHERE exam_id = ? AND question_id = ?`, examID, questionID)
	if err != nil {
		return err
	}
	return s.touchExam(examID)
}

func (s *Store) touchExam(id string) error {
	_, err := s.db.Exec(`UPDATE exams SET updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// ListExamQuestions returns the questions of an exam in order.
func (s *Store) ListExamQuestions(examID string) ([]model.ExamQuestion, error) {
	rows, err := s.db.Query(
		`SELECT `+questionColumns+`, eq.position, eq.points
		 FROM exam_questions eq JOIN questions q ON q.id = eq.question_id
		 WHERE eq.exam_id = ? ORDER BY eq.position, q.created_at`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.ExamQuestion
	for rows.Next() {
		eq := model.ExamQuestion{ExamID: examID}
		q, err := scanQuestion(rows, &eq.Order, &eq.Points)
		if err != nil {
			return nil, err
		}
		eq.Question = q
		items = append(items, eq)
	}
	return items, rows.Err()
}
