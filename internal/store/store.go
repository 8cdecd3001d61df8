package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docnt/docnt/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		id TEXT PRIMARY KEY,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		period TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		student_code TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date DATETIME,
		duration INTEGER NOT NULL DEFAULT 0,
		file_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS grading_rubrics (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rubric TEXT NOT NULL,
		points TEXT NOT NULL DEFAULT '{}',
		image_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS grades (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		grade REAL,
		status TEXT NOT NULL DEFAULT 'graded',
		answers_url TEXT NOT NULL DEFAULT '',
		answers_data TEXT,
		feedback TEXT NOT NULL DEFAULT '',
		corrected_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (exam_id, student_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE,
		FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sections (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		name TEXT NOT NULL,
		room TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		UNIQUE (user_id, name),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id TEXT,
		section_id TEXT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME,
		all_day INTEGER NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		observations TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'scheduled',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE SET NULL,
		FOREIGN KEY (section_id) REFERENCES sections(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_user_start ON events(user_id, start_date);

	CREATE TABLE IF NOT EXISTS event_tags (
		event_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		PRIMARY KEY (event_id, tag_id),
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 1,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS exam_questions (
		exam_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		points INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (exam_id, question_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() string {
	return uuid.NewString()
}

// CreateCourse stores a course and returns its ID.
func (s *Store) CreateCourse(c model.Course) (string, error) {
	id := newID()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO courses (id, user_id, name, code, period, color, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.UserID, c.Name, c.Code, c.Period, c.Color, c.Description, now, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

const courseColumns = `c.id, c.user_id, c.name, c.code, c.period, c.color, c.description, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM students st WHERE st.course_id = c.id AND st.active = 1),
	(SELECT COUNT(*) FROM exams e WHERE e.course_id = c.id)`

func scanCourse(row interface{ Scan(...any) error }) (model.Course, error) {
	var c model.Course
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Code, &c.Period, &c.Color, &c.Description,
		&c.CreatedAt, &c.UpdatedAt, &c.StudentCount, &c.ExamCount)
	return c, err
}

// GetCourse returns a course by ID, or nil if it does not exist.
func (s *Store) GetCourse(id string) (*model.Course, error) {
	c, err := scanCourse(s.db.QueryRow(`SELECT `+courseColumns+` FROM courses c WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCourses returns the courses owned by a user, newest first.
func (s *Store) ListCourses(userID string) ([]model.Course, error) {
	rows, err := s.db.Query(
		`SELECT `+courseColumns+` FROM courses c WHERE c.user_id = ? ORDER BY c.created_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var courses []model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// UpdateCourse overwrites the editable fields of a course.
func (s *Store) UpdateCourse(c model.Course) error {
	_, err := s.db.Exec(
		`UPDATE courses SET name = ?, code = ?, period = ?, color = ?, description = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Code, c.Period, c.Color, c.Description, time.Now(), c.ID,
	)
	return err
}

// DeleteCourse removes a course with its sections, students, exams and
// grades. Events tied to the course are kept and lose the link.
func (s *Store) DeleteCourse(id string) error {
	_, err := s.db.Exec(`DELETE FROM courses WHERE id = ?`, id)
	return err
}

// CreateStudent stores a student and returns its ID.
func (s *Store) CreateStudent(st model.Student) (string, error) {
	id := newID()
	_, err := s.db.Exec(
		`INSERT INTO students (id, course_id, name, email, student_code, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, st.CourseID, st.Name, st.Email, st.StudentCode, st.Active, time.Now(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetStudent returns a student by ID, or nil if it does not exist.
func (s *Store) GetStudent(id string) (*model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, course_id, name, email, student_code, active, created_at FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.CourseID, &st.Name, &st.Email, &st.StudentCode, &st.Active, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStudents returns the students of a course ordered by name.
func (s *Store) ListStudents(courseID string, activeOnly bool) ([]model.Student, error) {
	query := `SELECT id, course_id, name, email, student_code, active, created_at FROM students WHERE course_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY name`
	rows, err := s.db.Query(query, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.CourseID, &st.Name, &st.Email, &st.StudentCode, &st.Active, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// UpdateStudent overwrites the editable fields of a student.
func (s *Store) UpdateStudent(st model.Student) error {
	_, err := s.db.Exec(
		`UPDATE students SET name = ?, email = ?, student_code = ? WHERE id = ?`,
		st.Name, st.Email, st.StudentCode, st.ID,
	)
	return err
}

// ToggleStudentActive flips the active flag on a student.
func (s *Store) ToggleStudentActive(id string) error {
	_, err := s.db.Exec(`UPDATE students SET active = NOT active WHERE id = ?`, id)
	return err
}

// CreateExam stores an exam and returns its ID.
func (s *Store) CreateExam(e model.Exam) (string, error) {
	id := newID()
	now := time.Now()
	if e.Status == "" {
		e.Status = model.ExamDraft
	}
	_, err := s.db.Exec(
		`INSERT INTO exams (id, course_id, user_id, title, description, date, duration, file_url, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.CourseID, e.UserID, e.Title, e.Description, e.Date, e.Duration, e.FileURL, e.Status, now, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

const examColumns = `e.id, e.course_id, e.user_id, e.title, e.description, e.date, e.duration, e.file_url, e.status,
	(SELECT COALESCE(SUM(eq.points), 0) FROM exam_questions eq WHERE eq.exam_id = e.id),
	(SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id),
	e.created_at, e.updated_at`

func scanExam(row interface{ Scan(...any) error }) (model.Exam, error) {
	var e model.Exam
	err := row.Scan(&e.ID, &e.CourseID, &e.UserID, &e.Title, &e.Description, &e.Date, &e.Duration,
		&e.FileURL, &e.Status, &e.TotalPoints, &e.QuestionCount, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// GetExam returns an exam by ID, or nil if it does not exist.
func (s *Store) GetExam(id string) (*model.Exam, error) {
	e, err := scanExam(s.db.QueryRow(`SELECT `+examColumns+` FROM exams e WHERE e.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExams returns the exams of a course, most recent date first.
func (s *Store) ListExams(courseID string) ([]model.Exam, error) {
	rows, err := s.db.Query(
		`SELECT `+examColumns+` FROM exams e WHERE e.course_id = ? ORDER BY e.date DESC, e.created_at DESC`, courseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpdateExam overwrites the editable fields of an exam.
func (s *Store) UpdateExam(e model.Exam) error {
	_, err := s.db.Exec(
		`UPDATE exams SET title = ?, description = ?, date = ?, duration = ?, file_url = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.Description, e.Date, e.Duration, e.FileURL, e.Status, time.Now(), e.ID,
	)
	return err
}

// UpdateExamStatus sets only the status of an exam.
func (s *Store) UpdateExamStatus(id string, status model.ExamStatus) error {
	_, err := s.db.Exec(`UPDATE exams SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	return err
}

// DeleteExam removes an exam with its rubric and grades.
func (s *Store) DeleteExam(id string) error {
	_, err := s.db.Exec(`DELETE FROM exams WHERE id = ?`, id)
	return err
}

// IsUniqueViolation reports whether err comes from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
