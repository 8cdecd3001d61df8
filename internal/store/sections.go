package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docnt/docnt/internal/model"
)

func encodeSchedule(items []model.ScheduleItem) (string, error) {
	if items == nil {
		items = []model.ScheduleItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode schedule: %w", err)
	}
	return string(b), nil
}

// CreateSection stores a section and returns its ID.
func (s *Store) CreateSection(sec model.Section) (string, error) {
	schedule, err := encodeSchedule(sec.Schedule)
	if err != nil {
		return "", err
	}
	id := newID()
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO sections (id, course_id, name, room, schedule, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sec.CourseID, sec.Name, sec.Room, schedule, sec.Active, now, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

const sectionColumns = `sc.id, sc.course_id, sc.name, sc.room, sc.schedule, sc.active, sc.created_at, sc.updated_at,
	(SELECT COUNT(*) FROM events ev WHERE ev.section_id = sc.id)`

func scanSection(row interface{ Scan(...any) error }) (model.Section, error) {
	var sec model.Section
	var schedule string
	err := row.Scan(&sec.ID, &sec.CourseID, &sec.Name, &sec.Room, &schedule, &sec.Active,
		&sec.CreatedAt, &sec.UpdatedAt, &sec.EventCount)
	if err != nil {
		return sec, err
	}
	if err := json.Unmarshal([]byte(schedule), &sec.Schedule); err != nil {
		return sec, fmt.Errorf("decode schedule: %w", err)
	}
	return sec, nil
}

// GetSection returns a section by ID, or nil if it does not exist.
func (s *Store) GetSection(id string) (*model.Section, error) {
	sec, err := scanSection(s.db.QueryRow(`SELECT `+sectionColumns+` FROM sections sc WHERE sc.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// ListSections returns the sections of a course ordered by name.
func (s *Store) ListSections(courseID string) ([]model.Section, error) {
	rows, err := s.db.Query(
		`SELECT `+sectionColumns+` FROM sections sc WHERE sc.course_id = ? ORDER BY sc.name`, courseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []model.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// UpdateSection overwrites the editable fields of a section.
func (s *Store) UpdateSection(sec model.Section) error {
	schedule, err := encodeSchedule(sec.Schedule)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE sections SET name = ?, room = ?, schedule = ?, active = ?, updated_at = ? WHERE id = ?`,
		sec.Name, sec.Room, schedule, sec.Active, time.Now(), sec.ID,
	)
	return err
}

// DeleteSection removes a section. Its events stay on the calendar.
func (s *Store) DeleteSection(id string) error {
	_, err := s.db.Exec(`DELETE FROM sections WHERE id = ?`, id)
	return err
}
