package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/docnt/docnt/internal/model"
)

// UpcomingWindow is how far ahead UpcomingEvents looks.
const UpcomingWindow = 7 * 24 * time.Hour

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// utcPtr normalizes stored instants so range queries compare like with like.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// CreateEvent stores an event with its tags and returns its ID.
func (s *Store) CreateEvent(e model.Event, tagIDs []string) (string, error) {
	if e.Status == "" {
		e.Status = model.EventScheduled
	}
	id := newID()
	now := time.Now()
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO events (id, user_id, course_id, section_id, title, description, type, start_date, end_date,
			all_day, location, notes, observations, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.UserID, nullString(e.CourseID), nullString(e.SectionID), e.Title, e.Description, e.Type,
		e.StartDate.UTC(), utcPtr(e.EndDate), e.AllDay, e.Location, e.Notes, e.Observations, e.Status, now, now,
	)
	if err != nil {
		return "", err
	}
	if err := setEventTags(tx, id, tagIDs); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func setEventTags(tx *sql.Tx, eventID string, tagIDs []string) error {
	if _, err := tx.Exec(`DELETE FROM event_tags WHERE event_id = ?`, eventID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		_, err := tx.Exec(
			`INSERT INTO event_tags (event_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, eventID, tagID,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

const eventColumns = `ev.id, ev.user_id, ev.course_id, ev.section_id, ev.title, ev.description, ev.type,
	ev.start_date, ev.end_date, ev.all_day, ev.location, ev.notes, ev.observations, ev.status,
	ev.created_at, ev.updated_at, c.name, c.color, sc.name
	FROM events ev
	LEFT JOIN courses c ON c.id = ev.course_id
	LEFT JOIN sections sc ON sc.id = ev.section_id`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var e model.Event
	var courseID, sectionID, courseName, courseColor, sectionName sql.NullString
	err := row.Scan(&e.ID, &e.UserID, &courseID, &sectionID, &e.Title, &e.Description, &e.Type,
		&e.StartDate, &e.EndDate, &e.AllDay, &e.Location, &e.Notes, &e.Observations, &e.Status,
		&e.CreatedAt, &e.UpdatedAt, &courseName, &courseColor, &sectionName)
	if err != nil {
		return e, err
	}
	if courseID.Valid {
		e.CourseID = courseID.String
		e.Course = &model.EventCourse{ID: courseID.String, Name: courseName.String, Color: courseColor.String}
	}
	if sectionID.Valid {
		e.SectionID = sectionID.String
		e.Section = &model.EventSection{ID: sectionID.String, Name: sectionName.String}
	}
	e.Tags = []model.Tag{}
	return e, nil
}

// GetEvent returns an event with its tags, or nil if it does not exist.
func (s *Store) GetEvent(id string) (*model.Event, error) {
	e, err := scanEvent(s.db.QueryRow(`SELECT `+eventColumns+` WHERE ev.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	events := []model.Event{e}
	if err := s.loadEventTags(events); err != nil {
		return nil, err
	}
	return &events[0], nil
}

// ListEvents returns the events of a user in start order. A date range
// keeps events that overlap it; events without an end count as instants.
func (s *Store) ListEvents(userID string, f model.EventFilter) ([]model.Event, error) {
	where := []string{"ev.user_id = ?"}
	args := []any{userID}
	if f.CourseID != "" {
		where = append(where, "ev.course_id = ?")
		args = append(args, f.CourseID)
	}
	if f.SectionID != "" {
		where = append(where, "ev.section_id = ?")
		args = append(args, f.SectionID)
	}
	if f.From != nil {
		where = append(where, "COALESCE(ev.end_date, ev.start_date) >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, "ev.start_date <= ?")
		args = append(args, f.To.UTC())
	}
	return s.queryEvents(`WHERE `+strings.Join(where, " AND ")+` ORDER BY ev.start_date`, args...)
}

// UpcomingEvents returns up to limit events of a user starting within
// UpcomingWindow of now.
func (s *Store) UpcomingEvents(userID string, now time.Time, limit int) ([]model.Event, error) {
	return s.queryEvents(
		`WHERE ev.user_id = ? AND ev.start_date >= ? AND ev.start_date <= ? ORDER BY ev.start_date LIMIT ?`,
		userID, now.UTC(), now.Add(UpcomingWindow).UTC(), limit,
	)
}

func (s *Store) queryEvents(where string, args ...any) ([]model.Event, error) {
	rows, err := s.db.Query(`SELECT `+eventColumns+` `+where, args...)
	if err != nil {
		return nil, err
	}
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if err := s.loadEventTags(events); err != nil {
		return nil, err
	}
	return events, nil
}

// loadEventTags fills the Tags of each event in one query.
func (s *Store) loadEventTags(events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	index := make(map[string]int, len(events))
	args := make([]any, len(events))
	for i, e := range events {
		index[e.ID] = i
		args[i] = e.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(events)), ",")
	rows, err := s.db.Query(
		`SELECT et.event_id, t.id, t.user_id, t.name, t.color, t.created_at
		 FROM event_tags et JOIN tags t ON t.id = et.tag_id
		 WHERE et.event_id IN (`+placeholders+`) ORDER BY t.name`, args...,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var eventID string
		var t model.Tag
		if err := rows.Scan(&eventID, &t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return err
		}
		i := index[eventID]
		events[i].Tags = append(events[i].Tags, t)
	}
	return rows.Err()
}

// UpdateEvent overwrites the editable fields of an event. A nil tagIDs
// leaves the tags as they are; any other value replaces them.
func (s *Store) UpdateEvent(e model.Event, tagIDs []string) error {
	if e.Status == "" {
		e.Status = model.EventScheduled
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE events SET course_id = ?, section_id = ?, title = ?, description = ?, type = ?, start_date = ?,
			end_date = ?, all_day = ?, location = ?, notes = ?, observations = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(e.CourseID), nullString(e.SectionID), e.Title, e.Description, e.Type, e.StartDate.UTC(),
		utcPtr(e.EndDate), e.AllDay, e.Location, e.Notes, e.Observations, e.Status, time.Now(), e.ID,
	)
	if err != nil {
		return err
	}
	if tagIDs != nil {
		if err := setEventTags(tx, e.ID, tagIDs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteEvent removes an event and its tag links.
func (s *Store) DeleteEvent(id string) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	return err
}

// AddEventTag links a tag to an event. Linking twice is a no-op.
func (s *Store) AddEventTag(eventID, tagID string) error {
	_, err := s.db.Exec(
		`INSERT INTO event_tags (event_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, eventID, tagID,
	)
	return err
}

// RemoveEventTag unlinks a tag from an event.
func (s *Store) RemoveEventTag(eventID, tagID string) error {
	_, err := s.db.Exec(`DELETE FROM event_tags WHERE event_id = ? AND tag_id = ?`, eventID, tagID)
	return err
}

// CreateTag stores a tag and returns its ID. Names are unique per user.
func (s *Store) CreateTag(t model.Tag) (string, error) {
	id := newID()
	_, err := s.db.Exec(
		`INSERT INTO tags (id, user_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, t.UserID, t.Name, t.Color, time.Now(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetTag returns a tag by ID, or nil if it does not exist.
func (s *Store) GetTag(id string) (*model.Tag, error) {
	var t model.Tag
	err := s.db.QueryRow(
		`SELECT id, user_id, name, color, created_at FROM tags WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTags returns the tags of a user ordered by name.
func (s *Store) ListTags(userID string) ([]model.Tag, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, name, color, created_at FROM tags WHERE user_id = ? ORDER BY name`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
