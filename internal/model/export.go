package model

import "time"

// ExamExport is the top-level JSON structure for an exam's grade export.
type ExamExport struct {
	ExamID     string          `json:"exam_id"`
	Title      string          `json:"title"`
	Course     string          `json:"course"`
	Date       *time.Time      `json:"date,omitempty"`
	HasRubric  bool            `json:"has_rubric"`
	NumGraded  int             `json:"num_graded"`
	Average    *float64        `json:"average,omitempty"`
	Results    []StudentResult `json:"results"`
	ExportedAt time.Time       `json:"exported_at"`
}

// StudentResult holds one student's grade record for export.
type StudentResult struct {
	StudentID   string         `json:"student_id"`
	Name        string         `json:"name"`
	StudentCode string         `json:"student_code,omitempty"`
	Status      GradeStatus    `json:"status"`
	Score       float64        `json:"score"`
	Grade       *float64       `json:"grade,omitempty"`
	AnswersURL  string         `json:"answers_url,omitempty"`
	Answers     map[string]any `json:"answers,omitempty"`
	CorrectedAt *time.Time     `json:"corrected_at,omitempty"`
}
