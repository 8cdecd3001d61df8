package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/docnt/docnt/internal/model"
)

// ExportExam builds the export of an exam: one result per active student,
// pending when no grade was recorded. Returns nil if the exam does not exist.
func (s *Store) ExportExam(examID string) (*model.ExamExport, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, nil
	}
	course, err := s.GetCourse(exam.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	rubric, err := s.GetRubric(examID)
	if err != nil {
		return nil, fmt.Errorf("get rubric: %w", err)
	}
	students, err := s.ListStudents(exam.CourseID, true)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	out := &model.ExamExport{
		ExamID:     exam.ID,
		Title:      exam.Title,
		Date:       exam.Date,
		HasRubric:  rubric != nil,
		Results:    []model.StudentResult{},
		ExportedAt: time.Now(),
	}
	if course != nil {
		out.Course = course.Name
	}

	var sum float64
	for _, st := range students {
		g, err := s.GetGrade(examID, st.ID)
		if err != nil {
			return nil, fmt.Errorf("get grade for %s: %w", st.ID, err)
		}

		res := model.StudentResult{
			StudentID:   st.ID,
			Name:        st.Name,
			StudentCode: st.StudentCode,
			Status:      model.GradePending,
		}
		if g != nil {
			res.Status = g.Status
			res.Score = g.Score
			res.Grade = g.Grade
			res.AnswersURL = g.AnswersURL
			res.CorrectedAt = g.CorrectedAt
			if len(g.AnswersData) > 0 {
				if err := json.Unmarshal(g.AnswersData, &res.Answers); err != nil {
					return nil, fmt.Errorf("decode answers for %s: %w", st.ID, err)
				}
			}
			if g.Status == model.GradeGraded && g.Grade != nil {
				out.NumGraded++
				sum += *g.Grade
			}
		}
		out.Results = append(out.Results, res)
	}

	if out.NumGraded > 0 {
		avg := math.Round(sum/float64(out.NumGraded)*10) / 10
		out.Average = &avg
	}
	return out, nil
}
