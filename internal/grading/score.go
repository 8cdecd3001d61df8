package grading

import "math"

// ScoreAnswers matches answers against the rubric. Only rubric keys count:
// extra answers are ignored and missing or nil answers never match.
// Option letters are compared exactly, so "a" does not match "A".
func ScoreAnswers(answers Answers, rubric map[string]string, points map[string]int) (Score, error) {
	var total, max int
	for q, correct := range rubric {
		w := weight(points, q)
		max += w
		if got, ok := answers.Get(q); ok && got == correct {
			total += w
		}
	}
	if max == 0 {
		return Score{}, ErrEmptyRubric
	}

	return Score{
		TotalScore: total,
		MaxScore:   max,
		Grade:      roundGrade(float64(total) / float64(max) * GradeScale),
	}, nil
}

func weight(points map[string]int, q string) int {
	if w, ok := points[q]; ok {
		return w
	}
	return 1
}

func roundGrade(g float64) float64 {
	return math.Round(g*10) / 10
}
