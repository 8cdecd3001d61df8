package model

import "time"

// QuestionType is the answer format of a bank question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionEssay          QuestionType = "essay"
)

// Difficulty grades how hard a question is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question is a reusable item of an instructor's question bank.
type Question struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	Content       string       `json:"content"`
	Type          QuestionType `json:"type"`
	Difficulty    Difficulty   `json:"difficulty"`
	Unit          string       `json:"unit,omitempty"`
	Points        int          `json:"points"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty"`
	Tags          []string     `json:"tags"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// ExamQuestion places a bank question on an exam with its own weight.
type ExamQuestion struct {
	ExamID   string   `json:"examId"`
	Order    int      `json:"order"`
	Points   int      `json:"points"`
	Question Question `json:"question"`
}
