package grading

// GradeScale is the top of the Chilean 1.0–7.0 scale.
const GradeScale = 7.0

// Request is one grading invocation.
type Request struct {
	// ImageRef is a data URI, an /uploads/ path or an external URL.
	ImageRef string `json:"imageUrl" validate:"required"`
	// Rubric maps question number to the correct option.
	Rubric map[string]string `json:"rubric" validate:"required,min=1"`
	// Points optionally weights questions; a missing entry weighs 1.
	Points map[string]int `json:"points,omitempty" validate:"omitempty,dive,gt=0"`
}

// Answers maps question number to the selected option. A nil value means the
// question was left unanswered.
type Answers map[string]*string

// Get returns the selected option for q and whether one was selected.
func (a Answers) Get(q string) (string, bool) {
	v, ok := a[q]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Score is the output of the scoring engine.
type Score struct {
	TotalScore int     `json:"totalScore"`
	MaxScore   int     `json:"maxScore"`
	Grade      float64 `json:"grade"`
}

// Result is the outcome of a successful grading run.
type Result struct {
	Answers     Answers `json:"answers"`
	TotalScore  int     `json:"totalScore"`
	MaxScore    int     `json:"maxScore"`
	Grade       float64 `json:"grade"`
	RawResponse string  `json:"rawResponse"`
}
