package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// objectPattern matches from the first '{' to the last '}' in the text.
var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

var errNotObject = errors.New("response is not a JSON object")

// ParseAnswers extracts the question→option mapping from free-form model text.
// The whole text is tried first, then the widest brace-delimited substring.
func ParseAnswers(raw string) (Answers, error) {
	answers, err := decodeAnswers(strings.TrimSpace(raw))
	if err == nil {
		return answers, nil
	}

	match := objectPattern.FindString(raw)
	if match == "" {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	answers, err = decodeAnswers(match)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return answers, nil
}

func decodeAnswers(text string) (Answers, error) {
	if !strings.HasPrefix(text, "{") {
		return nil, errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNotObject
	}

	answers := make(Answers, len(fields))
	for q, v := range fields {
		answers[q] = decodeOption(v)
	}
	return answers, nil
}

// decodeOption keeps strings as-is, maps null to nil and keeps any other JSON
// value as its literal text so it can never match a rubric letter by accident.
func decodeOption(v json.RawMessage) *string {
	v = bytes.TrimSpace(v)
	if bytes.Equal(v, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return &s
	}
	lit := string(v)
	return &lit
}
