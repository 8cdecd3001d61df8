package grading

import (
	"errors"
	"fmt"
)

// Stage sentinels. Every error returned by the pipeline matches exactly one of
// these with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid grading request")
	ErrImageRead      = errors.New("could not read exam image")
	ErrUpstream       = errors.New("vision model request failed")
	ErrResponseParse  = errors.New("could not parse model response")
	ErrEmptyRubric    = errors.New("rubric has no gradable questions")
	ErrTimeout        = errors.New("vision model request timed out")
)

// Kind identifies the pipeline stage a failure originated in.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindImageRead      Kind = "image_read"
	KindUpstream       Kind = "upstream"
	KindResponseParse  Kind = "response_parse"
	KindEmptyRubric    Kind = "empty_rubric"
	KindTimeout        Kind = "timeout"
	KindUnknown        Kind = "unknown"
)

var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrImageRead, KindImageRead},
	{ErrTimeout, KindTimeout},
	{ErrUpstream, KindUpstream},
	{ErrResponseParse, KindResponseParse},
	{ErrEmptyRubric, KindEmptyRubric},
}

// KindOf classifies err. Errors that did not come out of the pipeline are
// KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindUnknown
}

// UpstreamError carries the provider's status and body for diagnostics.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", ErrUpstream, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrUpstream, e.Err)
	}
	return ErrUpstream.Error()
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstream}
	}
	return []error{ErrUpstream, e.Err}
}

// ParseError keeps the unparsed model text so an operator can grade by hand.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrResponseParse, e.Err)
	}
	return ErrResponseParse.Error()
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResponseParse}
	}
	return []error{ErrResponseParse, e.Err}
}

// RawResponse returns the model text attached to err, if any.
func RawResponse(err error) (string, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Raw, true
	}
	return "", false
}
