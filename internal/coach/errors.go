package coach

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTranscript is returned when the transcript is blank.
	ErrEmptyTranscript = errors.New("coach: transcript is empty")

	// ErrMissingInput is returned by VoiceCharacteristics when metrics or
	// transcript are absent.
	ErrMissingInput = errors.New("coach: metrics and transcript are required")

	// ErrInvalidPersona is returned for a persona without a name or prompt.
	ErrInvalidPersona = errors.New("coach: persona needs a name and a prompt")
)

// RequestError reports that the evaluation backend could not be reached or
// refused the request.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("coach: %s request: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ParseError reports a backend response that could not be interpreted. Raw
// holds the response text as received.
type ParseError struct {
	Op  string
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("coach: %s: parse response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
