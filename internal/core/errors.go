package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the synthesis pipeline.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindValidation
	KindNotFound
	KindSynthesisEngine
	KindResourceUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindSynthesisEngine:
		return "synthesis_engine"
	case KindResourceUnavailable:
		return "resource_unavailable"
	}
	return "unknown"
}

// Constraint names the rule a validation failure violated.
type Constraint string

const (
	ConstraintEmotionVectorOverflow Constraint = "emotion_vector_overflow"
	ConstraintBadParameter          Constraint = "bad_parameter"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrSynthesisEngine     = &Error{Kind: KindSynthesisEngine}
	ErrResourceUnavailable = &Error{Kind: KindResourceUnavailable}
)

// Error is the single error type produced by the pipeline.
type Error struct {
	Kind       Kind
	Constraint Constraint // Validation only
	Field      string     // offending input field, when known
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the package sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// InvalidInput reports a missing or empty required field.
func InvalidInput(field, message string) error {
	return &Error{Kind: KindInvalidInput, Field: field, Message: message}
}

// BadParameter reports a malformed or out-of-domain parameter.
func BadParameter(field, message string) error {
	return &Error{Kind: KindValidation, Constraint: ConstraintBadParameter, Field: field, Message: message}
}

// EmotionVectorOverflow reports an emotion vector whose sum exceeds the limit.
func EmotionVectorOverflow(sum float64) error {
	return &Error{
		Kind:       KindValidation,
		Constraint: ConstraintEmotionVectorOverflow,
		Field:      "emo_vec",
		Message:    fmt.Sprintf("emotion vector sum %.3f exceeds %.1f", sum, MaxEmotionVectorSum),
	}
}

// NotFound reports an unknown speaker or emotion name.
func NotFound(field, name string) error {
	return &Error{Kind: KindNotFound, Field: field, Message: fmt.Sprintf("%q not found", name)}
}

// SynthesisEngineError wraps a failure of the engine itself.
func SynthesisEngineError(cause error) error {
	return &Error{Kind: KindSynthesisEngine, Message: "synthesis failed", Err: cause}
}

// ResourceUnavailable reports that the engine queue is full.
func ResourceUnavailable(message string) error {
	return &Error{Kind: KindResourceUnavailable, Message: message}
}

// KindOf returns the Kind of err, or 0 when err is not a pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
