package worker

import (
	"errors"
	"fmt"

	"github.com/sprite-ai/revpad/internal/analysis"
)

var (
	ErrBusy   = errors.New("analysis already running")
	ErrClosed = errors.New("session closed")
)

// Kind classifies a failed analysis.
type Kind string

const (
	KindUnsupportedLanguage Kind = "unsupported_language"
	KindTimeout             Kind = "analysis_timeout"
	KindInternalFault       Kind = "internal_fault"
)

// Error is the failure delivered for a Failed transition.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a boundary error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// classify maps an analyzer error onto the boundary taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var ule *analysis.UnsupportedLanguageError
	if errors.As(err, &ule) {
		return &Error{Kind: KindUnsupportedLanguage, Detail: ule.Error(), Err: err}
	}
	return &Error{Kind: KindInternalFault, Detail: err.Error(), Err: err}
}
