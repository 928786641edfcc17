package util

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ContextualError is an error carrying a message and log fields describing
// what was being done when Err happened. It logs as a single structured line.
type ContextualError struct {
	Err     error
	Fields  logrus.Fields
	Context string
}

func NewContextualError(msg string, fields logrus.Fields, err error) *ContextualError {
	return &ContextualError{Context: msg, Fields: fields, Err: err}
}

// ContextualizeIfNeeded wraps err in a ContextualError unless err already has
// one in its chain.
func ContextualizeIfNeeded(msg string, err error) error {
	var ce *ContextualError
	if errors.As(err, &ce) {
		return err
	}
	return NewContextualError(msg, nil, err)
}

// LogWithContextIfNeeded logs err as a ContextualError if it is one and as a
// plain error line with msg otherwise.
func LogWithContextIfNeeded(msg string, err error, l *logrus.Logger) {
	var ce *ContextualError
	if errors.As(err, &ce) {
		ce.Log(l)
		return
	}
	l.WithError(err).Error(msg)
}

func (ce *ContextualError) Error() string {
	if ce.Err == nil {
		return ce.Context
	}
	if len(ce.Fields) == 0 {
		return fmt.Sprintf("%s: %v", ce.Context, ce.Err)
	}
	return fmt.Sprintf("%s (%v): %v", ce.Context, map[string]any(ce.Fields), ce.Err)
}

func (ce *ContextualError) Unwrap() error {
	return ce.Err
}

func (ce *ContextualError) Log(l *logrus.Logger) {
	e := l.WithFields(ce.Fields)
	if ce.Err != nil {
		e = e.WithError(ce.Err)
	}
	e.Error(ce.Context)
}
