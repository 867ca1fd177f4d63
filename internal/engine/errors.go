package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph = errors.New("invalid graph")
	ErrUnhashable   = errors.New("unhashable value")
)

// GraphError wraps deterministic graph construction failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func unhashablef(format string, args ...any) error {
	return &GraphError{Kind: ErrUnhashable, Msg: fmt.Sprintf(format, args...)}
}
