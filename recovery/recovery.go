// Package recovery defines how parsing components react to malformed
// constructs: fail fast, skip the construct, patch it up, or record a
// warning and continue.
package recovery

import (
	"fmt"

	"pdfops/observability"
)

// Location pins an error to a place in the document.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum != 0 {
		return fmt.Sprintf("%s: object %d %d at offset %d", l.Component, l.ObjectNum, l.ObjectGen, l.ByteOffset)
	}
	return fmt.Sprintf("%s: offset %d", l.Component, l.ByteOffset)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

// Strategy decides the disposition of each recoverable error.
type Strategy interface {
	OnError(err error, loc Location) Action
}

// Strict fails on the first malformed construct.
type Strict struct{}

func (Strict) OnError(err error, loc Location) Action { return ActionFail }

// Lenient records every error and keeps going, which is what the structural
// repair path wants.
type Lenient struct {
	Log    observability.Logger
	Errors []error
}

func NewLenient(log observability.Logger) *Lenient {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Lenient{Log: log}
}

func (l *Lenient) OnError(err error, loc Location) Action {
	l.Errors = append(l.Errors, fmt.Errorf("%s: %w", loc, err))
	l.Log.Warn("recovered from malformed construct",
		observability.String("location", loc.String()),
		observability.Error("err", err))
	return ActionSkip
}
