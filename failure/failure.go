// Package failure classifies everything that can go wrong between building a
// contract call and observing its final ledger outcome.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups failures by how a caller should react to them.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindValidation          Kind = "validation"
	KindExtension           Kind = "extension"
	KindNetworkMismatch     Kind = "network_mismatch"
	KindSimulation          Kind = "simulation"
	KindSigning             Kind = "signing"
	KindSubmission          Kind = "submission"
	KindRejected            Kind = "rejected"
	KindConfirmationTimeout Kind = "confirmation_timeout"
	KindContract            Kind = "contract"
	KindAbandoned           Kind = "abandoned"
)

// Recoverable reports whether nothing reached the ledger, so the caller may
// correct the input and try again.
func (k Kind) Recoverable() bool {
	switch k {
	case KindValidation, KindExtension, KindNetworkMismatch, KindSimulation, KindSigning, KindRejected:
		return true
	}
	return false
}

// OutcomeUnknown reports whether the transaction may or may not have been
// applied. Callers must query status out-of-band instead of resubmitting.
func (k Kind) OutcomeUnknown() bool {
	switch k {
	case KindSubmission, KindConfirmationTimeout, KindAbandoned:
		return true
	}
	return false
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an Error whose reason is formatted from args.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost failure.Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
