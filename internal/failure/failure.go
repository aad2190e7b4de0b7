// Package failure classifies workflow errors so the invocation boundary can
// decide between redelivery and acknowledgement.
package failure

import (
	"errors"
	"fmt"
)

// Kind says what the message delivery layer should do with a failed event.
type Kind int

const (
	// Retryable errors are signalled back to the delivery layer so the event
	// is redelivered. Handlers must tolerate re-execution.
	Retryable Kind = iota
	// Fatal errors are acknowledged. The ticket has already been closed or
	// the event can never succeed.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error carries the kind plus enough context to diagnose a failure from
// logs alone.
type Error struct {
	Kind     Kind
	Stage    string
	TicketID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure at %s for ticket %s: %v", e.Kind, e.Stage, e.TicketID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewRetryable wraps err as a Retryable failure.
func NewRetryable(stage, ticketID string, err error) error {
	return &Error{Kind: Retryable, Stage: stage, TicketID: ticketID, Err: err}
}

// NewFatal wraps err as a Fatal failure.
func NewFatal(stage, ticketID string, err error) error {
	return &Error{Kind: Fatal, Stage: stage, TicketID: ticketID, Err: err}
}

// KindOf returns the kind of err. Errors that were never classified are
// treated as Retryable so nothing is silently acknowledged.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Retryable
}

// IsRetryable reports whether err should trigger redelivery.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == Retryable
}
