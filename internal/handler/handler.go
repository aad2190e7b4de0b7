// Package handler is the Lambda invocation boundary. It decodes events,
// dispatches them to the workflow, and turns error kinds into the
// acknowledgement the event source expects.
package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

// Requests handles validated new requests.
type Requests interface {
	Handle(ctx context.Context, params model.RequestParams) error
}

// Polls handles ContinuePolling messages.
type Polls interface {
	Handle(ctx context.Context, msg model.ContinuePolling) error
}

// Completions handles query state changes.
type Completions interface {
	Handle(ctx context.Context, change model.QueryStateChange) error
}

// Ticketing closes tickets whose requests are rejected at the boundary.
type Ticketing interface {
	UpdateTicket(ctx context.Context, ticketID, message, status string) error
}

func logger(ctx context.Context, component string) *slog.Logger {
	l := slog.Default().With("component", component)
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		l = l.With("aws_request_id", lc.AwsRequestID)
	}
	return l
}

// logFatal records an acknowledged failure.
func logFatal(ctx context.Context, log *slog.Logger, err error) {
	attrs := []any{"error", err.Error()}
	var fe *failure.Error
	if errors.As(err, &fe) {
		attrs = append(attrs, "stage", fe.Stage, "ticket_id", fe.TicketID)
	}
	log.ErrorContext(ctx, "fatal failure, message acknowledged", attrs...)
}
