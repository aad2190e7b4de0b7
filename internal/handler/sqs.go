package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

const stageValidation = "validation"

// InvalidRequestMessage prefixes the comment posted on rejected tickets.
const InvalidRequestMessage = "Your ticket has been closed because the data request was invalid"

// DataRequests handles batches from the data request queue.
type DataRequests struct {
	requests  Requests
	polls     Polls
	ticketing Ticketing
	now       func() time.Time
}

// NewDataRequests returns a batch handler validating against the wall clock.
func NewDataRequests(requests Requests, polls Polls, ticketing Ticketing) *DataRequests {
	return &DataRequests{requests: requests, polls: polls, ticketing: ticketing, now: time.Now}
}

// WithClock replaces the clock used to validate request dates.
func (h *DataRequests) WithClock(now func() time.Time) *DataRequests {
	h.now = now
	return h
}

// Handle processes every record in the batch and reports the ones that
// should be redelivered.
func (h *DataRequests) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	log := logger(ctx, "data_request_handler")
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		err := h.process(ctx, rec)
		switch {
		case err == nil:
		case failure.IsRetryable(err):
			log.WarnContext(ctx, "retryable failure, returning message to queue", "message_id", rec.MessageId, "error", err.Error())
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		default:
			logFatal(ctx, log.With("message_id", rec.MessageId), err)
		}
	}
	return resp, nil
}

func (h *DataRequests) process(ctx context.Context, msg events.SQSMessage) error {
	var env model.Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		return failure.NewFatal(stageValidation, "", fmt.Errorf("decode message: %w", err))
	}
	switch env.Type {
	case model.MessageNewRequest:
		if env.Request == nil {
			return failure.NewFatal(stageValidation, "", errors.New("NewRequest message without request"))
		}
		return h.newRequest(ctx, *env.Request)
	case model.MessageContinuePolling:
		if env.Poll == nil || env.Poll.TicketID == "" {
			return failure.NewFatal(stageValidation, "", errors.New("ContinuePolling message without ticket id"))
		}
		return h.polls.Handle(ctx, *env.Poll)
	}
	return failure.NewFatal(stageValidation, "", fmt.Errorf("unknown message type %q", env.Type))
}

// newRequest validates params before any side effect. Invalid requests
// close their ticket with the field errors.
func (h *DataRequests) newRequest(ctx context.Context, params model.RequestParams) error {
	err := params.Validate(h.now())
	if err == nil {
		return h.requests.Handle(ctx, params)
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) || params.TicketID == "" {
		return failure.NewFatal(stageValidation, params.TicketID, err)
	}

	body := fmt.Sprintf("%s:\n%s\n\nReference: ticket=%s stage=%s reason=invalid_request",
		InvalidRequestMessage, fieldList(verr), params.TicketID, stageValidation)
	if err := h.ticketing.UpdateTicket(ctx, params.TicketID, body, model.TicketStatusClosed); err != nil {
		return failure.NewRetryable(stageValidation, params.TicketID, fmt.Errorf("close ticket: %w", err))
	}
	return failure.NewFatal(stageValidation, params.TicketID, err)
}

func fieldList(verr *model.ValidationError) string {
	lines := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		lines = append(lines, "- "+f.Error())
	}
	return strings.Join(lines, "\n")
}
