package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

// QueryStateChangeDetailType is the EventBridge detail type of Athena query
// state changes.
const QueryStateChangeDetailType = "Athena Query State Change"

// QueryCompleted handles Athena query state change events.
type QueryCompleted struct {
	completions Completions
}

// NewQueryCompleted returns a handler dispatching to completions.
func NewQueryCompleted(completions Completions) *QueryCompleted {
	return &QueryCompleted{completions: completions}
}

// Handle returns an error only when the event should be retried.
func (h *QueryCompleted) Handle(ctx context.Context, ev events.CloudWatchEvent) error {
	log := logger(ctx, "query_completed_handler")
	if ev.DetailType != QueryStateChangeDetailType {
		log.InfoContext(ctx, "ignoring event", "detail_type", ev.DetailType, "source", ev.Source)
		return nil
	}

	var change model.QueryStateChange
	if err := json.Unmarshal(ev.Detail, &change); err != nil {
		logFatal(ctx, log, failure.NewFatal("completion", "", fmt.Errorf("decode event detail: %w", err)))
		return nil
	}
	log.InfoContext(ctx, "query state change",
		"query_id", change.QueryExecutionID, "current_state", change.CurrentState, "previous_state", change.PreviousState)

	err := h.completions.Handle(ctx, change)
	switch {
	case err == nil:
		return nil
	case failure.IsRetryable(err):
		return err
	}
	logFatal(ctx, log, err)
	return nil
}
