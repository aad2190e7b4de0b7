package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
	"github.com/sh3r4rd/audit_data_requests/internal/store"
)

// Completion reacts to query state changes from the query engine.
type Completion struct {
	deps Deps
}

// NewCompletion returns a Completion using d.
func NewCompletion(d Deps) *Completion {
	return &Completion{deps: d}
}

// Handle processes one state change. Non-terminal states and changes for
// records that have already been finished are ignored.
func (c *Completion) Handle(ctx context.Context, change model.QueryStateChange) error {
	switch change.CurrentState {
	case model.QueryStateSucceeded, model.QueryStateFailed, model.QueryStateCancelled:
	default:
		return nil
	}

	rec, err := c.deps.Store.FindByQueryID(ctx, change.QueryExecutionID)
	if errors.Is(err, store.ErrNotFound) {
		return failure.NewFatal(stageCompletion, "", fmt.Errorf("no request record for query %s", change.QueryExecutionID))
	}
	if err != nil {
		return failure.NewRetryable(stageCompletion, "", fmt.Errorf("find record for query %s: %w", change.QueryExecutionID, err))
	}
	log := logger("completion", rec.TicketID).With("query_id", change.QueryExecutionID)

	if change.CurrentState != model.QueryStateSucceeded {
		return c.failed(ctx, rec, change)
	}

	switch rec.State {
	case model.StateQueryRunning:
		updated, err := c.deps.Store.Update(ctx, rec.TicketID, func(r *model.RequestRecord) error {
			if r.State != model.StateQueryRunning {
				return errStale
			}
			r.Transition(model.StateQuerySucceeded, c.deps.now())
			return nil
		})
		if errors.Is(err, errStale) {
			return nil
		}
		if err != nil {
			return failure.NewRetryable(stageCompletion, rec.TicketID, err)
		}
		rec = updated
	case model.StateQuerySucceeded:
		// a previous delivery stopped before the notification was queued
	default:
		log.InfoContext(ctx, "query completion already handled, skipping", "state", rec.State)
		return nil
	}
	return c.notify(ctx, rec)
}

func (c *Completion) notify(ctx context.Context, rec model.RequestRecord) error {
	id := rec.TicketID
	log := logger("completion", id).With("query_id", rec.QueryID)

	hash, err := c.deps.token()
	if err != nil {
		return failure.NewRetryable(stageCompletion, id, err)
	}
	now := c.deps.now()
	err = c.deps.Store.PutDownload(ctx, model.SecureDownloadRecord{
		DownloadHash: hash,
		QueryID:      rec.QueryID,
		TicketID:     id,
		CreatedAt:    now.Format(time.RFC3339),
		TTL:          now.Add(c.deps.Config.DownloadRecordTTL).Unix(),
	})
	if err != nil {
		return failure.NewRetryable(stageCompletion, id, fmt.Errorf("write secure download record: %w", err))
	}

	err = c.deps.Notifier.NotifyResultsReady(ctx, model.ResultsReadyMessage{
		TicketID:       id,
		RecipientEmail: rec.RequestInfo.RecipientEmail,
		RecipientName:  rec.RequestInfo.RecipientName,
		DownloadHash:   hash,
	})
	if err != nil {
		return failure.NewRetryable(stageCompletion, id, fmt.Errorf("queue results ready email: %w", err))
	}

	_, err = c.deps.Store.Update(ctx, id, func(r *model.RequestRecord) error {
		if r.State != model.StateQuerySucceeded {
			return errStale
		}
		r.Transition(model.StateNotified, c.deps.now())
		return nil
	})
	if err := storeErr(stageCompletion, id, err); err != nil {
		return err
	}
	log.InfoContext(ctx, "results ready notification queued")
	return nil
}

func (c *Completion) failed(ctx context.Context, rec model.RequestRecord, change model.QueryStateChange) error {
	id := rec.TicketID
	if rec.State != model.StateQueryRunning && rec.State != model.StateQueryFailed {
		logger("completion", id).InfoContext(ctx, "query completion already handled, skipping", "state", rec.State)
		return nil
	}
	msg := fmt.Sprintf("Athena Query %s did not complete with status: %s", change.QueryExecutionID, change.CurrentState)
	logger("completion", id).ErrorContext(ctx, "query did not succeed", "query_id", change.QueryExecutionID, "query_state", change.CurrentState)

	if rec.State == model.StateQueryRunning {
		_, err := c.deps.Store.Update(ctx, id, func(r *model.RequestRecord) error {
			if r.State != model.StateQueryRunning {
				return errStale
			}
			r.Transition(model.StateQueryFailed, c.deps.now())
			return nil
		})
		if err := storeErr(stageCompletion, id, err); err != nil {
			return err
		}
	}
	if err := c.deps.closeTicket(ctx, id, stageCompletion, "query_"+string(change.CurrentState), msg); err != nil {
		return err
	}
	if err := c.deps.closeRecord(ctx, id, stageCompletion, model.StateClosedError, msg, model.StateQueryFailed); err != nil {
		return err
	}
	return failure.NewFatal(stageCompletion, id, errors.New(msg))
}
