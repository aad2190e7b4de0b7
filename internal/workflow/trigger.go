package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
	"github.com/sh3r4rd/audit_data_requests/internal/querybuilder"
	"github.com/sh3r4rd/audit_data_requests/internal/store"
)

// Trigger builds and submits the query for a ticket whose data is in the
// analysis bucket.
type Trigger struct {
	deps    Deps
	lookups querybuilder.Lookups
}

// NewTrigger returns a Trigger using d and the default lookup tables.
func NewTrigger(d Deps) *Trigger {
	return &Trigger{deps: d, lookups: querybuilder.DefaultLookups()}
}

// Run submits the query for ticketID. It does nothing unless the record is
// READY_FOR_QUERY. Build failures close the ticket and return a Fatal error.
func (t *Trigger) Run(ctx context.Context, ticketID string) error {
	log := logger("query_trigger", ticketID)

	rec, err := t.deps.Store.Get(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return failure.NewFatal(stageQueryBuild, ticketID, err)
	}
	if err != nil {
		return failure.NewRetryable(stageQueryBuild, ticketID, err)
	}
	if rec.State != model.StateReadyForQuery {
		log.InfoContext(ctx, "query already handled, skipping", "state", rec.State)
		return nil
	}

	table, err := t.deps.Engine.Table(ctx)
	if err != nil {
		return failure.NewRetryable(stageQueryBuild, ticketID, fmt.Errorf("look up query table: %w", err))
	}

	q := querybuilder.Build(querybuilder.InputFor(rec.RequestInfo, table), t.lookups)
	if q.Outcome != querybuilder.Generated {
		log.WarnContext(ctx, "no query generated", "outcome", q.Outcome.String(), "message", q.Message)
		if err := t.deps.closeTicket(ctx, ticketID, stageQueryBuild, q.Outcome.String(), q.Message); err != nil {
			return err
		}
		if err := t.deps.closeRecord(ctx, ticketID, stageQueryBuild, model.StateClosedError, q.Outcome.String()+": "+q.Message, model.StateReadyForQuery); err != nil {
			return err
		}
		return failure.NewFatal(stageQueryBuild, ticketID, fmt.Errorf("%s: %s", q.Outcome, q.Message))
	}
	log.InfoContext(ctx, "Athena SQL generated", "table", q.TableRef, "id_parameters", q.IDParameters)

	queryID, err := t.deps.Engine.StartQuery(ctx, q, ticketID)
	if err != nil {
		return failure.NewRetryable(stageQuerySubmit, ticketID, fmt.Errorf("start query: %w", err))
	}

	_, err = t.deps.Store.Update(ctx, ticketID, func(r *model.RequestRecord) error {
		if r.State != model.StateReadyForQuery {
			return errStale
		}
		r.QueryID = queryID
		r.Transition(model.StateQueryRunning, t.deps.now())
		return nil
	})
	if err := storeErr(stageQuerySubmit, ticketID, err); err != nil {
		return err
	}
	log.InfoContext(ctx, "Athena query execution initiated with QueryExecutionId", "query_id", queryID)
	return nil
}
