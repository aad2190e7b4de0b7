package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sh3r4rd/audit_data_requests/internal/availability"
	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
	"github.com/sh3r4rd/audit_data_requests/internal/store"
)

// NoDataMessage is posted when nothing matches the requested dates.
const NoDataMessage = "Your ticket has been closed because no data was available for the requested dates"

// Orchestrator takes a validated request, decides how its data reaches the
// analysis bucket, and starts that path.
type Orchestrator struct {
	deps    Deps
	trigger *Trigger
}

// NewOrchestrator returns an Orchestrator using d.
func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{deps: d, trigger: NewTrigger(d)}
}

// Handle processes a new request. The decision is made once per ticket; a
// redelivered request only finishes side effects the first delivery did not
// complete and never changes the record's state.
func (o *Orchestrator) Handle(ctx context.Context, params model.RequestParams) error {
	id := params.TicketID
	log := logger("orchestrator", id)

	existing, err := o.deps.Store.Get(ctx, id)
	switch {
	case err == nil:
		log.InfoContext(ctx, "request record exists, resuming", "state", existing.State)
		return o.resume(ctx, existing)
	case !errors.Is(err, store.ErrNotFound):
		return failure.NewRetryable(stageAvailability, id, err)
	}

	res, err := o.deps.Checker.Check(ctx, params)
	if err != nil {
		return failure.NewRetryable(stageAvailability, id, err)
	}

	now := o.deps.now()
	rec := model.NewRequestRecord(params, now, o.deps.Config.RequestRecordTTL)
	rec.Transition(model.StateCheckingAvailability, now)

	if !res.DataAvailable {
		log.InfoContext(ctx, "no data found for period, closing ticket")
		if err := o.deps.closeTicket(ctx, id, stageAvailability, "no_data", NoDataMessage); err != nil {
			return err
		}
		rec.Transition(model.StateClosedNoData, now)
		rec.CloseReason = "no data available for requested dates"
		if _, err := o.deps.Store.PutIfAbsent(ctx, rec); err != nil {
			return failure.NewRetryable(stageAvailability, id, err)
		}
		return nil
	}

	rec.GlacierRestoreRequired = len(res.ArchivalTierKeys) > 0
	rec.CopyRequired = len(res.StandardTierKeys) > 0 && !rec.GlacierRestoreRequired
	switch {
	case rec.GlacierRestoreRequired:
		rec.Transition(model.StateAwaitingRestore, now)
		rec.JobKind = model.JobKindRestore
	case rec.CopyRequired:
		rec.Transition(model.StateAwaitingCopy, now)
		rec.JobKind = model.JobKindCopy
	default:
		rec.Transition(model.StateReadyForQuery, now)
	}

	created, err := o.deps.Store.PutIfAbsent(ctx, rec)
	if err != nil {
		return failure.NewRetryable(stageTransfer, id, err)
	}
	if !created {
		log.InfoContext(ctx, "request record created by a concurrent delivery, skipping")
		return nil
	}
	log.InfoContext(ctx, "stored new data request record",
		"state", rec.State,
		"glacier_restore_required", rec.GlacierRestoreRequired,
		"copy_required", rec.CopyRequired,
	)

	if rec.State == model.StateReadyForQuery {
		log.InfoContext(ctx, "data available in analysis bucket, starting query")
		return o.trigger.Run(ctx, id)
	}
	return o.startJob(ctx, rec, res)
}

func (o *Orchestrator) resume(ctx context.Context, rec model.RequestRecord) error {
	switch {
	case rec.State.Awaiting() && rec.JobID == "":
		res, err := o.deps.Checker.Check(ctx, rec.RequestInfo)
		if err != nil {
			return failure.NewRetryable(stageAvailability, rec.TicketID, err)
		}
		return o.startJob(ctx, rec, res)
	case rec.State.Awaiting() && rec.PollCount == 0:
		return schedulePoll(ctx, o.deps, rec.TicketID, rec.JobKind, 0)
	case rec.State == model.StateReadyForQuery:
		return o.trigger.Run(ctx, rec.TicketID)
	}
	return nil
}

// startJob starts the record's bulk job, records the job id, and schedules
// the first poll.
func (o *Orchestrator) startJob(ctx context.Context, rec model.RequestRecord, res availability.Result) error {
	id := rec.TicketID
	log := logger("orchestrator", id)

	var (
		jobID string
		err   error
	)
	switch rec.JobKind {
	case model.JobKindRestore:
		log.InfoContext(ctx, "found glacier tier locations, starting restore job", "objects", len(res.ArchivalTierKeys))
		jobID, err = o.deps.Jobs.StartRestoreJob(ctx, res.ArchivalTierKeys, id)
	case model.JobKindCopy:
		log.InfoContext(ctx, "starting copy job", "objects", len(res.StandardTierKeys))
		jobID, err = o.deps.Jobs.StartCopyJob(ctx, res.StandardTierKeys, id)
	default:
		return failure.NewFatal(stageTransfer, id, fmt.Errorf("record in %s has no job kind", rec.State))
	}
	if err != nil {
		return failure.NewRetryable(stageTransfer, id, fmt.Errorf("start %s job: %w", rec.JobKind, err))
	}

	_, err = o.deps.Store.Update(ctx, id, func(r *model.RequestRecord) error {
		if r.State != rec.State || r.JobID != "" {
			return errStale
		}
		r.JobID = jobID
		return nil
	})
	if err != nil {
		if errors.Is(err, errStale) {
			return nil
		}
		return failure.NewRetryable(stageTransfer, id, err)
	}
	log.InfoContext(ctx, "bulk job started", "job_id", jobID, "job_kind", rec.JobKind)
	return schedulePoll(ctx, o.deps, id, rec.JobKind, 0)
}

func schedulePoll(ctx context.Context, d Deps, ticketID string, kind model.JobKind, attempt int) error {
	delay := pollDelay(d.Config, kind)
	msg := model.ContinuePolling{TicketID: ticketID, Attempt: attempt}
	if err := d.Scheduler.SchedulePoll(ctx, msg, delay); err != nil {
		return failure.NewRetryable(stagePoll, ticketID, fmt.Errorf("schedule poll: %w", err))
	}
	logger("scheduler", ticketID).InfoContext(ctx, "queued continue polling message",
		"attempt", attempt, "delay_seconds", int(delay/time.Second))
	return nil
}

func pollDelay(cfg Config, kind model.JobKind) time.Duration {
	if kind == model.JobKindRestore {
		return cfg.RestorePollDelay
	}
	return cfg.CopyPollDelay
}
