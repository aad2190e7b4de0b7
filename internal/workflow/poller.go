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

// Poller re-checks a ticket's outstanding bulk job each time a delayed
// ContinuePolling message arrives.
type Poller struct {
	deps    Deps
	trigger *Trigger
}

// NewPoller returns a Poller using d.
func NewPoller(d Deps) *Poller {
	return &Poller{deps: d, trigger: NewTrigger(d)}
}

// Handle runs one poll. Messages for records that are no longer waiting on a
// job, or whose attempt does not match the record's poll count, are
// duplicates and are dropped.
func (p *Poller) Handle(ctx context.Context, msg model.ContinuePolling) error {
	id := msg.TicketID
	log := logger("poller", id)

	rec, err := p.deps.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return failure.NewFatal(stagePoll, id, err)
	}
	if err != nil {
		return failure.NewRetryable(stagePoll, id, err)
	}
	if rec.State == model.StateReadyForQuery && msg.Attempt == rec.PollCount {
		// redelivery of the poll that finished the copy; the query may not
		// have been submitted yet
		return p.trigger.Run(ctx, id)
	}
	if !rec.State.Awaiting() || rec.JobID == "" || msg.Attempt != rec.PollCount {
		log.InfoContext(ctx, "stale poll message, skipping",
			"state", rec.State, "attempt", msg.Attempt, "poll_count", rec.PollCount)
		return nil
	}

	info, err := p.deps.Jobs.JobStatus(ctx, rec.JobID)
	if err != nil {
		return failure.NewRetryable(stagePoll, id, fmt.Errorf("describe job %s: %w", rec.JobID, err))
	}
	log.InfoContext(ctx, "bulk job status", "job_id", rec.JobID, "job_kind", rec.JobKind, "status", info.Status, "attempt", msg.Attempt)

	switch info.Status {
	case JobRunning:
		return p.reschedule(ctx, rec)
	case JobFailed:
		return p.fail(ctx, rec, info.Reason)
	case JobSucceeded:
		if rec.JobKind == model.JobKindRestore {
			return p.copyRestored(ctx, rec)
		}
		return p.ready(ctx, rec)
	}
	return failure.NewRetryable(stagePoll, id, fmt.Errorf("job %s has unknown status %q", rec.JobID, info.Status))
}

func (p *Poller) maxPolls(kind model.JobKind) int {
	if kind == model.JobKindRestore {
		return p.deps.Config.MaxRestorePolls
	}
	return p.deps.Config.MaxCopyPolls
}

// reschedule sends the next poll before recording the attempt, so a failed
// write is repaired by redelivery and duplicate messages collapse on the
// attempt check. A job still running on its last allowed check times out.
func (p *Poller) reschedule(ctx context.Context, rec model.RequestRecord) error {
	if limit := p.maxPolls(rec.JobKind); rec.PollCount+1 >= limit {
		return p.timeout(ctx, rec, limit)
	}
	if err := schedulePoll(ctx, p.deps, rec.TicketID, rec.JobKind, rec.PollCount+1); err != nil {
		return err
	}
	_, err := p.deps.Store.Update(ctx, rec.TicketID, func(r *model.RequestRecord) error {
		if r.State != rec.State || r.JobID != rec.JobID || r.PollCount != rec.PollCount {
			return errStale
		}
		r.PollCount++
		r.UpdatedAt = p.deps.now().Format(time.RFC3339)
		return nil
	})
	return storeErr(stagePoll, rec.TicketID, err)
}

func (p *Poller) fail(ctx context.Context, rec model.RequestRecord, reason string) error {
	if reason == "" {
		reason = "no reason reported"
	}
	kind := "copy"
	if rec.JobKind == model.JobKindRestore {
		kind = "restore"
	}
	msg := fmt.Sprintf("Data %s job %s did not complete: %s", kind, rec.JobID, reason)
	logger("poller", rec.TicketID).ErrorContext(ctx, "bulk job failed", "job_id", rec.JobID, "reason", reason)

	if err := p.deps.closeTicket(ctx, rec.TicketID, stagePoll, "job_failed", msg); err != nil {
		return err
	}
	if err := p.deps.closeRecord(ctx, rec.TicketID, stagePoll, model.StateClosedError, msg, rec.State); err != nil {
		return err
	}
	return failure.NewFatal(stagePoll, rec.TicketID, errors.New(msg))
}

func (p *Poller) timeout(ctx context.Context, rec model.RequestRecord, limit int) error {
	msg := fmt.Sprintf("Data transfer job %s was still running after %d status checks", rec.JobID, limit)
	logger("poller", rec.TicketID).ErrorContext(ctx, "bulk job timed out", "job_id", rec.JobID, "polls", rec.PollCount)

	if err := p.deps.closeTicket(ctx, rec.TicketID, stagePoll, "job_timed_out", msg); err != nil {
		return err
	}
	if err := p.deps.closeRecord(ctx, rec.TicketID, stagePoll, model.StateClosedTimedOut, msg, rec.State); err != nil {
		return err
	}
	return failure.NewFatal(stagePoll, rec.TicketID, errors.New(msg))
}

// copyRestored continues a finished restore: every object in range, the
// restored archival ones and any standard tier ones, is copied into the
// analysis bucket.
func (p *Poller) copyRestored(ctx context.Context, rec model.RequestRecord) error {
	res, err := p.deps.Checker.Check(ctx, rec.RequestInfo)
	if err != nil {
		return failure.NewRetryable(stageAvailability, rec.TicketID, err)
	}
	keys := res.AllKeys()
	if len(keys) == 0 {
		return p.fail(ctx, rec, "restored objects are no longer listed in the audit bucket")
	}

	jobID, err := p.deps.Jobs.StartCopyJob(ctx, keys, rec.TicketID)
	if err != nil {
		return failure.NewRetryable(stageTransfer, rec.TicketID, fmt.Errorf("start copy job: %w", err))
	}
	if err := schedulePoll(ctx, p.deps, rec.TicketID, model.JobKindCopy, 0); err != nil {
		return err
	}
	_, err = p.deps.Store.Update(ctx, rec.TicketID, func(r *model.RequestRecord) error {
		if r.State != model.StateAwaitingRestore || r.JobID != rec.JobID {
			return errStale
		}
		r.Transition(model.StateAwaitingCopy, p.deps.now())
		r.JobID = jobID
		r.JobKind = model.JobKindCopy
		r.PollCount = 0
		return nil
	})
	if err := storeErr(stageTransfer, rec.TicketID, err); err != nil {
		return err
	}
	logger("poller", rec.TicketID).InfoContext(ctx, "restore complete, copy job started", "job_id", jobID, "objects", len(keys))
	return nil
}

func (p *Poller) ready(ctx context.Context, rec model.RequestRecord) error {
	_, err := p.deps.Store.Update(ctx, rec.TicketID, func(r *model.RequestRecord) error {
		if r.State != model.StateAwaitingCopy || r.JobID != rec.JobID {
			return errStale
		}
		r.Transition(model.StateReadyForQuery, p.deps.now())
		return nil
	})
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil {
		return failure.NewRetryable(stageTransfer, rec.TicketID, err)
	}
	return p.trigger.Run(ctx, rec.TicketID)
}
