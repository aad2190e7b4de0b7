// Package workflow runs the transfer-and-query state machine. Every entry
// point handles one inbound event and returns; waiting on a bulk job is a
// delayed message back to the poller, never a blocking call.
package workflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sh3r4rd/audit_data_requests/internal/availability"
	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
	"github.com/sh3r4rd/audit_data_requests/internal/querybuilder"
	"github.com/sh3r4rd/audit_data_requests/internal/store"
)

// Store is the durable request record store.
type Store interface {
	PutIfAbsent(ctx context.Context, rec model.RequestRecord) (bool, error)
	Get(ctx context.Context, ticketID string) (model.RequestRecord, error)
	Update(ctx context.Context, ticketID string, fn store.Mutator) (model.RequestRecord, error)
	FindByQueryID(ctx context.Context, queryID string) (model.RequestRecord, error)
	PutDownload(ctx context.Context, rec model.SecureDownloadRecord) error
}

// Checker reports which audit objects cover a request.
type Checker interface {
	Check(ctx context.Context, params model.RequestParams) (availability.Result, error)
}

// JobStatus is the coarse state of a bulk job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobInfo describes a bulk job. Reason is set for failed jobs.
type JobInfo struct {
	Status JobStatus
	Reason string
}

// JobService starts and inspects copy and restore jobs. Starting the same
// kind of job twice for a ticket must return the first job.
type JobService interface {
	StartCopyJob(ctx context.Context, keys []string, ticketID string) (string, error)
	StartRestoreJob(ctx context.Context, keys []string, ticketID string) (string, error)
	JobStatus(ctx context.Context, jobID string) (JobInfo, error)
}

// Scheduler delivers a poll message back to the poller after delay.
type Scheduler interface {
	SchedulePoll(ctx context.Context, msg model.ContinuePolling, delay time.Duration) error
}

// QueryEngine resolves the query table and submits queries.
type QueryEngine interface {
	Table(ctx context.Context) (querybuilder.Table, error)
	StartQuery(ctx context.Context, q querybuilder.Query, ticketID string) (string, error)
}

// Ticketing posts comments to tickets and sets their status.
type Ticketing interface {
	UpdateTicket(ctx context.Context, ticketID, message, status string) error
}

// Notifier queues the results-ready email.
type Notifier interface {
	NotifyResultsReady(ctx context.Context, msg model.ResultsReadyMessage) error
}

// Config holds the workflow's tunables.
type Config struct {
	RequestRecordTTL  time.Duration
	DownloadRecordTTL time.Duration
	RestorePollDelay  time.Duration
	CopyPollDelay     time.Duration
	MaxRestorePolls   int
	MaxCopyPolls      int
}

// DefaultConfig returns the production cadence and limits.
func DefaultConfig() Config {
	return Config{
		RequestRecordTTL:  model.RequestRecordTTLHours * time.Hour,
		DownloadRecordTTL: model.DownloadRecordTTLHours * time.Hour,
		RestorePollDelay:  model.RestorePollDelaySeconds * time.Second,
		CopyPollDelay:     model.CopyPollDelaySeconds * time.Second,
		MaxRestorePolls:   model.MaxRestorePolls,
		MaxCopyPolls:      model.MaxCopyPolls,
	}
}

// Deps wires the workflow to its collaborators. Now and NewToken default to
// the wall clock and crypto/rand when nil.
type Deps struct {
	Store     Store
	Checker   Checker
	Jobs      JobService
	Scheduler Scheduler
	Engine    QueryEngine
	Ticketing Ticketing
	Notifier  Notifier
	Config    Config

	Now      func() time.Time
	NewToken func() (string, error)
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Deps) token() (string, error) {
	if d.NewToken != nil {
		return d.NewToken()
	}
	return NewDownloadToken()
}

// NewDownloadToken returns a hex encoded random token.
func NewDownloadToken() (string, error) {
	b := make([]byte, model.DownloadHashBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Workflow stages, used in failures and closure messages.
const (
	stageAvailability = "availability"
	stageTransfer     = "transfer"
	stagePoll         = "poll"
	stageQueryBuild   = "query_build"
	stageQuerySubmit  = "query_submit"
	stageCompletion   = "completion"
)

// errStale aborts an update whose precondition no longer holds because
// another delivery already moved the record on.
var errStale = errors.New("record moved on")

func logger(component, ticketID string) *slog.Logger {
	return slog.Default().With("component", component, "ticket_id", ticketID)
}

// closeTicket closes ticketID with a message that names the stage and the
// reason so the closure can be traced from the ticket alone.
func (d Deps) closeTicket(ctx context.Context, ticketID, stage, reason, message string) error {
	body := fmt.Sprintf("%s\n\nReference: ticket=%s stage=%s reason=%s", message, ticketID, stage, reason)
	if err := d.Ticketing.UpdateTicket(ctx, ticketID, body, model.TicketStatusClosed); err != nil {
		return failure.NewRetryable(stage, ticketID, fmt.Errorf("close ticket: %w", err))
	}
	return nil
}

// closeRecord moves the record to a terminal state unless it already left
// one of the from states.
func (d Deps) closeRecord(ctx context.Context, ticketID, stage string, to model.State, reason string, from ...model.State) error {
	_, err := d.Store.Update(ctx, ticketID, func(rec *model.RequestRecord) error {
		if !stateIn(rec.State, from) {
			return errStale
		}
		rec.Transition(to, d.now())
		rec.CloseReason = reason
		return nil
	})
	return storeErr(stage, ticketID, err)
}

// storeErr classifies a store error. Stale updates are not failures.
func storeErr(stage, ticketID string, err error) error {
	if err == nil || errors.Is(err, errStale) {
		return nil
	}
	return failure.NewRetryable(stage, ticketID, err)
}

func stateIn(s model.State, set []model.State) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
