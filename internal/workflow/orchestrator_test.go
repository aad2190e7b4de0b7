package workflow_test

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sh3r4rd/audit_data_requests/internal/availability"
	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
	"github.com/sh3r4rd/audit_data_requests/internal/workflow"
)

func TestOrchestratorNoData(t *testing.T) {
	h := newHarness()
	h.checker.result = availability.Result{}

	if err := workflow.NewOrchestrator(h.deps).Handle(context.Background(), requestParams()); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec := h.record(t, "123")
	if rec.State != model.StateClosedNoData {
		t.Errorf("State = %s, want CLOSED_NO_DATA", rec.State)
	}
	if len(h.jobs.starts) != 0 {
		t.Errorf("jobs started: %+v", h.jobs.starts)
	}
	if len(h.scheduler.sent) != 0 {
		t.Errorf("polls scheduled: %+v", h.scheduler.sent)
	}
	if len(h.ticketing.comments) != 1 {
		t.Fatalf("ticket comments = %d, want 1", len(h.ticketing.comments))
	}
	c := h.ticketing.comments[0]
	if c.Status != model.TicketStatusClosed || !strings.HasPrefix(c.Body, workflow.NoDataMessage) {
		t.Errorf("comment = %+v", c)
	}
	if !strings.Contains(c.Body, "ticket=123") || !strings.Contains(c.Body, "stage=availability") {
		t.Errorf("comment lacks diagnostics: %q", c.Body)
	}
}

func TestOrchestratorRemediationPath(t *testing.T) {
	tests := []struct {
		name        string
		result      availability.Result
		wantState   model.State
		wantKind    model.JobKind
		wantKeys    []string
		wantDelay   time.Duration
		wantRestore bool
		wantCopy    bool
	}{
		{
			name:        "archival only",
			result:      availability.Result{DataAvailable: true, ArchivalTierKeys: []string{"k1", "k2"}},
			wantState:   model.StateAwaitingRestore,
			wantKind:    model.JobKindRestore,
			wantKeys:    []string{"k1", "k2"},
			wantDelay:   900 * time.Second,
			wantRestore: true,
		},
		{
			name:        "mixed tiers restore first",
			result:      mixed(),
			wantState:   model.StateAwaitingRestore,
			wantKind:    model.JobKindRestore,
			wantKeys:    []string{"firehose/2021/08/21/02/b"},
			wantDelay:   900 * time.Second,
			wantRestore: true,
		},
		{
			name:      "standard only",
			result:    standardOnly(),
			wantState: model.StateAwaitingCopy,
			wantKind:  model.JobKindCopy,
			wantKeys:  []string{"firehose/2021/08/21/01/a"},
			wantDelay: 30 * time.Second,
			wantCopy:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.checker.result = tt.result

			if err := workflow.NewOrchestrator(h.deps).Handle(context.Background(), requestParams()); err != nil {
				t.Fatalf("Handle: %v", err)
			}

			rec := h.record(t, "123")
			if rec.State != tt.wantState {
				t.Errorf("State = %s, want %s", rec.State, tt.wantState)
			}
			if rec.GlacierRestoreRequired != tt.wantRestore || rec.CopyRequired != tt.wantCopy {
				t.Errorf("flags restore=%v copy=%v, want %v/%v", rec.GlacierRestoreRequired, rec.CopyRequired, tt.wantRestore, tt.wantCopy)
			}
			if len(h.jobs.starts) != 1 {
				t.Fatalf("jobs started = %d, want 1", len(h.jobs.starts))
			}
			start := h.jobs.starts[0]
			if start.kind != tt.wantKind || !reflect.DeepEqual(start.keys, tt.wantKeys) || start.ticketID != "123" {
				t.Errorf("job start = %+v", start)
			}
			if rec.JobID == "" || rec.JobKind != tt.wantKind {
				t.Errorf("record job = %q/%s", rec.JobID, rec.JobKind)
			}
			poll := h.scheduler.last(t)
			if poll.delay != tt.wantDelay || poll.msg != (model.ContinuePolling{TicketID: "123", Attempt: 0}) {
				t.Errorf("poll = %+v", poll)
			}
		})
	}
}

func TestOrchestratorDataAlreadyQueryable(t *testing.T) {
	h := newHarness()
	// objects already in the analysis bucket leave nothing to move
	h.checker.result = availability.Result{DataAvailable: true}

	if err := workflow.NewOrchestrator(h.deps).Handle(context.Background(), requestParams()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rec := h.record(t, "123")
	if rec.State != model.StateQueryRunning || rec.QueryID != "query-1" {
		t.Errorf("record = %s/%s, want QUERY_RUNNING/query-1", rec.State, rec.QueryID)
	}
	if len(h.jobs.starts) != 0 || len(h.scheduler.sent) != 0 {
		t.Errorf("unexpected jobs %v or polls %v", h.jobs.starts, h.scheduler.sent)
	}
}

func TestOrchestratorDuplicateDelivery(t *testing.T) {
	h := newHarness()
	h.checker.result = mixed()
	o := workflow.NewOrchestrator(h.deps)
	ctx := context.Background()

	if err := o.Handle(ctx, requestParams()); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	before := h.record(t, "123")

	// move the poll chain on so the duplicate has nothing left to resume
	h.jobs.set(before.JobID, workflow.JobInfo{Status: workflow.JobRunning})
	if err := workflow.NewPoller(h.deps).Handle(ctx, h.scheduler.last(t).msg); err != nil {
		t.Fatalf("poll: %v", err)
	}
	before = h.record(t, "123")
	polls := len(h.scheduler.sent)

	if err := o.Handle(ctx, requestParams()); err != nil {
		t.Fatalf("duplicate Handle: %v", err)
	}

	after := h.record(t, "123")
	if !reflect.DeepEqual(after, before) {
		t.Errorf("record changed on duplicate:\n  before %+v\n  after  %+v", before, after)
	}
	if len(h.jobs.starts) != 1 {
		t.Errorf("jobs started = %d, want 1", len(h.jobs.starts))
	}
	if h.jobs.count(model.JobKindCopy) != 0 {
		t.Error("copy job started for a ticket with archival data")
	}
	if len(h.scheduler.sent) != polls {
		t.Errorf("duplicate scheduled %d extra polls", len(h.scheduler.sent)-polls)
	}
}

func TestOrchestratorResumesFailedJobStart(t *testing.T) {
	h := newHarness()
	h.checker.result = standardOnly()
	h.jobs.startErr = errUnavailable
	o := workflow.NewOrchestrator(h.deps)
	ctx := context.Background()

	err := o.Handle(ctx, requestParams())
	if !failure.IsRetryable(err) {
		t.Fatalf("Handle = %v, want retryable", err)
	}
	rec := h.record(t, "123")
	if rec.State != model.StateAwaitingCopy || rec.JobID != "" {
		t.Fatalf("record after failed start = %s/%q", rec.State, rec.JobID)
	}

	if err := o.Handle(ctx, requestParams()); err != nil {
		t.Fatalf("redelivered Handle: %v", err)
	}
	rec = h.record(t, "123")
	if rec.JobID == "" || len(h.jobs.starts) != 1 {
		t.Errorf("job id %q, starts %d; want one started job", rec.JobID, len(h.jobs.starts))
	}
	if rec.State != model.StateAwaitingCopy {
		t.Errorf("State = %s, want AWAITING_COPY", rec.State)
	}
	if len(h.scheduler.sent) != 1 {
		t.Errorf("polls scheduled = %d, want 1", len(h.scheduler.sent))
	}
}

func TestOrchestratorCheckerFailureIsRetryable(t *testing.T) {
	h := newHarness()
	h.checker.err = errUnavailable

	err := workflow.NewOrchestrator(h.deps).Handle(context.Background(), requestParams())
	if !failure.IsRetryable(err) {
		t.Fatalf("Handle = %v, want retryable", err)
	}
	if _, err := h.store.Get(context.Background(), "123"); err == nil {
		t.Error("record persisted despite checker failure")
	}
}
