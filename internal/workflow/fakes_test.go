package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sh3r4rd/audit_data_requests/internal/availability"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
	"github.com/sh3r4rd/audit_data_requests/internal/querybuilder"
	"github.com/sh3r4rd/audit_data_requests/internal/store"
	"github.com/sh3r4rd/audit_data_requests/internal/workflow"
)

var errUnavailable = errors.New("service unavailable")

type fakeChecker struct {
	result availability.Result
	err    error
	calls  int
}

func (f *fakeChecker) Check(context.Context, model.RequestParams) (availability.Result, error) {
	f.calls++
	return f.result, f.err
}

type jobStart struct {
	kind     model.JobKind
	keys     []string
	ticketID string
}

type fakeJobs struct {
	mu       sync.Mutex
	starts   []jobStart
	statuses map[string]workflow.JobInfo
	startErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{statuses: make(map[string]workflow.JobInfo)}
}

func (f *fakeJobs) start(kind model.JobKind, keys []string, ticketID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		err := f.startErr
		f.startErr = nil
		return "", err
	}
	f.starts = append(f.starts, jobStart{kind: kind, keys: keys, ticketID: ticketID})
	id := fmt.Sprintf("%s-job-%d", kind, len(f.starts))
	f.statuses[id] = workflow.JobInfo{Status: workflow.JobRunning}
	return id, nil
}

func (f *fakeJobs) StartCopyJob(_ context.Context, keys []string, ticketID string) (string, error) {
	return f.start(model.JobKindCopy, keys, ticketID)
}

func (f *fakeJobs) StartRestoreJob(_ context.Context, keys []string, ticketID string) (string, error) {
	return f.start(model.JobKindRestore, keys, ticketID)
}

func (f *fakeJobs) JobStatus(_ context.Context, jobID string) (workflow.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.statuses[jobID]
	if !ok {
		return workflow.JobInfo{}, fmt.Errorf("unknown job %s", jobID)
	}
	return info, nil
}

func (f *fakeJobs) set(jobID string, info workflow.JobInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = info
}

func (f *fakeJobs) count(kind model.JobKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.starts {
		if s.kind == kind {
			n++
		}
	}
	return n
}

type scheduled struct {
	msg   model.ContinuePolling
	delay time.Duration
}

type fakeScheduler struct {
	sent []scheduled
	err  error
}

func (f *fakeScheduler) SchedulePoll(_ context.Context, msg model.ContinuePolling, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, scheduled{msg: msg, delay: delay})
	return nil
}

func (f *fakeScheduler) last(t *testing.T) scheduled {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no poll message scheduled")
	}
	return f.sent[len(f.sent)-1]
}

type fakeEngine struct {
	table    querybuilder.Table
	queries  []querybuilder.Query
	tokens   []string
	startErr error
}

func (f *fakeEngine) Table(context.Context) (querybuilder.Table, error) {
	return f.table, nil
}

func (f *fakeEngine) StartQuery(_ context.Context, q querybuilder.Query, ticketID string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.queries = append(f.queries, q)
	f.tokens = append(f.tokens, ticketID)
	return fmt.Sprintf("query-%d", len(f.queries)), nil
}

type fakeTicketing struct {
	comments []model.TicketComment
}

func (f *fakeTicketing) UpdateTicket(_ context.Context, ticketID, message, status string) error {
	f.comments = append(f.comments, model.TicketComment{TicketID: ticketID, Body: message, Status: status})
	return nil
}

type fakeNotifier struct {
	sent []model.ResultsReadyMessage
}

func (f *fakeNotifier) NotifyResultsReady(_ context.Context, msg model.ResultsReadyMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

type harness struct {
	store     *store.Memory
	checker   *fakeChecker
	jobs      *fakeJobs
	scheduler *fakeScheduler
	engine    *fakeEngine
	ticketing *fakeTicketing
	notifier  *fakeNotifier
	deps      workflow.Deps
	tokens    int
}

var testNow = time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		store:     store.NewMemory(),
		checker:   &fakeChecker{},
		jobs:      newFakeJobs(),
		scheduler: &fakeScheduler{},
		engine:    &fakeEngine{table: querybuilder.Table{Database: "test_database", Name: "test_table", Available: true}},
		ticketing: &fakeTicketing{},
		notifier:  &fakeNotifier{},
	}
	h.deps = workflow.Deps{
		Store:     h.store,
		Checker:   h.checker,
		Jobs:      h.jobs,
		Scheduler: h.scheduler,
		Engine:    h.engine,
		Ticketing: h.ticketing,
		Notifier:  h.notifier,
		Config:    workflow.DefaultConfig(),
		Now:       func() time.Time { return testNow },
		NewToken: func() (string, error) {
			h.tokens++
			return fmt.Sprintf("token-%d", h.tokens), nil
		},
	}
	return h
}

func (h *harness) record(t *testing.T, ticketID string) model.RequestRecord {
	t.Helper()
	rec, err := h.store.Get(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("Get(%s): %v", ticketID, err)
	}
	return rec
}

func requestParams() model.RequestParams {
	return model.RequestParams{
		TicketID:       "123",
		RecipientEmail: "myuser@test.gov.uk",
		RecipientName:  "my name",
		DateFrom:       "2021-08-21",
		DateTo:         "2021-08-21",
		IdentifierType: model.IdentifierEventID,
		Identifiers:    []string{"abc-123"},
		PIITypes:       []string{"drivers_license"},
	}
}

func standardOnly() availability.Result {
	return availability.Result{DataAvailable: true, StandardTierKeys: []string{"firehose/2021/08/21/01/a"}}
}

func mixed() availability.Result {
	return availability.Result{
		DataAvailable:    true,
		StandardTierKeys: []string{"firehose/2021/08/21/01/a"},
		ArchivalTierKeys: []string{"firehose/2021/08/21/02/b"},
	}
}

func states(rec model.RequestRecord) []model.State {
	out := make([]model.State, 0, len(rec.History))
	for _, h := range rec.History {
		out = append(out, h.State)
	}
	return out
}

// containsInOrder reports whether want appears as a subsequence of got.
func containsInOrder(got, want []model.State) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}
