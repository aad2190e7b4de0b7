package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/sh3r4rd/audit_data_requests/internal/failure"
	"github.com/sh3r4rd/audit_data_requests/internal/handler"
	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

var errDown = errors.New("down")

type fakeRequests struct {
	got []model.RequestParams
	err error
}

func (f *fakeRequests) Handle(_ context.Context, p model.RequestParams) error {
	f.got = append(f.got, p)
	return f.err
}

type fakePolls struct {
	got []model.ContinuePolling
	err error
}

func (f *fakePolls) Handle(_ context.Context, m model.ContinuePolling) error {
	f.got = append(f.got, m)
	return f.err
}

type fakeTicketing struct {
	comments []model.TicketComment
	err      error
}

func (f *fakeTicketing) UpdateTicket(_ context.Context, id, msg, status string) error {
	if f.err != nil {
		return f.err
	}
	f.comments = append(f.comments, model.TicketComment{TicketID: id, Body: msg, Status: status})
	return nil
}

func validParams() model.RequestParams {
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

func body(t *testing.T, env model.Envelope) string {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(b)
}

func newHandler(r *fakeRequests, p *fakePolls, tk *fakeTicketing) *handler.DataRequests {
	return handler.NewDataRequests(r, p, tk).WithClock(func() time.Time {
		return time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)
	})
}

func TestDataRequestsDispatch(t *testing.T) {
	r, p, tk := &fakeRequests{}, &fakePolls{}, &fakeTicketing{}
	params := validParams()
	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: body(t, model.Envelope{Type: model.MessageNewRequest, Request: &params})},
		{MessageId: "m2", Body: body(t, model.Envelope{Type: model.MessageContinuePolling, Poll: &model.ContinuePolling{TicketID: "123", Attempt: 3}})},
	}}

	resp, err := newHandler(r, p, tk).Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %+v", resp.BatchItemFailures)
	}
	if len(r.got) != 1 || !reflect.DeepEqual(r.got[0], params) {
		t.Errorf("requests = %+v", r.got)
	}
	if len(p.got) != 1 || p.got[0] != (model.ContinuePolling{TicketID: "123", Attempt: 3}) {
		t.Errorf("polls = %+v", p.got)
	}
}

func TestDataRequestsBatchItemFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantFail bool
	}{
		{"retryable", failure.NewRetryable("transfer", "123", errDown), true},
		{"unclassified", errDown, true},
		{"fatal", failure.NewFatal("poll", "123", errDown), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePolls{err: tt.err}
			ev := events.SQSEvent{Records: []events.SQSMessage{
				{MessageId: "m1", Body: body(t, model.Envelope{Type: model.MessageContinuePolling, Poll: &model.ContinuePolling{TicketID: "123"}})},
			}}
			resp, err := newHandler(&fakeRequests{}, p, &fakeTicketing{}).Handle(context.Background(), ev)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			var want []events.SQSBatchItemFailure
			if tt.wantFail {
				want = []events.SQSBatchItemFailure{{ItemIdentifier: "m1"}}
			}
			if !reflect.DeepEqual(resp.BatchItemFailures, want) {
				t.Errorf("failures = %+v, want %+v", resp.BatchItemFailures, want)
			}
		})
	}
}

func TestDataRequestsMalformedMessagesAcknowledged(t *testing.T) {
	r, p := &fakeRequests{}, &fakePolls{}
	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: "not json"},
		{MessageId: "m2", Body: `{"type":"Unknown"}`},
		{MessageId: "m3", Body: `{"type":"NewRequest"}`},
		{MessageId: "m4", Body: `{"type":"ContinuePolling","poll":{"attempt":1}}`},
	}}
	resp, err := newHandler(r, p, &fakeTicketing{}).Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %+v", resp.BatchItemFailures)
	}
	if len(r.got)+len(p.got) != 0 {
		t.Error("malformed message dispatched")
	}
}

func TestDataRequestsInvalidRequestClosesTicket(t *testing.T) {
	r, tk := &fakeRequests{}, &fakeTicketing{}
	params := validParams()
	params.DateFrom = "2021-08-22"
	params.RecipientEmail = "not-an-email"
	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: body(t, model.Envelope{Type: model.MessageNewRequest, Request: &params})},
	}}

	resp, err := newHandler(r, &fakePolls{}, tk).Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("failures = %+v", resp.BatchItemFailures)
	}
	if len(r.got) != 0 {
		t.Error("invalid request reached the orchestrator")
	}
	if len(tk.comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(tk.comments))
	}
	c := tk.comments[0]
	if c.TicketID != "123" || c.Status != model.TicketStatusClosed {
		t.Errorf("comment = %+v", c)
	}
	for _, want := range []string{handler.InvalidRequestMessage, "dateFrom", "recipientEmail", "stage=validation"} {
		if !strings.Contains(c.Body, want) {
			t.Errorf("comment %q lacks %q", c.Body, want)
		}
	}
}

func TestDataRequestsInvalidRequestRetriedWhenTicketUpdateFails(t *testing.T) {
	params := validParams()
	params.Identifiers = nil
	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: body(t, model.Envelope{Type: model.MessageNewRequest, Request: &params})},
	}}
	resp, _ := newHandler(&fakeRequests{}, &fakePolls{}, &fakeTicketing{err: errDown}).Handle(context.Background(), ev)
	if len(resp.BatchItemFailures) != 1 {
		t.Errorf("failures = %+v, want m1 retried", resp.BatchItemFailures)
	}
}

type fakeCompletions struct {
	got []model.QueryStateChange
	err error
}

func (f *fakeCompletions) Handle(_ context.Context, c model.QueryStateChange) error {
	f.got = append(f.got, c)
	return f.err
}

func TestQueryCompleted(t *testing.T) {
	detail := json.RawMessage(`{"currentState":"SUCCEEDED","previousState":"RUNNING","queryExecutionId":"qe-1","workgroupName":"primary"}`)
	tests := []struct {
		name       string
		ev         events.CloudWatchEvent
		err        error
		wantErr    bool
		wantCalled bool
	}{
		{name: "success", ev: events.CloudWatchEvent{DetailType: handler.QueryStateChangeDetailType, Detail: detail}, wantCalled: true},
		{name: "retryable", ev: events.CloudWatchEvent{DetailType: handler.QueryStateChangeDetailType, Detail: detail}, err: failure.NewRetryable("completion", "123", errDown), wantErr: true, wantCalled: true},
		{name: "fatal", ev: events.CloudWatchEvent{DetailType: handler.QueryStateChangeDetailType, Detail: detail}, err: failure.NewFatal("completion", "123", errDown), wantCalled: true},
		{name: "other detail type", ev: events.CloudWatchEvent{DetailType: "Object Created", Detail: detail}},
		{name: "bad detail", ev: events.CloudWatchEvent{DetailType: handler.QueryStateChangeDetailType, Detail: json.RawMessage(`[]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCompletions{err: tt.err}
			err := handler.NewQueryCompleted(c).Handle(context.Background(), tt.ev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle = %v, wantErr %v", err, tt.wantErr)
			}
			if (len(c.got) == 1) != tt.wantCalled {
				t.Fatalf("completion calls = %d", len(c.got))
			}
			if tt.wantCalled {
				want := model.QueryStateChange{QueryExecutionID: "qe-1", CurrentState: model.QueryStateSucceeded, PreviousState: model.QueryStateRunning, WorkgroupName: "primary"}
				if c.got[0] != want {
					t.Errorf("change = %+v", c.got[0])
				}
			}
		})
	}
}

func TestDataRequestsMalformedFieldsRejectedBeforeTransfer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.RequestParams)
		field  string
	}{
		{"data path", func(p *model.RequestParams) { p.DataPaths = []string{"restricted.name FROM x --"} }, "dataPaths[0]"},
		{"identifier", func(p *model.RequestParams) { p.Identifiers = []string{"abc\x00"} }, "identifiers[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, tk := &fakeRequests{}, &fakeTicketing{}
			params := validParams()
			tt.mutate(&params)
			ev := events.SQSEvent{Records: []events.SQSMessage{
				{MessageId: "m1", Body: body(t, model.Envelope{Type: model.MessageNewRequest, Request: &params})},
			}}

			resp, err := newHandler(r, &fakePolls{}, tk).Handle(context.Background(), ev)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if len(resp.BatchItemFailures) != 0 {
				t.Errorf("failures = %+v", resp.BatchItemFailures)
			}
			if len(r.got) != 0 {
				t.Error("malformed request reached the orchestrator")
			}
			if len(tk.comments) != 1 || !strings.Contains(tk.comments[0].Body, tt.field) {
				t.Errorf("comments = %+v, want one naming %s", tk.comments, tt.field)
			}
		})
	}
}
