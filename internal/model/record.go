package model

import "time"

// State is a request record's position in the transfer-and-query lifecycle.
// Values are persisted and must stay stable across deployments.
type State string

// Lifecycle states for RequestRecord.State.
const (
	StateValidated            State = "VALIDATED"
	StateCheckingAvailability State = "CHECKING_AVAILABILITY"
	StateClosedNoData         State = "CLOSED_NO_DATA"
	StateAwaitingRestore      State = "AWAITING_RESTORE"
	StateAwaitingCopy         State = "AWAITING_COPY"
	StateReadyForQuery        State = "READY_FOR_QUERY"
	StateQueryRunning         State = "QUERY_RUNNING"
	StateQuerySucceeded       State = "QUERY_SUCCEEDED"
	StateQueryFailed          State = "QUERY_FAILED"
	StateNotified             State = "NOTIFIED"
	StateClosedError          State = "CLOSED_ERROR"
	StateClosedTimedOut       State = "CLOSED_TIMED_OUT"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateClosedNoData, StateClosedError, StateClosedTimedOut, StateNotified:
		return true
	}
	return false
}

// Awaiting reports whether s waits on a copy or restore job.
func (s State) Awaiting() bool {
	return s == StateAwaitingRestore || s == StateAwaitingCopy
}

// JobKind identifies the bulk job a record is waiting on.
type JobKind string

const (
	JobKindCopy    JobKind = "COPY"
	JobKindRestore JobKind = "RESTORE"
)

// StateChange is one entry of a record's transition history.
type StateChange struct {
	State State  `json:"state" dynamodbav:"state"`
	At    string `json:"at" dynamodbav:"at"`
}

// RequestRecord represents a single item in the query request DynamoDB table.
type RequestRecord struct {
	TicketID               string        `dynamodbav:"ticketId"`
	RequestInfo            RequestParams `dynamodbav:"requestInfo"`
	State                  State         `dynamodbav:"state"`
	GlacierRestoreRequired bool          `dynamodbav:"glacierRestoreRequired"`
	CopyRequired           bool          `dynamodbav:"copyRequired"`
	JobID                  string        `dynamodbav:"jobId,omitempty"`
	JobKind                JobKind       `dynamodbav:"jobKind,omitempty"`
	PollCount              int           `dynamodbav:"pollCount"`
	QueryID                string        `dynamodbav:"queryId,omitempty"`
	CloseReason            string        `dynamodbav:"closeReason,omitempty"`
	History                []StateChange `dynamodbav:"history"`
	CreatedAt              string        `dynamodbav:"createdAt"`
	UpdatedAt              string        `dynamodbav:"updatedAt"`
	TTL                    int64         `dynamodbav:"ttl"`
	Version                int64         `dynamodbav:"version"`
}

// NewRequestRecord builds the initial record for params. The history starts
// with the VALIDATED entry so every record shows where it entered.
func NewRequestRecord(params RequestParams, now time.Time, ttl time.Duration) RequestRecord {
	ts := now.UTC().Format(time.RFC3339)
	return RequestRecord{
		TicketID:    params.TicketID,
		RequestInfo: params,
		State:       StateValidated,
		History:     []StateChange{{State: StateValidated, At: ts}},
		CreatedAt:   ts,
		UpdatedAt:   ts,
		TTL:         now.Add(ttl).Unix(),
	}
}

// Transition moves the record to s and appends it to the history.
func (r *RequestRecord) Transition(s State, now time.Time) {
	ts := now.UTC().Format(time.RFC3339)
	r.State = s
	r.UpdatedAt = ts
	r.History = append(r.History, StateChange{State: s, At: ts})
}

// SecureDownloadRecord represents a single item in the secure download
// DynamoDB table. DownloadHash is the one-time token handed to the recipient.
type SecureDownloadRecord struct {
	DownloadHash string `dynamodbav:"downloadHash"`
	QueryID      string `dynamodbav:"queryId"`
	TicketID     string `dynamodbav:"ticketId"`
	CreatedAt    string `dynamodbav:"createdAt"`
	TTL          int64  `dynamodbav:"ttl"`
}
