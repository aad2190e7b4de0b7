package model

// MessageType tags the variant carried by an Envelope.
type MessageType string

const (
	MessageNewRequest      MessageType = "NewRequest"
	MessageContinuePolling MessageType = "ContinuePolling"
)

// Envelope is the body of every message on the data request queue. Exactly
// one of Request or Poll is set, matching Type.
type Envelope struct {
	Type    MessageType      `json:"type"`
	Request *RequestParams   `json:"request,omitempty"`
	Poll    *ContinuePolling `json:"poll,omitempty"`
}

// ContinuePolling asks the status poller to re-check a ticket's bulk job.
// Attempt must match the record's poll count for the poll to run.
type ContinuePolling struct {
	TicketID string `json:"ticketId"`
	Attempt  int    `json:"attempt"`
}

// QueryState is the execution state reported by the query engine.
type QueryState string

const (
	QueryStateQueued    QueryState = "QUEUED"
	QueryStateRunning   QueryState = "RUNNING"
	QueryStateSucceeded QueryState = "SUCCEEDED"
	QueryStateFailed    QueryState = "FAILED"
	QueryStateCancelled QueryState = "CANCELLED"
)

// QueryStateChange is the detail of an "Athena Query State Change" event.
type QueryStateChange struct {
	QueryExecutionID string     `json:"queryExecutionId"`
	CurrentState     QueryState `json:"currentState"`
	PreviousState    QueryState `json:"previousState,omitempty"`
	WorkgroupName    string     `json:"workgroupName,omitempty"`
}
