package model

// ResultsReadyMessage is sent to the email queue once query results can be
// downloaded.
type ResultsReadyMessage struct {
	TicketID       string `json:"ticketId"`
	RecipientEmail string `json:"email"`
	RecipientName  string `json:"firstName"`
	DownloadHash   string `json:"secureDownloadHash"`
}

// Ticket status values accepted by the ticketing system.
const (
	TicketStatusOpen   = "open"
	TicketStatusClosed = "closed"
)

// TicketComment is an update posted to the ticketing system.
type TicketComment struct {
	TicketID string `json:"ticketId"`
	Body     string `json:"body"`
	Status   string `json:"status"`
}
