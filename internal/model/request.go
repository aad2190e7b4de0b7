package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// IdentifierType names the correlation key used to locate audit events.
type IdentifierType string

const (
	IdentifierEventID   IdentifierType = "event_id"
	IdentifierJourneyID IdentifierType = "journey_id"
	IdentifierSessionID IdentifierType = "session_id"
	IdentifierUserID    IdentifierType = "user_id"
)

// IdentifierTypeEventPaths maps each identifier type to the audit event
// field it is compared against.
var IdentifierTypeEventPaths = map[IdentifierType]string{
	IdentifierEventID:   "event_id",
	IdentifierJourneyID: "user.govuk_signin_journey_id",
	IdentifierUserID:    "user.user_id",
	IdentifierSessionID: "user.session_id",
}

// PIITypeDataPaths maps each PII category to the restricted data field that
// holds it.
var PIITypeDataPaths = map[string]string{
	"passport_number":      "restricted.passport[0].documentnumber",
	"passport_expiry_date": "restricted.passport[0].expirydate",
	"drivers_license":      "restricted.drivingpermit",
	"dob":                  "restricted.birthdate[0].value",
	"name":                 "restricted.name",
	"addresses":            "restricted.address",
}

// RequestParams is a validated data request raised against a ticket. It is
// immutable once the request record has been created.
type RequestParams struct {
	TicketID       string         `json:"ticketId" dynamodbav:"ticketId"`
	RecipientEmail string         `json:"recipientEmail" dynamodbav:"recipientEmail"`
	RecipientName  string         `json:"recipientName" dynamodbav:"recipientName"`
	DateFrom       string         `json:"dateFrom" dynamodbav:"dateFrom"`
	DateTo         string         `json:"dateTo" dynamodbav:"dateTo"`
	IdentifierType IdentifierType `json:"identifierType" dynamodbav:"identifierType"`
	Identifiers    []string       `json:"identifiers" dynamodbav:"identifiers"`
	PIITypes       []string       `json:"piiTypes,omitempty" dynamodbav:"piiTypes,omitempty"`
	DataPaths      []string       `json:"dataPaths,omitempty" dynamodbav:"dataPaths,omitempty"`
}

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidationError collects every field error found on a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Validate checks the request against the calendar date now. It returns nil
// or a *ValidationError.
func (p RequestParams) Validate(now time.Time) error {
	var errs []FieldError

	if strings.TrimSpace(p.TicketID) == "" {
		errs = append(errs, FieldError{"ticketId", "required"})
	}
	if p.RecipientName == "" {
		errs = append(errs, FieldError{"recipientName", "required"})
	}
	if _, err := mail.ParseAddress(p.RecipientEmail); err != nil {
		errs = append(errs, FieldError{"recipientEmail", "must be a valid email address"})
	}

	today := now.UTC().Format(DateLayout)
	from, fromErr := time.Parse(DateLayout, p.DateFrom)
	if fromErr != nil {
		errs = append(errs, FieldError{"dateFrom", "must be a YYYY-MM-DD date"})
	} else if p.DateFrom > today {
		errs = append(errs, FieldError{"dateFrom", "must not be in the future"})
	}
	to, toErr := time.Parse(DateLayout, p.DateTo)
	if toErr != nil {
		errs = append(errs, FieldError{"dateTo", "must be a YYYY-MM-DD date"})
	} else if p.DateTo > today {
		errs = append(errs, FieldError{"dateTo", "must not be in the future"})
	}
	if fromErr == nil && toErr == nil && from.After(to) {
		errs = append(errs, FieldError{"dateFrom", "must not be after dateTo"})
	}

	if _, ok := IdentifierTypeEventPaths[p.IdentifierType]; !ok {
		errs = append(errs, FieldError{"identifierType", fmt.Sprintf("unknown identifier type %q", p.IdentifierType)})
	}
	if len(p.Identifiers) == 0 {
		errs = append(errs, FieldError{"identifiers", "must contain at least one item"})
	}
	for i, id := range p.Identifiers {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, FieldError{fmt.Sprintf("identifiers[%d]", i), "must be non-empty"})
		} else if err := CheckNoControl(id); err != nil {
			errs = append(errs, FieldError{fmt.Sprintf("identifiers[%d]", i), err.Error()})
		}
	}

	for i, pii := range p.PIITypes {
		if _, ok := PIITypeDataPaths[pii]; !ok {
			errs = append(errs, FieldError{fmt.Sprintf("piiTypes[%d]", i), fmt.Sprintf("unknown PII type %q", pii)})
		}
	}
	for i, path := range p.DataPaths {
		if err := CheckFieldPath(path); err != nil {
			errs = append(errs, FieldError{fmt.Sprintf("dataPaths[%d]", i), err.Error()})
		}
	}
	if len(p.PIITypes) == 0 && len(p.DataPaths) == 0 {
		errs = append(errs, FieldError{"piiTypes", "piiTypes or dataPaths must be provided"})
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Days returns every calendar day in the request's date range, inclusive.
// The range must already be valid.
func (p RequestParams) Days() ([]time.Time, error) {
	from, err := time.Parse(DateLayout, p.DateFrom)
	if err != nil {
		return nil, fmt.Errorf("parse dateFrom: %w", err)
	}
	to, err := time.Parse(DateLayout, p.DateTo)
	if err != nil {
		return nil, fmt.Errorf("parse dateTo: %w", err)
	}
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}
