// Package store persists request records and secure download records.
//
// Records are keyed by ticket id. The only synchronisation is conditional
// writes on that key: create-if-absent for new records and a version check
// for updates.
package store

import (
	"errors"

	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a conditional update lost a race. Callers
	// should let the event be redelivered.
	ErrConflict = errors.New("store: concurrent modification")
	// ErrExists is returned when a create-if-absent write finds an item.
	ErrExists = errors.New("store: record already exists")
)

// Mutator edits a record in place. Returning an error aborts the update and
// the error is passed back to the caller unchanged.
type Mutator func(rec *model.RequestRecord) error

func cloneRecord(r model.RequestRecord) model.RequestRecord {
	out := r
	out.History = append([]model.StateChange(nil), r.History...)
	out.RequestInfo.Identifiers = append([]string(nil), r.RequestInfo.Identifiers...)
	out.RequestInfo.PIITypes = append([]string(nil), r.RequestInfo.PIITypes...)
	out.RequestInfo.DataPaths = append([]string(nil), r.RequestInfo.DataPaths...)
	return out
}
