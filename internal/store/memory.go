package store

import (
	"context"
	"sync"

	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

// Memory is an in-process store with the same conditional semantics as
// Dynamo. It backs tests and local runs.
type Memory struct {
	mu        sync.Mutex
	records   map[string]model.RequestRecord
	downloads map[string]model.SecureDownloadRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]model.RequestRecord),
		downloads: make(map[string]model.SecureDownloadRecord),
	}
}

func (m *Memory) PutIfAbsent(_ context.Context, rec model.RequestRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.TicketID]; ok {
		return false, nil
	}
	m.records[rec.TicketID] = cloneRecord(rec)
	return true, nil
}

func (m *Memory) Get(_ context.Context, ticketID string) (model.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ticketID]
	if !ok {
		return model.RequestRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Update(_ context.Context, ticketID string, fn Mutator) (model.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[ticketID]
	if !ok {
		return model.RequestRecord{}, ErrNotFound
	}
	next := cloneRecord(cur)
	if err := fn(&next); err != nil {
		return model.RequestRecord{}, err
	}
	next.TicketID = cur.TicketID
	next.Version = cur.Version + 1
	m.records[ticketID] = next
	return cloneRecord(next), nil
}

func (m *Memory) FindByQueryID(_ context.Context, queryID string) (model.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.QueryID == queryID {
			return cloneRecord(rec), nil
		}
	}
	return model.RequestRecord{}, ErrNotFound
}

func (m *Memory) PutDownload(_ context.Context, rec model.SecureDownloadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.downloads[rec.DownloadHash]; ok {
		return ErrExists
	}
	m.downloads[rec.DownloadHash] = rec
	return nil
}

// Download returns the secure download record for hash.
func (m *Memory) Download(hash string) (model.SecureDownloadRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.downloads[hash]
	return rec, ok
}

// Downloads returns every secure download record.
func (m *Memory) Downloads() []model.SecureDownloadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SecureDownloadRecord, 0, len(m.downloads))
	for _, d := range m.downloads {
		out = append(out, d)
	}
	return out
}
