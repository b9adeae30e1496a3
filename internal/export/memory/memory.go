// Package memory keeps audit records in memory, for tests and local runs
// without Sheets credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"buget/internal/export"
)

type Store struct {
	mu   sync.Mutex
	rows []export.AuditRecord
}

var _ export.AuditAppender = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the record and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, rec export.AuditRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rec)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []export.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]export.AuditRecord(nil), s.rows...)
}
