package memory

import (
	"context"
	"fmt"
	"sync"

	ports "octopus/internal/sheets"
)

// Store keeps summary rows in memory. One row per period; a second export
// of the same period replaces it.
type Store struct {
	mu   sync.Mutex
	rows []ports.SummaryRow
}

var (
	_ ports.SummaryWriter = (*Store)(nil)
	_ ports.SummaryLister = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

// AppendSummary stores the row and returns a synthetic row reference.
func (s *Store) AppendSummary(_ context.Context, row ports.SummaryRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].Period == row.Period {
			s.rows[i] = row
			return fmt.Sprintf("mem:%d", i+1), nil
		}
	}
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// ListSummaries returns a copy of the stored rows.
func (s *Store) ListSummaries(_ context.Context) ([]ports.SummaryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.SummaryRow(nil), s.rows...), nil
}
