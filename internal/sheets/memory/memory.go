// Package memory is an in-process ledger mirror used for local development
// and tests, where a real spreadsheet would be overkill.
package memory

import (
	"context"
	"fmt"
	"sync"

	"ricorrenze/internal/core"
)

type Store struct {
	mu    sync.Mutex
	items []core.TransactionInstance
}

func New() *Store {
	return &Store{}
}

// AppendInstance stores the instance and returns a synthetic row reference.
func (s *Store) AppendInstance(_ context.Context, instance core.TransactionInstance) (string, error) {
	if err := instance.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, instance)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Items returns a copy of everything appended so far.
func (s *Store) Items() []core.TransactionInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.TransactionInstance(nil), s.items...)
}
