package wizard

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWorkflowNotFound is returned when no context exists for a workflow id.
var ErrWorkflowNotFound = errors.New("wizard: workflow not found")

// SessionStore durably holds WorkflowContext values between stage requests.
// Every stage does read, mutate, save; there is no cross-request locking for
// a single workflow id, so concurrent submissions from multiple tabs are
// last-write-wins.
type SessionStore interface {
	Get(ctx context.Context, id string) (*WorkflowContext, error)
	Save(ctx context.Context, wc *WorkflowContext) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process SessionStore for tests and single-node dev.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]WorkflowContext
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]WorkflowContext)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*WorkflowContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wc, ok := s.contexts[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	cp := wc
	cp.Grants = append([]GrantRequest(nil), wc.Grants...)
	if wc.Options != nil {
		opts := *wc.Options
		cp.Options = &opts
	}
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, wc *WorkflowContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wc
	cp.Grants = append([]GrantRequest(nil), wc.Grants...)
	if wc.Options != nil {
		opts := *wc.Options
		cp.Options = &opts
	}
	cp.UpdatedAt = time.Now().UTC()
	s.contexts[wc.ID] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
	return nil
}
