// Package memory provides an in-memory repository for development/testing.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/metascan/crawler/internal/crawl"
)

// ErrNotFound is returned when no result exists for a task ID.
var ErrNotFound = errors.New("not found")

type storedResult struct {
	meta  *crawl.PageMetadata
	state crawl.TaskState
}

// Repository implements crawl.Repository with maps; writes are idempotent on
// task ID and domain, matching the durable implementations.
type Repository struct {
	mu      sync.RWMutex
	results map[string]storedResult
	domains map[string]crawl.DomainState
}

// NewRepository constructs a Repository.
func NewRepository() *Repository {
	return &Repository{
		results: make(map[string]storedResult),
		domains: make(map[string]crawl.DomainState),
	}
}

// SaveResult upserts the final record for a task. Saving the same task ID
// twice leaves exactly one stored result.
func (r *Repository) SaveResult(_ context.Context, taskID string, meta *crawl.PageMetadata, finalState crawl.TaskState) error {
	if taskID == "" {
		return errors.New("task id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[taskID] = storedResult{meta: meta, state: finalState}
	return nil
}

// LoadResult fetches a stored result by task ID.
func (r *Repository) LoadResult(_ context.Context, taskID string) (*crawl.PageMetadata, crawl.TaskState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.results[taskID]
	if !ok {
		return nil, "", ErrNotFound
	}
	return stored.meta, stored.state, nil
}

// SaveDomainState upserts politeness bookkeeping for a domain.
func (r *Repository) SaveDomainState(_ context.Context, state crawl.DomainState) error {
	if state.Domain == "" {
		return errors.New("domain is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[state.Domain] = state
	return nil
}

// LoadDomainState fetches a domain's state, or ErrNotFound.
func (r *Repository) LoadDomainState(_ context.Context, domain string) (*crawl.DomainState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.domains[domain]
	if !ok {
		return nil, ErrNotFound
	}
	cp := state
	return &cp, nil
}

// ResultCount reports how many results are stored (test helper).
func (r *Repository) ResultCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.results)
}
