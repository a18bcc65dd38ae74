package crawl

import (
	"context"
	"time"
)

// Fetcher retrieves a URL and returns the body plus transport metadata.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// Repository is the durable persistence boundary. SaveResult must be
// idempotent on task ID so that a retried write after a crash does not
// duplicate results; SaveDomainState is idempotent on domain.
type Repository interface {
	SaveResult(ctx context.Context, taskID string, meta *PageMetadata, finalState TaskState) error
	LoadResult(ctx context.Context, taskID string) (*PageMetadata, TaskState, error)
	LoadDomainState(ctx context.Context, domain string) (*DomainState, error)
	SaveDomainState(ctx context.Context, state DomainState) error
}

// Clock returns the current time (swapped out in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests for dedup detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}
