// Package crawl defines core types shared across subsystems.
package crawl

import (
	"net/http"
	"time"
)

// TaskState represents the lifecycle state of a crawl task.
type TaskState string

// Task state values persisted in the repository. Completed and Failed are
// terminal; a task transitions into exactly one of them exactly once.
const (
	StatePending     TaskState = "pending"
	StateScheduled   TaskState = "scheduled"
	StateFetching    TaskState = "fetching"
	StateExtracting  TaskState = "extracting"
	StateClassifying TaskState = "classifying"
	StateCompleted   TaskState = "completed"
	StateFailed      TaskState = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SubmitOptions captures per-task knobs requested by the client.
// Zero values defer to the configured defaults.
type SubmitOptions struct {
	Priority      int           `json:"priority"`
	MaxAttempts   int           `json:"max_attempts"`
	CrawlDelay    time.Duration `json:"crawl_delay"`
	RespectRobots *bool         `json:"respect_robots"`
	UserAgent     string        `json:"user_agent"`
	Headers       http.Header   `json:"headers"`
}

// Task is one unit of crawl work. It is owned exclusively by the scheduler
// until dispatched, by a worker for the fetching-through-classifying span,
// and returns to the scheduler for retry scheduling or terminal bookkeeping.
type Task struct {
	ID     string    `json:"id"`
	URL    string    `json:"url"`
	Domain string    `json:"domain"`
	State  TaskState `json:"state"`

	Priority    int `json:"priority"`
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`

	CrawlDelayOverride time.Duration `json:"crawl_delay_override,omitempty"`
	RespectRobots      bool          `json:"respect_robots"`
	UserAgent          string        `json:"user_agent,omitempty"`
	Headers            http.Header   `json:"headers,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	LastError *TaskError `json:"last_error,omitempty"`

	// Seq breaks priority ties by submission order.
	Seq uint64 `json:"-"`
}

// DomainState is the per-domain politeness bookkeeping shared by all tasks
// for one domain. It is mutated only under the domain registry lock.
type DomainState struct {
	Domain           string        `json:"domain"`
	CrawlDelay       time.Duration `json:"crawl_delay"`
	LastDispatchedAt time.Time     `json:"last_dispatched_at"`
	InFlight         int           `json:"in_flight"`
	RobotsFetchedAt  time.Time     `json:"robots_fetched_at"`
}

// ImageMeta describes one image found on a page.
type ImageMeta struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// LinkMeta describes one outbound link found on a page.
type LinkMeta struct {
	URL        string `json:"url"`
	AnchorText string `json:"anchor_text,omitempty"`
	Title      string `json:"title,omitempty"`
}

// TopicScore is one classifier result; Confidence is in [0,1].
type TopicScore struct {
	Topic      string   `json:"topic"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// PageMetadata is the immutable output of the extract/classify stages,
// persisted once per completed task.
type PageMetadata struct {
	Title         string       `json:"title,omitempty"`
	Description   string       `json:"description,omitempty"`
	Keywords      []string     `json:"keywords,omitempty"`
	Author        string       `json:"author,omitempty"`
	PublishedDate *time.Time   `json:"published_date,omitempty"`
	CanonicalURL  string       `json:"canonical_url,omitempty"`
	Language      string       `json:"language,omitempty"`
	ContentType   string       `json:"content_type,omitempty"`
	WordCount     int          `json:"word_count"`
	Images        []ImageMeta  `json:"images,omitempty"`
	Links         []LinkMeta   `json:"links,omitempty"`
	Topics        []TopicScore `json:"topics,omitempty"`
	ContentHash   string       `json:"content_hash,omitempty"`

	ResponseTimeMs int64 `json:"response_time_ms"`
	StatusCode     int   `json:"status_code"`

	BodyTruncated   bool `json:"body_truncated,omitempty"`
	ImagesTruncated bool `json:"images_truncated,omitempty"`
	LinksTruncated  bool `json:"links_truncated,omitempty"`
}

// FetchResult is returned by a Fetcher implementation.
type FetchResult struct {
	// FinalURL is the URL after following redirects; it seeds the
	// canonical URL unless the page declares its own.
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL       string
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
}

// ListFilter selects tasks for listing.
type ListFilter struct {
	State  TaskState
	Limit  int
	Offset int
}

// Snapshot returns a defensive copy safe to hand to callers.
func (t *Task) Snapshot() Task {
	cp := *t
	if t.Headers != nil {
		cp.Headers = t.Headers.Clone()
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		cp.CompletedAt = &done
	}
	if t.LastError != nil {
		le := *t.LastError
		cp.LastError = &le
	}
	return cp
}
