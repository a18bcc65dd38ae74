// Package scheduler owns the crawl queue, the per-domain politeness gate and
// the worker pool that drives tasks through fetch, extract and classify.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/crawl"
	"github.com/metascan/crawler/internal/metrics"
)

// Sentinel errors returned by the task operations.
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskFinished  = errors.New("task already in a terminal state")
	ErrBatchTooLarge = errors.New("batch exceeds the maximum size")
	ErrEmptyBatch    = errors.New("batch contains no urls")
)

// Extractor turns a fetched body into page metadata.
type Extractor interface {
	Extract(contentType, baseURL string, body []byte) (*crawl.PageMetadata, error)
}

// Classifier assigns topic scores to extracted metadata.
type Classifier interface {
	Classify(pageURL string, meta *crawl.PageMetadata) []crawl.TopicScore
}

// RobotsGate answers whether a URL may be fetched and how long to wait
// between requests to a domain.
type RobotsGate interface {
	DelaySource
	Allowed(ctx context.Context, rawURL, userAgent string) (bool, error)
}

// Config holds the scheduler tunables.
type Config struct {
	// MaxConcurrent caps fetches in flight across all domains.
	MaxConcurrent int
	// DomainConcurrency caps fetches in flight within one domain.
	DomainConcurrency int
	DefaultCrawlDelay time.Duration
	RequestTimeout    time.Duration
	MaxAttempts       int
	MaxBatch          int
	UserAgent         string
	RespectRobots     bool
}

// Deps are the collaborators the scheduler drives. All fields are required
// except Robots, which may be nil when robots handling is disabled.
type Deps struct {
	Fetcher    crawl.Fetcher
	Extractor  Extractor
	Classifier Classifier
	Robots     RobotsGate
	Repo       crawl.Repository
	Clock      crawl.Clock
	IDs        crawl.IDGenerator
	Policy     crawl.RetryPolicy
	Logger     *zap.Logger
}

// Scheduler accepts crawl tasks, holds them until their domain's politeness
// interval opens, and runs them through the fetch pipeline on a bounded
// worker pool. All exported methods are safe for concurrent use.
type Scheduler struct {
	cfg        Config
	fetcher    crawl.Fetcher
	extractor  Extractor
	classifier Classifier
	robots     RobotsGate
	repo       crawl.Repository
	clock      crawl.Clock
	ids        crawl.IDGenerator
	policy     crawl.RetryPolicy
	logger     *zap.Logger

	domains *domainRegistry

	mu       sync.Mutex
	tasks    map[string]*crawl.Task
	order    []string
	ready    *readyQueue
	delayed  *delayQueue
	canceled map[string]bool
	cancels  map[string]context.CancelFunc
	seq      uint64
	active   int

	work chan *crawl.Task
	wake chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler. Zero config fields fall back to safe defaults.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.DomainConcurrency < 1 {
		cfg.DomainConcurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = deps.Policy.MaxAttempts
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 1000
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Scheduler{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		robots:     deps.Robots,
		repo:       deps.Repo,
		clock:      deps.Clock,
		ids:        deps.IDs,
		policy:     deps.Policy,
		logger:     logger,
		domains:    newDomainRegistry(cfg.DefaultCrawlDelay, cfg.DomainConcurrency, deps.Robots, deps.Repo, logger),
		tasks:      make(map[string]*crawl.Task),
		ready:      newReadyQueue(),
		delayed:    newDelayQueue(),
		canceled:   make(map[string]bool),
		cancels:    make(map[string]context.CancelFunc),
		work:       make(chan *crawl.Task, cfg.MaxConcurrent),
		wake:       make(chan struct{}, 1),
	}
}

// Submit validates rawURL and enqueues a new pending task. The returned
// snapshot reflects the task as enqueued.
func (s *Scheduler) Submit(_ context.Context, rawURL string, opts crawl.SubmitOptions) (crawl.Task, error) {
	domain, err := taskDomain(rawURL)
	if err != nil {
		return crawl.Task{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawl.Task{}, fmt.Errorf("generate task id: %w", err)
	}

	now := s.clock.Now()
	respect := s.cfg.RespectRobots
	if opts.RespectRobots != nil {
		respect = *opts.RespectRobots
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = s.cfg.UserAgent
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = s.cfg.MaxAttempts
	}

	t := &crawl.Task{
		ID:                 id,
		URL:                rawURL,
		Domain:             domain,
		State:              crawl.StatePending,
		Priority:           opts.Priority,
		MaxAttempts:        maxAttempts,
		CrawlDelayOverride: opts.CrawlDelay,
		RespectRobots:      respect,
		UserAgent:          agent,
		SubmittedAt:        now,
		ScheduledAt:        now,
	}
	if opts.Headers != nil {
		t.Headers = opts.Headers.Clone()
	}

	s.mu.Lock()
	s.seq++
	t.Seq = s.seq
	s.tasks[id] = t
	s.order = append(s.order, id)
	s.ready.Push(t)
	s.mu.Unlock()
	s.wakeup()

	s.logger.Debug("task submitted",
		zap.String("task_id", id),
		zap.String("url", rawURL),
		zap.String("domain", domain),
		zap.Int("priority", t.Priority),
	)
	return t.Snapshot(), nil
}

// SubmitBatch enqueues one task per URL. The batch is validated as a whole
// before any task is created, so a single bad URL rejects the request.
func (s *Scheduler) SubmitBatch(ctx context.Context, urls []string, opts crawl.SubmitOptions) ([]crawl.Task, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(urls) > s.cfg.MaxBatch {
		return nil, fmt.Errorf("%w: %d urls, limit %d", ErrBatchTooLarge, len(urls), s.cfg.MaxBatch)
	}
	for i, raw := range urls {
		if _, err := taskDomain(raw); err != nil {
			return nil, fmt.Errorf("url %d: %w", i, err)
		}
	}
	tasks := make([]crawl.Task, 0, len(urls))
	for _, raw := range urls {
		t, err := s.Submit(ctx, raw, opts)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetTask returns a snapshot of the task with the given ID.
func (s *Scheduler) GetTask(id string) (crawl.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return crawl.Task{}, ErrTaskNotFound
	}
	return t.Snapshot(), nil
}

// ListTasks returns snapshots in submission order, optionally filtered by
// state, with offset/limit paging applied after filtering.
func (s *Scheduler) ListTasks(filter crawl.ListFilter) []crawl.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []crawl.Task
	skipped := 0
	for _, id := range s.order {
		t := s.tasks[id]
		if filter.State != "" && t.State != filter.State {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, t.Snapshot())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Cancel stops a task. Queued tasks fail immediately; in-flight tasks have
// their fetch context canceled and fail once the worker observes it.
// Canceling a terminal task returns ErrTaskFinished.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if t.State.Terminal() {
		s.mu.Unlock()
		return ErrTaskFinished
	}
	s.canceled[id] = true
	if t.State == crawl.StatePending {
		// Still queued; fail in place and let the heaps skip it.
		now := s.clock.Now()
		t.State = crawl.StateFailed
		t.LastError = crawl.NewTaskError(crawl.ErrCanceled, "canceled by client")
		t.CompletedAt = &now
		s.mu.Unlock()
		metrics.ObserveTask(string(crawl.StateFailed))
		if err := s.repo.SaveResult(ctx, id, nil, crawl.StateFailed); err != nil {
			s.logger.Warn("failed to persist canceled task", zap.String("task_id", id), zap.Error(err))
		}
		return nil
	}
	cancel := s.cancels[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Run starts the worker pool and the dispatch loop and blocks until ctx is
// canceled and all workers have drained.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		zap.Int("workers", s.cfg.MaxConcurrent),
		zap.Int("domain_concurrency", s.cfg.DomainConcurrency),
		zap.Duration("default_crawl_delay", s.cfg.DefaultCrawlDelay),
	)
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.dispatchLoop(ctx)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// dispatchLoop repeatedly drains the ready queue, then sleeps until either a
// politeness interval opens, a delayed task comes due, or a wakeup arrives.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	const idle = time.Hour

	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		wait := s.dispatch(ctx)
		if ctx.Err() != nil {
			return
		}
		if wait <= 0 {
			wait = idle
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatch admits as many ready tasks as global and per-domain limits allow
// and hands them to the worker pool. It returns how long the loop may sleep
// before the next task could become dispatchable, or zero when only a wakeup
// can unblock progress.
func (s *Scheduler) dispatch(ctx context.Context) time.Duration {
	now := s.clock.Now()

	s.mu.Lock()
	for s.delayed.Len() > 0 && !s.delayed.Peek().ScheduledAt.After(now) {
		s.ready.Push(s.delayed.Pop())
	}

	var toSend, blocked []*crawl.Task
	var minWait time.Duration
	for s.ready.Len() > 0 && s.active+len(toSend) < s.cfg.MaxConcurrent {
		t := s.ready.Pop()
		if t.State != crawl.StatePending {
			continue
		}
		ok, wait := s.domains.tryAdmit(ctx, t.Domain, now, t.CrawlDelayOverride)
		if !ok {
			blocked = append(blocked, t)
			if wait > 0 && (minWait == 0 || wait < minWait) {
				minWait = wait
			}
			continue
		}
		t.State = crawl.StateScheduled
		metrics.ObserveDomainWait(t.Domain, now.Sub(t.ScheduledAt))
		toSend = append(toSend, t)
	}
	for _, t := range blocked {
		s.ready.Push(t)
	}
	s.active += len(toSend)
	if s.delayed.Len() > 0 {
		if due := s.delayed.Peek().ScheduledAt.Sub(now); due > 0 && (minWait == 0 || due < minWait) {
			minWait = due
		}
	}
	depth := s.ready.Len() + s.delayed.Len()
	s.mu.Unlock()

	metrics.SetQueueDepth(depth)
	for _, t := range toSend {
		select {
		case s.work <- t:
		case <-ctx.Done():
			return 0
		}
	}
	return minWait
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.work:
			metrics.IncActiveWorkers()
			s.process(ctx, t)
			metrics.DecActiveWorkers()
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
			s.wakeup()
		}
	}
}

// process drives one admitted task through the pipeline. The domain slot
// claimed at dispatch is released as soon as the fetch finishes so that the
// extract and classify stages do not block the domain.
func (s *Scheduler) process(ctx context.Context, t *crawl.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.registerCancel(t.ID, cancel)
	defer s.unregisterCancel(t.ID)

	released := false
	release := func() {
		if !released {
			released = true
			s.domains.release(t.Domain)
			s.wakeup()
		}
	}
	defer release()

	if s.isCanceled(t.ID) {
		s.failTask(ctx, t, crawl.NewTaskError(crawl.ErrCanceled, "canceled by client"))
		return
	}

	if t.RespectRobots && s.robots != nil {
		allowed, err := s.robots.Allowed(taskCtx, t.URL, t.UserAgent)
		if err != nil {
			s.failTask(ctx, t, crawl.NewTaskError(crawl.ErrInvalidURL, err.Error()))
			return
		}
		if !allowed {
			metrics.ObserveRobotsDenied(t.Domain)
			s.failTask(ctx, t, crawl.NewTaskError(crawl.ErrRobotsDisallowed, "robots.txt disallows this url"))
			return
		}
	}

	s.startAttempt(t)

	res, err := s.fetcher.Fetch(taskCtx, crawl.FetchRequest{
		URL:       t.URL,
		UserAgent: t.UserAgent,
		Headers:   t.Headers,
		Timeout:   s.cfg.RequestTimeout,
	})
	release()
	s.domains.persist(ctx, t.Domain)
	if err != nil {
		metrics.ObserveFetch(t.Domain, "error", 0, 0)
		s.handleFailure(ctx, t, crawl.AsTaskError(err))
		return
	}
	metrics.ObserveFetch(t.Domain, strconv.Itoa(res.StatusCode), len(res.Body), res.Duration)
	if res.StatusCode >= http.StatusBadRequest {
		s.handleFailure(ctx, t, crawl.NewHTTPError(res.StatusCode, http.StatusText(res.StatusCode)))
		return
	}

	s.setState(t, crawl.StateExtracting)
	meta, err := s.extractor.Extract(res.Headers.Get("Content-Type"), res.FinalURL, res.Body)
	if err != nil {
		s.handleFailure(ctx, t, crawl.AsTaskError(err))
		return
	}
	meta.StatusCode = res.StatusCode
	meta.ResponseTimeMs = res.Duration.Milliseconds()
	meta.BodyTruncated = res.Truncated
	if meta.CanonicalURL == "" {
		meta.CanonicalURL = res.FinalURL
	}

	s.setState(t, crawl.StateClassifying)
	meta.Topics = s.classifier.Classify(res.FinalURL, meta)

	if err := s.repo.SaveResult(ctx, t.ID, meta, crawl.StateCompleted); err != nil {
		s.handleFailure(ctx, t, crawl.NewTaskError(crawl.ErrPersistence, err.Error()))
		return
	}
	s.completeTask(t)
}

// handleFailure consults the retry policy and either requeues the task with
// backoff or fails it terminally. A canceled task always fails terminally
// regardless of the error that surfaced the cancellation.
func (s *Scheduler) handleFailure(ctx context.Context, t *crawl.Task, te *crawl.TaskError) {
	if s.isCanceled(t.ID) {
		te = crawl.NewTaskError(crawl.ErrCanceled, "canceled by client")
	}

	s.mu.Lock()
	attempt := t.Attempt
	s.mu.Unlock()

	decision := s.policy.Decide(te, attempt, t.MaxAttempts)
	if !decision.Retry {
		s.failTask(ctx, t, te)
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	t.State = crawl.StatePending
	t.LastError = te
	t.ScheduledAt = now.Add(decision.Delay)
	s.delayed.Push(t)
	s.mu.Unlock()
	metrics.ObserveRetry()
	s.wakeup()

	s.logger.Info("task requeued",
		zap.String("task_id", t.ID),
		zap.String("url", t.URL),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", decision.Delay),
		zap.String("error", te.Error()),
	)
}

func (s *Scheduler) failTask(ctx context.Context, t *crawl.Task, te *crawl.TaskError) {
	now := s.clock.Now()
	s.mu.Lock()
	if t.State.Terminal() {
		s.mu.Unlock()
		return
	}
	t.State = crawl.StateFailed
	t.LastError = te
	t.CompletedAt = &now
	s.mu.Unlock()
	metrics.ObserveTask(string(crawl.StateFailed))

	if err := s.repo.SaveResult(ctx, t.ID, nil, crawl.StateFailed); err != nil {
		s.logger.Warn("failed to persist failed task", zap.String("task_id", t.ID), zap.Error(err))
	}
	s.logger.Info("task failed",
		zap.String("task_id", t.ID),
		zap.String("url", t.URL),
		zap.String("error", te.Error()),
	)
}

func (s *Scheduler) completeTask(t *crawl.Task) {
	now := s.clock.Now()
	s.mu.Lock()
	t.State = crawl.StateCompleted
	t.CompletedAt = &now
	s.mu.Unlock()
	metrics.ObserveTask(string(crawl.StateCompleted))

	s.logger.Info("task completed",
		zap.String("task_id", t.ID),
		zap.String("url", t.URL),
		zap.Int("attempts", t.Attempt),
	)
}

// startAttempt marks the transition into fetching and counts the attempt.
func (s *Scheduler) startAttempt(t *crawl.Task) {
	now := s.clock.Now()
	s.mu.Lock()
	t.Attempt++
	t.State = crawl.StateFetching
	t.StartedAt = &now
	s.mu.Unlock()
}

func (s *Scheduler) setState(t *crawl.Task, state crawl.TaskState) {
	s.mu.Lock()
	t.State = state
	s.mu.Unlock()
}

func (s *Scheduler) isCanceled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled[id]
}

func (s *Scheduler) registerCancel(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
}

func (s *Scheduler) unregisterCancel(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// taskDomain validates rawURL and returns its lowercase host. Only absolute
// http and https URLs are crawlable.
func taskDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", crawl.NewTaskError(crawl.ErrInvalidURL, fmt.Sprintf("parse %q: %v", rawURL, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", crawl.NewTaskError(crawl.ErrInvalidURL, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", crawl.NewTaskError(crawl.ErrInvalidURL, "missing host")
	}
	return strings.ToLower(u.Hostname()), nil
}
