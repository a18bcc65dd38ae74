package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/crawl"
)

// DelaySource reports the effective crawl delay for a domain, typically the
// politeness cache which folds in any robots.txt Crawl-delay directive.
type DelaySource interface {
	EffectiveDelay(domain string) time.Duration
}

// domainRegistry enforces per-domain politeness. Admission is atomic: the
// interval check against lastDispatchedAt and the in-flight cap check happen
// under one lock, so two workers can never both win a dispatch slot for the
// same domain.
type domainRegistry struct {
	mu     sync.Mutex
	states map[string]*crawl.DomainState

	defaultDelay time.Duration
	concurrency  int
	delays       DelaySource
	repo         crawl.Repository
	logger       *zap.Logger
}

func newDomainRegistry(defaultDelay time.Duration, concurrency int, delays DelaySource, repo crawl.Repository, logger *zap.Logger) *domainRegistry {
	if concurrency < 1 {
		concurrency = 1
	}
	return &domainRegistry{
		states:       make(map[string]*crawl.DomainState),
		defaultDelay: defaultDelay,
		concurrency:  concurrency,
		delays:       delays,
		repo:         repo,
		logger:       logger,
	}
}

// tryAdmit attempts to claim a dispatch slot for domain at now. The task's
// per-task delay override, when set, wins over the domain's effective delay.
// On success it records the dispatch and returns admitted = true. Otherwise
// it returns the duration until the politeness interval opens, or zero when
// the domain is blocked on its in-flight cap and must wait for a release.
func (r *domainRegistry) tryAdmit(ctx context.Context, domain string, now time.Time, override time.Duration) (admitted bool, wait time.Duration) {
	delay := override
	if delay <= 0 {
		delay = r.effectiveDelay(domain)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[domain]
	if !ok {
		st = r.seed(ctx, domain)
		r.states[domain] = st
	}
	st.CrawlDelay = delay

	if st.InFlight >= r.concurrency {
		return false, 0
	}
	if !st.LastDispatchedAt.IsZero() {
		if elapsed := now.Sub(st.LastDispatchedAt); elapsed < delay {
			return false, delay - elapsed
		}
	}

	st.LastDispatchedAt = now
	st.InFlight++
	return true, 0
}

// seed builds the state for a domain the registry has not seen since
// startup, restoring persisted bookkeeping so a restarted engine keeps
// honoring the interval of a domain it dispatched to just before going down.
// A load miss or error means a fresh domain.
func (r *domainRegistry) seed(ctx context.Context, domain string) *crawl.DomainState {
	st := &crawl.DomainState{Domain: domain, CrawlDelay: r.defaultDelay}
	if r.repo == nil {
		return st
	}
	stored, err := r.repo.LoadDomainState(ctx, domain)
	if err != nil || stored == nil {
		if err != nil {
			r.logger.Debug("no stored domain state", zap.String("domain", domain), zap.Error(err))
		}
		return st
	}
	st.LastDispatchedAt = stored.LastDispatchedAt
	st.RobotsFetchedAt = stored.RobotsFetchedAt
	// InFlight is not restored; fetches do not survive a restart.
	return st
}

// release frees the in-flight slot claimed by tryAdmit. It is called when
// the fetch for the admitted task completes, successfully or not.
func (r *domainRegistry) release(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[domain]; ok && st.InFlight > 0 {
		st.InFlight--
	}
}

// snapshot returns a copy of the domain's state, if known.
func (r *domainRegistry) snapshot(domain string) (crawl.DomainState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[domain]
	if !ok {
		return crawl.DomainState{}, false
	}
	return *st, true
}

// persist writes the domain's politeness bookkeeping through the repository
// so a restarted engine does not hammer a domain it crawled moments ago.
func (r *domainRegistry) persist(ctx context.Context, domain string) {
	if r.repo == nil {
		return
	}
	st, ok := r.snapshot(domain)
	if !ok {
		return
	}
	if err := r.repo.SaveDomainState(ctx, st); err != nil {
		r.logger.Warn("failed to persist domain state", zap.String("domain", domain), zap.Error(err))
	}
}

func (r *domainRegistry) effectiveDelay(domain string) time.Duration {
	if r.delays != nil {
		if d := r.delays.EffectiveDelay(domain); d > 0 {
			return d
		}
	}
	return r.defaultDelay
}
