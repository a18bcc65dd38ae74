// Package politeness caches per-domain robots.txt rules and crawl delays.
package politeness

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/crawl"
)

// Config controls Cache behavior.
type Config struct {
	UserAgent    string
	DefaultDelay time.Duration
	TTL          time.Duration
	FetchTimeout time.Duration
	// FailClosed disallows fetches when robots.txt cannot be retrieved.
	// The default is fail-open: an unavailable robots.txt means no
	// restrictions, with the negative result cached for the normal TTL.
	FailClosed bool
}

type entry struct {
	mu        sync.Mutex
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	delay     time.Duration
	failed    bool
}

// Cache lazily fetches and caches robots.txt per domain.
type Cache struct {
	fetcher crawl.Fetcher
	clock   crawl.Clock
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs a Cache.
func New(fetcher crawl.Fetcher, clock crawl.Clock, cfg Config, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		fetcher: fetcher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Allowed reports whether rawURL may be fetched for the given user-agent.
// The domain's robots.txt is fetched lazily on first reference and after TTL
// expiry.
func (c *Cache) Allowed(ctx context.Context, rawURL, userAgent string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	e := c.refresh(ctx, u)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed || e.data == nil {
		return !c.cfg.FailClosed, nil
	}
	if userAgent == "" {
		userAgent = c.cfg.UserAgent
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return e.data.FindGroup(userAgent).Test(path), nil
}

// EffectiveDelay returns the delay to respect between requests to domain:
// the robots.txt Crawl-delay when known, the configured default otherwise.
// It never triggers a fetch; unknown domains get the default until their
// robots.txt has been referenced through Allowed.
func (c *Cache) EffectiveDelay(domain string) time.Duration {
	c.mu.Lock()
	e, ok := c.entries[strings.ToLower(domain)]
	c.mu.Unlock()
	if !ok {
		return c.cfg.DefaultDelay
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.delay > 0 {
		return e.delay
	}
	return c.cfg.DefaultDelay
}

// refresh returns the entry for u's host, fetching robots.txt if the cached
// copy is absent or expired. The per-entry lock makes concurrent callers for
// one domain share a single fetch.
func (c *Cache) refresh(ctx context.Context, u *url.URL) *entry {
	key := strings.ToLower(u.Host)
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	now := c.clock.Now()
	if !e.fetchedAt.IsZero() && now.Sub(e.fetchedAt) < c.cfg.TTL {
		return e
	}

	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	res, err := c.fetcher.Fetch(ctx, crawl.FetchRequest{
		URL:       robotsURL,
		UserAgent: c.cfg.UserAgent,
		Timeout:   c.cfg.FetchTimeout,
	})
	e.fetchedAt = now
	if err != nil || res.StatusCode >= 500 {
		// Negative result is cached for the full TTL to avoid fetch storms.
		e.failed = true
		e.data = nil
		e.delay = 0
		c.logger.Warn("robots.txt unavailable",
			zap.String("domain", key),
			zap.Bool("fail_closed", c.cfg.FailClosed),
			zap.Error(err),
		)
		return e
	}

	data, parseErr := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if parseErr != nil {
		e.failed = true
		e.data = nil
		e.delay = 0
		c.logger.Warn("robots.txt parse failed", zap.String("domain", key), zap.Error(parseErr))
		return e
	}
	e.failed = false
	e.data = data
	e.delay = data.FindGroup(c.cfg.UserAgent).CrawlDelay
	return e
}
