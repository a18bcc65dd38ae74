// Package fetch implements the bounded HTTP retrieval used by the crawl
// pipeline and the robots.txt probe.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/crawl"
)

// Config controls Fetcher behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int64
	MaxRedirects int
	// StrictContentSize rejects oversized bodies as a too-large fetch error
	// instead of truncating them and flagging the result.
	StrictContentSize bool
	AcceptHeader      string
	AcceptLanguage    string
}

// Fetcher performs HTTP GETs with timeout, body size and redirect bounds.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
}

var errTooManyRedirects = errors.New("redirect limit reached")

// New constructs a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 * 1024 * 1024
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.AcceptHeader == "" {
		cfg.AcceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = "en-US,en;q=0.5"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
	return &Fetcher{client: client, cfg: cfg, logger: logger}
}

// Fetch retrieves req.URL. Transport failures are returned as classified
// *crawl.TaskError values; an HTTP response of any status is a successful
// fetch at this layer, with the status left to the caller to judge.
func (f *Fetcher) Fetch(ctx context.Context, req crawl.FetchRequest) (crawl.FetchResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return crawl.FetchResult{}, crawl.NewTaskError(crawl.ErrInvalidURL, fmt.Sprintf("build request: %v", err))
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	ua := req.UserAgent
	if ua == "" {
		ua = f.cfg.UserAgent
	}
	httpReq.Header.Set("User-Agent", ua)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", f.cfg.AcceptHeader)
	}
	if httpReq.Header.Get("Accept-Language") == "" {
		httpReq.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return crawl.FetchResult{}, f.classify(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Debug("response body close failed", zap.String("url", req.URL), zap.Error(closeErr))
		}
	}()

	// Read one byte past the cap so truncation is detectable without
	// buffering an unbounded body.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize+1))
	if err != nil {
		return crawl.FetchResult{}, f.classify(err)
	}
	truncated := false
	if int64(len(body)) > f.cfg.MaxBodySize {
		if f.cfg.StrictContentSize {
			return crawl.FetchResult{}, crawl.NewTaskError(crawl.ErrFetchTooLarge,
				fmt.Sprintf("body exceeds %d bytes", f.cfg.MaxBodySize))
		}
		body = body[:f.cfg.MaxBodySize]
		truncated = true
		f.logger.Warn("response body truncated",
			zap.String("url", req.URL),
			zap.Int64("cap_bytes", f.cfg.MaxBodySize),
		)
	}

	result := crawl.FetchResult{
		FinalURL:   req.URL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Truncated:  truncated,
		Duration:   time.Since(start),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}
	return result, nil
}

func (f *Fetcher) classify(err error) *crawl.TaskError {
	if errors.Is(err, errTooManyRedirects) {
		return crawl.NewTaskError(crawl.ErrTooManyRedirects, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawl.NewTaskError(crawl.ErrFetchTimeout, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawl.NewTaskError(crawl.ErrFetchTimeout, err.Error())
	}
	return crawl.NewTaskError(crawl.ErrFetchConnection, err.Error())
}
