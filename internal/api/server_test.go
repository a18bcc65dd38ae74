package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/classify"
	"github.com/metascan/crawler/internal/clock/system"
	"github.com/metascan/crawler/internal/crawl"
	"github.com/metascan/crawler/internal/extract"
	"github.com/metascan/crawler/internal/hash/sha256"
	"github.com/metascan/crawler/internal/id/uuid"
	"github.com/metascan/crawler/internal/scheduler"
	"github.com/metascan/crawler/internal/storage/memory"
)

type noopFetcher struct{}

func (noopFetcher) Fetch(context.Context, crawl.FetchRequest) (crawl.FetchResult, error) {
	return crawl.FetchResult{}, crawl.NewTaskError(crawl.ErrFetchConnection, "not wired in tests")
}

// newTestServer builds a server over a scheduler that is never started, so
// submitted tasks stay queued and handler behavior is deterministic.
func newTestServer(t *testing.T) (*Server, *scheduler.Scheduler, *memory.Repository) {
	t.Helper()

	repo := memory.NewRepository()
	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: 2,
		MaxBatch:      3,
		UserAgent:     "metascan-test/1.0",
	}, scheduler.Deps{
		Fetcher:    noopFetcher{},
		Extractor:  extract.New(extract.Config{}, sha256.New(), zap.NewNop()),
		Classifier: classify.New(classify.Config{}, classify.DefaultTaxonomy()),
		Repo:       repo,
		Clock:      system.New(),
		IDs:        uuid.New(),
		Policy:     crawl.DefaultRetryPolicy(),
		Logger:     zap.NewNop(),
	})
	return NewServer(sched, repo, zap.NewNop()), sched, repo
}

func postJSON(t *testing.T, server *Server, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitCrawl_Succeeds(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := postJSON(t, server, "/v1/crawl", `{"url":"https://example.com/page","priority":3}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp struct {
		Task crawl.Task `json:"task"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Task.ID)
	require.Equal(t, "example.com", resp.Task.Domain)
	require.Equal(t, 3, resp.Task.Priority)
	require.Equal(t, crawl.StatePending, resp.Task.State)
}

func TestServer_SubmitCrawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := postJSON(t, server, "/v1/crawl", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitCrawl_MissingURL(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := postJSON(t, server, "/v1/crawl", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "url required")
}

func TestServer_SubmitCrawl_InvalidURL(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := postJSON(t, server, "/v1/crawl", `{"url":"ftp://example.com/file"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "scheme")
}

func TestServer_SubmitBatch(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	rec := postJSON(t, server, "/v1/crawl/batch",
		`{"urls":["https://a.example.com/","https://b.example.com/"],"priority":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Tasks []crawl.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.Len(t, resp.Tasks, 2)

	rec = postJSON(t, server, "/v1/crawl/batch", `{"urls":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, server, "/v1/crawl/batch",
		`{"urls":["https://a.example.com/","https://b.example.com/","https://c.example.com/","https://d.example.com/"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "batch exceeds")
}

func TestServer_GetTask(t *testing.T) {
	t.Parallel()

	server, sched, _ := newTestServer(t)
	task, err := sched.Submit(context.Background(), "https://example.com/x", crawl.SubmitOptions{})
	require.NoError(t, err)

	rec := get(t, server, "/v1/tasks/"+task.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), task.ID)

	rec = get(t, server, "/v1/tasks/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListTasks(t *testing.T) {
	t.Parallel()

	server, sched, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		_, err := sched.Submit(context.Background(),
			fmt.Sprintf("https://example.com/p/%d", i), crawl.SubmitOptions{})
		require.NoError(t, err)
	}

	rec := get(t, server, "/v1/tasks/?state=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tasks []crawl.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)

	rec = get(t, server, "/v1/tasks/?limit=2&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	rec = get(t, server, "/v1/tasks/?limit=zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, server, "/v1/tasks/?state=completed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Count)
}

func TestServer_CancelTask(t *testing.T) {
	t.Parallel()

	server, sched, _ := newTestServer(t)
	task, err := sched.Submit(context.Background(), "https://example.com/y", crawl.SubmitOptions{})
	require.NoError(t, err)

	rec := postJSON(t, server, "/v1/tasks/"+task.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := sched.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StateFailed, got.State)

	rec = postJSON(t, server, "/v1/tasks/"+task.ID+"/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = postJSON(t, server, "/v1/tasks/nope/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetResult(t *testing.T) {
	t.Parallel()

	server, sched, repo := newTestServer(t)
	task, err := sched.Submit(context.Background(), "https://example.com/z", crawl.SubmitOptions{})
	require.NoError(t, err)

	// Not finished yet.
	rec := get(t, server, "/v1/tasks/"+task.ID+"/result")
	require.Equal(t, http.StatusConflict, rec.Code)

	// Simulate a completed task with a persisted result.
	meta := &crawl.PageMetadata{Title: "Example", StatusCode: http.StatusOK, WordCount: 42}
	require.NoError(t, repo.SaveResult(context.Background(), task.ID, meta, crawl.StateCompleted))
	require.NoError(t, sched.Cancel(context.Background(), task.ID))

	rec = get(t, server, "/v1/tasks/"+task.ID+"/result")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"final_state"`)

	rec = get(t, server, "/v1/tasks/nope/result")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := get(t, server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, server, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	start := time.Now()
	rec = get(t, server, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Less(t, time.Since(start), 5*time.Second)
}
