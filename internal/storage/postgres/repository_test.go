package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/metascan/crawler/internal/crawl"
)

func TestSaveResultUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewRepositoryWithPool(mock, "crawl_results", "crawl_domains")
	require.NoError(t, err)

	meta := &crawl.PageMetadata{
		Title:       "Example Domain",
		StatusCode:  200,
		ContentHash: "abc123",
		WordCount:   42,
	}
	metaJSON, err := json.Marshal(meta)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs("task-1", "completed", 200, "abc123", metaJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveResult(context.Background(), "task-1", meta, crawl.StateCompleted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResultIdempotentReplay(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewRepositoryWithPool(mock, "", "")
	require.NoError(t, err)

	meta := &crawl.PageMetadata{StatusCode: 200}
	metaJSON, err := json.Marshal(meta)
	require.NoError(t, err)

	// Replaying the same task ID runs the same upsert, not a second insert.
	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO crawl_results").
			WithArgs("task-1", "completed", 200, "", metaJSON).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, repo.SaveResult(context.Background(), "task-1", meta, crawl.StateCompleted))
	require.NoError(t, repo.SaveResult(context.Background(), "task-1", meta, crawl.StateCompleted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadResultScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewRepositoryWithPool(mock, "", "")
	require.NoError(t, err)

	stored := &crawl.PageMetadata{Title: "Example", StatusCode: 200}
	metaJSON, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT final_state, metadata FROM crawl_results").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"final_state", "metadata"}).AddRow("completed", metaJSON))

	meta, state, err := repo.LoadResult(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, crawl.StateCompleted, state)
	require.Equal(t, "Example", meta.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDomainStateRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewRepositoryWithPool(mock, "", "")
	require.NoError(t, err)

	dispatched := time.Unix(1700000000, 0).UTC()
	fetched := time.Unix(1690000000, 0).UTC()
	state := crawl.DomainState{
		Domain:           "example.com",
		CrawlDelay:       1500 * time.Millisecond,
		LastDispatchedAt: dispatched,
		RobotsFetchedAt:  fetched,
	}

	mock.ExpectExec("INSERT INTO crawl_domains").
		WithArgs("example.com", int64(1500), dispatched, fetched).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.SaveDomainState(context.Background(), state))

	mock.ExpectQuery("SELECT crawl_delay_ms, last_dispatched_at, robots_fetched_at FROM crawl_domains").
		WithArgs("example.com").
		WillReturnRows(pgxmock.NewRows([]string{"crawl_delay_ms", "last_dispatched_at", "robots_fetched_at"}).
			AddRow(int64(1500), dispatched, fetched))

	got, err := repo.LoadDomainState(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, state, *got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRepositoryRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRepositoryWithPool(mock, "results; DROP TABLE", "")
	require.Error(t, err)
}
