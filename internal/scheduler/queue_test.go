package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metascan/crawler/internal/crawl"
)

func task(id string, priority int, scheduledAt time.Time, seq uint64) *crawl.Task {
	return &crawl.Task{
		ID:          id,
		State:       crawl.StatePending,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		Seq:         seq,
	}
}

func TestReadyQueueOrdering(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q := newReadyQueue()
	q.Push(task("low-late", 1, base.Add(time.Second), 4))
	q.Push(task("high", 9, base.Add(time.Minute), 1))
	q.Push(task("mid-early", 5, base, 2))
	q.Push(task("mid-late", 5, base.Add(time.Second), 3))
	q.Push(task("mid-tie", 5, base, 5))

	var got []string
	for q.Len() > 0 {
		got = append(got, q.Pop().ID)
	}
	// Priority first, then earlier scheduled time, then submission order.
	require.Equal(t, []string{"high", "mid-early", "mid-tie", "mid-late", "low-late"}, got)
}

func TestReadyQueuePopEmpty(t *testing.T) {
	t.Parallel()

	q := newReadyQueue()
	require.Nil(t, q.Pop())
	require.Zero(t, q.Len())
}

func TestDelayQueueOrdersByDueTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	q := newDelayQueue()
	q.Push(task("later", 9, base.Add(time.Minute), 1))
	q.Push(task("soon", 1, base.Add(time.Second), 2))
	q.Push(task("now", 5, base, 3))

	require.Equal(t, "now", q.Peek().ID)
	require.Equal(t, "now", q.Pop().ID)
	require.Equal(t, "soon", q.Pop().ID)
	require.Equal(t, "later", q.Pop().ID)
	require.Nil(t, q.Peek())
}
