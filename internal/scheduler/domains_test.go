package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/crawl"
	"github.com/metascan/crawler/internal/storage/memory"
)

type fixedDelay time.Duration

func (d fixedDelay) EffectiveDelay(string) time.Duration {
	return time.Duration(d)
}

func TestDomainRegistryPolitenessInterval(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newDomainRegistry(time.Second, 2, nil, nil, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	admitted, _ := reg.tryAdmit(ctx, "example.com", now, 0)
	require.True(t, admitted, "first dispatch is always eligible")

	admitted, wait := reg.tryAdmit(ctx, "example.com", now.Add(300*time.Millisecond), 0)
	require.False(t, admitted)
	require.Equal(t, 700*time.Millisecond, wait)

	admitted, _ = reg.tryAdmit(ctx, "example.com", now.Add(time.Second), 0)
	require.True(t, admitted, "interval boundary is inclusive")
}

func TestDomainRegistryConcurrencyCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newDomainRegistry(0, 2, nil, nil, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	admitted, _ := reg.tryAdmit(ctx, "example.com", now, 0)
	require.True(t, admitted)
	admitted, _ = reg.tryAdmit(ctx, "example.com", now.Add(time.Millisecond), 0)
	require.True(t, admitted)

	// Cap reached; wait is zero because only a release can unblock.
	admitted, wait := reg.tryAdmit(ctx, "example.com", now.Add(time.Hour), 0)
	require.False(t, admitted)
	require.Zero(t, wait)

	reg.release("example.com")
	admitted, _ = reg.tryAdmit(ctx, "example.com", now.Add(time.Hour), 0)
	require.True(t, admitted)
}

func TestDomainRegistryPerTaskOverrideWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newDomainRegistry(time.Second, 4, fixedDelay(10*time.Second), nil, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	admitted, _ := reg.tryAdmit(ctx, "example.com", now, 0)
	require.True(t, admitted)

	// The robots-derived delay is 10s, the task override 100ms.
	admitted, wait := reg.tryAdmit(ctx, "example.com", now.Add(50*time.Millisecond), 100*time.Millisecond)
	require.False(t, admitted)
	require.Equal(t, 50*time.Millisecond, wait)

	admitted, _ = reg.tryAdmit(ctx, "example.com", now.Add(100*time.Millisecond), 100*time.Millisecond)
	require.True(t, admitted)
}

func TestDomainRegistryDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newDomainRegistry(time.Minute, 1, nil, nil, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	admitted, _ := reg.tryAdmit(ctx, "a.example.com", now, 0)
	require.True(t, admitted)
	admitted, _ = reg.tryAdmit(ctx, "b.example.com", now, 0)
	require.True(t, admitted, "another domain is not affected by a.example.com's interval")
}

func TestDomainRegistryRestoresPersistedState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	repo := memory.NewRepository()
	require.NoError(t, repo.SaveDomainState(ctx, crawl.DomainState{
		Domain:           "example.com",
		CrawlDelay:       time.Second,
		LastDispatchedAt: now.Add(-300 * time.Millisecond),
		InFlight:         2,
	}))

	// A fresh registry stands in for a restarted engine.
	reg := newDomainRegistry(time.Second, 1, nil, repo, zap.NewNop())

	admitted, wait := reg.tryAdmit(ctx, "example.com", now, 0)
	require.False(t, admitted, "persisted dispatch time still gates the first admission")
	require.Equal(t, 700*time.Millisecond, wait)

	// The persisted in-flight count is stale and must not consume the cap.
	admitted, _ = reg.tryAdmit(ctx, "example.com", now.Add(time.Second), 0)
	require.True(t, admitted)

	// Domains with no stored state start fresh.
	admitted, _ = reg.tryAdmit(ctx, "other.example.com", now, 0)
	require.True(t, admitted)
}

func TestDomainRegistryAdmissionIsAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newDomainRegistry(0, 1, nil, nil, zap.NewNop())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if admitted, _ := reg.tryAdmit(ctx, "example.com", now, 0); admitted {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	require.Equal(t, 1, count, "exactly one concurrent admit may win the slot")
}
