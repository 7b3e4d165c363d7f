package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/klaviyo-source/internal/orchestrator"
	"github.com/usedatabrew/klaviyo-source/internal/shard"
)

func ranges(n int) []shard.Range {
	var out []shard.Range
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out = append(out, shard.Range{
			ID:   string(rune('a' + i)),
			From: base.Add(time.Duration(i) * time.Hour),
			To:   base.Add(time.Duration(i+1) * time.Hour),
		})
	}
	return out
}

func TestRunYieldsRecordsInShardOrder(t *testing.T) {
	rngs := ranges(3)
	produce := func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error {
		for i := 0; i < 3; i++ {
			if err := emit(map[string]any{"id": rng.ID + string(rune('0'+i))}); err != nil {
				return err
			}
		}
		return nil
	}

	var got []string
	err := orchestrator.Run(context.Background(), rngs, produce, func(rec map[string]any) error {
		got = append(got, rec["id"].(string))
		return nil
	}, orchestrator.Options{SpoolDir: t.TempDir(), Endpoint: "events", Parallel: 3})

	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1", "a2", "b0", "b1", "b2", "c0", "c1", "c2"}, got)
}

func TestRunDedupsAgainstPreviousShard(t *testing.T) {
	rngs := ranges(2)
	produce := func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error {
		if rng.ID == "a" {
			return emit(map[string]any{"id": "dup", "updated_at": "2026-01-01T00:59:30Z"})
		}
		return emit(map[string]any{"id": "dup", "updated_at": "2026-01-01T01:00:30Z"})
	}

	var got []string
	err := orchestrator.Run(context.Background(), rngs, produce, func(rec map[string]any) error {
		got = append(got, rec["id"].(string))
		return nil
	}, orchestrator.Options{
		SpoolDir:    t.TempDir(),
		Endpoint:    "events",
		Parallel:    2,
		Dedup:       true,
		PrimaryKey:  "id",
		CursorField: "updated_at",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"dup"}, got)
}

func TestRunWithoutPrimaryKeyDisablesDedupEvenIfRequested(t *testing.T) {
	rngs := ranges(2)
	produce := func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error {
		return emit(map[string]any{"id": "dup"})
	}

	var got []string
	err := orchestrator.Run(context.Background(), rngs, produce, func(rec map[string]any) error {
		got = append(got, rec["id"].(string))
		return nil
	}, orchestrator.Options{
		SpoolDir: t.TempDir(),
		Endpoint: "events",
		Parallel: 2,
		Dedup:    true,
		// PrimaryKey intentionally empty
	})

	require.NoError(t, err)
	assert.Len(t, got, 2, "no primary key means dedup cannot apply")
}

func TestRunAbortsOnProducerError(t *testing.T) {
	rngs := ranges(3)
	boom := errors.New("boom")
	produce := func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error {
		if rng.ID == "b" {
			return boom
		}
		return emit(map[string]any{"id": rng.ID})
	}

	err := orchestrator.Run(context.Background(), rngs, produce, func(rec map[string]any) error {
		return nil
	}, orchestrator.Options{SpoolDir: t.TempDir(), Endpoint: "events", Parallel: 3})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunBoundsConcurrentProducers(t *testing.T) {
	rngs := ranges(6)
	var inFlight, maxInFlight int32
	release := make(chan struct{})
	var releaseOnce sync.Once

	produce := func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		if n == 2 {
			releaseOnce.Do(func() { close(release) })
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return emit(map[string]any{"id": rng.ID})
	}

	err := orchestrator.Run(context.Background(), rngs, produce, func(rec map[string]any) error {
		return nil
	}, orchestrator.Options{SpoolDir: t.TempDir(), Endpoint: "events", Parallel: 2})

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2), "Parallel must bound concurrently running producers, not just Start calls")
}

func TestFinalShardNeverContributesToDedupState(t *testing.T) {
	rngs := ranges(2)
	produce := func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error {
		return emit(map[string]any{"id": rng.ID, "updated_at": "2026-01-01T00:00:00Z"})
	}

	var got []string
	err := orchestrator.Run(context.Background(), rngs, produce, func(rec map[string]any) error {
		got = append(got, rec["id"].(string))
		return nil
	}, orchestrator.Options{
		SpoolDir:    t.TempDir(),
		Endpoint:    "events",
		Parallel:    2,
		Dedup:       true,
		PrimaryKey:  "id",
		CursorField: "updated_at",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}
