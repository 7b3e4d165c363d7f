// Package orchestrator runs N shards concurrently but yields records
// strictly in shard-generation order, with optional cross-shard primary
// key dedup, per §4.6.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/shard"
	"github.com/usedatabrew/klaviyo-source/internal/spool"
)

// dedupWindow bounds key-set memory per §4.6 step 3: keys are kept only
// if they could plausibly reappear in the next shard's overlap.
const dedupWindow = 2 * time.Minute

// dedupKeySetCap bounds the lastIds/currentIds LRU sets; the windowing
// rule already keeps these small, this is a hard backstop.
const dedupKeySetCap = 1 << 20

// Producer fills a shard's spool. It is invoked once per shard, inside
// Start, with emit writing one record to the spool.
type Producer func(ctx context.Context, rng shard.Range, emit func(map[string]any) error) error

// Options configures a Run.
type Options struct {
	SpoolDir     string
	Endpoint     string
	Parallel     int
	Dedup        bool
	PrimaryKey   string  // empty disables dedup regardless of Dedup
	CursorField  string  // empty disables windowing (dedup still runs, window is unbounded)
	Log          *logrus.Entry
	// OnShardBoundary, if set, is called after a shard fully drains, is
	// cleaned up and its dedup state has rolled over. The Sync Driver uses
	// this to checkpoint state at shard boundaries for streams whose
	// stateCheckpointInterval is 0 (§4.7/§4.8).
	OnShardBoundary func(rng shard.Range)
}

// Run drives ranges through produce, yielding decoded records to consume
// in strict shard order.
func Run(ctx context.Context, ranges []shard.Range, produce Producer, consume func(map[string]any) error, opts Options) error {
	dedupActive := opts.Dedup && opts.PrimaryKey != ""

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 10
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gate := make(chan struct{}, parallel)
	spools := make([]*spool.Spool, len(ranges))
	started := make([]chan error, len(ranges))

	for i, rng := range ranges {
		started[i] = make(chan error, 1)
		s, err := spool.New(opts.SpoolDir, opts.Endpoint, opts.Log)
		if err != nil {
			cancel()
			return fmt.Errorf("orchestrator: creating spool for shard %s: %w", rng.ID, err)
		}
		spools[i] = s
	}

	var firstErr error

	for i, rng := range ranges {
		i, rng := i, rng
		go func() {
			gate <- struct{}{}
			defer func() { <-gate }()

			s := spools[i]
			s.Start(runCtx, func(ctx context.Context, emit func(map[string]any) error) error {
				return produce(ctx, rng, emit)
			})
			started[i] <- nil
			<-s.Done()
		}()
	}

	var lastIds, currentIds *lru.Cache[string, struct{}]
	if dedupActive {
		var err error
		lastIds, err = lru.New[string, struct{}](dedupKeySetCap)
		if err != nil {
			return fmt.Errorf("orchestrator: allocating dedup cache: %w", err)
		}
	}

	for i, rng := range ranges {
		<-started[i]

		if dedupActive {
			var err error
			currentIds, err = lru.New[string, struct{}](dedupKeySetCap)
			if err != nil {
				cancel()
				return fmt.Errorf("orchestrator: allocating dedup cache: %w", err)
			}
		}

		isLast := i == len(ranges)-1
		var nextFrom time.Time
		if !isLast {
			nextFrom = ranges[i+1].From
		}

		s := spools[i]
		perr := s.Process(runCtx, func(rec map[string]any) error {
			if dedupActive {
				pk := fmt.Sprint(rec[opts.PrimaryKey])
				if lastIds != nil {
					if _, seen := lastIds.Get(pk); seen {
						return nil
					}
				}
				if !isLast && withinDedupWindow(rec, opts.CursorField, nextFrom) {
					currentIds.Add(pk, struct{}{})
				}
			}
			return consume(rec)
		})

		if cerr := s.Cleanup(); cerr != nil && opts.Log != nil {
			opts.Log.WithError(cerr).Warn("spool cleanup failed")
		}

		if perr != nil {
			firstErr = perr
			cancel()
			cleanupRemaining(spools[i+1:], opts.Log)
			break
		}

		if dedupActive {
			lastIds = currentIds
		}

		if opts.OnShardBoundary != nil {
			opts.OnShardBoundary(rng)
		}
	}

	return firstErr
}

// cleanupRemaining best-effort removes spool files for shards that were
// started but never drained because an earlier shard aborted the run.
func cleanupRemaining(spools []*spool.Spool, log *logrus.Entry) {
	for _, s := range spools {
		if err := s.Cleanup(); err != nil && log != nil {
			log.WithError(err).Warn("spool cleanup failed")
		}
	}
}

// withinDedupWindow reports whether rec's cursor value is after
// nextFrom − dedupWindow, the condition under which its primary key
// could plausibly reappear in the next shard's overlap (§4.6 step 3).
// A stream without a cursor field has no windowing concept; its keys
// are always retained.
func withinDedupWindow(rec map[string]any, cursorField string, nextFrom time.Time) bool {
	if cursorField == "" || nextFrom.IsZero() {
		return true
	}
	v, ok := rec[cursorField]
	if !ok {
		return true
	}
	t, ok := parseCursorTime(v)
	if !ok {
		return true
	}
	return t.After(nextFrom.Add(-dedupWindow))
}

func parseCursorTime(v any) (time.Time, bool) {
	switch s := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case time.Time:
		return s, true
	default:
		return time.Time{}, false
	}
}
