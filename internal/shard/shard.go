// Package shard implements the time-range sharder of §4.4: it breaks an
// unbounded window into overlapping half-open ranges, the direct cause of
// the cross-shard dedup requirement in §4.6.
package shard

import (
	"time"

	"github.com/gofrs/uuid"
)

// Range is a half-open time range [From, To), already widened by the
// planner (From by the start or step overlap, To by the step overlap),
// with an ID unique within a run (for logging and spool file naming).
type Range struct {
	ID    string
	From  time.Time
	To    time.Time
	// Overlap is how far To extends a reader should additionally fetch
	// beyond the logical boundary, to tolerate server-side timestamp
	// imprecision — already folded into To by Plan, kept here for the
	// orchestrator's dedup window calculation (§4.6 step 3).
	Overlap time.Duration
}

// Options configures the planner per §4.4's inputs.
type Options struct {
	From         time.Time
	To           time.Time // zero means "now"
	Step         time.Duration
	StartOverlap time.Duration // only the first shard
	StepOverlap  time.Duration // end of every shard; start of every shard after the first
}

// Plan generates successive shards from opts, continuing while the
// unwidened start of the next shard is before opts.To.
func Plan(opts Options) []Range {
	to := opts.To
	if to.IsZero() {
		to = time.Now()
	}

	var ranges []Range
	a := opts.From
	first := true
	for a.Before(to) {
		b := a.Add(opts.Step)

		overlap := opts.StepOverlap
		if first {
			overlap = opts.StartOverlap
		}

		id, _ := uuid.NewV4()
		ranges = append(ranges, Range{
			ID:      id.String(),
			From:    a.Add(-overlap),
			To:      b.Add(opts.StepOverlap),
			Overlap: opts.StepOverlap,
		})

		a = b
		first = false
	}
	return ranges
}
