package shard_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/klaviyo-source/internal/shard"
)

func TestPlanCoversRangeWithStep(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(3 * time.Hour)

	ranges := shard.Plan(shard.Options{
		From: from,
		To:   to,
		Step: time.Hour,
	})

	require.Len(t, ranges, 3)
	assert.True(t, ranges[0].From.Equal(from))
	assert.True(t, ranges[len(ranges)-1].To.After(to) || ranges[len(ranges)-1].To.Equal(to))
}

func TestPlanWidensFirstShardByStartOverlap(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ranges := shard.Plan(shard.Options{
		From:         from,
		To:           from.Add(2 * time.Hour),
		Step:         time.Hour,
		StartOverlap: 5 * time.Minute,
		StepOverlap:  time.Minute,
	})

	require.Len(t, ranges, 2)
	assert.True(t, ranges[0].From.Equal(from.Add(-5*time.Minute)))
	assert.True(t, ranges[1].From.Equal(from.Add(time.Hour-time.Minute)))
}

func TestPlanWidensEveryShardByStepOverlap(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ranges := shard.Plan(shard.Options{
		From:        from,
		To:          from.Add(2 * time.Hour),
		Step:        time.Hour,
		StepOverlap: time.Minute,
	})

	require.Len(t, ranges, 2)
	for _, r := range ranges {
		assert.Equal(t, time.Minute, r.Overlap)
	}
	assert.True(t, ranges[0].To.Equal(from.Add(time.Hour + time.Minute)))
	assert.True(t, ranges[1].To.Equal(from.Add(2*time.Hour + time.Minute)))
}

func TestPlanEachShardHasUniqueID(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ranges := shard.Plan(shard.Options{
		From: from,
		To:   from.Add(3 * time.Hour),
		Step: time.Hour,
	})

	seen := map[string]bool{}
	for _, r := range ranges {
		require.NotEmpty(t, r.ID)
		assert.False(t, seen[r.ID])
		seen[r.ID] = true
	}
}

func TestPlanEmptyWhenFromAtOrAfterTo(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ranges := shard.Plan(shard.Options{
		From: from,
		To:   from,
		Step: time.Hour,
	})
	assert.Empty(t, ranges)
}

func TestPlanDefaultsToOpenRangeWhenToIsZero(t *testing.T) {
	from := time.Now().Add(-90 * time.Minute)
	ranges := shard.Plan(shard.Options{
		From: from,
		Step: time.Hour,
	})
	assert.NotEmpty(t, ranges)
}
