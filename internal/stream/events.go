package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/httpclient"
	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
	"github.com/usedatabrew/klaviyo-source/internal/paginate"
	"github.com/usedatabrew/klaviyo-source/internal/shard"
	"github.com/usedatabrew/klaviyo-source/internal/state"
)

// eventsCheckpointInterval is the "every 100,000 records" rule of §4.7's
// Events policy.
const eventsCheckpointInterval = 100_000

// seedEpoch is the 2000-01-01 fixed seed Campaigns/Flows/Templates use
// when no watermark exists, per §4.7's "Initial cutoff" rule.
var seedEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Events is the highest-volume stream: hourly shards, cursor = datetime
// (or created on initial backfill, the §9 dual-cursor policy), dedup on,
// 20-way parallel.
type Events struct {
	base
}

// NewEvents builds the Events stream.
func NewEvents(client *httpclient.Client, log *logrus.Entry, initialize bool, spoolDir string) *Events {
	return &Events{base{client: client, log: log.WithField("stream", "events"), initialize: initialize, spoolDir: spoolDir}}
}

func (e *Events) Name() string        { return "events" }
func (e *Events) PrimaryKey() string  { return "id" }
func (e *Events) Dependencies() []string { return nil }
func (e *Events) SupportsV2() bool    { return false }
func (e *Events) Dedup() bool         { return true }
func (e *Events) Parallel() int       { return 20 }
func (e *Events) StateCheckpointInterval() int { return eventsCheckpointInterval }

// CursorField resolves the Events dual-cursor policy (§9 open question,
// resolved in SUPPLEMENTED FEATURES): `datetime` for resume mode,
// `created` under the `initialize` backfill flag.
func (e *Events) CursorField() string {
	if e.initialize {
		return "created"
	}
	return "datetime"
}

func (e *Events) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":       map[string]any{"type": "string"},
			"datetime": map[string]any{"type": "string", "format": "date-time"},
			"created":  map[string]any{"type": "string", "format": "date-time"},
		},
	}
}

// Slices plans hourly shards per §4.7 ("shards = hourly, with
// stepOverlap=5s, startOverlap=1min"), seeding from the earliest record
// when no watermark exists.
func (e *Events) Slices(ctx context.Context, mode SyncMode, current state.StreamState) ([]Slice, error) {
	from, err := e.seedFrom(ctx, current)
	if err != nil {
		return nil, err
	}

	ranges := shard.Plan(shard.Options{
		From:         from,
		Step:         time.Hour,
		StepOverlap:  5 * time.Second,
		StartOverlap: time.Minute,
	})
	return toSlices(ranges), nil
}

func (e *Events) seedFrom(ctx context.Context, current state.StreamState) (time.Time, error) {
	if current.Cutoff != 0 {
		return time.UnixMilli(current.Cutoff), nil
	}
	return seedFromEarliestRecord(ctx, e.client, klaviyo.EndpointEvents, "/events/", e.CursorField())
}

// ReadSlice paginates one hourly shard's events.
func (e *Events) ReadSlice(ctx context.Context, mode SyncMode, slice Slice, current state.StreamState, emit func(map[string]any) error) error {
	filter := klaviyo.NewFilterBuilder().
		GreaterOrEqual(e.CursorField(), slice.From).
		LessThan(e.CursorField(), slice.To).
		String()

	p := paginate.New(e.fetchPage(klaviyo.EndpointEvents, "/events/", map[string]string{"filter": filter}))
	return p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			if err := emit(flattenAttributes(res)); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func (e *Events) GetUpdatedState(current state.StreamState, record map[string]any) state.StreamState {
	return foldCutoff(current, record, e.CursorField())
}

// toSlices converts planned shard ranges into stream slices.
func toSlices(ranges []shard.Range) []Slice {
	out := make([]Slice, len(ranges))
	for i, r := range ranges {
		out[i] = Slice{ID: r.ID, From: r.From, To: r.To}
	}
	return out
}

// foldCutoff implements §4.7's getUpdatedState: cutoff = max(current,
// epoch_ms(record[cursorField])).
func foldCutoff(current state.StreamState, record map[string]any, cursorField string) state.StreamState {
	if cursorField == "" {
		return current
	}
	ms, ok := cursorValueMs(record, cursorField)
	if !ok {
		return current
	}
	return state.StreamState{Cutoff: maxInt64(current.Cutoff, ms)}
}

// seedFromEarliestRecord implements the "one-page peek sorted ascending"
// initial-cutoff rule for Events/Profiles.
func seedFromEarliestRecord(ctx context.Context, client *httpclient.Client, key klaviyo.EndpointKey, path, cursorField string) (time.Time, error) {
	body, err := client.Get(ctx, key, path, map[string]string{"sort": cursorField, "page[size]": "1"})
	if err != nil {
		return time.Time{}, fmt.Errorf("stream: seeding initial cutoff from %s: %w", path, err)
	}
	var env klaviyoEnvelope
	if err := unmarshalJSON(body, &env); err != nil {
		return time.Time{}, err
	}
	if len(env.Data) == 0 {
		return seedEpoch, nil
	}
	rec := flattenAttributes(env.Data[0])
	ms, ok := cursorValueMs(rec, cursorField)
	if !ok {
		return seedEpoch, nil
	}
	return time.UnixMilli(ms), nil
}
