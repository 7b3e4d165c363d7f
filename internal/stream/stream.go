// Package stream implements the six concrete Klaviyo streams and the
// Stream contract of §4.7: a stream names its cursor and primary key,
// declares its slices (time-sharded or a single whole-stream slice),
// reads records for one slice through the Paginator (the Sync Driver runs
// the slices through the Parallel-Sequential Orchestrator), and folds its
// own watermark forward as records go by.
package stream

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/httpclient"
	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
	"github.com/usedatabrew/klaviyo-source/internal/paginate"
	"github.com/usedatabrew/klaviyo-source/internal/state"
)

// SyncMode selects full refresh or incremental (cursor-driven) reads.
type SyncMode string

const (
	FullRefresh SyncMode = "full_refresh"
	Incremental SyncMode = "incremental"
)

// Slice is one unit of work streamSlices yields: either the singleton
// whole-stream slice (ID == "") or a time range produced by the Shard
// Planner.
type Slice struct {
	ID   string
	From time.Time
	To   time.Time
}

// Stream is the contract every concrete stream implements, per §4.7.
// The Sync Driver owns composing ReadSlice with the Orchestrator across
// every slice Slices returns (§4.6); a stream never drives concurrency
// itself, it only knows how to fetch and normalize one slice at a time.
type Stream interface {
	Name() string
	PrimaryKey() string
	CursorField() string // "" means full refresh only
	JSONSchema() map[string]any
	StateCheckpointInterval() int // 0 means "only at shard boundaries"
	Dependencies() []string
	// SupportsV2 resolves the §9 V2-gating open question: sharded
	// streams (Events, Profiles) return false.
	SupportsV2() bool
	// Dedup reports whether the driver's orchestrator should maintain
	// cross-shard primary-key dedup for this stream (§4.6). Streams
	// without a primary key can return true here; the orchestrator
	// disables dedup regardless once PrimaryKey() is "".
	Dedup() bool
	// Parallel is the shard concurrency gate passed to the orchestrator;
	// meaningless (treated as 1) for unsharded streams.
	Parallel() int

	Slices(ctx context.Context, mode SyncMode, current state.StreamState) ([]Slice, error)
	ReadSlice(ctx context.Context, mode SyncMode, slice Slice, current state.StreamState, emit func(map[string]any) error) error
	OnBeforeRead(ctx context.Context) error
	OnAfterRead(ctx context.Context) error
	GetUpdatedState(current state.StreamState, record map[string]any) state.StreamState
}

// base holds the collaborators and config every concrete stream needs,
// composed rather than inherited per Go convention — each concrete
// stream embeds base and adds its own endpoint/shape/cursor policy.
type base struct {
	client      *httpclient.Client
	log         *logrus.Entry
	initialize  bool // config.Initialize: backfill sort/filter by creation time
	spoolDir    string
}

// klaviyoEnvelope is the {data, links{next}} shape every Klaviyo list
// endpoint returns.
type klaviyoEnvelope struct {
	Data  []map[string]any `json:"data"`
	Links struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// fetchPage turns one Klaviyo list call into a paginate.Page: cursor, if
// non-empty, is a complete next-page URL returned by the previous call
// and is used as-is; otherwise path/query build the first request.
func (b *base) fetchPage(key klaviyo.EndpointKey, path string, query map[string]string) paginate.FetchFunc {
	return func(ctx context.Context, cursor string) (paginate.Page, error) {
		var body []byte
		var err error
		if cursor != "" {
			body, err = b.client.GetURL(ctx, key, cursor)
		} else {
			body, err = b.client.Get(ctx, key, path, query)
		}
		if err != nil {
			return paginate.Page{}, err
		}

		var env klaviyoEnvelope
		if err := unmarshalJSON(body, &env); err != nil {
			return paginate.Page{}, err
		}

		next := ""
		if env.Links.Next != nil {
			next = *env.Links.Next
		}
		return paginate.Page{Data: env.Data, NextCursor: next}, nil
	}
}

// flattenAttributes merges a Klaviyo JSON:API resource's top-level id and
// attributes into one record map, the normalization §4.7's readRecords
// performs before records are handed downstream.
func flattenAttributes(resource map[string]any) map[string]any {
	out := map[string]any{}
	if id, ok := resource["id"]; ok {
		out["id"] = id
	}
	if attrs, ok := resource["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			out[k] = v
		}
	}
	return out
}

func (b *base) OnBeforeRead(_ context.Context) error { return nil }
func (b *base) OnAfterRead(_ context.Context) error  { return nil }
