package stream

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/usedatabrew/klaviyo-source/internal/httpclient"
	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
	"github.com/usedatabrew/klaviyo-source/internal/paginate"
	"github.com/usedatabrew/klaviyo-source/internal/state"
)

// Metrics: no cursor, full dump each run.
type Metrics struct {
	base
}

// NewMetrics builds the Metrics stream.
func NewMetrics(client *httpclient.Client, log *logrus.Entry, initialize bool, spoolDir string) *Metrics {
	return &Metrics{base{client: client, log: log.WithField("stream", "metrics"), initialize: initialize, spoolDir: spoolDir}}
}

func (m *Metrics) Name() string                    { return "metrics" }
func (m *Metrics) PrimaryKey() string               { return "id" }
func (m *Metrics) CursorField() string              { return "" }
func (m *Metrics) Dependencies() []string           { return nil }
func (m *Metrics) SupportsV2() bool                 { return true }
func (m *Metrics) Dedup() bool                       { return false }
func (m *Metrics) Parallel() int                    { return 1 }
func (m *Metrics) StateCheckpointInterval() int     { return 0 }

func (m *Metrics) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "string"},
			"name": map[string]any{"type": "string"},
		},
	}
}

func (m *Metrics) Slices(ctx context.Context, mode SyncMode, current state.StreamState) ([]Slice, error) {
	return []Slice{{}}, nil
}

func (m *Metrics) ReadSlice(ctx context.Context, mode SyncMode, slice Slice, current state.StreamState, emit func(map[string]any) error) error {
	p := paginate.New(m.fetchPage(klaviyo.EndpointMetrics, "/metrics/", nil))
	return p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			if err := emit(flattenAttributes(res)); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// GetUpdatedState is a no-op: Metrics has no cursor field, so its
// watermark never advances (full dump every run).
func (m *Metrics) GetUpdatedState(current state.StreamState, _ map[string]any) state.StreamState {
	return current
}
