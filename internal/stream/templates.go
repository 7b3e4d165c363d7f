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

// Templates: cursor = updated (or created on init); single linear pass,
// 1-hour watermark rewind on resume to tolerate server clock skew.
type Templates struct {
	base
}

// NewTemplates builds the Templates stream.
func NewTemplates(client *httpclient.Client, log *logrus.Entry, initialize bool, spoolDir string) *Templates {
	return &Templates{base{client: client, log: log.WithField("stream", "templates"), initialize: initialize, spoolDir: spoolDir}}
}

func (t *Templates) Name() string           { return "templates" }
func (t *Templates) PrimaryKey() string     { return "id" }
func (t *Templates) Dependencies() []string { return nil }
func (t *Templates) SupportsV2() bool       { return true }
func (t *Templates) Dedup() bool            { return false }
func (t *Templates) Parallel() int          { return 1 }
func (t *Templates) StateCheckpointInterval() int { return 0 }

func (t *Templates) CursorField() string {
	if t.initialize {
		return "created"
	}
	return "updated"
}

func (t *Templates) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":      map[string]any{"type": "string"},
			"updated": map[string]any{"type": "string", "format": "date-time"},
		},
	}
}

// Slices rewinds the watermark by 1 hour on resume, per §4.7, to tolerate
// server clock skew; on a cold start it seeds from 2000-01-01.
func (t *Templates) Slices(ctx context.Context, mode SyncMode, current state.StreamState) ([]Slice, error) {
	if current.Cutoff != 0 {
		return []Slice{{From: time.UnixMilli(current.Cutoff).Add(-time.Hour)}}, nil
	}
	return []Slice{{From: seedEpoch}}, nil
}

func (t *Templates) ReadSlice(ctx context.Context, mode SyncMode, slice Slice, current state.StreamState, emit func(map[string]any) error) error {
	filter := klaviyo.NewFilterBuilder().GreaterOrEqual(t.CursorField(), slice.From).String()

	p := paginate.New(t.fetchPage(klaviyo.EndpointTemplates, "/templates/", map[string]string{"filter": filter}))
	return p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			if err := emit(flattenAttributes(res)); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func (t *Templates) GetUpdatedState(current state.StreamState, record map[string]any) state.StreamState {
	return foldCutoff(current, record, t.CursorField())
}
