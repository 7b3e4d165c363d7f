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

// Campaigns: cursor = updated_at always; single linear pass (no
// sharding); each record fans out two bounded sub-requests (messages,
// tags) joined before emission.
type Campaigns struct {
	base
}

// NewCampaigns builds the Campaigns stream.
func NewCampaigns(client *httpclient.Client, log *logrus.Entry, initialize bool, spoolDir string) *Campaigns {
	return &Campaigns{base{client: client, log: log.WithField("stream", "campaigns"), initialize: initialize, spoolDir: spoolDir}}
}

func (c *Campaigns) Name() string           { return "campaigns" }
func (c *Campaigns) PrimaryKey() string     { return "id" }
func (c *Campaigns) CursorField() string    { return "updated_at" }
func (c *Campaigns) Dependencies() []string { return nil }
func (c *Campaigns) SupportsV2() bool       { return true }
func (c *Campaigns) Dedup() bool            { return false }
func (c *Campaigns) Parallel() int          { return 1 }
func (c *Campaigns) StateCheckpointInterval() int { return 0 }

func (c *Campaigns) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":         map[string]any{"type": "string"},
			"updated_at": map[string]any{"type": "string", "format": "date-time"},
			"messages":   map[string]any{"type": "array"},
			"tags":       map[string]any{"type": "array"},
		},
	}
}

// Slices is a single whole-stream pass; the §9 Campaigns dual policy
// only changes the seed cutoff computed here, never the sharding shape.
func (c *Campaigns) Slices(ctx context.Context, mode SyncMode, current state.StreamState) ([]Slice, error) {
	if current.Cutoff != 0 {
		return []Slice{{}}, nil
	}

	from := seedEpoch
	if c.initialize {
		seeded, err := seedFromEarliestRecord(ctx, c.client, klaviyo.EndpointCampaigns, "/campaigns/", c.CursorField())
		if err == nil {
			from = seeded
		}
	} else {
		from = from.Add(-time.Hour)
	}
	return []Slice{{From: from}}, nil
}

func (c *Campaigns) ReadSlice(ctx context.Context, mode SyncMode, slice Slice, current state.StreamState, emit func(map[string]any) error) error {
	from := slice.From
	if from.IsZero() {
		from = time.UnixMilli(current.Cutoff)
	}
	filter := klaviyo.NewFilterBuilder().GreaterOrEqual(c.CursorField(), from).String()

	p := paginate.New(c.fetchPage(klaviyo.EndpointCampaigns, "/campaigns/", map[string]string{"filter": filter}))
	return p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			rec := flattenAttributes(res)

			id, _ := rec["id"].(string)
			messages, err := c.fetchCampaignMessages(ctx, id)
			if err != nil {
				return false, err
			}
			rec["messages"] = messages

			tags, err := c.fetchTags(ctx, klaviyo.EndpointTags, "/campaigns/"+id+"/tags/")
			if err != nil {
				return false, err
			}
			rec["tags"] = tags

			if err := emit(rec); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func (c *Campaigns) fetchCampaignMessages(ctx context.Context, campaignID string) ([]map[string]any, error) {
	var out []map[string]any
	p := paginate.New(c.fetchPage(klaviyo.EndpointCampaignMsgs, "/campaigns/"+campaignID+"/campaign-messages/", nil))
	err := p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			out = append(out, flattenAttributes(res))
		}
		return true, nil
	})
	return out, err
}

// fetchTags reads the tags relationship for a resource; shared by
// Campaigns and Flows (§4.7's "fetch flow-actions and tags").
func (b *base) fetchTags(ctx context.Context, key klaviyo.EndpointKey, path string) ([]map[string]any, error) {
	var out []map[string]any
	p := paginate.New(b.fetchPage(key, path, nil))
	err := p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			out = append(out, flattenAttributes(res))
		}
		return true, nil
	})
	return out, err
}

func (c *Campaigns) GetUpdatedState(current state.StreamState, record map[string]any) state.StreamState {
	return foldCutoff(current, record, c.CursorField())
}
