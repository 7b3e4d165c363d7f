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

// Flows: cursor = updated (or created on init); single linear pass; for
// each flow, fetch flow-actions and tags, then for each action fetch
// messages, then for each message fetch its template relationship;
// emit a composed record. All sub-requests go through the rate limiter
// via base.fetchPage/Client.
type Flows struct {
	base
}

// NewFlows builds the Flows stream.
func NewFlows(client *httpclient.Client, log *logrus.Entry, initialize bool, spoolDir string) *Flows {
	return &Flows{base{client: client, log: log.WithField("stream", "flows"), initialize: initialize, spoolDir: spoolDir}}
}

func (f *Flows) Name() string           { return "flows" }
func (f *Flows) PrimaryKey() string     { return "id" }
func (f *Flows) Dependencies() []string { return nil }
func (f *Flows) SupportsV2() bool       { return true }
func (f *Flows) Dedup() bool            { return false }
func (f *Flows) Parallel() int          { return 1 }
func (f *Flows) StateCheckpointInterval() int { return 0 }

func (f *Flows) CursorField() string {
	if f.initialize {
		return "created"
	}
	return "updated"
}

func (f *Flows) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":      map[string]any{"type": "string"},
			"updated": map[string]any{"type": "string", "format": "date-time"},
			"actions": map[string]any{"type": "array"},
			"tags":    map[string]any{"type": "array"},
		},
	}
}

func (f *Flows) Slices(ctx context.Context, mode SyncMode, current state.StreamState) ([]Slice, error) {
	if current.Cutoff != 0 {
		return []Slice{{}}, nil
	}
	from := seedEpoch.Add(-time.Hour)
	if f.initialize {
		if seeded, err := seedFromEarliestRecord(ctx, f.client, klaviyo.EndpointFlows, "/flows/", f.CursorField()); err == nil {
			from = seeded
		}
	}
	return []Slice{{From: from}}, nil
}

func (f *Flows) ReadSlice(ctx context.Context, mode SyncMode, slice Slice, current state.StreamState, emit func(map[string]any) error) error {
	from := slice.From
	if from.IsZero() {
		from = time.UnixMilli(current.Cutoff)
	}
	filter := klaviyo.NewFilterBuilder().GreaterOrEqual(f.CursorField(), from).String()

	p := paginate.New(f.fetchPage(klaviyo.EndpointFlows, "/flows/", map[string]string{"filter": filter}))
	return p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			rec := flattenAttributes(res)
			id, _ := rec["id"].(string)

			actions, err := f.fetchFlowActions(ctx, id)
			if err != nil {
				return false, err
			}
			rec["actions"] = actions

			tags, err := f.fetchTags(ctx, klaviyo.EndpointTags, "/flows/"+id+"/tags/")
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

func (f *Flows) fetchFlowActions(ctx context.Context, flowID string) ([]map[string]any, error) {
	var actions []map[string]any
	p := paginate.New(f.fetchPage(klaviyo.EndpointFlowActions, "/flows/"+flowID+"/flow-actions/", nil))
	err := p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			action := flattenAttributes(res)
			actionID, _ := action["id"].(string)

			messages, err := f.fetchFlowMessages(ctx, actionID)
			if err != nil {
				return false, err
			}
			action["messages"] = messages

			actions = append(actions, action)
		}
		return true, nil
	})
	return actions, err
}

func (f *Flows) fetchFlowMessages(ctx context.Context, actionID string) ([]map[string]any, error) {
	var messages []map[string]any
	p := paginate.New(f.fetchPage(klaviyo.EndpointFlowMessages, "/flow-actions/"+actionID+"/flow-messages/", nil))
	err := p.Each(ctx, func(page paginate.Page) (bool, error) {
		for _, res := range page.Data {
			msg := flattenAttributes(res)
			id, _ := msg["id"].(string)

			tmpl, err := f.fetchMessageTemplate(ctx, id)
			if err != nil {
				return false, err
			}
			msg["template"] = tmpl

			messages = append(messages, msg)
		}
		return true, nil
	})
	return messages, err
}

// fetchMessageTemplate reads a flow-message's template relationship,
// the third level of the flow -> action -> message -> template fan-out.
func (f *Flows) fetchMessageTemplate(ctx context.Context, messageID string) (map[string]any, error) {
	body, err := f.client.Get(ctx, klaviyo.EndpointFlowMsgTemplate, "/flow-messages/"+messageID+"/template/", nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := unmarshalJSON(body, &env); err != nil {
		return nil, err
	}
	return flattenAttributes(env.Data), nil
}

func (f *Flows) GetUpdatedState(current state.StreamState, record map[string]any) state.StreamState {
	return foldCutoff(current, record, f.CursorField())
}
