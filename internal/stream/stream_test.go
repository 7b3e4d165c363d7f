package stream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/klaviyo-source/internal/auth"
	"github.com/usedatabrew/klaviyo-source/internal/config"
	"github.com/usedatabrew/klaviyo-source/internal/httpclient"
	"github.com/usedatabrew/klaviyo-source/internal/ratelimit"
	"github.com/usedatabrew/klaviyo-source/internal/retry"
	"github.com/usedatabrew/klaviyo-source/internal/state"
	"github.com/usedatabrew/klaviyo-source/internal/stream"
)

func testClient(t *testing.T, baseURL string) *httpclient.Client {
	t.Helper()
	signer, err := auth.NewSigner(config.Credentials{AuthType: config.AuthAPIKey, APIKey: "k"}, nil)
	require.NoError(t, err)
	invoker := retry.NewInvoker(retry.Profile{InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond, MaxAttempts: 1}, nil)
	return httpclient.NewWithBaseURL(baseURL, signer, ratelimit.NewRegistry(), invoker)
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestMetricsReadSliceFlattensAttributes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[{"id":"m1","attributes":{"name":"Placed Order"}}],"links":{"next":null}}`))
	}))
	defer srv.Close()

	m := stream.NewMetrics(testClient(t, srv.URL), discardLog(), false, t.TempDir())

	var got []map[string]any
	err := m.ReadSlice(context.Background(), stream.FullRefresh, stream.Slice{}, state.StreamState{}, func(rec map[string]any) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0]["id"])
	assert.Equal(t, "Placed Order", got[0]["name"])
}

func TestMetricsGetUpdatedStateIsNoOp(t *testing.T) {
	m := stream.NewMetrics(testClient(t, "http://example.invalid"), discardLog(), false, t.TempDir())
	current := state.StreamState{Cutoff: 42}
	got := m.GetUpdatedState(current, map[string]any{"id": "x"})
	assert.Equal(t, current, got)
}

func TestEventsCursorFieldSwitchesOnInitialize(t *testing.T) {
	resume := stream.NewEvents(testClient(t, "http://example.invalid"), discardLog(), false, t.TempDir())
	assert.Equal(t, "datetime", resume.CursorField())

	backfill := stream.NewEvents(testClient(t, "http://example.invalid"), discardLog(), true, t.TempDir())
	assert.Equal(t, "created", backfill.CursorField())
}

func TestEventsSlicesUsesExistingWatermarkWithoutSeeding(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[],"links":{"next":null}}`))
	}))
	defer srv.Close()

	e := stream.NewEvents(testClient(t, srv.URL), discardLog(), false, t.TempDir())
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	slices, err := e.Slices(context.Background(), stream.Incremental, state.StreamState{Cutoff: from.UnixMilli()})
	require.NoError(t, err)
	assert.NotEmpty(t, slices)
	assert.False(t, called, "an existing watermark must not trigger the earliest-record seed peek")
}

func TestEventsGetUpdatedStateAdvancesMonotonically(t *testing.T) {
	e := stream.NewEvents(testClient(t, "http://example.invalid"), discardLog(), false, t.TempDir())
	current := state.StreamState{Cutoff: 1000}
	earlier := map[string]any{"datetime": time.UnixMilli(500).UTC().Format(time.RFC3339)}
	got := e.GetUpdatedState(current, earlier)
	assert.Equal(t, int64(1000), got.Cutoff, "cutoff must never move backwards")

	later := map[string]any{"datetime": time.UnixMilli(5000).UTC().Format(time.RFC3339)}
	got = e.GetUpdatedState(current, later)
	assert.Equal(t, int64(5000), got.Cutoff)
}

func TestCampaignsReadSliceJoinsMessagesAndTags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/campaigns/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/campaigns/":
			_, _ = w.Write([]byte(`{"data":[{"id":"c1","attributes":{"updated_at":"2026-01-01T00:00:00Z"}}],"links":{"next":null}}`))
		case r.URL.Path == "/campaigns/c1/campaign-messages/":
			_, _ = w.Write([]byte(`{"data":[{"id":"msg1","attributes":{"subject":"hi"}}],"links":{"next":null}}`))
		case r.URL.Path == "/campaigns/c1/tags/":
			_, _ = w.Write([]byte(`{"data":[{"id":"tag1","attributes":{"name":"promo"}}],"links":{"next":null}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := stream.NewCampaigns(testClient(t, srv.URL), discardLog(), false, t.TempDir())

	var got map[string]any
	err := c.ReadSlice(context.Background(), stream.FullRefresh, stream.Slice{}, state.StreamState{}, func(rec map[string]any) error {
		got = rec
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c1", got["id"])
	messages, ok := got["messages"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "msg1", messages[0]["id"])
	tags, ok := got["tags"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, tags, 1)
	assert.Equal(t, "tag1", tags[0]["id"])
}

func TestFlowsReadSliceFollowsFullFanOutToTemplate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/flows/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/flows/":
			_, _ = w.Write([]byte(`{"data":[{"id":"f1","attributes":{"updated":"2026-01-01T00:00:00Z"}}],"links":{"next":null}}`))
		case r.URL.Path == "/flows/f1/tags/":
			_, _ = w.Write([]byte(`{"data":[{"id":"tag1","attributes":{"name":"welcome"}}],"links":{"next":null}}`))
		case r.URL.Path == "/flows/f1/flow-actions/":
			_, _ = w.Write([]byte(`{"data":[{"id":"act1","attributes":{}}],"links":{"next":null}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/flow-actions/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/flow-actions/act1/flow-messages/" {
			_, _ = w.Write([]byte(`{"data":[{"id":"msg1","attributes":{}}],"links":{"next":null}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/flow-messages/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flow-messages/msg1/template/":
			_, _ = w.Write([]byte(`{"data":{"id":"tpl1","attributes":{"name":"Welcome email"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := stream.NewFlows(testClient(t, srv.URL), discardLog(), false, t.TempDir())

	var got map[string]any
	err := f.ReadSlice(context.Background(), stream.FullRefresh, stream.Slice{}, state.StreamState{}, func(rec map[string]any) error {
		got = rec
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	actions, ok := got["actions"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, actions, 1)

	messages, ok := actions[0]["messages"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, messages, 1)

	tmpl, ok := messages[0]["template"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tpl1", tmpl["id"])
	assert.Equal(t, "Welcome email", tmpl["name"])
}
