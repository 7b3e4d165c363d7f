package state_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/klaviyo-source/internal/state"
)

func TestLoadLegacyMapFormat(t *testing.T) {
	m, err := state.Load([]byte(`{"events":{"cutoff":1000},"profiles":{"cutoff":2000}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.Get("events").Cutoff)
	assert.Equal(t, int64(2000), m.Get("profiles").Cutoff)
}

func TestLoadEnvelopeFormatWithGlobal(t *testing.T) {
	doc := []byte(`[
		{"type":"GLOBAL","shared_state":{"foo":"bar"}},
		{"type":"STREAM","stream":{"name":"events"},"stream_state":{"cutoff":500}}
	]`)
	m, err := state.Load(doc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), m.Get("events").Cutoff)

	snap := m.Snapshot()
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"GLOBAL"`)
}

func TestLoadEnvelopeFormatWithoutGlobal(t *testing.T) {
	doc := []byte(`[{"type":"STREAM","stream":{"name":"events"},"stream_state":{"cutoff":42}}]`)
	m, err := state.Load(doc)
	require.NoError(t, err)
	assert.Equal(t, int64(42), m.Get("events").Cutoff)
}

func TestLoadEmptyDocumentYieldsFreshManager(t *testing.T) {
	m, err := state.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Get("anything").Cutoff)
}

func TestSnapshotIsUnaffectedByLaterSet(t *testing.T) {
	m := state.New()
	m.Set("events", state.StreamState{Cutoff: 10})
	m.Set("profiles", state.StreamState{Cutoff: 20})

	snap1 := m.Snapshot()
	m.Set("events", state.StreamState{Cutoff: 999})

	b, err := json.Marshal(snap1)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"events":{"cutoff":10}`)
}

func TestCompressDecompressRoundTrips(t *testing.T) {
	doc := map[string]state.StreamState{"events": {Cutoff: 123}}
	encoded, err := state.Compress(doc)
	require.NoError(t, err)

	raw, err := state.Decompress(encoded)
	require.NoError(t, err)

	var got map[string]state.StreamState
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, int64(123), got["events"].Cutoff)
}
