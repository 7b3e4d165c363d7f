// Package state implements the connector's State Manager, §4.9: it reads
// and writes the persisted state document in either of two shapes
// (legacy per-stream map, or a sequence of GLOBAL/STREAM envelopes) and
// guarantees that reading one stream's state never hands out a shared
// mutable reference, and that a checkpoint-time snapshot reflects all
// streams as of that moment.
package state

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// StreamState is one stream's watermark. Cutoff (epoch milliseconds) is
// its only field, per §4.7's getUpdatedState contract; any other key in a
// loaded state document is dropped and does not round-trip.
type StreamState struct {
	Cutoff int64 `json:"cutoff"`
}

// envelopeType discriminates the per-stream/global envelope shape.
type envelopeType string

const (
	envelopeGlobal envelopeType = "GLOBAL"
	envelopeStream envelopeType = "STREAM"
)

// envelope is one element of the envelope-format state document.
type envelope struct {
	Type        envelopeType   `json:"type"`
	Stream      *streamDescr   `json:"stream,omitempty"`
	StreamState *StreamState   `json:"stream_state,omitempty"`
	Shared      map[string]any `json:"shared_state,omitempty"`
}

// streamDescr identifies a stream by name only; namespace is deferred
// per §4.9.
type streamDescr struct {
	Name string `json:"name"`
}

// Manager holds the connector's full state, immutable from the outside
// except through Set, which replaces rather than mutates a stream's
// entry.
type Manager struct {
	mu     sync.RWMutex
	format format
	shared map[string]any
	byName map[string]StreamState
}

type format int

const (
	formatLegacyMap format = iota
	formatEnvelope
)

// New returns an empty manager in legacy-map format, the format used
// when a run starts from no prior state.
func New() *Manager {
	return &Manager{format: formatLegacyMap, byName: map[string]StreamState{}}
}

// Load parses a previously persisted state document, detecting its shape:
// a JSON array is the envelope format: if its first element has
// type=GLOBAL, the remainder are per-stream states sharing its shared
// state; otherwise every element is a per-stream state. A JSON object is
// the legacy map format, {streamName: {cutoff}}.
func Load(raw []byte) (*Manager, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return New(), nil
	}

	if raw[0] == '[' {
		var envs []envelope
		if err := json.Unmarshal(raw, &envs); err != nil {
			return nil, fmt.Errorf("state: decoding envelope document: %w", err)
		}
		m := &Manager{format: formatEnvelope, byName: map[string]StreamState{}}
		for _, e := range envs {
			switch e.Type {
			case envelopeGlobal:
				m.shared = cloneMap(e.Shared)
			case envelopeStream:
				if e.Stream == nil || e.StreamState == nil {
					continue
				}
				m.byName[e.Stream.Name] = *e.StreamState
			}
		}
		return m, nil
	}

	var legacy map[string]StreamState
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("state: decoding legacy state map: %w", err)
	}
	m := &Manager{format: formatLegacyMap, byName: map[string]StreamState{}}
	for k, v := range legacy {
		m.byName[k] = v
	}
	return m, nil
}

// Get returns stream's current state. The returned value is a copy;
// mutating it never affects the manager.
func (m *Manager) Get(stream string) StreamState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[stream]
}

// Set replaces stream's state wholesale. Concurrent Get/Set calls for
// different streams never interact: writes to one stream's state never
// visibly mutate another's.
func (m *Manager) Set(stream string, s StreamState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName[stream] = s
}

// Snapshot returns the document to persist in a STATE message: a deep
// copy as of this call, so later mutation of the manager can never
// retroactively change an already-emitted checkpoint (§4.9's "envelope
// constructed at checkpoint time reflects a snapshot... as of that
// moment").
func (m *Manager) Snapshot() any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.format {
	case formatEnvelope:
		envs := make([]envelope, 0, len(m.byName)+1)
		if m.shared != nil {
			envs = append(envs, envelope{Type: envelopeGlobal, Shared: cloneMap(m.shared)})
		}
		for name, s := range m.byName {
			s := s
			envs = append(envs, envelope{Type: envelopeStream, Stream: &streamDescr{Name: name}, StreamState: &s})
		}
		return envs
	default:
		out := make(map[string]StreamState, len(m.byName))
		for k, v := range m.byName {
			out[k] = v
		}
		return out
	}
}

// Compress gzip+base64 encodes doc for the compress_state config key
// (default on, per §6).
func Compress(doc any) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("state: marshalling for compression: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return "", fmt.Errorf("state: gzip writing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("state: gzip closing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress reverses Compress.
func Decompress(encoded string) (json.RawMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("state: base64 decoding: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("state: gzip reader: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("state: gzip reading: %w", err)
	}
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
