package protocol

// SyncMode enumerates the sync modes a stream can declare support for.
type SyncMode string

const (
	SyncFullRefresh  SyncMode = "full_refresh"
	SyncIncremental  SyncMode = "incremental"
)

// AirbyteStream describes one discoverable stream: its name, declared JSON
// schema, supported sync modes and optional default cursor field, per §6's
// discover catalog shape.
type AirbyteStream struct {
	Name                string          `json:"name"`
	JSONSchema          map[string]any  `json:"json_schema"`
	SupportedSyncModes  []SyncMode      `json:"supported_sync_modes"`
	DefaultCursorField  []string        `json:"default_cursor_field,omitempty"`
	SourceDefinedCursor bool            `json:"source_defined_cursor,omitempty"`
}

// Catalog is the full JSON document `discover` prints.
type Catalog struct {
	Streams []AirbyteStream `json:"streams"`
}

// ConfiguredStream names a stream and the sync mode `read` should run it
// under, as supplied in the --catalog document.
type ConfiguredStream struct {
	Stream      AirbyteStream `json:"stream"`
	SyncMode    SyncMode      `json:"sync_mode"`
	CursorField []string      `json:"cursor_field,omitempty"`
}

// ConfiguredCatalog is the parsed shape of the --catalog input to `read`.
type ConfiguredCatalog struct {
	Streams []ConfiguredStream `json:"streams"`
}

// StreamNames returns the set of stream names requested by the catalog.
func (c ConfiguredCatalog) StreamNames() []string {
	names := make([]string, 0, len(c.Streams))
	for _, s := range c.Streams {
		names = append(names, s.Stream.Name)
	}
	return names
}
