package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/usedatabrew/klaviyo-source/internal/protocol"
)

// LoadCatalog reads and decodes the --catalog document passed to `read`.
func LoadCatalog(path string) (protocol.ConfiguredCatalog, error) {
	var cat protocol.ConfiguredCatalog
	b, err := os.ReadFile(path)
	if err != nil {
		return cat, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &cat); err != nil {
		return cat, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return cat, nil
}

// LoadState reads the optional --state document. A missing path is not an
// error: the run starts from an empty state.
func LoadState(path string) (raw any, err error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading state %s: %w", path, err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", path, err)
	}
	return raw, nil
}
