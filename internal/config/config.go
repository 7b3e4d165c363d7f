// Package config loads the connector's configuration document and decodes
// it the tolerant, field-by-field way the teacher's service.ParsedConfig
// does, except here via github.com/mitchellh/mapstructure over a raw
// map[string]any instead of a full ConfigSpec runtime — there is no plugin
// registry to generate one from, just the fixed key table in §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
)

// AuthType selects the credentials path, §6 `credentials.auth_type`.
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
	AuthOAuth  AuthType = "oauth"
)

// Credentials holds both credential shapes; only the fields relevant to
// AuthType are populated.
type Credentials struct {
	AuthType     AuthType `mapstructure:"auth_type"`
	APIKey       string   `mapstructure:"api_key"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RefreshToken string   `mapstructure:"refresh_token"`
}

// Config is the fully decoded connection configuration, covering every
// recognized key in §6.
type Config struct {
	Credentials       Credentials `mapstructure:"credentials"`
	Initialize        bool        `mapstructure:"initialize"`
	Backfill          bool        `mapstructure:"backfill"`
	MaxStreamFailures int         `mapstructure:"max_stream_failures"`
	MaxSliceFailures  int         `mapstructure:"max_slice_failures"`
	Debug             bool        `mapstructure:"debug"`
	CompressState     *bool       `mapstructure:"compress_state"`
}

// CompressStateEnabled implements the "default compresses, explicit false
// disables" rule of §6.
func (c Config) CompressStateEnabled() bool {
	return c.CompressState == nil || *c.CompressState
}

// defaults fills in the zero-value defaults that aren't Go's own zero
// value: both failure budgets default to -1 (unlimited), not 0.
func defaults() Config {
	return Config{
		MaxStreamFailures: -1,
		MaxSliceFailures:  -1,
	}
}

// Load reads and decodes the configuration document at path.
func Load(path string) (Config, error) {
	raw, err := readJSONFile(path)
	if err != nil {
		return Config{}, err
	}
	return Decode(raw)
}

// Decode decodes a raw JSON-shaped map into Config, applying defaults for
// fields the document omits.
func Decode(raw map[string]any) (Config, error) {
	cfg := defaults()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("building config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

func readJSONFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return raw, nil
}
