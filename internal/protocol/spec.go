package protocol

// ConnectorSpecification is the JSON document the `spec` command prints,
// describing the recognized configuration keys of §6.
type ConnectorSpecification struct {
	DocumentationURL string         `json:"documentationUrl"`
	ConnectionSpecification map[string]any `json:"connectionSpecification"`
	SupportsIncremental      bool   `json:"supportsIncremental"`
	SupportsDBT              bool   `json:"supportsDBT"`
}

// Spec returns the static connector specification document.
func Spec() ConnectorSpecification {
	return ConnectorSpecification{
		DocumentationURL:    "https://docs.klaviyo.com",
		SupportsIncremental: true,
		ConnectionSpecification: map[string]any{
			"$schema": "http://json-schema.org/draft-07/schema#",
			"title":   "Klaviyo Source Spec",
			"type":    "object",
			"required": []string{"credentials"},
			"properties": map[string]any{
				"credentials": map[string]any{
					"type":  "object",
					"oneOf": []any{
						map[string]any{
							"title": "API Key",
							"type":  "object",
							"required": []string{"auth_type", "api_key"},
							"properties": map[string]any{
								"auth_type": map[string]any{"type": "string", "const": "api_key"},
								"api_key":   map[string]any{"type": "string", "airbyte_secret": true},
							},
						},
						map[string]any{
							"title": "OAuth2.0",
							"type":  "object",
							"required": []string{"auth_type", "client_id", "client_secret", "refresh_token"},
							"properties": map[string]any{
								"auth_type":     map[string]any{"type": "string", "const": "oauth"},
								"client_id":     map[string]any{"type": "string"},
								"client_secret": map[string]any{"type": "string", "airbyte_secret": true},
								"refresh_token": map[string]any{"type": "string", "airbyte_secret": true},
							},
						},
					},
				},
				"initialize":          map[string]any{"type": "boolean", "default": false},
				"backfill":            map[string]any{"type": "boolean", "default": false},
				"max_stream_failures": map[string]any{"type": "integer", "default": -1},
				"max_slice_failures":  map[string]any{"type": "integer", "default": -1},
				"debug":               map[string]any{"type": "boolean", "default": false},
				"compress_state":      map[string]any{"type": "boolean", "default": true},
			},
		},
	}
}
