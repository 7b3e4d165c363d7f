package stream

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// CompileSchema builds a validator from a stream's declared JSON schema,
// the same gojsonschema.NewSchema call the discover catalog uses to
// sanity-check a schema before advertising it.
func CompileSchema(schema map[string]any) (*gojsonschema.Schema, error) {
	loader := gojsonschema.NewGoLoader(schema)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compiling json schema: %w", err)
	}
	return compiled, nil
}

// ValidateRecord reports the first schema violation found in rec, nil if
// rec conforms. Used as the driver's record-shape guard (§4.7/§4.8):
// a violation here is a schema violation and is fatal to the run.
func ValidateRecord(compiled *gojsonschema.Schema, rec map[string]any) error {
	result, err := compiled.Validate(gojsonschema.NewGoLoader(rec))
	if err != nil {
		return fmt.Errorf("validating record: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := result.Errors()
	return fmt.Errorf("record does not match declared schema: %s", errs[0].String())
}
