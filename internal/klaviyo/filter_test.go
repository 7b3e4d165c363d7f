package klaviyo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
)

func TestFilterBuilderCommaJoins(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	f := klaviyo.NewFilterBuilder().
		GreaterOrEqual("datetime", t0).
		LessThan("datetime", t1).
		String()

	assert.Equal(t, "greater-or-equal(datetime,2024-01-01T00:00:00Z),less-than(datetime,2024-01-02T00:00:00Z)", f)
}

func TestEmptyFilterBuilder(t *testing.T) {
	assert.Equal(t, "", klaviyo.NewFilterBuilder().String())
}

func TestUnknownEndpointKeyPanics(t *testing.T) {
	assert.Panics(t, func() {
		klaviyo.Lookup("GET:/nonexistent/")
	})
}

func TestKnownEndpointLookup(t *testing.T) {
	b := klaviyo.Lookup(klaviyo.EndpointEvents)
	assert.Equal(t, 350, b.Burst)
	assert.Equal(t, 3500, b.Steady)
}
