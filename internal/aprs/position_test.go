package aprs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionUncompressed(t *testing.T) {
	p, err := ParsePosition("!4903.50N/07201.75W-")
	require.NoError(t, err)
	assert.InDelta(t, 49+3.50/60, p.Lat, 0.001)
	assert.InDelta(t, -(72+1.75/60), p.Lon, 0.001)
}

func TestGreatCircleMetersZeroForSamePoint(t *testing.T) {
	p, err := ParsePosition("!4903.50N/07201.75W-")
	require.NoError(t, err)
	assert.InDelta(t, 0, GreatCircleMeters(p, p), 1e-6)
}

func TestGreatCircleMetersApproximatelyCorrect(t *testing.T) {
	a := Position{Lat: 0, Lon: 0}
	b := Position{Lat: 0, Lon: 1}
	dist := GreatCircleMeters(a, b)
	// One degree of longitude at the equator is ~111.32km.
	assert.True(t, math.Abs(dist-111320) < 2000)
}
