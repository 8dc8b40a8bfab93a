package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestDistance(t *testing.T) {
	cases := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		wantKm     float64
		delta      float64
	}{
		{"same point", -23.5505, -46.6333, -23.5505, -46.6333, 0, 0},
		{"sao paulo to rio", -23.5505, -46.6333, -22.9068, -43.1729, 361, 5},
		{"sao paulo to brasilia", -23.5505, -46.6333, -15.7939, -47.8828, 872, 15},
		{"london to paris", 51.5074, -0.1278, 48.8566, 2.3522, 344, 5},
		{"antipodes", 0, 0, 0, 180, 20015, 5},
		{"across the antimeridian", 0, 179.5, 0, -179.5, 111, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			assert.InDelta(t, tc.wantKm, got, tc.delta)
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	points := [][2]float64{
		{-23.5505, -46.6333},
		{-22.9068, -43.1729},
		{40.7128, -74.0060},
		{35.6762, 139.6503},
		{0, 0},
		{89.9, 10},
	}

	for _, a := range points {
		assert.Equal(t, 0.0, Distance(a[0], a[1], a[0], a[1]))
		for _, b := range points {
			assert.Equal(t, Distance(a[0], a[1], b[0], b[1]), Distance(b[0], b[1], a[0], a[1]))
		}
	}
}

func TestDistanceBetween(t *testing.T) {
	t.Run("both known", func(t *testing.T) {
		km, ok := DistanceBetween(ptr(-23.55), ptr(-46.63), ptr(-23.56), ptr(-46.64))
		assert.True(t, ok)
		assert.Less(t, km, 2.0)
	})

	t.Run("missing coordinates are unknown not zero", func(t *testing.T) {
		_, ok := DistanceBetween(ptr(-23.55), nil, ptr(-23.56), ptr(-46.64))
		assert.False(t, ok)

		_, ok = DistanceBetween(ptr(-23.55), ptr(-46.63), nil, nil)
		assert.False(t, ok)
	})
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(0, 0))
	assert.True(t, ValidCoordinates(-90, 180))
	assert.False(t, ValidCoordinates(90.1, 0))
	assert.False(t, ValidCoordinates(0, -180.5))
}
