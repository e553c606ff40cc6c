package grid

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatLngToCode_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		want     string
	}{
		{"boston", 42.36, -71.05, "FN42li"},
		{"origin", 0, 0, "JJ00aa"},
		{"south west corner", -89.999, -179.999, "AA00aa"},
		{"north east corner", 89.999, 179.999, "RR99xx"},
		{"auckland", -36.85, 174.76, "RF73jd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := LatLngToCode(tt.lat, tt.lng)
			require.True(t, ok)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestLatLngToCode_OutsideDomain(t *testing.T) {
	for _, p := range [][2]float64{{90, 0}, {-90, 0}, {0, 180}, {0, -180}, {91, 10}, {math.NaN(), 0}} {
		_, ok := LatLngToCode(p[0], p[1])
		assert.False(t, ok, "%v", p)
	}
}

func TestLatLngToCode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for i := 0; i < 5000; i++ {
		lat := rng.Float64()*179.98 - 89.99
		lng := rng.Float64()*359.98 - 179.99

		code, ok := LatLngToCode(lat, lng)
		require.True(t, ok)

		s, err := SubsquareFromCode(code)
		require.NoError(t, err)

		if nearEdge(s, lat, lng) {
			continue
		}
		assert.True(t, s.Contains(lat, lng), "%s does not contain %f,%f", code, lat, lng)
	}
}

func nearEdge(s Subsquare, lat, lng float64) bool {
	const eps = 1e-9
	return math.Abs(lat-s.LatSouth) < eps || math.Abs(lat-s.LatNorth) < eps ||
		math.Abs(lng-s.LngWest) < eps || math.Abs(lng-s.LngEast) < eps
}

func TestSubsquareFromCode(t *testing.T) {
	s, err := SubsquareFromCode("fn42LI")
	require.NoError(t, err)

	assert.Equal(t, "FN42li", s.Code)
	assert.InDelta(t, -71.0833, s.LngWest, 1e-4)
	assert.InDelta(t, -71.0, s.LngEast, 1e-9)
	assert.InDelta(t, 42.3333, s.LatSouth, 1e-4)
	assert.InDelta(t, 42.375, s.LatNorth, 1e-9)
	assert.InDelta(t, (s.LatNorth+s.LatSouth)/2, s.LatCenter, 1e-12)
	assert.InDelta(t, (s.LngEast+s.LngWest)/2, s.LngCenter, 1e-12)
	assert.Greater(t, s.LatNorth, s.LatSouth)
	assert.Greater(t, s.LngEast, s.LngWest)
}

func TestSubsquareFromCode_Invalid(t *testing.T) {
	for _, code := range []string{"", "FN42", "FN42lii", "SN42li", "FNA2li", "FN42yy", "FN42l!"} {
		_, err := SubsquareFromCode(code)
		assert.ErrorIs(t, err, ErrInvalidCode, code)
	}
}

func TestLocator_Memoizes(t *testing.T) {
	l := NewLocator()

	a, err := l.FromCode("FN42li")
	require.NoError(t, err)
	b, err := l.FromCode("fn42li")
	require.NoError(t, err)
	c, err := l.FromLatLng(42.36, -71.05)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Equal(t, 1, l.Len())
}

func TestLocator_FromLatLngOutOfRange(t *testing.T) {
	_, err := NewLocator().FromLatLng(90, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
