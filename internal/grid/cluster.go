package grid

import "math"

// edgeDelta is how far past a cell edge we step to land inside the neighbor.
// It is well under a cell height (1/24°) and well clear of float noise.
const edgeDelta = 0.01

// Neighbors is a subsquare with its eight compass neighbors.
type Neighbors struct {
	Center    Subsquare `json:"c"`
	NorthWest Subsquare `json:"nw"`
	North     Subsquare `json:"n"`
	NorthEast Subsquare `json:"ne"`
	East      Subsquare `json:"e"`
	SouthEast Subsquare `json:"se"`
	South     Subsquare `json:"s"`
	SouthWest Subsquare `json:"sw"`
	West      Subsquare `json:"w"`
}

// Neighbors returns the 9-cell cluster around s.
func (l *Locator) Neighbors(s Subsquare) Neighbors {
	return Neighbors{
		Center:    s,
		NorthWest: l.near(s.LatNorth+edgeDelta, s.LngWest-edgeDelta),
		North:     l.near(s.LatNorth+edgeDelta, s.LngCenter),
		NorthEast: l.near(s.LatNorth+edgeDelta, s.LngEast+edgeDelta),
		East:      l.near(s.LatCenter, s.LngEast+edgeDelta),
		SouthEast: l.near(s.LatSouth-edgeDelta, s.LngEast+edgeDelta),
		South:     l.near(s.LatSouth-edgeDelta, s.LngCenter),
		SouthWest: l.near(s.LatSouth-edgeDelta, s.LngWest-edgeDelta),
		West:      l.near(s.LatCenter, s.LngWest-edgeDelta),
	}
}

// BuildCluster grows a square of (2*rings+1)² subsquares around center, one
// ring at a time. The result is indexed [x][y]: x runs west to east and y
// runs south to north, so center sits at [rings][rings].
//
// Each new cell is found by stepping just past an edge of the previous ring
// and converting back through LatLngToCode, which carries across field
// boundaries without any code arithmetic. Longitude wraps at the antimeridian.
// Latitude is clamped inside the poles, so rings that would cross a pole
// repeat the polar row instead.
func (l *Locator) BuildCluster(center Subsquare, rings int) [][]Subsquare {
	cluster := [][]Subsquare{{center}}
	for i := 0; i < rings; i++ {
		cluster = l.enlarge(cluster)
	}
	return cluster
}

func (l *Locator) enlarge(c [][]Subsquare) [][]Subsquare {
	n := len(c)
	top := n - 1

	north := make([]Subsquare, n)
	south := make([]Subsquare, n)
	east := make([]Subsquare, n)
	west := make([]Subsquare, n)
	for i := 0; i < n; i++ {
		north[i] = l.near(c[i][top].LatNorth+edgeDelta, c[i][top].LngCenter)
		south[i] = l.near(c[i][0].LatSouth-edgeDelta, c[i][0].LngCenter)
		east[i] = l.near(c[top][i].LatCenter, c[top][i].LngEast+edgeDelta)
		west[i] = l.near(c[0][i].LatCenter, c[0][i].LngWest-edgeDelta)
	}

	ne, se, sw, nw := c[top][top], c[top][0], c[0][0], c[0][top]

	out := make([][]Subsquare, 0, n+2)

	col := make([]Subsquare, 0, n+2)
	col = append(col, l.near(sw.LatSouth-edgeDelta, sw.LngWest-edgeDelta))
	col = append(col, west...)
	col = append(col, l.near(nw.LatNorth+edgeDelta, nw.LngWest-edgeDelta))
	out = append(out, col)

	for x := 0; x < n; x++ {
		col := make([]Subsquare, 0, n+2)
		col = append(col, south[x])
		col = append(col, c[x]...)
		col = append(col, north[x])
		out = append(out, col)
	}

	col = make([]Subsquare, 0, n+2)
	col = append(col, l.near(se.LatSouth-edgeDelta, se.LngEast+edgeDelta))
	col = append(col, east...)
	col = append(col, l.near(ne.LatNorth+edgeDelta, ne.LngEast+edgeDelta))
	out = append(out, col)

	return out
}

// near resolves a point that may have stepped off the grid's domain.
func (l *Locator) near(lat, lng float64) Subsquare {
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	lng -= 180

	if lat >= 90 {
		lat = 90 - SubsquareLatSize/2
	}
	if lat <= -90 {
		lat = -90 + SubsquareLatSize/2
	}

	s, err := l.FromLatLng(lat, lng)
	if err != nil {
		// Unreachable after wrapping and clamping.
		panic(err)
	}
	return s
}
