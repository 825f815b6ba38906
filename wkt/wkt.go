// Package wkt converts between Well-Known Text and the engine's native
// geometry representation. The remote service exchanges geometries as WKT
// with a fixed coordinate precision; every serialize and compare path
// rounds identically so pull/push round trips are stable.
package wkt

import (
	"math"
)

// DefaultPrecision is the number of decimal digits kept on coordinates
// unless configured otherwise.
const DefaultPrecision = 6

// Type identifies a geometry type.
type Type string

const (
	TypePoint           Type = "POINT"
	TypeLineString      Type = "LINESTRING"
	TypePolygon         Type = "POLYGON"
	TypeMultiPoint      Type = "MULTIPOINT"
	TypeMultiLineString Type = "MULTILINESTRING"
	TypeMultiPolygon    Type = "MULTIPOLYGON"
)

// Coord is a single position. Z is meaningful only when the owning
// geometry reports HasZ.
type Coord struct {
	X, Y, Z float64
}

// Geometry is the native geometry form. Coordinate nesting follows the
// deepest type and shallower types occupy the leading levels:
//
//	Point            Coords[0][0][0]
//	LineString       Coords[0][0]
//	MultiPoint       Coords[0][0]
//	Polygon          Coords[0]       (outer ring first)
//	MultiLineString  Coords[0]
//	MultiPolygon     Coords
type Geometry struct {
	Type   Type
	HasZ   bool
	Coords [][][]Coord
}

// NewPoint builds a point geometry.
func NewPoint(c Coord) *Geometry {
	return &Geometry{Type: TypePoint, Coords: [][][]Coord{{{c}}}}
}

// NewPointZ builds a point geometry with elevation.
func NewPointZ(c Coord) *Geometry {
	g := NewPoint(c)
	g.HasZ = true
	return g
}

// NewLineString builds a linestring geometry.
func NewLineString(coords []Coord) *Geometry {
	return &Geometry{Type: TypeLineString, Coords: [][][]Coord{{coords}}}
}

// NewPolygon builds a polygon geometry from its rings, outer ring first.
func NewPolygon(rings [][]Coord) *Geometry {
	return &Geometry{Type: TypePolygon, Coords: [][][]Coord{rings}}
}

// NewMultiPolygon builds a multipolygon geometry.
func NewMultiPolygon(polygons [][][]Coord) *Geometry {
	return &Geometry{Type: TypeMultiPolygon, Coords: polygons}
}

// IsEmpty reports whether the geometry holds no positions.
func (g *Geometry) IsEmpty() bool {
	if g == nil {
		return true
	}
	for _, part := range g.Coords {
		for _, ring := range part {
			if len(ring) > 0 {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of the geometry.
func (g *Geometry) Clone() *Geometry {
	if g == nil {
		return nil
	}
	out := &Geometry{Type: g.Type, HasZ: g.HasZ, Coords: make([][][]Coord, len(g.Coords))}
	for i, part := range g.Coords {
		out.Coords[i] = make([][]Coord, len(part))
		for j, ring := range part {
			out.Coords[i][j] = append([]Coord(nil), ring...)
		}
	}
	return out
}

// Round returns a copy of g with every coordinate rounded to the given
// number of decimal digits. Negative precision is treated as zero.
func Round(g *Geometry, precision int) *Geometry {
	if g == nil {
		return nil
	}
	out := g.Clone()
	for _, part := range out.Coords {
		for _, ring := range part {
			for k := range ring {
				ring[k].X = roundTo(ring[k].X, precision)
				ring[k].Y = roundTo(ring[k].Y, precision)
				if out.HasZ {
					ring[k].Z = roundTo(ring[k].Z, precision)
				}
			}
		}
	}
	return out
}

// Equal reports whether two geometries match within precision: every
// coordinate pair must differ by less than 10^-precision. A type or
// dimensionality mismatch is unequal, never an error.
func Equal(a, b *Geometry, precision int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type != b.Type || a.HasZ != b.HasZ {
		return false
	}
	if len(a.Coords) != len(b.Coords) {
		return false
	}

	tol := tolerance(precision)
	for i := range a.Coords {
		if len(a.Coords[i]) != len(b.Coords[i]) {
			return false
		}
		for j := range a.Coords[i] {
			ra, rb := a.Coords[i][j], b.Coords[i][j]
			if len(ra) != len(rb) {
				return false
			}
			for k := range ra {
				if math.Abs(ra[k].X-rb[k].X) >= tol || math.Abs(ra[k].Y-rb[k].Y) >= tol {
					return false
				}
				if a.HasZ && math.Abs(ra[k].Z-rb[k].Z) >= tol {
					return false
				}
			}
		}
	}
	return true
}

func roundTo(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	shift := math.Pow10(precision)
	return math.Round(v*shift) / shift
}

func tolerance(precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	return math.Pow10(-precision)
}
