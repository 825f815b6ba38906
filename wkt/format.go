package wkt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	syncErrors "github.com/geodbio/geosync/errors"
)

// Format serializes a geometry to WKT with coordinates rounded to the
// given number of decimal digits. Unsupported geometry types and
// non-finite coordinates fail with a geometry error.
func Format(g *Geometry, precision int) (string, error) {
	if g == nil || g.IsEmpty() {
		return "", formatErr("cannot serialize empty geometry")
	}
	if !knownType(g.Type) {
		return "", formatErr("unsupported geometry type %q", g.Type)
	}
	if err := checkFinite(g); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(string(g.Type))
	if g.HasZ {
		b.WriteString(" Z")
	}
	b.WriteByte(' ')

	switch g.Type {
	case TypePoint:
		if len(g.Coords) != 1 || len(g.Coords[0]) != 1 || len(g.Coords[0][0]) != 1 {
			return "", formatErr("malformed point coordinates")
		}
		b.WriteByte('(')
		writePosition(&b, g.Coords[0][0][0], g.HasZ, precision)
		b.WriteByte(')')
	case TypeLineString, TypeMultiPoint:
		if len(g.Coords) != 1 || len(g.Coords[0]) != 1 {
			return "", formatErr("malformed %s coordinates", strings.ToLower(string(g.Type)))
		}
		writePositionList(&b, g.Coords[0][0], g.HasZ, precision)
	case TypePolygon, TypeMultiLineString:
		if len(g.Coords) != 1 {
			return "", formatErr("malformed %s coordinates", strings.ToLower(string(g.Type)))
		}
		writeRingList(&b, g.Coords[0], g.HasZ, precision)
	case TypeMultiPolygon:
		b.WriteByte('(')
		for i, rings := range g.Coords {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRingList(&b, rings, g.HasZ, precision)
		}
		b.WriteByte(')')
	}

	return b.String(), nil
}

// FormatEWKT serializes a geometry to extended WKT with an SRID prefix,
// e.g. "SRID=4326;POINT (1 2)".
func FormatEWKT(g *Geometry, srid, precision int) (string, error) {
	text, err := Format(g, precision)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SRID=%d;%s", srid, text), nil
}

func writePositionList(b *strings.Builder, coords []Coord, hasZ bool, precision int) {
	b.WriteByte('(')
	for i, c := range coords {
		if i > 0 {
			b.WriteString(", ")
		}
		writePosition(b, c, hasZ, precision)
	}
	b.WriteByte(')')
}

func writeRingList(b *strings.Builder, rings [][]Coord, hasZ bool, precision int) {
	b.WriteByte('(')
	for i, ring := range rings {
		if i > 0 {
			b.WriteString(", ")
		}
		writePositionList(b, ring, hasZ, precision)
	}
	b.WriteByte(')')
}

func writePosition(b *strings.Builder, c Coord, hasZ bool, precision int) {
	b.WriteString(formatOrdinate(c.X, precision))
	b.WriteByte(' ')
	b.WriteString(formatOrdinate(c.Y, precision))
	if hasZ {
		b.WriteByte(' ')
		b.WriteString(formatOrdinate(c.Z, precision))
	}
}

func formatOrdinate(v float64, precision int) string {
	return strconv.FormatFloat(roundTo(v, precision), 'f', -1, 64)
}

func checkFinite(g *Geometry) error {
	for _, part := range g.Coords {
		for _, ring := range part {
			for _, c := range ring {
				if !finite(c.X) || !finite(c.Y) || (g.HasZ && !finite(c.Z)) {
					return formatErr("non-finite coordinate (%v %v %v)", c.X, c.Y, c.Z)
				}
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func formatErr(format string, args ...interface{}) error {
	return syncErrors.NewGeometryError(syncErrors.OpFormat, fmt.Errorf(format, args...))
}
