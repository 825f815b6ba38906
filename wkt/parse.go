package wkt

import (
	"fmt"
	"strconv"
	"strings"

	syncErrors "github.com/geodbio/geosync/errors"
)

// Parse converts WKT text into a native geometry. Malformed input and
// empty geometries fail with a geometry error.
func Parse(text string) (*Geometry, error) {
	p := &parser{s: text}
	p.skipSpace()
	if p.eof() {
		return nil, parseErr("empty input")
	}

	word := strings.ToUpper(p.readWord())
	if word == "" {
		return nil, parseErr("expected geometry type at position %d", p.pos)
	}

	geomType, hasZ, err := resolveType(word)
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	// Accept both "POINT Z (...)" and "POINTZ (...)".
	if !hasZ {
		mark := p.pos
		if suffix := strings.ToUpper(p.readWord()); suffix == "Z" {
			hasZ = true
		} else if suffix != "" {
			if suffix == "EMPTY" {
				return nil, parseErr("empty geometry")
			}
			p.pos = mark
		}
	}

	p.skipSpace()
	if p.hasWord("EMPTY") {
		return nil, parseErr("empty geometry")
	}

	g := &Geometry{Type: geomType, HasZ: hasZ}
	dims := 2
	if hasZ {
		dims = 3
	}

	switch geomType {
	case TypePoint:
		pos, d, err := p.parseParenPosition(dims)
		if err != nil {
			return nil, err
		}
		dims = d
		g.Coords = [][][]Coord{{{pos}}}
	case TypeLineString, TypeMultiPoint:
		line, d, err := p.parsePositionList(dims, geomType == TypeMultiPoint)
		if err != nil {
			return nil, err
		}
		dims = d
		g.Coords = [][][]Coord{{line}}
	case TypePolygon, TypeMultiLineString:
		rings, d, err := p.parseRingList(dims)
		if err != nil {
			return nil, err
		}
		dims = d
		g.Coords = [][][]Coord{rings}
	case TypeMultiPolygon:
		polys, d, err := p.parsePolygonList(dims)
		if err != nil {
			return nil, err
		}
		dims = d
		g.Coords = polys
	}

	g.HasZ = dims == 3

	p.skipSpace()
	if !p.eof() {
		return nil, parseErr("unexpected trailing input at position %d", p.pos)
	}
	if g.IsEmpty() {
		return nil, parseErr("empty geometry")
	}
	return g, nil
}

// ParseEWKT parses extended WKT with an optional "SRID=n;" prefix. Plain
// WKT parses with an SRID of 0.
func ParseEWKT(text string) (*Geometry, int, error) {
	srid := 0
	trimmed := strings.TrimSpace(text)
	if len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "SRID=") {
		sep := strings.IndexByte(trimmed, ';')
		if sep < 0 {
			return nil, 0, parseErr("malformed EWKT: missing ';' after SRID")
		}
		v, err := strconv.Atoi(strings.TrimSpace(trimmed[5:sep]))
		if err != nil {
			return nil, 0, parseErr("malformed EWKT SRID: %v", err)
		}
		srid = v
		trimmed = trimmed[sep+1:]
	}
	g, err := Parse(trimmed)
	if err != nil {
		return nil, 0, err
	}
	return g, srid, nil
}

func resolveType(word string) (Type, bool, error) {
	hasZ := false
	if strings.HasSuffix(word, "Z") && word != "Z" {
		if t := Type(strings.TrimSuffix(word, "Z")); knownType(t) {
			return t, true, nil
		}
	}
	t := Type(word)
	if !knownType(t) {
		return "", false, parseErr("unsupported geometry type %q", word)
	}
	return t, hasZ, nil
}

func knownType(t Type) bool {
	switch t {
	case TypePoint, TypeLineString, TypePolygon,
		TypeMultiPoint, TypeMultiLineString, TypeMultiPolygon:
		return true
	}
	return false
}

type parser struct {
	s   string
	pos int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) readWord() string {
	start := p.pos
	for !p.eof() {
		c := p.s[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			p.pos++
		} else {
			break
		}
	}
	return p.s[start:p.pos]
}

func (p *parser) hasWord(word string) bool {
	mark := p.pos
	got := strings.ToUpper(p.readWord())
	if got == word {
		return true
	}
	p.pos = mark
	return false
}

func (p *parser) expect(ch byte) error {
	p.skipSpace()
	if p.peek() != ch {
		return parseErr("expected %q at position %d", string(ch), p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) readNumber() (float64, error) {
	p.skipSpace()
	start := p.pos
	for !p.eof() {
		c := p.s[p.pos]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			p.pos++
		} else {
			break
		}
	}
	if start == p.pos {
		return 0, parseErr("expected number at position %d", p.pos)
	}
	v, err := strconv.ParseFloat(p.s[start:p.pos], 64)
	if err != nil {
		return 0, parseErr("invalid number %q: %v", p.s[start:p.pos], err)
	}
	return v, nil
}

// parsePosition reads 2 or 3 space-separated ordinates. dims carries the
// expected dimensionality; 0 means not yet established.
func (p *parser) parsePosition(dims int) (Coord, int, error) {
	x, err := p.readNumber()
	if err != nil {
		return Coord{}, dims, err
	}
	y, err := p.readNumber()
	if err != nil {
		return Coord{}, dims, err
	}
	c := Coord{X: x, Y: y}

	got := 2
	p.skipSpace()
	if ch := p.peek(); ch != ',' && ch != ')' && ch != 0 {
		z, err := p.readNumber()
		if err != nil {
			return Coord{}, dims, err
		}
		c.Z = z
		got = 3
	}

	if dims != 0 && dims != got {
		return Coord{}, dims, parseErr("inconsistent coordinate dimensions: got %d, want %d", got, dims)
	}
	return c, got, nil
}

func (p *parser) parseParenPosition(dims int) (Coord, int, error) {
	if err := p.expect('('); err != nil {
		return Coord{}, dims, err
	}
	c, dims, err := p.parsePosition(dims)
	if err != nil {
		return Coord{}, dims, err
	}
	if err := p.expect(')'); err != nil {
		return Coord{}, dims, err
	}
	return c, dims, nil
}

// parsePositionList reads "(pos, pos, ...)". When optionalParens is true
// each position may itself be wrapped in parentheses, as in the two
// accepted MULTIPOINT forms.
func (p *parser) parsePositionList(dims int, optionalParens bool) ([]Coord, int, error) {
	if err := p.expect('('); err != nil {
		return nil, dims, err
	}
	var coords []Coord
	for {
		var (
			c   Coord
			err error
		)
		p.skipSpace()
		if optionalParens && p.peek() == '(' {
			c, dims, err = p.parseParenPosition(dims)
		} else {
			c, dims, err = p.parsePosition(dims)
		}
		if err != nil {
			return nil, dims, err
		}
		coords = append(coords, c)

		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(')'); err != nil {
		return nil, dims, err
	}
	return coords, dims, nil
}

func (p *parser) parseRingList(dims int) ([][]Coord, int, error) {
	if err := p.expect('('); err != nil {
		return nil, dims, err
	}
	var rings [][]Coord
	for {
		ring, d, err := p.parsePositionList(dims, false)
		if err != nil {
			return nil, dims, err
		}
		dims = d
		rings = append(rings, ring)

		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(')'); err != nil {
		return nil, dims, err
	}
	return rings, dims, nil
}

func (p *parser) parsePolygonList(dims int) ([][][]Coord, int, error) {
	if err := p.expect('('); err != nil {
		return nil, dims, err
	}
	var polys [][][]Coord
	for {
		rings, d, err := p.parseRingList(dims)
		if err != nil {
			return nil, dims, err
		}
		dims = d
		polys = append(polys, rings)

		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(')'); err != nil {
		return nil, dims, err
	}
	return polys, dims, nil
}

func parseErr(format string, args ...interface{}) error {
	return syncErrors.NewGeometryError(syncErrors.OpParse, fmt.Errorf(format, args...))
}
