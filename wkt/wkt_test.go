package wkt

import (
	"math"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantType Type
		wantZ    bool
		wantErr  bool
	}{
		{"point", "POINT (30 10)", TypePoint, false, false},
		{"point lowercase", "point (30 10)", TypePoint, false, false},
		{"point z spaced", "POINT Z (30 10 5)", TypePoint, true, false},
		{"point z attached", "PointZ (30 10 5)", TypePoint, true, false},
		{"point z inferred", "POINT (30 10 5)", TypePoint, true, false},
		{"linestring", "LINESTRING (30 10, 10 30, 40 40)", TypeLineString, false, false},
		{"polygon", "POLYGON ((30 10, 40 40, 20 40, 10 20, 30 10))", TypePolygon, false, false},
		{"polygon with hole", "POLYGON ((35 10, 45 45, 15 40, 10 20, 35 10), (20 30, 35 35, 30 20, 20 30))", TypePolygon, false, false},
		{"multipoint bare", "MULTIPOINT (10 40, 40 30, 20 20)", TypeMultiPoint, false, false},
		{"multipoint wrapped", "MULTIPOINT ((10 40), (40 30), (20 20))", TypeMultiPoint, false, false},
		{"multilinestring", "MULTILINESTRING ((10 10, 20 20), (40 40, 30 30, 40 20))", TypeMultiLineString, false, false},
		{"multipolygon", "MULTIPOLYGON (((30 20, 45 40, 10 40, 30 20)), ((15 5, 40 10, 10 20, 5 10, 15 5)))", TypeMultiPolygon, false, false},
		{"negative and scientific", "POINT (-114.5021e0 42.001)", TypePoint, false, false},
		{"empty string", "", "", false, true},
		{"empty geometry", "POINT EMPTY", "", false, true},
		{"empty z geometry", "POINT Z EMPTY", "", false, true},
		{"unknown type", "CIRCLE (1 2)", "", false, true},
		{"missing paren", "POINT 30 10", "", false, true},
		{"unbalanced paren", "POINT (30 10", "", false, true},
		{"trailing garbage", "POINT (30 10) extra", "", false, true},
		{"not numbers", "POINT (foo bar)", "", false, true},
		{"single ordinate", "POINT (30)", "", false, true},
		{"mixed dimensions", "LINESTRING (1 2 3, 4 5)", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Parse(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if g.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", g.Type, tt.wantType)
			}
			if g.HasZ != tt.wantZ {
				t.Errorf("HasZ = %v, want %v", g.HasZ, tt.wantZ)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		geom      *Geometry
		precision int
		want      string
		wantErr   bool
	}{
		{
			name:      "point rounds",
			geom:      NewPoint(Coord{X: -114.50214999, Y: 42.0016449}),
			precision: 6,
			want:      "POINT (-114.50215 42.001645)",
		},
		{
			name:      "point precision zero",
			geom:      NewPoint(Coord{X: 1.4, Y: 2.6}),
			precision: 0,
			want:      "POINT (1 3)",
		},
		{
			name:      "point z",
			geom:      NewPointZ(Coord{X: 1, Y: 2, Z: 3.123456789}),
			precision: 6,
			want:      "POINT Z (1 2 3.123457)",
		},
		{
			name:      "linestring",
			geom:      NewLineString([]Coord{{X: 30, Y: 10}, {X: 10, Y: 30}}),
			precision: 6,
			want:      "LINESTRING (30 10, 10 30)",
		},
		{
			name: "polygon",
			geom: NewPolygon([][]Coord{
				{{X: 30, Y: 10}, {X: 40, Y: 40}, {X: 20, Y: 40}, {X: 30, Y: 10}},
			}),
			precision: 6,
			want:      "POLYGON ((30 10, 40 40, 20 40, 30 10))",
		},
		{
			name:      "nan coordinate",
			geom:      NewPoint(Coord{X: math.NaN(), Y: 1}),
			precision: 6,
			wantErr:   true,
		},
		{
			name:      "infinite coordinate",
			geom:      NewPoint(Coord{X: 1, Y: math.Inf(1)}),
			precision: 6,
			wantErr:   true,
		},
		{
			name:      "unsupported type",
			geom:      &Geometry{Type: "CURVE", Coords: [][][]Coord{{{{X: 1, Y: 2}}}}},
			precision: 6,
			wantErr:   true,
		},
		{
			name:      "empty geometry",
			geom:      &Geometry{Type: TypePoint},
			precision: 6,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.geom, tt.precision)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Format() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Serialize and compare must round identically: parsing a formatted
// geometry yields one equal to the original at the same precision.
func TestRoundTrip(t *testing.T) {
	geoms := []*Geometry{
		NewPoint(Coord{X: -114.502149999123, Y: 42.888416477001}),
		NewPointZ(Coord{X: 1.0000004, Y: -2.0000006, Z: 1503.3330009}),
		NewLineString([]Coord{{X: 0.123456789, Y: 9.87654321}, {X: -1.5, Y: 2.5}}),
		NewPolygon([][]Coord{
			{{X: 35.00000049, Y: 10}, {X: 45, Y: 45.000000951}, {X: 15, Y: 40}, {X: 35.00000049, Y: 10}},
		}),
		NewMultiPolygon([][][]Coord{
			{{{X: 30, Y: 20}, {X: 45, Y: 40}, {X: 10, Y: 40}, {X: 30, Y: 20}}},
			{{{X: 15, Y: 5}, {X: 40, Y: 10}, {X: 10, Y: 20}, {X: 15, Y: 5}}},
		}),
	}
	precisions := []int{0, 2, 6, 9}

	for _, g := range geoms {
		for _, p := range precisions {
			text, err := Format(g, p)
			if err != nil {
				t.Fatalf("Format(%v, %d) error = %v", g.Type, p, err)
			}
			parsed, err := Parse(text)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", text, err)
			}
			if !Equal(parsed, g, p) {
				t.Errorf("round trip at precision %d not equal for %v: %q", p, g.Type, text)
			}
		}
	}
}

func TestEqual(t *testing.T) {
	base := NewPoint(Coord{X: 10.000001, Y: 20.000001})

	tests := []struct {
		name      string
		a, b      *Geometry
		precision int
		want      bool
	}{
		{"identical", base, base.Clone(), 6, true},
		{"within tolerance", base, NewPoint(Coord{X: 10.0000014, Y: 20.0000014}), 6, true},
		{"outside tolerance", base, NewPoint(Coord{X: 10.000003, Y: 20.000001}), 6, false},
		{"coarse precision matches", base, NewPoint(Coord{X: 10.004, Y: 20.004}), 2, true},
		{"type mismatch", base, NewLineString([]Coord{{X: 10, Y: 20}, {X: 11, Y: 21}}), 6, false},
		{"dimension mismatch", base, NewPointZ(Coord{X: 10.000001, Y: 20.000001, Z: 1}), 6, false},
		{"both nil", nil, nil, 6, true},
		{"one nil", base, nil, 6, false},
		{
			name: "vertex count mismatch",
			a:    NewLineString([]Coord{{X: 1, Y: 1}, {X: 2, Y: 2}}),
			b:    NewLineString([]Coord{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}),

			precision: 6,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b, tt.precision); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEWKT(t *testing.T) {
	g := NewPoint(Coord{X: 30, Y: 10})

	text, err := FormatEWKT(g, 4326, 6)
	if err != nil {
		t.Fatalf("FormatEWKT() error = %v", err)
	}
	if text != "SRID=4326;POINT (30 10)" {
		t.Errorf("FormatEWKT() = %q", text)
	}

	parsed, srid, err := ParseEWKT(text)
	if err != nil {
		t.Fatalf("ParseEWKT() error = %v", err)
	}
	if srid != 4326 {
		t.Errorf("srid = %d, want 4326", srid)
	}
	if !Equal(parsed, g, 6) {
		t.Error("ParseEWKT() geometry mismatch")
	}

	// Plain WKT is accepted with SRID 0.
	if _, srid, err = ParseEWKT("POINT (1 2)"); err != nil || srid != 0 {
		t.Errorf("ParseEWKT(plain) = srid %d, err %v", srid, err)
	}

	if _, _, err = ParseEWKT("SRID=4326 POINT (1 2)"); err == nil {
		t.Error("ParseEWKT() expected error for missing semicolon")
	}
	if _, _, err = ParseEWKT("SRID=abc;POINT (1 2)"); err == nil {
		t.Error("ParseEWKT() expected error for bad SRID")
	}
}

func TestRound(t *testing.T) {
	g := NewPoint(Coord{X: 1.23456789, Y: -9.87654321})
	rounded := Round(g, 3)

	if got := rounded.Coords[0][0][0]; got.X != 1.235 || got.Y != -9.877 {
		t.Errorf("Round() = %v", got)
	}
	// Original untouched.
	if got := g.Coords[0][0][0]; got.X != 1.23456789 {
		t.Error("Round() must not mutate its input")
	}
}

func TestParseErrorMentionsPosition(t *testing.T) {
	_, err := Parse("LINESTRING (1 2, x 4)")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "GEOMETRY") {
		t.Errorf("error should carry the geometry kind: %v", err)
	}
}
