package marker

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMarker_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		marker Marker
	}{
		{"zero", Marker{}},
		{"instant", At(time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC))},
		{"non-utc input", At(time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("X", 7200)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.marker.String())
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got.Compare(tt.marker) != 0 {
				t.Errorf("Parse(String()) = %v, want %v", got, tt.marker)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-timestamp"); err == nil {
		t.Error("Parse() expected error for malformed marker")
	}
}

func TestMarker_CompareAndAdvance(t *testing.T) {
	early := At(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	late := At(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	if early.Compare(late) != -1 {
		t.Error("early should compare before late")
	}
	if late.Compare(early) != 1 {
		t.Error("late should compare after early")
	}
	if (Marker{}).Compare(early) != -1 {
		t.Error("zero marker should sort before any instant")
	}

	// Advance is monotonic in both directions.
	if got := early.Advance(late); got.Compare(late) != 0 {
		t.Errorf("Advance() = %v, want %v", got, late)
	}
	if got := late.Advance(early); got.Compare(late) != 0 {
		t.Error("Advance() must never move backwards")
	}
}

func TestMarker_JSON(t *testing.T) {
	m := At(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Marker
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Compare(m) != 0 {
		t.Errorf("JSON round trip = %v, want %v", got, m)
	}

	// Zero marker encodes as the empty string.
	data, err = json.Marshal(Marker{})
	if err != nil {
		t.Fatalf("Marshal(zero) error = %v", err)
	}
	if string(data) != `""` {
		t.Errorf("Marshal(zero) = %s, want \"\"", data)
	}
}
