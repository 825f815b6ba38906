// Package marker provides the sync marker used to track the last observed
// remote modification time. Markers are totally ordered, only ever advance,
// and have a stable wire form so persisted sync state survives restarts.
package marker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Marker is a point-in-time high-water mark for sync operations.
// The zero Marker means "never synced" and sorts before every other marker.
type Marker struct {
	t time.Time
}

// At creates a marker for the given instant, truncated to UTC.
func At(t time.Time) Marker {
	return Marker{t: t.UTC()}
}

// Time returns the instant the marker represents.
func (m Marker) Time() time.Time {
	return m.t
}

// IsZero reports whether this is the never-synced marker.
func (m Marker) IsZero() bool {
	return m.t.IsZero()
}

// Compare returns -1 if m is before other, 0 if equal, 1 if after.
func (m Marker) Compare(other Marker) int {
	switch {
	case m.t.Before(other.t):
		return -1
	case m.t.After(other.t):
		return 1
	default:
		return 0
	}
}

// Advance returns the later of m and other. Markers never move backwards.
func (m Marker) Advance(other Marker) Marker {
	if other.Compare(m) > 0 {
		return other
	}
	return m
}

// String returns the wire form: RFC 3339 with nanoseconds, or "" for zero.
func (m Marker) String() string {
	if m.IsZero() {
		return ""
	}
	return m.t.Format(time.RFC3339Nano)
}

// Parse converts a wire-form string back into a Marker. The empty string
// parses to the zero marker.
func Parse(s string) (Marker, error) {
	if s == "" {
		return Marker{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Marker{}, fmt.Errorf("invalid marker %q: %w", s, err)
	}
	return Marker{t: t.UTC()}, nil
}

// MarshalJSON encodes the marker in its wire form.
func (m Marker) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a wire-form marker.
func (m *Marker) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
