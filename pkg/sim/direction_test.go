package sim

import (
	"encoding/json"
	"testing"
)

func TestDirectionBetween(t *testing.T) {
	tests := []struct {
		name string
		from Position
		to   Position
		want Direction
	}{
		{"due east", Position{0, 0}, Position{5, 0}, East},
		{"due west", Position{3, 1}, Position{-2, 1}, West},
		{"due south", Position{0, 0}, Position{0, 4}, South},
		{"due north", Position{0, 0}, Position{0, -4}, North},
		{"mostly east", Position{0, 0}, Position{5, 2}, East},
		{"mostly north", Position{0, 0}, Position{1, -3}, North},
		{"exact southeast", Position{0, 0}, Position{3, 3}, Southeast},
		{"exact northwest", Position{0, 0}, Position{-2, -2}, Northwest},
		{"exact northeast", Position{1, 1}, Position{3, -1}, Northeast},
		{"exact southwest", Position{0, 0}, Position{-4, 4}, Southwest},
		{"same point", Position{2, 2}, Position{2, 2}, North},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirectionBetween(tt.from, tt.to); got != tt.want {
				t.Errorf("DirectionBetween(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestDirectionParseRoundTrip(t *testing.T) {
	for d := North; d <= Northwest; d++ {
		parsed, err := ParseDirection(d.String())
		if err != nil {
			t.Fatalf("ParseDirection(%q) returned error: %v", d.String(), err)
		}
		if parsed != d {
			t.Errorf("ParseDirection(%q) = %v, want %v", d.String(), parsed, d)
		}
	}

	if _, err := ParseDirection("upward"); err == nil {
		t.Error("expected error for unknown direction name")
	}
}

func TestDirectionOpposite(t *testing.T) {
	pairs := map[Direction]Direction{
		North:     South,
		Northeast: Southwest,
		East:      West,
		Southeast: Northwest,
	}
	for d, want := range pairs {
		if got := d.Opposite(); got != want {
			t.Errorf("%v.Opposite() = %v, want %v", d, got, want)
		}
		if got := want.Opposite(); got != d {
			t.Errorf("%v.Opposite() = %v, want %v", want, got, d)
		}
	}
}

func TestDirectionOffsetMatchesBetween(t *testing.T) {
	origin := Position{0, 0}
	for d := North; d <= Northwest; d++ {
		dx, dy := d.Offset()
		if got := DirectionBetween(origin, origin.Add(dx, dy)); got != d {
			t.Errorf("offset of %v leads back to %v", d, got)
		}
	}
}

func TestDirectionJSON(t *testing.T) {
	data, err := json.Marshal(Southeast)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"southeast"` {
		t.Errorf("marshal = %s, want \"southeast\"", data)
	}

	var d Direction
	if err := json.Unmarshal([]byte(`"west"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d != West {
		t.Errorf("unmarshal = %v, want west", d)
	}

	if err := json.Unmarshal([]byte(`"sideways"`), &d); err == nil {
		t.Error("expected error for unknown direction")
	}
}
