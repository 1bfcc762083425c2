package tokens

import (
	"strings"
	"testing"
)

func TestEstimator_Count(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exact multiple", "abcdefgh", 2},
		{"rounds up", "abcdefghi", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestTiktokenCounter_Count(t *testing.T) {
	c := NewTiktokenCounter("")

	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}

	short := c.Count("Hello, how are you?")
	if short < 3 || short > 10 {
		t.Errorf("Count(short) = %d, want between 3 and 10", short)
	}

	long := c.Count(strings.Repeat("Plan a long-form campaign sequence. ", 20))
	if long <= short {
		t.Errorf("Count(long) = %d, want more than %d", long, short)
	}
}
