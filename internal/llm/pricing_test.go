package llm

import (
	"math"
	"testing"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		in     int
		out    int
		want   float64
	}{
		{"opus full million", "claude-opus-4", 1_000_000, 1_000_000, 90.0},
		{"haiku", "claude-3-5-haiku-latest", 1_000_000, 500_000, 2.80},
		{"sonnet default", "claude-sonnet-4", 1_000_000, 1_000_000, 18.0},
		{"unknown model uses default", "some-future-model", 2_000_000, 0, 6.0},
		{"zero usage", "claude-opus-4", 0, 0, 0},
		{"small turn", "claude-sonnet-4", 1000, 500, 0.0105},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.model, tt.in, tt.out)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cost(%s, %d, %d) = %v, want %v", tt.model, tt.in, tt.out, got, tt.want)
			}
		})
	}
}
