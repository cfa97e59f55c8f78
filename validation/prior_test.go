package validation

import (
	"math"
	"testing"
)

func items(weights ...float64) []SharedItem {
	out := make([]SharedItem, len(weights))
	for i, w := range weights {
		out[i] = SharedItem{ID: int64(i + 1), AvgWeight: w}
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEstimateConfidencePrior(t *testing.T) {
	tests := []struct {
		name  string
		items []SharedItem
		want  float64
	}{
		{"empty", nil, 0.30},
		{"empty non-nil", []SharedItem{}, 0.30},
		{"three high", items(0.8, 0.9, 0.75), 0.45},
		{"one high one medium floors", items(0.8, 0.6), 0.30},
		{"six high capped", items(0.9, 0.9, 0.9, 0.9, 0.9, 0.9), 0.85},
		{"below low band ignored", items(0.1, 0.2, 0.39), 0.30},
		{"band edges", items(0.7, 0.5, 0.4), 0.30},
		{"mixed", items(0.7, 0.7, 0.5, 0.5, 0.4), 0.15*2 + 0.08*2 + 0.04},
		{"many low", items(0.45, 0.45, 0.45, 0.45, 0.45, 0.45, 0.45, 0.45, 0.45, 0.45), 0.40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateConfidencePrior(tt.items)
			if !approx(got, tt.want) {
				t.Errorf("EstimateConfidencePrior = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateConfidencePriorEmptyIsExact(t *testing.T) {
	if got := EstimateConfidencePrior(nil); got != 0.30 {
		t.Fatalf("empty prior = %v, want exactly 0.30", got)
	}
}

func TestEstimateConfidencePriorBounds(t *testing.T) {
	weights := []float64{0, 0.39, 0.4, 0.49, 0.5, 0.69, 0.7, 1}
	for n := 0; n < 12; n++ {
		for _, w := range weights {
			list := make([]SharedItem, n)
			for i := range list {
				list[i] = SharedItem{ID: int64(i), AvgWeight: w}
			}
			got := EstimateConfidencePrior(list)
			if got < PriorFloor || got > PriorCeiling {
				t.Fatalf("n=%d w=%v: prior %v outside [%v, %v]", n, w, got, PriorFloor, PriorCeiling)
			}
		}
	}
}

func TestEstimateConfidencePriorMonotonic(t *testing.T) {
	base := items(0.8, 0.55)
	prev := EstimateConfidencePrior(base)
	for _, w := range []float64{0.45, 0.6, 0.9, 0.41, 0.72} {
		base = append(base, SharedItem{ID: int64(len(base) + 1), AvgWeight: w})
		got := EstimateConfidencePrior(base)
		if got < prev {
			t.Fatalf("adding weight %v lowered prior from %v to %v", w, prev, got)
		}
		prev = got
	}
}

func TestEstimateConfidencePriorOrderIndependent(t *testing.T) {
	a := items(0.9, 0.6, 0.45, 0.75)
	b := []SharedItem{a[3], a[1], a[0], a[2]}
	if EstimateConfidencePrior(a) != EstimateConfidencePrior(b) {
		t.Fatal("prior depends on item order")
	}
}

func TestEstimateConfidencePriorNaNContributesNothing(t *testing.T) {
	got := EstimateConfidencePrior([]SharedItem{{ID: 1, AvgWeight: math.NaN()}})
	if got != PriorFloor {
		t.Fatalf("NaN prior = %v, want %v", got, PriorFloor)
	}
}

func TestSharedItems(t *testing.T) {
	a := []WeightedItem{{ID: 1, Weight: 0.9}, {ID: 2, Weight: 0.3}, {ID: 3, Weight: 0.6}, {ID: 5, Weight: 0.8}}
	b := []WeightedItem{{ID: 3, Weight: 0.8}, {ID: 1, Weight: 0.5}, {ID: 2, Weight: 0.9}, {ID: 4, Weight: 1}}

	got := SharedItems(a, b, DefaultMinSharedWeight)
	if len(got) != 2 {
		t.Fatalf("expected 2 shared items, got %d: %+v", len(got), got)
	}
	if got[0].ID != 1 || !approx(got[0].AvgWeight, 0.7) {
		t.Errorf("first shared item = %+v, want {1 0.7}", got[0])
	}
	if got[1].ID != 3 || !approx(got[1].AvgWeight, 0.7) {
		t.Errorf("second shared item = %+v, want {3 0.7}", got[1])
	}
}

func TestSharedItemsDuplicateKeepsMax(t *testing.T) {
	a := []WeightedItem{{ID: 1, Weight: 0.2}, {ID: 1, Weight: 0.8}}
	b := []WeightedItem{{ID: 1, Weight: 0.6}}
	got := SharedItems(a, b, 0.4)
	if len(got) != 1 || !approx(got[0].AvgWeight, 0.7) {
		t.Fatalf("got %+v, want one item averaging 0.7", got)
	}
}

func TestSharedItemsNoOverlap(t *testing.T) {
	if got := SharedItems([]WeightedItem{{ID: 1, Weight: 1}}, []WeightedItem{{ID: 2, Weight: 1}}, 0.4); len(got) != 0 {
		t.Fatalf("expected no shared items, got %+v", got)
	}
}
