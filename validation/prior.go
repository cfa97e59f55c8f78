package validation

import "sort"

// Weight bands and per-item contributions of the confidence prior.
const (
	HighBandMin   = 0.7
	MediumBandMin = 0.5
	LowBandMin    = 0.4

	HighContribution   = 0.15
	MediumContribution = 0.08
	LowContribution    = 0.04

	// PriorFloor is returned for an empty list and is the lower clamp bound.
	PriorFloor = 0.30
	// PriorCeiling caps the prior so a model judgment can still raise it.
	PriorCeiling = 0.85

	// DefaultMinSharedWeight is the pre-filter threshold applied to
	// both papers' relevance weights before estimating a prior.
	DefaultMinSharedWeight = 0.4
)

// WeightedItem links an item (a paper) to a weight in [0, 1].
type WeightedItem struct {
	ID     int64   `json:"id" yaml:"id"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// SharedItem is a concept present in both papers of a pair, carrying the
// mean of its two relevance weights.
type SharedItem struct {
	ID        int64   `json:"id" yaml:"id"`
	AvgWeight float64 `json:"avg_weight" yaml:"avg_weight"`
}

// EstimateConfidencePrior converts the overlap between two papers into a
// prior confidence that they are related.
//
// Each shared item contributes according to its band: high (>= 0.7) adds
// 0.15, medium (>= 0.5) adds 0.08, low (>= 0.4) adds 0.04. Items below
// the low band add nothing. The sum is clamped into [0.30, 0.85]. An empty
// list returns exactly 0.30.
func EstimateConfidencePrior(items []SharedItem) float64 {
	if len(items) == 0 {
		return PriorFloor
	}

	var high, medium, low int
	for _, it := range items {
		switch {
		case it.AvgWeight >= HighBandMin:
			high++
		case it.AvgWeight >= MediumBandMin:
			medium++
		case it.AvgWeight >= LowBandMin:
			low++
		}
	}

	score := HighContribution*float64(high) +
		MediumContribution*float64(medium) +
		LowContribution*float64(low)

	return clamp(score, PriorFloor, PriorCeiling)
}

// SharedItems intersects two weight lists keyed by item ID. An item is
// kept only when its weight in both lists is at least minWeight. Duplicate
// IDs within one list keep the highest weight. The result is ordered by ID.
func SharedItems(a, b []WeightedItem, minWeight float64) []SharedItem {
	wa := maxWeights(a)
	wb := maxWeights(b)

	var out []SharedItem
	for id, x := range wa {
		y, ok := wb[id]
		if !ok || x < minWeight || y < minWeight {
			continue
		}
		out = append(out, SharedItem{ID: id, AvgWeight: (x + y) / 2})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func maxWeights(items []WeightedItem) map[int64]float64 {
	m := make(map[int64]float64, len(items))
	for _, it := range items {
		if cur, ok := m[it.ID]; !ok || it.Weight > cur {
			m[it.ID] = it.Weight
		}
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
