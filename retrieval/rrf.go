// Package retrieval merges ranked paper lists from independent search
// methods.
package retrieval

import (
	"sort"

	"github.com/brunobiangulo/papergraph/store"
)

const rrfK = 60 // RRF constant (standard value from literature)

// Methods that produce a ranked list.
const (
	MethodFTS    = "fts"
	MethodVector = "vector"
)

// Ranked is one method's results, best first.
type Ranked struct {
	Method  string
	Weight  float64
	Results []store.SearchResult
}

// Hit is a fused result. Score is the fused score; Ranks holds the
// 1-based rank of the paper in each method that returned it.
type Hit struct {
	store.SearchResult
	Methods []string       `json:"methods"`
	Ranks   map[string]int `json:"ranks"`
}

// Fuse combines ranked lists with Reciprocal Rank Fusion:
// score = sum(weight_i / (k + rank_i)). Papers are keyed by ID, and the
// first list that returned a paper supplies its record. Ties keep the
// lower paper ID first. maxResults <= 0 keeps every hit.
func Fuse(lists []Ranked, maxResults int) []Hit {
	type fusedEntry struct {
		hit   Hit
		score float64
	}

	fused := make(map[int64]*fusedEntry)
	for _, l := range lists {
		for rank, r := range l.Results {
			entry, ok := fused[r.Paper.ID]
			if !ok {
				entry = &fusedEntry{hit: Hit{SearchResult: r, Ranks: make(map[string]int)}}
				fused[r.Paper.ID] = entry
			}
			if _, seen := entry.hit.Ranks[l.Method]; seen {
				continue
			}
			entry.score += l.Weight / float64(rrfK+rank+1)
			entry.hit.Methods = append(entry.hit.Methods, l.Method)
			entry.hit.Ranks[l.Method] = rank + 1
		}
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].hit.Paper.ID < entries[j].hit.Paper.ID
	})

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	hits := make([]Hit, len(entries))
	for i, e := range entries {
		hits[i] = e.hit
		hits[i].Score = e.score
	}
	return hits
}
