package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

// Direction selects which relationship edges Lineage follows.
type Direction string

const (
	// Ancestors follows source -> target: the papers a seed builds on.
	Ancestors Direction = "ancestors"
	// Descendants follows target -> source: the papers building on a seed.
	Descendants Direction = "descendants"
	// Both ignores edge direction.
	Both Direction = "both"
)

// LineageQuery configures Lineage.
type LineageQuery struct {
	SeedID        int64
	Kinds         []validation.RelationKind // empty means every non-none kind
	MinConfidence float64
	MaxDepth      int
	Direction     Direction
}

// LineageNode is a paper reached from the seed.
type LineageNode struct {
	PaperID int64 `json:"paper_id"`
	Depth   int   `json:"depth"`
	// Via is the relationship that first reached this paper. Nil for the
	// seed.
	Via *store.Relationship `json:"via,omitempty"`
}

// Lineage walks the relationship graph breadth-first from a seed paper up
// to MaxDepth hops. Relationships without a kind are never followed. Nodes
// are returned in BFS order, the seed first.
func Lineage(ctx context.Context, b store.Backend, q LineageQuery) ([]LineageNode, error) {
	if q.MaxDepth < 0 {
		return nil, nil
	}
	if _, err := b.GetPaper(ctx, q.SeedID); err != nil {
		return nil, fmt.Errorf("graph.Lineage: loading seed paper: %w", err)
	}
	if q.Direction == "" {
		q.Direction = Ancestors
	}

	rels, err := b.ListRelationships(ctx, q.MinConfidence)
	if err != nil {
		return nil, fmt.Errorf("graph.Lineage: loading relationships: %w", err)
	}

	allowed := make(map[validation.RelationKind]bool, len(q.Kinds))
	for _, k := range q.Kinds {
		allowed[k] = true
	}

	type hop struct {
		to  int64
		rel store.Relationship
	}
	neighbours := make(map[int64][]hop)
	for _, r := range rels {
		kind := validation.RelationKind(r.RelationshipType)
		if kind.IsNone() || (len(allowed) > 0 && !allowed[kind]) {
			continue
		}
		if q.Direction == Ancestors || q.Direction == Both {
			neighbours[r.SourcePaperID] = append(neighbours[r.SourcePaperID], hop{r.TargetPaperID, r})
		}
		if q.Direction == Descendants || q.Direction == Both {
			neighbours[r.TargetPaperID] = append(neighbours[r.TargetPaperID], hop{r.SourcePaperID, r})
		}
	}
	for id := range neighbours {
		hs := neighbours[id]
		sort.SliceStable(hs, func(i, j int) bool { return hs[i].rel.Confidence > hs[j].rel.Confidence })
	}

	visited := map[int64]bool{q.SeedID: true}
	out := []LineageNode{{PaperID: q.SeedID}}
	queue := []int64{q.SeedID}

	for depth := 1; depth <= q.MaxDepth && len(queue) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []int64
		for _, id := range queue {
			for _, h := range neighbours[id] {
				if visited[h.to] {
					continue
				}
				visited[h.to] = true
				rel := h.rel
				out = append(out, LineageNode{PaperID: h.to, Depth: depth, Via: &rel})
				next = append(next, h.to)
			}
		}
		queue = next
	}
	return out, nil
}
