package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/brunobiangulo/papergraph/store"
	"github.com/brunobiangulo/papergraph/validation"
)

// minComponentSplit is the minimum component size eligible for further
// modularity-based splitting.
const minComponentSplit = 6

// maxModularityNodes caps the node count for the modularity optimisation.
// Components larger than this are kept as level-0 only.
const maxModularityNodes = 200

// Cluster is a group of related papers. Level 0 clusters are connected
// components of the relationship graph; level 1 clusters split a large
// component by modularity.
type Cluster struct {
	Level    int     `json:"level"`
	PaperIDs []int64 `json:"paper_ids"`
}

type edge struct {
	to     int
	weight float64
}

// DetectClusters groups papers by their relationships, weighting each
// edge by confidence. Relationships below minConfidence or without a kind
// are ignored, and papers without any remaining edge are left out.
func DetectClusters(ctx context.Context, b store.Backend, minConfidence float64) ([]Cluster, error) {
	rels, err := b.ListRelationships(ctx, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	clusters := ClusterRelationships(rels)
	slog.Info("clusters: detection complete", "relationships", len(rels), "clusters", len(clusters))
	return clusters, nil
}

// ClusterRelationships is the in-memory part of DetectClusters.
func ClusterRelationships(rels []store.Relationship) []Cluster {
	idIndex := make(map[int64]int)
	var ids []int64
	index := func(id int64) int {
		if i, ok := idIndex[id]; ok {
			return i
		}
		idIndex[id] = len(ids)
		ids = append(ids, id)
		return len(ids) - 1
	}

	var adj [][]edge
	totalWeight := 0.0
	for _, r := range rels {
		if validation.RelationKind(r.RelationshipType).IsNone() || r.SourcePaperID == r.TargetPaperID {
			continue
		}
		si, ti := index(r.SourcePaperID), index(r.TargetPaperID)
		for len(adj) < len(ids) {
			adj = append(adj, nil)
		}
		w := r.Confidence
		if w <= 0 {
			w = 0.01
		}
		adj[si] = append(adj[si], edge{to: ti, weight: w})
		adj[ti] = append(adj[ti], edge{to: si, weight: w})
		totalWeight += w
	}
	if len(ids) == 0 {
		return nil
	}

	// Level 0: connected components via BFS.
	visited := make([]bool, len(ids))
	var components [][]int
	for i := range ids {
		if visited[i] {
			continue
		}
		var comp []int
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, e := range adj[node] {
				if !visited[e.to] {
					visited[e.to] = true
					queue = append(queue, e.to)
				}
			}
		}
		components = append(components, comp)
	}

	var clusters []Cluster
	for _, comp := range components {
		clusters = append(clusters, Cluster{Level: 0, PaperIDs: paperIDs(comp, ids)})

		if len(comp) >= minComponentSplit && len(comp) <= maxModularityNodes && totalWeight > 0 {
			subs := modularitySplit(comp, adj, totalWeight)
			if len(subs) <= 1 {
				continue
			}
			for _, sub := range subs {
				clusters = append(clusters, Cluster{Level: 1, PaperIDs: paperIDs(sub, ids)})
			}
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Level != clusters[j].Level {
			return clusters[i].Level < clusters[j].Level
		}
		if len(clusters[i].PaperIDs) != len(clusters[j].PaperIDs) {
			return len(clusters[i].PaperIDs) > len(clusters[j].PaperIDs)
		}
		return clusters[i].PaperIDs[0] < clusters[j].PaperIDs[0]
	})
	return clusters
}

func paperIDs(comp []int, ids []int64) []int64 {
	out := make([]int64, len(comp))
	for i, idx := range comp {
		out[i] = ids[idx]
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// modularitySplit applies a greedy modularity optimisation (simplified
// Louvain) to split a connected component. If no move improves modularity
// the component is returned whole.
func modularitySplit(comp []int, adj [][]edge, totalWeight float64) [][]int {
	n := len(comp)
	if n < minComponentSplit {
		return [][]int{comp}
	}

	localIdx := make(map[int]int, n)
	for i, node := range comp {
		localIdx[node] = i
	}

	community := make([]int, n)
	for i := range community {
		community[i] = i
	}

	strength := make([]float64, n)
	for i, node := range comp {
		for _, e := range adj[node] {
			if _, ok := localIdx[e.to]; ok {
				strength[i] += e.weight
			}
		}
	}

	m2 := 2.0 * totalWeight
	commStrength := make(map[int]float64, n)
	for i := range comp {
		commStrength[community[i]] += strength[i]
	}

	const maxPasses = 20
	for pass := 0; pass < maxPasses; pass++ {
		moved := false
		for i, node := range comp {
			commWeights := make(map[int]float64)
			for _, e := range adj[node] {
				if li, ok := localIdx[e.to]; ok {
					commWeights[community[li]] += e.weight
				}
			}

			current := community[i]
			ki := strength[i]
			removeDelta := commWeights[current]/m2 - ((commStrength[current]-ki)*ki)/(m2*m2)

			best, bestGain := current, 0.0
			// Visit candidate communities in a fixed order so results are
			// reproducible.
			cands := make([]int, 0, len(commWeights))
			for c := range commWeights {
				cands = append(cands, c)
			}
			sort.Ints(cands)
			for _, c := range cands {
				if c == current {
					continue
				}
				gain := (commWeights[c]/m2 - (commStrength[c]*ki)/(m2*m2)) - removeDelta
				if gain > bestGain {
					bestGain = gain
					best = c
				}
			}

			if best != current {
				commStrength[current] -= ki
				commStrength[best] += ki
				community[i] = best
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	groups := make(map[int][]int)
	var order []int
	for i, node := range comp {
		c := community[i]
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], node)
	}
	if len(groups) <= 1 {
		return [][]int{comp}
	}
	result := make([][]int, 0, len(groups))
	for _, c := range order {
		result = append(result, groups[c])
	}
	return result
}
