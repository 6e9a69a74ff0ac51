// Package search runs the hybrid retrieval pipeline: a vector KNN arm
// and a BM25 full-text arm over the graph store, fused with Reciprocal
// Rank Fusion and shaped into parent-file-grouped results.
package search

import "sort"

// DefaultRRFK is the standard RRF smoothing parameter, empirically
// validated across domains.
const DefaultRRFK = 60

// RankedItem is one entry of a ranked input list.
type RankedItem struct {
	ID    string
	Score float64
}

// FusionConfig parameterises Fuse.
type FusionConfig struct {
	// K is the smoothing constant.
	K int
	// Weights holds one weight per input list; missing entries default
	// to 1.0.
	Weights []float64
	// MinScore drops fused items below this normalized score.
	MinScore float64
}

// FusedItem is one item after fusion. Ranks and Scores are indexed by
// input list; a rank of 0 means the item was absent from that list.
type FusedItem struct {
	ID         string
	Score      float64
	Ranks      []int
	Scores     []float64
	InAllLists bool
}

// Fuse combines N ranked lists with Reciprocal Rank Fusion:
//
//	score(d) = Σ_i weight_i / (k + rank_i(d))
//
// Items absent from a list contribute at rank max(len)+1 for that list.
// Scores are normalized so the best item is 1.0, then items below
// MinScore are dropped. Sorting is deterministic: fused score, then
// presence in every list, then best source score, then id.
func Fuse(lists [][]RankedItem, cfg FusionConfig) []*FusedItem {
	if cfg.K <= 0 {
		cfg.K = DefaultRRFK
	}

	total := 0
	maxLen := 0
	for _, list := range lists {
		total += len(list)
		if len(list) > maxLen {
			maxLen = len(list)
		}
	}
	if total == 0 {
		return []*FusedItem{}
	}

	weight := func(i int) float64 {
		if i < len(cfg.Weights) && cfg.Weights[i] > 0 {
			return cfg.Weights[i]
		}
		return 1.0
	}

	items := make(map[string]*FusedItem, total)
	for i, list := range lists {
		w := weight(i)
		for rank, entry := range list {
			item, ok := items[entry.ID]
			if !ok {
				item = &FusedItem{
					ID:     entry.ID,
					Ranks:  make([]int, len(lists)),
					Scores: make([]float64, len(lists)),
				}
				items[entry.ID] = item
			}
			item.Ranks[i] = rank + 1
			item.Scores[i] = entry.Score
			item.Score += w / float64(cfg.K+rank+1)
		}
	}

	// Items missing from a list still receive that list's contribution,
	// at one past the longest list, so single-arm hits are penalized
	// rather than zeroed.
	missingRank := maxLen + 1
	for _, item := range items {
		item.InAllLists = true
		for i := range lists {
			if item.Ranks[i] == 0 {
				item.InAllLists = false
				item.Score += weight(i) / float64(cfg.K+missingRank)
			}
		}
	}

	results := make([]*FusedItem, 0, len(items))
	for _, item := range items {
		results = append(results, item)
	}
	sort.Slice(results, func(i, j int) bool {
		return fusedLess(results[i], results[j])
	})

	normalize(results)

	if cfg.MinScore > 0 {
		kept := results[:0]
		for _, item := range results {
			if item.Score >= cfg.MinScore {
				kept = append(kept, item)
			}
		}
		results = kept
	}
	return results
}

// fusedLess reports whether a ranks before b.
func fusedLess(a, b *FusedItem) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.InAllLists != b.InAllLists {
		return a.InAllLists
	}
	if as, bs := maxScore(a), maxScore(b); as != bs {
		return as > bs
	}
	return a.ID < b.ID
}

func maxScore(item *FusedItem) float64 {
	best := 0.0
	for _, s := range item.Scores {
		if s > best {
			best = s
		}
	}
	return best
}

// normalize scales fused scores so the top item is 1.0.
func normalize(results []*FusedItem) {
	if len(results) == 0 || results[0].Score == 0 {
		return
	}
	top := results[0].Score
	for _, item := range results {
		item.Score /= top
	}
}
