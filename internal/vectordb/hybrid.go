package vectordb

import "sort"

// RRFConstant is the k in reciprocal rank fusion: score = sum 1/(k + rank)
const RRFConstant = 60

// FusedID is an ID with its fused score
type FusedID struct {
	ID    string
	Score float64
}

// ReciprocalRankFusion merges ranked ID lists. Each list contributes
// 1/(RRFConstant + rank) for every ID it contains, with rank starting at 1.
// Ties keep the order in which IDs were first seen.
func ReciprocalRankFusion(lists ...[]string) []FusedID {
	scores := make(map[string]float64)
	var order []string
	for _, list := range lists {
		for rank, id := range list {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(RRFConstant+rank+1)
		}
	}

	fused := make([]FusedID, len(order))
	for i, id := range order {
		fused[i] = FusedID{ID: id, Score: scores[id]}
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}
