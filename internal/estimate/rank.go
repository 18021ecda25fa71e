package estimate

import (
	"sort"

	"github.com/rotisserie/eris"
)

// RankingOrder decides how scored candidates are ordered.
type RankingOrder string

const (
	// RankAscending puts the lowest match score first. It is the default and
	// matches the historical output of the tool.
	RankAscending RankingOrder = "ascending"
	// RankDescending puts the highest match score first.
	RankDescending RankingOrder = "descending"
)

// ParseRankingOrder validates s. An empty string selects RankAscending.
func ParseRankingOrder(s string) (RankingOrder, error) {
	switch RankingOrder(s) {
	case "", RankAscending:
		return RankAscending, nil
	case RankDescending:
		return RankDescending, nil
	default:
		return "", eris.Errorf("estimate: unknown ranking order %q (want ascending or descending)", s)
	}
}

// Ranked is a Result with its 1-based position in the merged output.
type Ranked struct {
	Result
	Rank int
}

// Rank orders results: outcomes carrying a match score first, sorted by
// score in the given order, then unscored outcomes (no match or failure) in
// their original order. Ties keep their original order.
func Rank(results []Result, order RankingOrder) []Ranked {
	scored := make([]Result, 0, len(results))
	var unscored []Result
	for _, r := range results {
		if _, ok := r.Outcome.Score(); ok {
			scored = append(scored, r)
		} else {
			unscored = append(unscored, r)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, _ := scored[i].Outcome.Score()
		b, _ := scored[j].Outcome.Score()
		if order == RankDescending {
			return a > b
		}
		return a < b
	})

	ranked := make([]Ranked, 0, len(results))
	for _, r := range append(scored, unscored...) {
		ranked = append(ranked, Ranked{Result: r, Rank: len(ranked) + 1})
	}
	return ranked
}
