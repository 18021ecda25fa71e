// Package estimate turns purchase records into ranked emission estimates:
// candidate generation, the retrying estimate call, per-row fan-out, and
// ranking of the candidate outcomes.
package estimate

// Candidate is one (search term, category) interpretation of a record. An
// empty Category means no category is sent.
type Candidate struct {
	SearchTerm string `json:"search_term"`
	Category   string `json:"category,omitempty"`
}

// HasCategory reports whether the candidate carries a category.
func (c Candidate) HasCategory() bool {
	return c.Category != ""
}

// Permutations pairs every search term with every category, search terms
// outermost. With no categories each search term yields a single candidate
// without a category.
func Permutations(searchTerms, categories []string) []Candidate {
	if len(categories) == 0 {
		categories = []string{""}
	}

	out := make([]Candidate, 0, len(searchTerms)*len(categories))
	for _, term := range searchTerms {
		for _, cat := range categories {
			out = append(out, Candidate{SearchTerm: term, Category: cat})
		}
	}
	return out
}
