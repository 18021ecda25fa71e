package estimate

import (
	"strconv"

	"github.com/sells-group/emissions-cli/internal/output"
	"github.com/sells-group/emissions-cli/internal/records"
)

// Merge builds the output row for rec: its own fields plus the eleven
// candidate columns for every ranked outcome.
func Merge(rec records.Record, ranked []Ranked) output.Row {
	values := make(map[string]string, len(rec)+len(ranked)*len(output.CandidateColumns))
	for k, v := range rec {
		values[k] = v
	}

	for _, r := range ranked {
		for col, v := range candidateValues(r.Result) {
			values[output.RankedColumn(col, r.Rank)] = v
		}
	}

	return output.Row{Values: values, Ranks: len(ranked)}
}

func candidateValues(r Result) map[string]string {
	v := make(map[string]string, len(output.CandidateColumns))
	for _, c := range output.CandidateColumns {
		v[c] = ""
	}
	v[output.ColSearchTermUsed] = r.Candidate.SearchTerm
	v[output.ColCategoryUsed] = r.Candidate.Category

	if r.Outcome.Failed() {
		v[output.ColFactorName] = r.Outcome.Failure.Message
		return v
	}
	if !r.Outcome.Matched() {
		return v
	}

	e := r.Outcome.Estimate
	v[output.ColEmissions] = e.MassAmount
	v[output.ColFactorName] = e.FactorName
	v[output.ColFactorSource] = e.FactorSource
	v[output.ColFactorIntensity] = e.FactorIntensity
	v[output.ColIntensityUnit] = e.NumeratorUnit + "CO2e/" + e.RequestedCurrency
	v[output.ColOriginalUnit] = e.NumeratorUnit + "CO2e/" + e.DenominatorUnit
	v[output.ColExchangeRate] = e.ExchangeRate
	v[output.ColConfidenceScore] = formatScore(e.MatchScore)
	v[output.ColDashboardURL] = e.DashboardURL
	return v
}

// formatScore renders a match score in its shortest form; an absent or zero
// score renders empty.
func formatScore(score *float64) string {
	if score == nil || *score == 0 {
		return ""
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}
