package output

import "strconv"

// Per-candidate output column names. Each is suffixed with the candidate's
// rank, e.g. "Confidence score (1)".
const (
	ColEmissions       = "Emissions (tCO2e)"
	ColFactorName      = "Emission factor name"
	ColFactorSource    = "Emission factor source"
	ColFactorIntensity = "Emission factor intensity"
	ColIntensityUnit   = "Emission factor intensity unit"
	ColOriginalUnit    = "Emission factor original unit"
	ColExchangeRate    = "Exchange rate"
	ColConfidenceScore = "Confidence score"
	ColDashboardURL    = "Dashboard URL"
	ColSearchTermUsed  = "Search term used"
	ColCategoryUsed    = "Category used"
)

const columnsPerCandidate = 11

// CandidateColumns lists the per-candidate columns in output order.
var CandidateColumns = [columnsPerCandidate]string{
	ColEmissions,
	ColFactorName,
	ColFactorSource,
	ColFactorIntensity,
	ColIntensityUnit,
	ColOriginalUnit,
	ColExchangeRate,
	ColConfidenceScore,
	ColDashboardURL,
	ColSearchTermUsed,
	ColCategoryUsed,
}

// RankedColumn returns the column name for a candidate column at rank.
func RankedColumn(name string, rank int) string {
	return name + " (" + strconv.Itoa(rank) + ")"
}

// Header returns the chunk header: the input columns followed by the
// candidate columns for ranks 1..ranks.
func Header(inputColumns []string, ranks int) []string {
	header := make([]string, 0, len(inputColumns)+ranks*columnsPerCandidate)
	header = append(header, inputColumns...)
	for rank := 1; rank <= ranks; rank++ {
		for _, c := range CandidateColumns {
			header = append(header, RankedColumn(c, rank))
		}
	}
	return header
}
