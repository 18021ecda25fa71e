package estimate

// Estimate holds the fields derived from a successful estimate call. All
// string fields are empty and MatchScore is nil when the service could not
// classify the purchase.
type Estimate struct {
	MassAmount        string
	FactorName        string
	FactorSource      string
	FactorIntensity   string
	NumeratorUnit     string
	DenominatorUnit   string
	RequestedCurrency string
	ExchangeRate      string
	MatchScore        *float64
	DashboardURL      string
}

// Failure describes why a candidate produced no estimate.
type Failure struct {
	Message   string
	Retryable bool
}

// Outcome is the result of estimating one candidate: either an Estimate or,
// when Failure is non-nil, a failure. Attempts counts the calls made.
type Outcome struct {
	Estimate Estimate
	Failure  *Failure
	Attempts int
}

// Failed reports whether the candidate failed.
func (o Outcome) Failed() bool {
	return o.Failure != nil
}

// Matched reports whether the candidate produced a usable classification.
func (o Outcome) Matched() bool {
	return o.Failure == nil && o.Estimate.MassAmount != ""
}

// Kind names the outcome class: "matched", "no_match", "rejected" (the
// server refused the request) or "exhausted" (transient failures used up
// every attempt).
func (o Outcome) Kind() string {
	switch {
	case o.Failure != nil && o.Failure.Retryable:
		return "exhausted"
	case o.Failure != nil:
		return "rejected"
	case o.Matched():
		return "matched"
	default:
		return "no_match"
	}
}

// Score returns the match score, if the outcome carries one.
func (o Outcome) Score() (float64, bool) {
	if o.Failure != nil || o.Estimate.MatchScore == nil {
		return 0, false
	}
	return *o.Estimate.MatchScore, true
}

// Result pairs a candidate with its outcome.
type Result struct {
	Candidate Candidate
	Outcome   Outcome
}
