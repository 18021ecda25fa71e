package estimate

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/emissions-cli/internal/resilience"
	"github.com/sells-group/emissions-cli/pkg/lune"
)

// DefaultDashboardURL is the dashboard link template; {id} is replaced with
// the estimate ID.
const DefaultDashboardURL = "https://dashboard.lune.co/calculate-emissions/everyday-purchases/{id}/results"

// Request is the input to a single estimate call.
type Request struct {
	Amount      string
	Currency    string
	SearchTerm  string
	Category    string
	CountryCode string
}

// Adapter wraps the Lune client with the retry policy and converts responses
// into Outcomes.
type Adapter struct {
	client       lune.Client
	retry        resilience.RetryConfig
	dashboardURL string
}

// NewAdapter creates an Adapter. An empty dashboardURL selects
// DefaultDashboardURL.
func NewAdapter(client lune.Client, retry resilience.RetryConfig, dashboardURL string) *Adapter {
	if dashboardURL == "" {
		dashboardURL = DefaultDashboardURL
	}
	return &Adapter{client: client, retry: retry, dashboardURL: dashboardURL}
}

// Estimate performs the estimate call for req. Server rejections fail after
// one call; other errors are retried with a fixed delay up to the configured
// number of attempts. Estimate never returns an error: failures are carried
// in the Outcome.
func (a *Adapter) Estimate(ctx context.Context, req Request) Outcome {
	cfg := a.retry
	cfg.ShouldRetry = resilience.IsTransient
	cfg.OnRetry = resilience.RetryLogger("lune", "estimate_transaction",
		zap.String("search_term", req.SearchTerm),
		zap.String("category", req.Category),
	)

	body := lune.TransactionRequest{
		Value: lune.MonetaryValue{
			Value:    req.Amount,
			Currency: req.Currency,
		},
		Merchant: lune.Merchant{
			SearchTerm:  req.SearchTerm,
			CountryCode: req.CountryCode,
			Category:    req.Category,
		},
	}

	resp, attempts, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*lune.TransactionEstimate, error) {
		return a.client.EstimateTransaction(ctx, body)
	})
	if err != nil {
		_, rejected := resilience.StatusCode(err)
		return Outcome{
			Failure:  &Failure{Message: err.Error(), Retryable: !rejected},
			Attempts: attempts,
		}
	}

	return Outcome{Estimate: a.derive(resp, req.Currency), Attempts: attempts}
}

// derive maps a response to an Estimate. A response without mass means the
// search term fell below the match threshold.
func (a *Adapter) derive(resp *lune.TransactionEstimate, currency string) Estimate {
	if resp == nil || resp.Mass == nil {
		return Estimate{}
	}

	exchangeRate := decimal.NewFromInt(1)
	if resp.ExchangeRate != nil {
		exchangeRate = *resp.ExchangeRate
	}

	var factor lune.EmissionFactor
	if resp.EmissionFactor != nil {
		factor = *resp.EmissionFactor
	}
	co2e := decimal.Zero
	if factor.GasEmissions != nil {
		co2e = factor.GasEmissions.CO2E
	}

	return Estimate{
		MassAmount:        resp.Mass.Amount.String(),
		FactorName:        factor.Name,
		FactorSource:      factor.Source,
		FactorIntensity:   co2e.Mul(exchangeRate).String(),
		NumeratorUnit:     factor.NumeratorUnit,
		DenominatorUnit:   factor.DenominatorUnit,
		RequestedCurrency: currency,
		ExchangeRate:      exchangeRate.String(),
		MatchScore:        resp.SearchTermMatchScore,
		DashboardURL:      strings.ReplaceAll(a.dashboardURL, "{id}", resp.ID),
	}
}
