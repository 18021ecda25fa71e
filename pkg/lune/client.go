// Package lune provides a client for the Lune transaction emissions estimate API.
package lune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.lune.co"
	estimatePath   = "/v1/estimates/transactions"
)

// Client defines the Lune estimate operations.
type Client interface {
	// EstimateTransaction estimates the emissions of a single purchase.
	// Rejections by the server are returned as *APIError.
	EstimateTransaction(ctx context.Context, req TransactionRequest) (*TransactionEstimate, error)
}

// TransactionRequest is the body of a transaction estimate request.
type TransactionRequest struct {
	Value    MonetaryValue `json:"value"`
	Merchant Merchant      `json:"merchant"`
}

// MonetaryValue is an amount in a given currency. Value is sent verbatim.
type MonetaryValue struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Merchant identifies who the purchase was made from.
type Merchant struct {
	SearchTerm  string `json:"search_term"`
	CountryCode string `json:"country_code"`
	Category    string `json:"category,omitempty"`
}

// TransactionEstimate is the parsed estimate response. Mass is nil when the
// search term could not be matched to a merchant classification.
type TransactionEstimate struct {
	ID                   string           `json:"id"`
	Mass                 *Mass            `json:"mass"`
	EmissionFactor       *EmissionFactor  `json:"emission_factor"`
	ExchangeRate         *decimal.Decimal `json:"exchange_rate"`
	SearchTermMatchScore *float64         `json:"search_term_match_score"`
}

// Mass is an emitted mass of CO2e.
type Mass struct {
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit"`
}

// EmissionFactor describes the factor used to compute an estimate.
type EmissionFactor struct {
	Name            string        `json:"name"`
	Source          string        `json:"source"`
	NumeratorUnit   string        `json:"numerator_unit"`
	DenominatorUnit string        `json:"denominator_unit"`
	GasEmissions    *GasEmissions `json:"gas_emissions"`
}

// GasEmissions holds the per-unit emission values of a factor.
type GasEmissions struct {
	CO2E decimal.Decimal `json:"co2e"`
}

// APIError is returned when the server answers with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lune: status %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status assigned by the server.
func (e *APIError) StatusCode() int {
	return e.Status
}

// errorEnvelope is the error body shape returned by the API.
type errorEnvelope struct {
	Error struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	} `json:"error"`
}

// Option configures the Lune client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables
// the limiter.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Lune API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) EstimateTransaction(ctx context.Context, req TransactionRequest) (*TransactionEstimate, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "lune: rate limit wait")
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "lune: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+estimatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "lune: create request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "lune: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "lune: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	var result TransactionEstimate
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "lune: unmarshal response")
	}

	return &result, nil
}

func newAPIError(status int, body []byte) *APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		msg := env.Error.Message
		if env.Error.ErrorCode != "" {
			msg = env.Error.ErrorCode + ": " + msg
		}
		return &APIError{Status: status, Message: msg}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}
