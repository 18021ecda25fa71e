package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/emissions-cli/internal/estimate"
	"github.com/sells-group/emissions-cli/internal/metrics"
	"github.com/sells-group/emissions-cli/internal/output"
	"github.com/sells-group/emissions-cli/internal/records"
	"github.com/sells-group/emissions-cli/internal/resilience"
	"github.com/sells-group/emissions-cli/pkg/lune"
)

// received collects the requests a test server has seen.
type received struct {
	mu   sync.Mutex
	reqs []lune.TransactionRequest
}

func (r *received) all() []lune.TransactionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lune.TransactionRequest(nil), r.reqs...)
}

// luneServer answers estimate requests by search term.
func luneServer(t *testing.T, responses map[string]func(w http.ResponseWriter)) (*httptest.Server, *received) {
	t.Helper()
	got := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/estimates/transactions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req lune.TransactionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got.mu.Lock()
		got.reqs = append(got.reqs, req)
		got.mu.Unlock()

		respond, ok := responses[req.Merchant.SearchTerm]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		respond(w)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func matchBody(id, mass, name string, score float64) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "` + id + `",
			"mass": {"amount": "` + mass + `", "unit": "t"},
			"emission_factor": {
				"name": "` + name + `",
				"source": "EXIOBASE",
				"numerator_unit": "t",
				"denominator_unit": "EUR",
				"gas_emissions": {"co2e": "0.0001"}
			},
			"exchange_rate": "0.9",
			"search_term_match_score": ` + jsonFloat(score) + `
		}`))
	}
}

func noMatchBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"id": "est_none", "mass": null, "search_term_match_score": null}`))
}

func rejectBody(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(`{"error": {"error_code": "validation_error", "message": "bad currency"}}`))
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func newAdapter(srv *httptest.Server) *estimate.Adapter {
	client := lune.NewClient("test-key", lune.WithBaseURL(srv.URL))
	return estimate.NewAdapter(client, resilience.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond}, "")
}

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readCSV(t *testing.T, path string) []map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	all, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	var out []map[string]string
	for _, row := range all[1:] {
		m := make(map[string]string, len(row))
		for i, h := range all[0] {
			m[h] = row[i]
		}
		out = append(out, m)
	}
	return out
}

func col(name string, rank int) string { return output.RankedColumn(name, rank) }

func TestRun_SingleCandidateEndToEnd(t *testing.T) {
	srv, got := luneServer(t, map[string]func(http.ResponseWriter){
		"Coffee": matchBody("est_coffee", "0.001", "Coffee shops", 0.9),
	})

	mapping := estimate.FieldMapping{
		SearchTermColumns: []string{"Category Level 3"},
		AmountColumn:      "Amount",
		CurrencyColumn:    "Currency",
		CountryCodeColumn: "Country",
	}
	input := writeInput(t, "Category Level 3,Amount,Currency,Country\nCoffee,\"10,00\",USD,USA\n")
	table, err := records.Load(context.Background(), input, mapping.RequiredColumns())
	require.NoError(t, err)

	base := filepath.Join(t.TempDir(), "out", "results")
	writer, err := output.NewChunkWriter(base, output.DefaultChunkSize, table.Header)
	require.NoError(t, err)

	rec := metrics.New()
	p := New(estimate.NewRowEstimator(newAdapter(srv), mapping, 0), writer, rec, Options{})

	summary, err := p.Run(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, []string{base + "-0.csv"}, summary.Files)
	_, err = uuid.Parse(summary.RunID)
	assert.NoError(t, err)

	reqs := got.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, lune.TransactionRequest{
		Value:    lune.MonetaryValue{Value: "10.00", Currency: "USD"},
		Merchant: lune.Merchant{SearchTerm: "Coffee", CountryCode: "USA"},
	}, reqs[0])

	rows := readCSV(t, base+"-0.csv")
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "10,00", row["Amount"])
	assert.Equal(t, "0.001", row[col(output.ColEmissions, 1)])
	assert.Equal(t, "Coffee shops", row[col(output.ColFactorName, 1)])
	assert.Equal(t, "EXIOBASE", row[col(output.ColFactorSource, 1)])
	assert.Equal(t, "0.00009", row[col(output.ColFactorIntensity, 1)])
	assert.Equal(t, "tCO2e/USD", row[col(output.ColIntensityUnit, 1)])
	assert.Equal(t, "tCO2e/EUR", row[col(output.ColOriginalUnit, 1)])
	assert.Equal(t, "0.9", row[col(output.ColExchangeRate, 1)])
	assert.Equal(t, "0.9", row[col(output.ColConfidenceScore, 1)])
	assert.Contains(t, row[col(output.ColDashboardURL, 1)], "est_coffee")
	assert.Equal(t, "Coffee", row[col(output.ColSearchTermUsed, 1)])
	assert.Equal(t, "", row[col(output.ColCategoryUsed, 1)])

	textfile := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, rec.WriteTextfile(textfile))
	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `emissions_candidates_total{outcome="matched"} 1`)
	assert.Contains(t, string(data), "emissions_chunks_written_total 1")
}

func TestRun_ScoredCandidateRanksBeforeNoMatch(t *testing.T) {
	srv, _ := luneServer(t, map[string]func(http.ResponseWriter){
		"Blue Bottle":   matchBody("est_bb", "0.002", "Coffee shops", 0.7),
		"BB CAFE 1234X": noMatchBody,
	})

	mapping := estimate.FieldMapping{
		SearchTermColumns: []string{"Description", "Merchant"},
		CategoryColumns:   []string{"Category"},
		AmountColumn:      "Amount",
		CurrencyColumn:    "Currency",
		CountryCodeColumn: "Country",
	}
	table := &records.Table{
		Header: []string{"Description", "Merchant", "Category", "Amount", "Currency", "Country"},
		Rows: []records.Record{{
			"Description": "BB CAFE 1234X",
			"Merchant":    "Blue Bottle",
			"Category":    "Coffee",
			"Amount":      "4.50",
			"Currency":    "USD",
			"Country":     "USA",
		}},
	}

	base := filepath.Join(t.TempDir(), "results")
	writer, err := output.NewChunkWriter(base, 10, table.Header)
	require.NoError(t, err)

	p := New(estimate.NewRowEstimator(newAdapter(srv), mapping, 0), writer, nil, Options{})
	summary, err := p.Run(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.NoMatch)

	rows := readCSV(t, base+"-0.csv")
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "Blue Bottle", row[col(output.ColSearchTermUsed, 1)])
	assert.Equal(t, "0.7", row[col(output.ColConfidenceScore, 1)])
	assert.Equal(t, "BB CAFE 1234X", row[col(output.ColSearchTermUsed, 2)])
	assert.Equal(t, "Coffee", row[col(output.ColCategoryUsed, 2)])
	assert.Equal(t, "", row[col(output.ColEmissions, 2)])
	assert.Equal(t, "", row[col(output.ColFactorName, 2)])
	assert.Equal(t, "", row[col(output.ColConfidenceScore, 2)])
}

func TestRun_RejectionRecordedNotFatal(t *testing.T) {
	srv, _ := luneServer(t, map[string]func(http.ResponseWriter){
		"Good": matchBody("est_good", "0.5", "Groceries", 0.4),
		"Bad":  rejectBody,
	})

	mapping := estimate.FieldMapping{
		SearchTermColumns: []string{"Merchant"},
		AmountColumn:      "Amount",
		CurrencyColumn:    "Currency",
		CountryCodeColumn: "Country",
	}
	table := &records.Table{
		Header: []string{"Merchant", "Amount", "Currency", "Country"},
		Rows: []records.Record{
			{"Merchant": "Bad", "Amount": "1", "Currency": "XXX", "Country": "USA"},
			{"Merchant": "Good", "Amount": "1", "Currency": "USD", "Country": "USA"},
		},
	}

	base := filepath.Join(t.TempDir(), "results")
	writer, err := output.NewChunkWriter(base, 10, table.Header)
	require.NoError(t, err)

	rec := &fakeRecorder{}
	p := New(estimate.NewRowEstimator(newAdapter(srv), mapping, 1), writer, rec, Options{})
	summary, err := p.Run(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, map[string]int{"rejected": 1, "matched": 1}, rec.outcomes)
	assert.Equal(t, 2, rec.attempts)

	rows := readCSV(t, base+"-0.csv")
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0][col(output.ColFactorName, 1)], "validation_error: bad currency")
	assert.Equal(t, "Bad", rows[0][col(output.ColSearchTermUsed, 1)])
	assert.Equal(t, "", rows[0][col(output.ColEmissions, 1)])
	assert.Equal(t, "0.5", rows[1][col(output.ColEmissions, 1)])
}

// scriptedRows returns canned results and can cancel the run mid-way.
type scriptedRows struct {
	mu       sync.Mutex
	seen     []string
	cancelAt int
	cancel   context.CancelFunc
}

func (s *scriptedRows) EstimateRow(_ context.Context, rec records.Record) []estimate.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, rec["id"])
	if s.cancel != nil && len(s.seen) == s.cancelAt {
		s.cancel()
	}
	score := 0.5
	return []estimate.Result{{
		Candidate: estimate.Candidate{SearchTerm: rec["id"]},
		Outcome: estimate.Outcome{
			Estimate: estimate.Estimate{MassAmount: "1", MatchScore: &score},
			Attempts: 1,
		},
	}}
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	attempts int
	rows     int
	chunks   int
}

func (f *fakeRecorder) ObserveCandidate(outcome string, attempts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[string]int)
	}
	f.outcomes[outcome]++
	f.attempts += attempts
}

func (f *fakeRecorder) ObserveRow(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows++
}

func (f *fakeRecorder) ObserveChunk() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks++
}

func idTable(n int) *records.Table {
	t := &records.Table{Header: []string{"id"}}
	for i := range n {
		t.Rows = append(t.Rows, records.Record{"id": string(rune('a' + i))})
	}
	return t
}

func TestRun_ChunksAcrossRows(t *testing.T) {
	base := filepath.Join(t.TempDir(), "results.csv")
	writer, err := output.NewChunkWriter(base, 2, []string{"id"})
	require.NoError(t, err)

	rec := &fakeRecorder{}
	p := New(&scriptedRows{}, writer, rec, Options{})
	summary, err := p.Run(context.Background(), idTable(5))
	require.NoError(t, err)

	dir := filepath.Dir(base)
	assert.Equal(t, []string{
		filepath.Join(dir, "results-0.csv"),
		filepath.Join(dir, "results-1.csv"),
		filepath.Join(dir, "results-2.csv"),
	}, summary.Files)
	assert.Equal(t, 5, rec.rows)
	assert.Equal(t, 3, rec.chunks)

	var ids []string
	for _, f := range summary.Files {
		for _, row := range readCSV(t, f) {
			ids = append(ids, row["id"])
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
}

func TestRun_Limit(t *testing.T) {
	writer, err := output.NewChunkWriter(filepath.Join(t.TempDir(), "out"), 10, []string{"id"})
	require.NoError(t, err)

	rows := &scriptedRows{}
	p := New(rows, writer, nil, Options{Limit: 2})
	summary, err := p.Run(context.Background(), idTable(4))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, []string{"a", "b"}, rows.seen)
	require.Len(t, summary.Files, 1)
	assert.Len(t, readCSV(t, summary.Files[0]), 2)
}

func TestRun_CancelFlushesBufferedRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := filepath.Join(t.TempDir(), "out")
	writer, err := output.NewChunkWriter(base, 10, []string{"id"})
	require.NoError(t, err)

	rows := &scriptedRows{cancelAt: 3, cancel: cancel}
	rec := &fakeRecorder{}
	p := New(rows, writer, rec, Options{})
	summary, err := p.Run(ctx, idTable(6))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// Row "c" was in flight when the run was cancelled and is dropped.
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, []string{base + "-1.csv"}, summary.Files)
	assert.Equal(t, 1, rec.chunks)

	got := readCSV(t, base+"-1.csv")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["id"])
	assert.Equal(t, "b", got[1]["id"])
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer, err := output.NewChunkWriter(filepath.Join(t.TempDir(), "out"), 10, []string{"id"})
	require.NoError(t, err)

	rows := &scriptedRows{}
	summary, err := New(rows, writer, nil, Options{}).Run(ctx, idTable(3))
	require.Error(t, err)
	assert.Empty(t, rows.seen)
	assert.Empty(t, summary.Files)
}

type failingWriter struct{}

func (failingWriter) Push(output.Row, int, int) (string, error) {
	return "", errors.New("disk full")
}
func (failingWriter) FlushRemaining() (string, error) { return "", nil }
func (failingWriter) Files() []string                 { return nil }

func TestRun_WriteFailureIsFatal(t *testing.T) {
	rows := &scriptedRows{}
	summary, err := New(rows, failingWriter{}, nil, Options{}).Run(context.Background(), idTable(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: write row 1")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, summary.Rows)
	assert.Equal(t, []string{"a"}, rows.seen)
}

func TestRun_EmptyTable(t *testing.T) {
	writer, err := output.NewChunkWriter(filepath.Join(t.TempDir(), "out"), 10, []string{"id"})
	require.NoError(t, err)

	summary, err := New(&scriptedRows{}, writer, nil, Options{}).Run(context.Background(), idTable(0))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Rows)
	assert.Empty(t, summary.Files)
}
