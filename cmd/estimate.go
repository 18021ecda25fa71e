package main

import (
	"context"
	"encoding/json"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/emissions-cli/internal/estimate"
	"github.com/sells-group/emissions-cli/internal/metrics"
	"github.com/sells-group/emissions-cli/internal/output"
	"github.com/sells-group/emissions-cli/internal/pipeline"
	"github.com/sells-group/emissions-cli/internal/records"
	"github.com/sells-group/emissions-cli/internal/resilience"
	"github.com/sells-group/emissions-cli/pkg/lune"
)

var (
	estimateInput             string
	estimateOutput            string
	estimateMappingPath       string
	estimateSearchTermColumns []string
	estimateCategoryColumns   []string
	estimateAmountColumn      string
	estimateCurrencyColumn    string
	estimateCountryCodeColumn string
	estimateChunkSize         int
	estimateConcurrency       int
	estimateRankingOrder      string
	estimateLimit             int
	estimateDryRun            bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate emissions for every row of a purchases CSV",
	Long: `Reads a purchases CSV, builds one candidate per search term and category
combination of each row, estimates each candidate via the Lune API and writes
the ranked results to numbered CSV chunk files.

Examples:
  # Dry run: print each row's candidates, no API calls
  emissions-cli estimate --input purchases.csv --search-term-columns Merchant \
    --amount-column Amount --currency-column Currency --country-code-column Country --dry-run

  # Full run with a mapping file, 500 rows per output file
  emissions-cli estimate --input purchases.csv --mapping mapping.yaml \
    --output out/results --chunk-size 500`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if estimateInput == "" {
			return eris.New("estimate: --input is required")
		}

		mapping, err := resolveMapping()
		if err != nil {
			return err
		}

		settings, err := resolveSettings(cmd)
		if err != nil {
			return err
		}

		table, err := records.Load(ctx, estimateInput, mapping.RequiredColumns())
		if err != nil {
			return eris.Wrap(err, "estimate: load input")
		}
		zap.L().Info("estimate: loaded input",
			zap.String("path", estimateInput),
			zap.Int("rows", len(table.Rows)),
		)

		if estimateDryRun {
			rows := estimate.NewRowEstimator(nil, *mapping, settings.concurrency)
			return printPlanJSON(cmd.OutOrStdout(), rows, table, estimateLimit)
		}

		if cfg.Lune.Key == "" {
			return eris.New("estimate: lune api key is required (set LUNE_API_KEY or EMISSIONS_LUNE_KEY)")
		}

		client := lune.NewClient(cfg.Lune.Key,
			lune.WithBaseURL(cfg.Lune.BaseURL),
			lune.WithTimeout(time.Duration(cfg.Lune.TimeoutSecs)*time.Second),
			lune.WithRateLimit(cfg.Lune.RequestsPerSecond),
		)
		adapter := estimate.NewAdapter(client,
			resilience.FromRetryConfig(cfg.Estimate.MaxAttempts, cfg.Estimate.RetryDelayMs),
			cfg.Lune.DashboardURL,
		)

		writer, err := output.NewChunkWriter(estimateOutput, settings.chunkSize, table.Header)
		if err != nil {
			return eris.Wrap(err, "estimate: create writer")
		}

		recorder := metrics.New()
		p := pipeline.New(
			estimate.NewRowEstimator(adapter, *mapping, settings.concurrency),
			writer,
			recorder,
			pipeline.Options{RankingOrder: settings.order, Limit: estimateLimit},
		)

		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, runErr := p.Run(runCtx, table)

		if cfg.Metrics.Textfile != "" {
			if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				zap.L().Warn("estimate: write metrics", zap.Error(err))
			}
		}

		if summary != nil {
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return eris.Wrap(err, "estimate: print summary")
			}
		}

		if runErr != nil {
			return eris.Wrap(runErr, "estimate: run")
		}
		return nil
	},
}

func init() {
	f := estimateCmd.Flags()
	f.StringVar(&estimateInput, "input", "", "path to the purchases CSV (required)")
	f.StringVar(&estimateOutput, "output", "results", "output base path; chunks are written to <output>-<n>.csv")
	f.StringVar(&estimateMappingPath, "mapping", "", "YAML field mapping file; column flags override its values")
	f.StringSliceVar(&estimateSearchTermColumns, "search-term-columns", nil, "columns holding merchant search terms, in priority order")
	f.StringSliceVar(&estimateCategoryColumns, "category-columns", nil, "columns holding merchant categories")
	f.StringVar(&estimateAmountColumn, "amount-column", "", "column holding the purchase amount")
	f.StringVar(&estimateCurrencyColumn, "currency-column", "", "column holding the ISO currency code")
	f.StringVar(&estimateCountryCodeColumn, "country-code-column", "", "column holding the ISO country code")
	f.IntVar(&estimateChunkSize, "chunk-size", output.DefaultChunkSize, "rows per output file (overrides estimate.chunk_size)")
	f.IntVar(&estimateConcurrency, "concurrency", 0, "max concurrent estimate calls per row, 0 = unbounded (overrides estimate.concurrency)")
	f.StringVar(&estimateRankingOrder, "ranking-order", string(estimate.RankAscending), "ascending or descending match score order (overrides estimate.ranking_order)")
	f.IntVar(&estimateLimit, "limit", 0, "max rows to process (0 = all)")
	f.BoolVar(&estimateDryRun, "dry-run", false, "print each row's candidates as JSON and exit without calling the API")
	_ = estimateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(estimateCmd)
}

// resolveMapping loads the mapping file, if any, and applies the column
// flags on top of it.
func resolveMapping() (*estimate.FieldMapping, error) {
	mapping := &estimate.FieldMapping{}
	if estimateMappingPath != "" {
		m, err := estimate.LoadMapping(estimateMappingPath)
		if err != nil {
			return nil, eris.Wrap(err, "estimate: load mapping")
		}
		mapping = m
	}

	if len(estimateSearchTermColumns) > 0 {
		mapping.SearchTermColumns = estimateSearchTermColumns
	}
	if len(estimateCategoryColumns) > 0 {
		mapping.CategoryColumns = estimateCategoryColumns
	}
	if estimateAmountColumn != "" {
		mapping.AmountColumn = estimateAmountColumn
	}
	if estimateCurrencyColumn != "" {
		mapping.CurrencyColumn = estimateCurrencyColumn
	}
	if estimateCountryCodeColumn != "" {
		mapping.CountryCodeColumn = estimateCountryCodeColumn
	}

	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	return mapping, nil
}

type runSettings struct {
	chunkSize   int
	concurrency int
	order       estimate.RankingOrder
}

// resolveSettings merges config values with explicitly set flags.
func resolveSettings(cmd *cobra.Command) (runSettings, error) {
	s := runSettings{
		chunkSize:   cfg.Estimate.ChunkSize,
		concurrency: cfg.Estimate.Concurrency,
	}
	order := cfg.Estimate.RankingOrder

	flags := cmd.Flags()
	if flags.Changed("chunk-size") {
		s.chunkSize = estimateChunkSize
	}
	if flags.Changed("concurrency") {
		s.concurrency = estimateConcurrency
	}
	if flags.Changed("ranking-order") {
		order = estimateRankingOrder
	}

	if s.chunkSize < 1 {
		return s, eris.Errorf("estimate: chunk size must be at least 1, got %d", s.chunkSize)
	}
	if s.concurrency < 0 {
		return s, eris.Errorf("estimate: concurrency must be >= 0, got %d", s.concurrency)
	}
	parsed, err := estimate.ParseRankingOrder(order)
	if err != nil {
		return s, err
	}
	s.order = parsed
	return s, nil
}

// rowPlan is one row of dry-run output.
type rowPlan struct {
	Row        int                  `json:"row"`
	Candidates []estimate.Candidate `json:"candidates"`
}

func printPlanJSON(w io.Writer, rows *estimate.RowEstimator, table *records.Table, limit int) error {
	recs := table.Rows
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}

	plans := make([]rowPlan, 0, len(recs))
	for i, rec := range recs {
		plans = append(plans, rowPlan{Row: i + 1, Candidates: rows.Plan(rec)})
	}
	return printJSON(w, plans)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
