// Package pipeline drives an estimate run: each input record is estimated,
// ranked, merged and handed to the chunk writer, strictly in input order.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/emissions-cli/internal/estimate"
	"github.com/sells-group/emissions-cli/internal/output"
	"github.com/sells-group/emissions-cli/internal/records"
)

// RowEstimator estimates every candidate of one record.
type RowEstimator interface {
	EstimateRow(ctx context.Context, rec records.Record) []estimate.Result
}

// Writer receives merged rows in input order. *output.ChunkWriter
// implements it.
type Writer interface {
	Push(row output.Row, i, total int) (string, error)
	FlushRemaining() (string, error)
	Files() []string
}

// Recorder observes run progress. *metrics.Recorder implements it.
type Recorder interface {
	ObserveCandidate(outcome string, attempts int)
	ObserveRow(d time.Duration)
	ObserveChunk()
}

// Options tunes a run.
type Options struct {
	RankingOrder estimate.RankingOrder
	// Limit processes only the first Limit rows when positive.
	Limit int
}

// Summary reports what a run did.
type Summary struct {
	RunID      string        `json:"run_id"`
	Rows       int           `json:"rows"`
	Candidates int           `json:"candidates"`
	Matched    int           `json:"matched"`
	NoMatch    int           `json:"no_match"`
	Failed     int           `json:"failed"`
	Files      []string      `json:"files"`
	Duration   time.Duration `json:"duration"`
}

// Pipeline runs records through estimation and into the writer.
type Pipeline struct {
	rows     RowEstimator
	writer   Writer
	recorder Recorder
	opts     Options
}

// New creates a Pipeline. A nil recorder disables metrics.
func New(rows RowEstimator, writer Writer, recorder Recorder, opts Options) *Pipeline {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if opts.RankingOrder == "" {
		opts.RankingOrder = estimate.RankAscending
	}
	return &Pipeline{
		rows:     rows,
		writer:   writer,
		recorder: recorder,
		opts:     opts,
	}
}

// Run processes every row of table. Candidate failures are recorded in the
// output and never abort the run; a write failure does. When ctx is
// cancelled between rows, buffered rows are flushed and ctx's error is
// returned together with the partial summary.
func (p *Pipeline) Run(ctx context.Context, table *records.Table) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("run_id", summary.RunID))

	rows := table.Rows
	if p.opts.Limit > 0 && p.opts.Limit < len(rows) {
		rows = rows[:p.opts.Limit]
	}
	total := len(rows)

	log.Info("pipeline: starting run",
		zap.Int("rows", total),
		zap.String("ranking_order", string(p.opts.RankingOrder)),
	)

	finish := func() *Summary {
		summary.Files = p.writer.Files()
		summary.Duration = time.Since(start)
		return summary
	}

	for i, rec := range rows {
		if err := ctx.Err(); err != nil {
			err = p.interrupt(log, err)
			return finish(), err
		}

		rowStart := time.Now()
		results := p.rows.EstimateRow(ctx, rec)
		if err := ctx.Err(); err != nil {
			// Outcomes of a cancelled row are cancellation artifacts.
			err = p.interrupt(log, err)
			return finish(), err
		}

		p.observe(log, i, results, summary)

		row := estimate.Merge(rec, estimate.Rank(results, p.opts.RankingOrder))
		path, err := p.writer.Push(row, i, total)
		if err != nil {
			return finish(), eris.Wrapf(err, "pipeline: write row %d", i+1)
		}
		if path != "" {
			p.recorder.ObserveChunk()
			log.Info("pipeline: chunk written", zap.String("path", path))
		}

		summary.Rows++
		p.recorder.ObserveRow(time.Since(rowStart))
		log.Info("pipeline: row complete",
			zap.String("progress", progress(i, total)),
			zap.Int("candidates", len(results)),
		)
	}

	finish()
	log.Info("pipeline: run complete",
		zap.Int("rows", summary.Rows),
		zap.Int("candidates", summary.Candidates),
		zap.Int("matched", summary.Matched),
		zap.Int("no_match", summary.NoMatch),
		zap.Int("failed", summary.Failed),
		zap.Int("files", len(summary.Files)),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (p *Pipeline) observe(log *zap.Logger, i int, results []estimate.Result, summary *Summary) {
	for _, r := range results {
		summary.Candidates++
		switch {
		case r.Outcome.Failed():
			summary.Failed++
			log.Warn("pipeline: candidate failed",
				zap.Int("row", i+1),
				zap.String("search_term", r.Candidate.SearchTerm),
				zap.String("category", r.Candidate.Category),
				zap.Int("attempts", r.Outcome.Attempts),
				zap.Bool("retryable", r.Outcome.Failure.Retryable),
				zap.String("error", r.Outcome.Failure.Message),
			)
		case r.Outcome.Matched():
			summary.Matched++
		default:
			summary.NoMatch++
		}
		p.recorder.ObserveCandidate(r.Outcome.Kind(), r.Outcome.Attempts)
	}
}

func (p *Pipeline) interrupt(log *zap.Logger, cause error) error {
	path, err := p.writer.FlushRemaining()
	if err != nil {
		log.Error("pipeline: flush after interrupt failed", zap.Error(err))
		return eris.Wrap(cause, "pipeline: interrupted")
	}
	if path != "" {
		p.recorder.ObserveChunk()
		log.Warn("pipeline: interrupted, wrote buffered rows", zap.String("path", path))
	}
	return eris.Wrap(cause, "pipeline: interrupted")
}

func progress(i, total int) string {
	return fmt.Sprintf("%d/%d", i+1, total)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCandidate(string, int) {}
func (nopRecorder) ObserveRow(time.Duration)     {}
func (nopRecorder) ObserveChunk()                {}
