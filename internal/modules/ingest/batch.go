package ingest

import (
	"context"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"
)

// DefaultBatchDelay spaces batch items to respect external rate limits
const DefaultBatchDelay = 500 * time.Millisecond

// BatchOptions tune ProcessBatch
type BatchOptions struct {
	// Delay is the minimum spacing between item starts. Zero uses
	// DefaultBatchDelay; a negative value disables spacing.
	Delay time.Duration
	// Workers bounds concurrent items. Values below 2 process sequentially.
	Workers int
}

// BatchStats aggregates a batch
type BatchStats struct {
	BySymbolSource map[domain.SymbolSource]int `json:"bySymbolSource"`
	Total          int                         `json:"total"`
	Succeeded      int                         `json:"succeeded"`
	Failed         int                         `json:"failed"`
	Created        int                         `json:"created"`
	Queued         int                         `json:"queued"`
	Skipped        int                         `json:"skipped"`
	Duplicates     int                         `json:"duplicates"`
	MeanConfidence float64                     `json:"meanConfidence"`
	ElapsedMillis  int64                       `json:"elapsedMs"`
}

// BatchResult holds per-email results in input order
type BatchResult struct {
	Results []*EmailProcessingResult `json:"results"`
	Stats   BatchStats               `json:"stats"`
}

// ProcessBatch processes emails one after another, or through a bounded
// worker pool when opts.Workers > 1. A failing email never stops the batch.
// Cancelling ctx stops new items from starting; unstarted items are
// reported as failed.
func (o *Orchestrator) ProcessBatch(ctx context.Context, emails []domain.RawEmail, opts BatchOptions) *BatchResult {
	start := time.Now()
	delay := opts.Delay
	if delay == 0 {
		delay = DefaultBatchDelay
	}

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	results := make([]*EmailProcessingResult, len(emails))

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(workers)

	for i := range emails {
		if err := limiter.Wait(ctx); err != nil {
			for j := i; j < len(emails); j++ {
				results[j] = cancelled(emails[j], err)
			}
			break
		}
		g.Go(func() error {
			results[i] = o.Process(ctx, emails[i])
			return nil
		})
	}
	_ = g.Wait()

	stats := Summarize(results)
	stats.ElapsedMillis = time.Since(start).Milliseconds()

	o.log.Info().
		Int("total", stats.Total).
		Int("created", stats.Created).
		Int("queued", stats.Queued).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Float64("mean_confidence", stats.MeanConfidence).
		Int64("elapsed_ms", stats.ElapsedMillis).
		Msg("Batch processed")

	return &BatchResult{Results: results, Stats: stats}
}

func cancelled(raw domain.RawEmail, err error) *EmailProcessingResult {
	return &EmailProcessingResult{
		MessageID: raw.MessageID,
		Source:    SourceKey(raw),
		Errors: []*domain.PipelineError{
			domain.NewPipelineError(domain.KindParse, domain.CodeCancelled, "batch cancelled before this email was processed", err),
		},
		Warnings: []string{},
	}
}

// Summarize counts outcomes, symbol sources and the mean candidate confidence
func Summarize(results []*EmailProcessingResult) BatchStats {
	stats := BatchStats{
		BySymbolSource: map[domain.SymbolSource]int{
			domain.SymbolSourceDirect:     0,
			domain.SymbolSourceAIEnhanced: 0,
			domain.SymbolSourceAIFallback: 0,
		},
		Total: len(results),
	}

	var confidences []float64
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Failed() {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		switch {
		case r.TransactionCreated:
			stats.Created++
		case r.QueuedForReview:
			stats.Queued++
		case r.Skipped:
			stats.Skipped++
		}
		if r.DuplicateResult != nil && r.DuplicateResult.IsDuplicate {
			stats.Duplicates++
		}
		if r.SymbolSource != "" {
			stats.BySymbolSource[r.SymbolSource]++
		}
		if r.Candidate != nil {
			confidences = append(confidences, r.Candidate.Confidence)
		}
	}
	if len(confidences) > 0 {
		stats.MeanConfidence = stat.Mean(confidences, nil)
	}
	return stats
}
