// Package ingest runs confirmation emails through the full pipeline:
// parse, symbol resolution, portfolio mapping, duplicate detection and
// routing to either the ledger or the review queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/aristath/tradeinbox/internal/modules/duplicates"
	"github.com/aristath/tradeinbox/internal/modules/parsing"
	"github.com/aristath/tradeinbox/internal/modules/portfolios"
	"github.com/aristath/tradeinbox/internal/modules/review"
	"github.com/aristath/tradeinbox/internal/modules/settings"
	"github.com/aristath/tradeinbox/internal/modules/symbols"
	"github.com/aristath/tradeinbox/internal/utils"
	"github.com/rs/zerolog"
)

// Routing triggers recorded on review items
const (
	TriggerDuplicateGate = "Duplicate gate forced review"
	TriggerIncomplete    = "Incomplete candidate"
)

// DefaultDuplicateTimeout bounds duplicate detection when Deps leaves it unset
const DefaultDuplicateTimeout = 10 * time.Second

// Parser extracts candidates from raw emails
type Parser interface {
	Parse(raw domain.RawEmail, opts parsing.Options) *parsing.ParseResult
}

// SymbolResolver settles candidate symbols
type SymbolResolver interface {
	Resolve(ctx context.Context, c domain.EmailCandidate, th domain.Thresholds) symbols.Result
}

// PortfolioResolver maps account labels to portfolios
type PortfolioResolver interface {
	Resolve(ctx context.Context, label string, cfg domain.SourceConfig) (*portfolios.Resolution, error)
}

// DuplicateDetector scores repeat imports
type DuplicateDetector interface {
	Detect(ctx context.Context, req duplicates.Request) (domain.DuplicateDetectionResult, error)
}

// ReviewQueue accepts candidates that need a human decision
type ReviewQueue interface {
	AddToQueue(ctx context.Context, req review.AddRequest) (*domain.ReviewQueueItem, error)
}

// EmailProcessingResult reports how far one email got through the pipeline
type EmailProcessingResult struct {
	Candidate          *domain.EmailCandidate           `json:"candidate,omitempty"`
	DuplicateResult    *domain.DuplicateDetectionResult `json:"duplicateResult,omitempty"`
	MessageID          string                           `json:"messageId"`
	Source             string                           `json:"source"`
	Template           string                           `json:"template,omitempty"`
	PortfolioID        string                           `json:"portfolioId,omitempty"`
	TransactionID      string                           `json:"transactionId,omitempty"`
	ReviewQueueID      string                           `json:"reviewQueueId,omitempty"`
	SymbolSource       domain.SymbolSource              `json:"symbolSource,omitempty"`
	Errors             []*domain.PipelineError          `json:"errors"`
	Warnings           []string                         `json:"warnings"`
	Stages             []utils.StageDuration            `json:"stages,omitempty"`
	EmailParsed        bool                             `json:"emailParsed"`
	SymbolProcessed    bool                             `json:"symbolProcessed"`
	PortfolioMapped    bool                             `json:"portfolioMapped"`
	DuplicateChecked   bool                             `json:"duplicateChecked"`
	TransactionCreated bool                             `json:"transactionCreated"`
	QueuedForReview    bool                             `json:"queuedForReview"`
	Skipped            bool                             `json:"skipped"`
}

// Failed reports whether a fatal error stopped the email
func (r *EmailProcessingResult) Failed() bool {
	return len(r.Errors) > 0
}

// Outcome is a one-word summary: created, queued, skipped or failed
func (r *EmailProcessingResult) Outcome() string {
	switch {
	case r.TransactionCreated:
		return "created"
	case r.QueuedForReview:
		return "queued"
	case r.Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

func (r *EmailProcessingResult) fail(err *domain.PipelineError) {
	r.Errors = append(r.Errors, err)
}

func (r *EmailProcessingResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Parser          Parser
	Symbols         SymbolResolver
	Portfolios      PortfolioResolver
	Duplicates      DuplicateDetector
	Creator         domain.TransactionCreator
	Queue           ReviewQueue
	Identifications domain.IdentificationStore
	Sources         domain.SourceConfigProvider
	Events          *events.Bus

	// DuplicateTimeout bounds one Detect call
	DuplicateTimeout time.Duration
}

// Orchestrator processes one email at a time. It holds no per-email state,
// so a single instance may serve concurrent callers.
type Orchestrator struct {
	parser          Parser
	symbols         SymbolResolver
	portfolios      PortfolioResolver
	duplicates      DuplicateDetector
	creator         domain.TransactionCreator
	queue           ReviewQueue
	identifications domain.IdentificationStore
	sources         domain.SourceConfigProvider
	events          *events.Bus
	dupTimeout      time.Duration
	log             zerolog.Logger
}

// NewOrchestrator creates the pipeline orchestrator
func NewOrchestrator(deps Deps, log zerolog.Logger) *Orchestrator {
	dupTimeout := deps.DuplicateTimeout
	if dupTimeout <= 0 {
		dupTimeout = DefaultDuplicateTimeout
	}
	return &Orchestrator{
		parser:          deps.Parser,
		symbols:         deps.Symbols,
		portfolios:      deps.Portfolios,
		duplicates:      deps.Duplicates,
		creator:         deps.Creator,
		queue:           deps.Queue,
		identifications: deps.Identifications,
		sources:         deps.Sources,
		events:          deps.Events,
		dupTimeout:      dupTimeout,
		log:             log.With().Str("service", "ingest").Logger(),
	}
}

// SourceKey returns the settings key for raw: the explicit source when set,
// otherwise the sender's domain.
func SourceKey(raw domain.RawEmail) string {
	if strings.TrimSpace(raw.Source) != "" {
		return settings.NormalizeSource(raw.Source)
	}
	return settings.NormalizeSource(utils.SenderDomain(raw.FromAddress))
}

// Process runs raw through every stage. It never returns an error: fatal
// conditions are collected in Errors, everything else in Warnings.
func (o *Orchestrator) Process(ctx context.Context, raw domain.RawEmail) *EmailProcessingResult {
	result := &EmailProcessingResult{
		Source:   SourceKey(raw),
		Errors:   []*domain.PipelineError{},
		Warnings: []string{},
	}
	timer := utils.NewStageTimer("process_email", o.log)
	defer func() {
		timer.Stop()
		result.Stages = timer.Stages()
		o.publish(result)
	}()

	cfg := o.sourceConfig(ctx, result)

	// Parse (fatal)
	parsed := o.parser.Parse(raw, parsing.Options{DefaultCurrency: cfg.DefaultCurrency, Thresholds: cfg.Thresholds})
	timer.Mark("parse")
	result.MessageID = parsed.Identification.MessageID
	result.Template = parsed.Template
	result.Warnings = append(result.Warnings, parsed.Warnings...)
	if !parsed.Success || parsed.Data == nil {
		err := parsed.Error
		if err == nil {
			err = domain.NewPipelineError(domain.KindParse, domain.CodeUnrecognizedFormat, "email could not be parsed", nil)
		}
		result.fail(err.WithStage("parse"))
		return result
	}
	result.EmailParsed = true

	// Symbol (non-fatal)
	resolved := o.symbols.Resolve(ctx, *parsed.Data, cfg.Thresholds)
	timer.Mark("symbols")
	candidate := resolved.Candidate
	result.SymbolSource = resolved.Source
	if resolved.Error != nil {
		result.warn("%s", resolved.Error.Message)
	} else {
		result.SymbolProcessed = true
	}
	result.Candidate = &candidate

	ident := parsed.Identification
	ident.TransactionHash = domain.TransactionHash(candidate)

	// Portfolio (fatal)
	portfolio, err := o.portfolios.Resolve(ctx, candidate.AccountTypeLabel, cfg)
	timer.Mark("portfolio")
	if err != nil {
		result.fail(domain.AsPipelineError(err, domain.KindPortfolioResolution, "portfolio resolution failed").WithStage("portfolio"))
		return result
	}
	result.PortfolioMapped = true
	result.PortfolioID = portfolio.PortfolioID
	if portfolio.Created {
		result.warn("Created portfolio %q for account %q", portfolio.PortfolioName, candidate.AccountTypeLabel)
	}

	// Duplicates (fail-open, bounded)
	dupCtx, cancel := context.WithTimeout(ctx, o.dupTimeout)
	dup, err := o.duplicates.Detect(dupCtx, duplicates.Request{
		Candidate:      candidate,
		Identification: ident,
		PortfolioID:    portfolio.PortfolioID,
		Config:         cfg,
	})
	cancel()
	timer.Mark("duplicates")
	if dup.Recommendation == "" {
		dup = domain.NotDuplicate()
	}
	if err != nil {
		result.warn("Duplicate detection incomplete, treating unchecked levels as no match: %v", err)
	} else {
		result.DuplicateChecked = true
	}
	result.DuplicateResult = &dup
	if dup.IsDuplicate {
		result.warn("Potential duplicate (level %d, confidence %.2f): %s",
			dup.MatchLevel, dup.Confidence, strings.Join(dup.Reasons, "; "))
	}

	o.route(ctx, result, candidate, ident, dup, cfg)
	timer.Mark("route")
	return result
}

// route decides between ledger, review queue and skip
func (o *Orchestrator) route(ctx context.Context, result *EmailProcessingResult, c domain.EmailCandidate, ident domain.EmailIdentification, dup domain.DuplicateDetectionResult, cfg domain.SourceConfig) {
	var triggers []string

	if err := c.Validate(); err != nil {
		triggers = append(triggers, TriggerIncomplete+": "+domain.AsPipelineError(err, domain.KindValidation, err.Error()).Message)
	}

	gated := cfg.DuplicateGate == domain.DuplicateGateReview || cfg.DuplicateGate == domain.DuplicateGateStrict
	if cfg.DuplicateGate == domain.DuplicateGateStrict && alreadyImported(dup) {
		o.skip(ctx, result, c, ident, "Skipped: email already imported as transaction %s", dup.MatchedTransactionIDs[0])
		return
	}
	if gated && cfg.AutoInsertEnabled && dup.Flagged() {
		triggers = append(triggers, TriggerDuplicateGate)
	}

	if cfg.AutoInsertEnabled && len(triggers) == 0 {
		o.create(ctx, result, c, ident)
		return
	}

	o.enqueue(ctx, result, review.AddRequest{
		Candidate:          c,
		Identification:     ident,
		DuplicateResult:    dup,
		PortfolioID:        result.PortfolioID,
		Source:             result.Source,
		Thresholds:         cfg.Thresholds,
		AutoInsertDisabled: !cfg.AutoInsertEnabled,
		Triggers:           triggers,
	})
}

// alreadyImported reports a Level 1 match on an email that produced a transaction
func alreadyImported(dup domain.DuplicateDetectionResult) bool {
	return dup.MatchLevel == 1 &&
		dup.Recommendation == domain.RecommendationReject &&
		len(dup.MatchedTransactionIDs) > 0
}

func (o *Orchestrator) create(ctx context.Context, result *EmailProcessingResult, c domain.EmailCandidate, ident domain.EmailIdentification) {
	t, err := o.creator.CreateFromCandidate(ctx, domain.CreateTransactionRequest{
		PortfolioID:    result.PortfolioID,
		Candidate:      c,
		Identification: ident,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyImported) {
			result.Skipped = true
			result.warn("Skipped: %v", err)
			return
		}
		result.fail(domain.AsPipelineError(err, domain.KindTransactionCreation, "transaction creation failed").WithStage("route"))
		return
	}
	result.TransactionCreated = true
	result.TransactionID = t.ID
}

func (o *Orchestrator) enqueue(ctx context.Context, result *EmailProcessingResult, req review.AddRequest) {
	item, err := o.queue.AddToQueue(ctx, req)
	if err != nil {
		result.fail(domain.AsPipelineError(err, domain.KindQueueWrite, "failed to queue candidate for review").WithStage("route"))
		return
	}
	result.QueuedForReview = true
	result.ReviewQueueID = item.ID

	rec := domain.NewProcessedEmail(req.Identification, req.Candidate.ExternalIDs(), domain.ProcessedStatusQueued)
	rec.ReviewItemID = item.ID
	o.record(ctx, rec)
}

func (o *Orchestrator) skip(ctx context.Context, result *EmailProcessingResult, c domain.EmailCandidate, ident domain.EmailIdentification, format string, args ...interface{}) {
	result.Skipped = true
	result.warn(format, args...)
	o.record(ctx, domain.NewProcessedEmail(ident, c.ExternalIDs(), domain.ProcessedStatusSkipped))
}

// record writes the processed-email ledger. Failures only cost future
// duplicate signal, so they are logged and swallowed.
func (o *Orchestrator) record(ctx context.Context, rec domain.ProcessedEmail) {
	if o.identifications == nil {
		return
	}
	if err := o.identifications.Record(ctx, rec); err != nil {
		o.log.Warn().
			Err(err).
			Str("message_id", rec.MessageID).
			Str("status", string(rec.Status)).
			Msg("Failed to record processed email")
	}
}

// sourceConfig resolves the routing configuration. When settings cannot be
// read the email is routed conservatively to the review queue.
func (o *Orchestrator) sourceConfig(ctx context.Context, result *EmailProcessingResult) domain.SourceConfig {
	cfg, err := o.sources.GetSourceConfig(ctx, result.Source)
	if err != nil {
		o.log.Warn().Err(err).Str("source", result.Source).Msg("Source settings unavailable, using safe defaults")
		result.warn("Source settings unavailable, auto-insert disabled: %v", err)
		cfg = domain.SourceConfig{
			Source:                   result.Source,
			DuplicateGate:            domain.DuplicateGateAdvisory,
			DefaultCurrency:          "USD",
			DuplicateTimeWindowHours: duplicates.DefaultWindow.Hours(),
		}
	}
	if cfg.Thresholds.Version == 0 {
		cfg.Thresholds = domain.DefaultThresholds()
	}
	if !cfg.DuplicateGate.Valid() {
		cfg.DuplicateGate = domain.DuplicateGateAdvisory
	}
	return cfg
}

func (o *Orchestrator) publish(result *EmailProcessingResult) {
	if result.Failed() {
		first := result.Errors[0]
		o.log.Warn().
			Str("message_id", result.MessageID).
			Str("source", result.Source).
			Str("kind", string(first.Kind)).
			Str("stage", first.Stage).
			Msg(first.Message)
		o.events.EmitTyped("ingest", &events.EmailFailedData{
			MessageID: result.MessageID,
			Source:    result.Source,
			Kind:      string(first.Kind),
			Code:      first.Code,
			Message:   first.Message,
		})
		return
	}

	data := &events.EmailProcessedData{
		MessageID:     result.MessageID,
		Source:        result.Source,
		Outcome:       result.Outcome(),
		TransactionID: result.TransactionID,
		ReviewItemID:  result.ReviewQueueID,
		Warnings:      len(result.Warnings),
	}
	if result.Candidate != nil {
		data.Symbol = result.Candidate.Symbol
		data.Confidence = result.Candidate.Confidence
	}

	o.log.Info().
		Str("message_id", result.MessageID).
		Str("source", result.Source).
		Str("symbol", data.Symbol).
		Str("outcome", data.Outcome).
		Int("warnings", data.Warnings).
		Msg("Email processed")
	o.events.EmitTyped("ingest", data)
}

// Preview parses raw with its source settings. Nothing is resolved,
// persisted or published.
func (o *Orchestrator) Preview(ctx context.Context, raw domain.RawEmail) *parsing.ParseResult {
	scratch := &EmailProcessingResult{Source: SourceKey(raw)}
	cfg := o.sourceConfig(ctx, scratch)
	parsed := o.parser.Parse(raw, parsing.Options{DefaultCurrency: cfg.DefaultCurrency, Thresholds: cfg.Thresholds})
	parsed.Warnings = append(scratch.Warnings, parsed.Warnings...)
	return parsed
}
