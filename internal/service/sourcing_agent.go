package service

import (
	"context"
	"errors"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/broker"
	"import-sourcing/internal/models"
	"import-sourcing/internal/reasoning"
	"import-sourcing/internal/store"
	"import-sourcing/internal/util"

	"go.uber.org/zap"
)

// SourcingConfig tunes the sourcing agent
type SourcingConfig struct {
	// Timeout bounds the reasoning call; the fallback runs after it
	Timeout time.Duration
	// ClaimStaleAfter is how long a finding_supplier claim blocks other runs
	ClaimStaleAfter time.Duration
	Currency        string
}

// SourcingResult describes one completed sourcing run
type SourcingResult struct {
	Request *models.ImportRequest
	Quotes  []models.SupplierQuote
	Source  string
}

// SourcingAgent turns a request into priced air and sea quotes
type SourcingAgent struct {
	store     store.Repository
	finder    SupplierFinder
	publisher EventPublisher
	notifier  Notifier
	locker    Locker
	cfg       SourcingConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewSourcingAgent creates a sourcing agent. finder, notifier and locker may
// be nil; without a finder every run uses the fallback suppliers.
func NewSourcingAgent(
	store store.Repository,
	finder SupplierFinder,
	publisher EventPublisher,
	notifier Notifier,
	locker Locker,
	cfg SourcingConfig,
) *SourcingAgent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ClaimStaleAfter <= 0 {
		cfg.ClaimStaleAfter = 2 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &SourcingAgent{
		store:     store,
		finder:    finder,
		publisher: publisher,
		notifier:  notifier,
		locker:    locker,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// ProcessRequest runs the agent for one request. A request that is already
// quoted, terminated or claimed by another run yields a StateConflict and is
// left untouched.
func (a *SourcingAgent) ProcessRequest(ctx context.Context, requestID string) (*SourcingResult, error) {
	ctx, span := util.StartSpan(ctx, "SourcingAgent.ProcessRequest")
	defer span.End()

	req, err := a.store.GetImportRequest(ctx, requestID)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	if req.AIProcessed {
		return nil, apperror.Conflict("import request %s already has quotes", requestID)
	}

	if a.locker != nil {
		lockKey := "sourcing:" + requestID
		token, ok, err := a.locker.AcquireLock(ctx, lockKey, a.cfg.ClaimStaleAfter)
		switch {
		case err != nil:
			a.logger.Warn("Sourcing lock unavailable, relying on store claim",
				zap.String("request_id", requestID),
				zap.Error(err))
		case !ok:
			return nil, apperror.Conflict("import request %s is being sourced", requestID)
		default:
			defer func() {
				if err := a.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
					a.logger.Warn("Failed to release sourcing lock", zap.String("request_id", requestID), zap.Error(err))
				}
			}()
		}
	}

	claimed, err := a.store.ClaimRequestForSourcing(ctx, requestID, a.now().Add(-a.cfg.ClaimStaleAfter))
	if err != nil {
		util.SourcingFailuresTotal.WithLabelValues("storage").Inc()
		return nil, err
	}
	if !claimed {
		return nil, apperror.Conflict("import request %s is not available for sourcing", requestID)
	}

	a.logger.Info("Sourcing request",
		zap.String("request_id", requestID),
		zap.String("title", req.Title),
		zap.Int("quantity", req.Quantity))

	candidates, source := a.findCandidates(ctx, req)
	quotes := BuildQuotes(req.ID, a.cfg.Currency, candidates)

	if err := a.store.SaveQuotes(ctx, req.ID, quotes); err != nil {
		util.SourcingFailuresTotal.WithLabelValues("storage").Inc()
		util.SpanError(span, err)
		a.logger.Error("Failed to save quotes",
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, err
	}

	util.QuotesGeneratedTotal.WithLabelValues(source).Inc()
	a.logger.Info("Request quoted",
		zap.String("request_id", requestID),
		zap.String("source", source),
		zap.Int("quotes", len(quotes)))

	event := &models.QuotesGeneratedEvent{
		BaseEvent:  broker.NewBaseEvent(models.EventTypeQuotesGenerated),
		RequestID:  req.ID,
		QuoteCount: len(quotes),
		Source:     source,
	}
	if err := a.publisher.PublishQuotesGenerated(ctx, event); err != nil {
		a.logger.Error("Failed to publish QuotesGenerated event", zap.Error(err))
	}

	updated, err := a.store.GetImportRequest(ctx, req.ID)
	if err != nil {
		a.logger.Warn("Failed to reload quoted request", zap.String("request_id", requestID), zap.Error(err))
		updated = req
		updated.Status = models.RequestStatusQuoted
		updated.AIProcessed = true
	}

	if a.notifier != nil {
		if err := a.notifier.Publish(ctx, RequestChannel(req.ID), updated); err != nil {
			a.logger.Warn("Failed to notify request subscribers", zap.String("request_id", requestID), zap.Error(err))
		}
	}

	return &SourcingResult{Request: updated, Quotes: quotes, Source: source}, nil
}

// findCandidates asks the reasoning service first and falls back to the
// deterministic suppliers on any failure
func (a *SourcingAgent) findCandidates(ctx context.Context, req *models.ImportRequest) ([]models.SupplierCandidate, string) {
	if a.finder != nil {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		candidates, err := a.finder.FindSuppliers(callCtx, reasoning.Query{
			Title:              req.Title,
			Description:        req.Description,
			Quantity:           req.Quantity,
			PreferredShipping:  req.PreferredShipping,
			DestinationCountry: req.DestinationCountry,
		})
		cancel()

		switch {
		case err == nil && len(candidates) == reasoning.SupplierCount:
			return candidates, models.QuoteSourceAI
		case errors.Is(err, reasoning.ErrUnavailable):
			a.logger.Debug("Reasoning service not configured, using fallback", zap.String("request_id", req.ID))
		case err != nil:
			util.SourcingFailuresTotal.WithLabelValues("reasoning").Inc()
			a.logger.Warn("Reasoning service failed, using fallback",
				zap.String("request_id", req.ID),
				zap.Error(err))
		default:
			util.SourcingFailuresTotal.WithLabelValues("reasoning").Inc()
			a.logger.Warn("Reasoning service returned wrong supplier count, using fallback",
				zap.String("request_id", req.ID),
				zap.Int("count", len(candidates)))
		}
	}

	return FallbackSuppliers(req.Title, req.Quantity), models.QuoteSourceFallback
}
