package service

import (
	"context"
	"strings"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/broker"
	"import-sourcing/internal/models"
	"import-sourcing/internal/store"
	"import-sourcing/internal/util"
	"import-sourcing/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IntakeService accepts sourcing requests and hands them to the sourcing agent
type IntakeService struct {
	store              store.Repository
	publisher          EventPublisher
	notifier           Notifier
	defaultDestination string
	logger             *zap.Logger
}

// NewIntakeService creates a new intake service. notifier may be nil.
func NewIntakeService(store store.Repository, publisher EventPublisher, notifier Notifier, defaultDestination string) *IntakeService {
	return &IntakeService{
		store:              store,
		publisher:          publisher,
		notifier:           notifier,
		defaultDestination: defaultDestination,
		logger:             util.GetLogger(),
	}
}

// SubmitRequestInput represents a buyer's sourcing request
type SubmitRequestInput struct {
	OwnerID            string                   `json:"-" binding:"required"`
	Title              string                   `json:"title" binding:"required,max=200"`
	Description        string                   `json:"description" binding:"max=4000"`
	Quantity           *int                     `json:"quantity" binding:"omitempty,min=1"`
	DestinationCountry string                   `json:"destination_country" binding:"max=100"`
	PreferredShipping  models.PreferredShipping `json:"preferred_shipping" binding:"omitempty,preferred_shipping"`
}

// Submit validates and persists a request, then triggers sourcing without
// waiting for it. A failed trigger leaves the request pending for recovery.
func (s *IntakeService) Submit(ctx context.Context, in SubmitRequestInput) (*models.ImportRequest, error) {
	ctx, span := util.StartSpan(ctx, "IntakeService.Submit")
	defer span.End()

	req, err := s.buildRequest(in)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateImportRequest(ctx, req); err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	util.ImportRequestsSubmittedTotal.Inc()
	s.logger.Info("Import request submitted",
		zap.String("request_id", req.ID),
		zap.String("owner_id", req.OwnerID),
		zap.Int("quantity", req.Quantity))

	if err := s.trigger(ctx, req, false); err != nil {
		util.SourcingTriggerFailuresTotal.Inc()
		s.logger.Error("Failed to trigger sourcing agent",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}

	return req, nil
}

func (s *IntakeService) buildRequest(in SubmitRequestInput) (*models.ImportRequest, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.DestinationCountry = strings.TrimSpace(in.DestinationCountry)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	quantity := 1
	if in.Quantity != nil {
		quantity = *in.Quantity
	}
	preferred := in.PreferredShipping
	if preferred == "" {
		preferred = models.PreferAir
	}
	destination := in.DestinationCountry
	if destination == "" {
		destination = s.defaultDestination
	}

	return &models.ImportRequest{
		ID:                 uuid.New().String(),
		OwnerID:            in.OwnerID,
		Title:              in.Title,
		Description:        in.Description,
		Quantity:           quantity,
		DestinationCountry: destination,
		PreferredShipping:  preferred,
		Status:             models.RequestStatusPending,
		AIProcessed:        false,
	}, nil
}

func (s *IntakeService) trigger(ctx context.Context, req *models.ImportRequest, retry bool) error {
	event := &models.RequestSubmittedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeRequestSubmitted),
		RequestID: req.ID,
		OwnerID:   req.OwnerID,
		Retry:     retry,
	}
	return s.publisher.PublishRequestSubmitted(ctx, event)
}

// Get returns a request visible to ownerID. An empty ownerID is unscoped.
func (s *IntakeService) Get(ctx context.Context, ownerID, id string) (*models.ImportRequest, error) {
	req, err := s.store.GetImportRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(ownerID, req.OwnerID) {
		return nil, apperror.NotFound("import request", id)
	}
	return req, nil
}

// ListByOwner returns the owner's requests, newest first
func (s *IntakeService) ListByOwner(ctx context.Context, ownerID string) ([]models.ImportRequest, error) {
	return s.store.ListImportRequestsByOwner(ctx, ownerID)
}

// GetQuotes returns a request's quotes grouped by shipping mode, cheapest first
func (s *IntakeService) GetQuotes(ctx context.Context, ownerID, id string) (map[models.ShippingMode][]models.SupplierQuote, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}

	quotes, err := s.store.ListQuotesByRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	grouped := make(map[models.ShippingMode][]models.SupplierQuote, len(models.ShippingModes))
	for _, mode := range models.ShippingModes {
		grouped[mode] = []models.SupplierQuote{}
	}
	for _, q := range quotes {
		grouped[q.ShippingMode] = append(grouped[q.ShippingMode], q)
	}
	return grouped, nil
}

// AwaitCompletion polls a request until the sourcing agent has finished, the
// request is terminated, or timeout passes. The latest read is returned in
// every case; callers inspect AIProcessed.
func (s *IntakeService) AwaitCompletion(ctx context.Context, ownerID, id string, timeout, interval time.Duration) (*models.ImportRequest, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req, err := s.Get(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		if req.AIProcessed || req.Status.IsTerminal() {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return req, nil
		case <-ticker.C:
		}
	}
}

// Cancel lets the owner withdraw a request that has not been paid
func (s *IntakeService) Cancel(ctx context.Context, ownerID, id string) (*models.ImportRequest, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.terminate(ctx, id, models.RequestStatusCancelled)
}

// Reject is the operator counterpart of Cancel
func (s *IntakeService) Reject(ctx context.Context, id string) (*models.ImportRequest, error) {
	return s.terminate(ctx, id, models.RequestStatusRejected)
}

func (s *IntakeService) terminate(ctx context.Context, id string, to models.RequestStatus) (*models.ImportRequest, error) {
	from := []models.RequestStatus{
		models.RequestStatusPending,
		models.RequestStatusFindingSupplier,
		models.RequestStatusQuoted,
	}

	ok, err := s.store.UpdateImportRequestStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}

	req, err := s.store.GetImportRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Conflict("import request %s is %s and cannot become %s", id, req.Status, to)
	}

	s.logger.Info("Import request terminated",
		zap.String("request_id", id),
		zap.String("status", string(to)))
	s.notify(ctx, req)
	return req, nil
}

// Retrigger publishes the sourcing trigger again for an unprocessed request
func (s *IntakeService) Retrigger(ctx context.Context, id string) (*models.ImportRequest, error) {
	req, err := s.store.GetImportRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.AIProcessed || (req.Status != models.RequestStatusPending && req.Status != models.RequestStatusFindingSupplier) {
		return nil, apperror.Conflict("import request %s is %s and needs no sourcing", id, req.Status)
	}

	if err := s.trigger(ctx, req, true); err != nil {
		util.SourcingTriggerFailuresTotal.Inc()
		return nil, apperror.External("message broker", "", err)
	}

	s.logger.Info("Sourcing re-triggered", zap.String("request_id", id))
	return req, nil
}

func (s *IntakeService) notify(ctx context.Context, req *models.ImportRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, RequestChannel(req.ID), req); err != nil {
		s.logger.Warn("Failed to notify request subscribers",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
}

// visibleTo reports whether a resource owned by owner may be read by viewer.
// An empty viewer is an operator.
func visibleTo(viewer, owner string) bool {
	return viewer == "" || viewer == owner
}
