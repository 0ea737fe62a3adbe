package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/broker"
	"import-sourcing/internal/models"
	"import-sourcing/internal/paystack"
	"import-sourcing/internal/store"
	"import-sourcing/internal/util"
	"import-sourcing/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// webhookReplayWindow is how long a handled webhook is remembered in Redis
const webhookReplayWindow = 24 * time.Hour

// Webhook outcomes
const (
	WebhookProcessed      = "processed"
	WebhookDuplicate      = "duplicate"
	WebhookIgnored        = "ignored"
	WebhookUnknownPayment = "unknown_payment"
	WebhookAmountMismatch = "amount_mismatch"
)

// PaymentConfig configures the payment gate
type PaymentConfig struct {
	Currency    string
	CallbackURL string
	// WebhookSecret verifies webhook signatures. Empty disables verification.
	WebhookSecret string
}

// PaymentService initializes provider transactions and finalizes them from
// provider webhooks
type PaymentService struct {
	store       store.Repository
	provider    PaymentProvider
	publisher   EventPublisher
	notifier    Notifier
	idempotency IdempotencyKeys
	cfg         PaymentConfig
	logger      *zap.Logger
}

// NewPaymentService creates a new payment service. notifier and idempotency
// may be nil.
func NewPaymentService(
	store store.Repository,
	provider PaymentProvider,
	publisher EventPublisher,
	notifier Notifier,
	idempotency IdempotencyKeys,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	logger := util.GetLogger()
	if cfg.WebhookSecret == "" {
		logger.Warn("Payment webhook secret not configured; signatures will not be verified")
	}
	return &PaymentService{
		store:       store,
		provider:    provider,
		publisher:   publisher,
		notifier:    notifier,
		idempotency: idempotency,
		cfg:         cfg,
		logger:      logger,
	}
}

// InitializePaymentInput represents a checkout request. Amount is in minor
// currency units.
type InitializePaymentInput struct {
	PayerID   string                `json:"-" binding:"required"`
	Email     string                `json:"email" binding:"required,email"`
	Amount    int64                 `json:"amount" binding:"gt=0"`
	Currency  string                `json:"currency" binding:"omitempty,len=3"`
	Purpose   models.PaymentPurpose `json:"purpose" binding:"required,payment_purpose"`
	RelatedID string                `json:"related_id" binding:"required"`
}

// InitializePaymentResult is returned to the buyer to continue checkout
type InitializePaymentResult struct {
	PaymentID        string `json:"payment_id"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
	Reference        string `json:"reference"`
}

// InitializePayment persists a pending payment and opens a provider checkout
// using the payment id as the reference. A provider failure leaves the row
// pending.
func (s *PaymentService) InitializePayment(ctx context.Context, in InitializePaymentInput) (*InitializePaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.InitializePayment")
	defer span.End()

	in.Email = strings.TrimSpace(in.Email)
	in.RelatedID = strings.TrimSpace(in.RelatedID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = s.cfg.Currency
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := s.checkRelated(ctx, in); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:        uuid.New().String(),
		PayerID:   in.PayerID,
		Email:     in.Email,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Provider:  paystack.ProviderName,
		Status:    models.PaymentStatusPending,
		Purpose:   in.Purpose,
		RelatedID: in.RelatedID,
		Metadata:  json.RawMessage(`{}`),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	res, err := s.provider.InitializeTransaction(ctx, paystack.InitializeParams{
		Email:       payment.Email,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Reference:   payment.ID,
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]string{
			"payment_id": payment.ID,
			"purpose":    string(payment.Purpose),
			"related_id": payment.RelatedID,
		},
	})
	if err != nil {
		util.PaymentsInitializedTotal.WithLabelValues("failed").Inc()
		util.SpanError(span, err)
		s.logger.Error("Payment initialization failed",
			zap.String("payment_id", payment.ID),
			zap.Error(err))
		return nil, err
	}

	reference := res.Reference
	if reference == "" {
		reference = payment.ID
	}
	if err := s.store.SetPaymentReference(ctx, payment.ID, reference); err != nil {
		s.logger.Error("Failed to record provider reference",
			zap.String("payment_id", payment.ID),
			zap.String("reference", reference),
			zap.Error(err))
	}

	util.PaymentsInitializedTotal.WithLabelValues("success").Inc()
	s.logger.Info("Payment initialized",
		zap.String("payment_id", payment.ID),
		zap.String("purpose", string(payment.Purpose)),
		zap.Int64("amount", payment.Amount))

	return &InitializePaymentResult{
		PaymentID:        payment.ID,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Reference:        reference,
	}, nil
}

// checkRelated ensures the payer owns the entity being paid for and that it
// still needs payment
func (s *PaymentService) checkRelated(ctx context.Context, in InitializePaymentInput) error {
	switch in.Purpose {
	case models.PaymentPurposeImportOrder:
		order, err := s.store.GetOrder(ctx, in.RelatedID)
		if err != nil {
			return err
		}
		if order.OwnerID != in.PayerID {
			return apperror.NotFound("order", in.RelatedID)
		}
		if order.PaymentStatus == models.OrderPaymentPaid {
			return apperror.Conflict("order %s is already paid", order.ID)
		}
		if err := requireLiveRequest(ctx, s.store, order); err != nil {
			return err
		}
	case models.PaymentPurposePromotion:
		promo, err := s.store.GetPromotion(ctx, in.RelatedID)
		if err != nil {
			return err
		}
		if promo.OwnerID != in.PayerID {
			return apperror.NotFound("promotion", in.RelatedID)
		}
		if promo.IsActive {
			return apperror.Conflict("promotion %s is already active", promo.ID)
		}
	}
	return nil
}

// Checkout initializes payment of an order's amount due
func (s *PaymentService) Checkout(ctx context.Context, buyerID, email, orderID string) (*InitializePaymentResult, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OwnerID != buyerID {
		return nil, apperror.NotFound("order", orderID)
	}

	quote, err := s.store.GetQuote(ctx, order.QuoteID)
	if err != nil {
		return nil, err
	}

	return s.InitializePayment(ctx, InitializePaymentInput{
		PayerID:   buyerID,
		Email:     email,
		Amount:    quote.AmountDue(),
		Currency:  quote.Currency,
		Purpose:   models.PaymentPurposeImportOrder,
		RelatedID: order.ID,
	})
}

// CreatePromotion registers an inactive promotion awaiting payment
func (s *PaymentService) CreatePromotion(ctx context.Context, ownerID, listingID string) (*models.Promotion, error) {
	if strings.TrimSpace(listingID) == "" {
		return nil, apperror.Validation(map[string]string{"listing_id": "is required"})
	}
	promo := &models.Promotion{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		ListingID: listingID,
	}
	if err := s.store.CreatePromotion(ctx, promo); err != nil {
		return nil, err
	}
	return promo, nil
}

// WebhookResult reports what a webhook delivery did
type WebhookResult struct {
	Event     string `json:"event"`
	PaymentID string `json:"payment_id,omitempty"`
	Outcome   string `json:"outcome"`
}

// HandleWebhook verifies and applies a provider notification. Replays of an
// already finalized payment are no-ops: the pending payment row is updated
// conditionally, and the replay key is written only after a delivery was
// applied. Unknown payments are acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if s.cfg.WebhookSecret != "" && !paystack.VerifySignature(body, signature, s.cfg.WebhookSecret) {
		util.WebhooksReceivedTotal.WithLabelValues("bad_signature").Inc()
		s.logger.Warn("Rejected webhook with invalid signature",
			zap.Bool("signature_present", signature != ""),
			zap.Int("body_bytes", len(body)))
		return nil, apperror.Signature("invalid webhook signature")
	}

	event, err := paystack.ParseWebhook(body)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}

	result := &WebhookResult{Event: event.Event}
	if event.Event != paystack.EventChargeSuccess && event.Event != paystack.EventChargeFailed {
		util.WebhooksReceivedTotal.WithLabelValues(WebhookIgnored).Inc()
		result.Outcome = WebhookIgnored
		return result, nil
	}

	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		util.WebhooksReceivedTotal.WithLabelValues("malformed").Inc()
		return nil, apperror.Validation(map[string]string{"data.reference": "is required"})
	}

	replayKey := "webhook:" + event.Event + ":" + reference
	if s.idempotency != nil {
		seen, err := s.idempotency.HasIdempotencyKey(ctx, replayKey)
		if err != nil {
			s.logger.Warn("Idempotency store unavailable", zap.Error(err))
		} else if seen {
			util.WebhooksReceivedTotal.WithLabelValues(WebhookDuplicate).Inc()
			result.Outcome = WebhookDuplicate
			return result, nil
		}
	}

	result, err = s.applyWebhook(ctx, event, reference, body)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	if s.idempotency != nil && result.Outcome != WebhookUnknownPayment {
		if _, err := s.idempotency.ClaimIdempotencyKey(context.WithoutCancel(ctx), replayKey, webhookReplayWindow); err != nil {
			s.logger.Warn("Failed to record webhook key", zap.String("key", replayKey), zap.Error(err))
		}
	}

	util.WebhooksReceivedTotal.WithLabelValues(result.Outcome).Inc()
	return result, nil
}

func (s *PaymentService) applyWebhook(ctx context.Context, event *paystack.WebhookEvent, reference string, body []byte) (*WebhookResult, error) {
	result := &WebhookResult{Event: event.Event}

	payment, err := s.resolvePayment(ctx, reference)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			s.logger.Warn("Webhook references unknown payment",
				zap.String("event", event.Event),
				zap.String("reference", reference))
			result.Outcome = WebhookUnknownPayment
			return result, nil
		}
		return nil, err
	}
	result.PaymentID = payment.ID

	var changed bool
	if event.Event == paystack.EventChargeSuccess {
		s.checkSettledAmount(payment, &event.Data)
		changed, payment, err = s.store.CompletePayment(ctx, payment.ID, json.RawMessage(body))
	} else {
		changed, payment, err = s.store.FailPayment(ctx, payment.ID, json.RawMessage(body))
	}
	if err != nil {
		return nil, err
	}

	if !changed {
		s.logger.Info("Webhook replay ignored",
			zap.String("payment_id", payment.ID),
			zap.String("status", string(payment.Status)))
		result.Outcome = WebhookDuplicate
		return result, nil
	}

	result.Outcome = WebhookProcessed
	if event.Event == paystack.EventChargeSuccess {
		s.afterCompleted(ctx, payment, reference)
	} else {
		s.afterFailed(ctx, payment, event.Data.GatewayResponse)
	}
	return result, nil
}

// checkSettledAmount flags a charge whose reported amount or currency differs
// from what was initialized. The payment is still completed; the mismatch is
// left for reconciliation.
func (s *PaymentService) checkSettledAmount(payment *models.Payment, data *paystack.WebhookData) {
	amountOff := data.Amount != 0 && data.Amount != payment.Amount
	currencyOff := data.Currency != "" && !strings.EqualFold(data.Currency, payment.Currency)
	if !amountOff && !currencyOff {
		return
	}
	util.WebhooksReceivedTotal.WithLabelValues(WebhookAmountMismatch).Inc()
	s.logger.Error("Webhook amount does not match payment",
		zap.String("payment_id", payment.ID),
		zap.Int64("expected_amount", payment.Amount),
		zap.String("expected_currency", payment.Currency),
		zap.Int64("reported_amount", data.Amount),
		zap.String("reported_currency", data.Currency))
}

// resolvePayment looks a webhook reference up as a provider reference, then
// as an internal payment id
func (s *PaymentService) resolvePayment(ctx context.Context, reference string) (*models.Payment, error) {
	payment, err := s.store.GetPaymentByReference(ctx, reference)
	if err == nil {
		return payment, nil
	}
	if !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}
	if _, perr := uuid.Parse(reference); perr != nil {
		return nil, err
	}
	return s.store.GetPayment(ctx, reference)
}

func (s *PaymentService) afterCompleted(ctx context.Context, payment *models.Payment, reference string) {
	util.PaymentsCompletedTotal.WithLabelValues(string(payment.Purpose)).Inc()
	s.logger.Info("Payment completed",
		zap.String("payment_id", payment.ID),
		zap.String("purpose", string(payment.Purpose)),
		zap.String("related_id", payment.RelatedID))

	event := &models.PaymentCompletedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePaymentCompleted),
		PaymentID: payment.ID,
		Purpose:   payment.Purpose,
		RelatedID: payment.RelatedID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Reference: reference,
	}
	if err := s.publisher.PublishPaymentCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
	}

	if payment.Purpose == models.PaymentPurposeImportOrder {
		s.notifyOrder(ctx, payment.RelatedID)
	}
}

func (s *PaymentService) afterFailed(ctx context.Context, payment *models.Payment, reason string) {
	s.logger.Warn("Payment failed",
		zap.String("payment_id", payment.ID),
		zap.String("reason", reason))

	event := &models.PaymentFailedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePaymentFailed),
		PaymentID: payment.ID,
		Purpose:   payment.Purpose,
		RelatedID: payment.RelatedID,
		Reason:    reason,
	}
	if err := s.publisher.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}

	if payment.Purpose == models.PaymentPurposeImportOrder {
		s.notifyOrder(ctx, payment.RelatedID)
	}
}

func (s *PaymentService) notifyOrder(ctx context.Context, orderID string) {
	if s.notifier == nil {
		return
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("Failed to load order for notification", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	publishOrderUpdate(ctx, s.notifier, s.logger, order, nil)
}
