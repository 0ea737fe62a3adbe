package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"
	"import-sourcing/internal/paystack"
	"import-sourcing/internal/reasoning"
	"import-sourcing/internal/store"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu sync.Mutex

	submitErr error

	submitted []*models.RequestSubmittedEvent
	quoted    []*models.QuotesGeneratedEvent
	orders    []*models.OrderCreatedEvent
	completed []*models.PaymentCompletedEvent
	failed    []*models.PaymentFailedEvent
	advanced  []*models.ShipmentAdvancedEvent
}

func (p *fakePublisher) PublishRequestSubmitted(ctx context.Context, event *models.RequestSubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return p.submitErr
	}
	p.submitted = append(p.submitted, event)
	return nil
}

func (p *fakePublisher) PublishQuotesGenerated(ctx context.Context, event *models.QuotesGeneratedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quoted = append(p.quoted, event)
	return nil
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, event)
	return nil
}

func (p *fakePublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, event)
	return nil
}

func (p *fakePublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, event)
	return nil
}

func (p *fakePublisher) PublishShipmentAdvanced(ctx context.Context, event *models.ShipmentAdvancedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanced = append(p.advanced, event)
	return nil
}

type published struct {
	channel string
	payload []byte
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []published
}

func (n *fakeNotifier) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, published{channel: channel, payload: data})
	return nil
}

func (n *fakeNotifier) on(channel string) []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []published
	for _, m := range n.messages {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

type fakeFinder struct {
	candidates []models.SupplierCandidate
	err        error
	delay      time.Duration
	calls      int
}

func (f *fakeFinder) FindSuppliers(ctx context.Context, q reasoning.Query) ([]models.SupplierCandidate, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.candidates, f.err
}

type fakeProvider struct {
	err   error
	calls []paystack.InitializeParams
}

func (p *fakeProvider) InitializeTransaction(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error) {
	p.calls = append(p.calls, params)
	if p.err != nil {
		return nil, p.err
	}
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.example/" + params.Reference,
		AccessCode:       "access-" + params.Reference,
		Reference:        params.Reference,
	}, nil
}

type fakeKeys struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (k *fakeKeys) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.seen[key], nil
}

func (k *fakeKeys) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.seen == nil {
		k.seen = map[string]bool{}
	}
	if k.seen[key] {
		return false, nil
	}
	k.seen[key] = true
	return true, nil
}

// faultyStore injects failures into memory store writes. Writes honour a
// cancelled context the way a database driver does.
type faultyStore struct {
	*store.MemoryStore
	beforeComplete func()
	saveQuotesErr  error
}

func (s *faultyStore) CompletePayment(ctx context.Context, id string, metadata json.RawMessage) (bool, *models.Payment, error) {
	if s.beforeComplete != nil {
		s.beforeComplete()
	}
	if err := ctx.Err(); err != nil {
		return false, nil, apperror.Storage("complete payment", err)
	}
	return s.MemoryStore.CompletePayment(ctx, id, metadata)
}

func (s *faultyStore) SaveQuotes(ctx context.Context, requestID string, quotes []models.SupplierQuote) error {
	if s.saveQuotesErr != nil {
		return s.saveQuotesErr
	}
	return s.MemoryStore.SaveQuotes(ctx, requestID, quotes)
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := key + "-token"
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// workflow wires every service against one memory store
type workflow struct {
	store     *store.MemoryStore
	publisher *fakePublisher
	notifier  *fakeNotifier
	provider  *fakeProvider
	keys      *fakeKeys
	finder    *fakeFinder

	intake   *IntakeService
	agent    *SourcingAgent
	orders   *OrderService
	payments *PaymentService
	tracking *TrackingService
}

const webhookSecret = "whsec_test"

func newWorkflow() *workflow {
	w := &workflow{
		store:     store.NewMemoryStore(),
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		provider:  &fakeProvider{},
		keys:      &fakeKeys{},
		finder:    &fakeFinder{err: reasoning.ErrUnavailable},
	}
	w.intake = NewIntakeService(w.store, w.publisher, w.notifier, "Nigeria")
	w.agent = NewSourcingAgent(w.store, w.finder, w.publisher, w.notifier, &fakeLocker{}, SourcingConfig{
		Timeout:         time.Second,
		ClaimStaleAfter: time.Minute,
		Currency:        "USD",
	})
	w.orders = NewOrderService(w.store, w.publisher, w.notifier)
	w.payments = NewPaymentService(w.store, w.provider, w.publisher, w.notifier, w.keys, PaymentConfig{
		Currency:      "USD",
		CallbackURL:   "https://shop.example/payment/callback",
		WebhookSecret: webhookSecret,
	})
	w.tracking = NewTrackingService(w.store, w.publisher, w.notifier, nil)
	return w
}

func intPtr(v int) *int {
	return &v
}

// quotedRequest submits and sources a request through the fallback
func (w *workflow) quotedRequest(t *testing.T, owner, title string) (*models.ImportRequest, []models.SupplierQuote) {
	t.Helper()
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: owner, Title: title, Quantity: intPtr(1)})
	require.NoError(t, err)
	res, err := w.agent.ProcessRequest(ctx, req.ID)
	require.NoError(t, err)
	return res.Request, res.Quotes
}

// paidOrder selects the first quote and completes its payment via webhook
func (w *workflow) paidOrder(t *testing.T, owner string) *models.ImportOrder {
	t.Helper()
	ctx := context.Background()

	_, quotes := w.quotedRequest(t, owner, "Leather bag")
	order, err := w.orders.SelectQuote(ctx, owner, quotes[0].ID)
	require.NoError(t, err)

	checkout, err := w.payments.Checkout(ctx, owner, "buyer@example.com", order.ID)
	require.NoError(t, err)

	body, sig := chargeSuccess(checkout.Reference)
	_, err = w.payments.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	paid, err := w.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	return paid
}

// chargeSuccess returns a signed charge.success webhook for reference
func chargeSuccess(reference string) ([]byte, string) {
	body := []byte(`{"event":"charge.success","data":{"id":1,"reference":"` + reference + `","status":"success"}}`)
	return body, paystack.Sign(body, webhookSecret)
}

// chargeSettled is chargeSuccess reporting the settled amount
func chargeSettled(reference string, amount int64, currency string) ([]byte, string) {
	body, err := json.Marshal(paystack.WebhookEvent{
		Event: paystack.EventChargeSuccess,
		Data: paystack.WebhookData{
			ID:        1,
			Reference: reference,
			Status:    "success",
			Amount:    amount,
			Currency:  currency,
		},
	})
	if err != nil {
		panic(err)
	}
	return body, paystack.Sign(body, webhookSecret)
}
