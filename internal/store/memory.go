package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository with the same transition guards as
// Store. Every method holds one mutex, so multi-row writes are atomic.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	requests   map[string]*models.ImportRequest
	quotes     map[string]*models.SupplierQuote
	quoteOrder []string
	orders     map[string]*models.ImportOrder
	events     map[string][]models.TrackingEvent
	payments   map[string]*models.Payment
	promotions map[string]*models.Promotion
	processed  map[string]string
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        time.Now,
		requests:   make(map[string]*models.ImportRequest),
		quotes:     make(map[string]*models.SupplierQuote),
		orders:     make(map[string]*models.ImportOrder),
		events:     make(map[string][]models.TrackingEvent),
		payments:   make(map[string]*models.Payment),
		promotions: make(map[string]*models.Promotion),
		processed:  make(map[string]string),
	}
}

// SetClock overrides the time source, for tests
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) CreateImportRequest(ctx context.Context, req *models.ImportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.ID]; exists {
		return apperror.Conflict("import request %s already exists", req.ID)
	}
	now := m.now()
	req.CreatedAt, req.UpdatedAt = now, now
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) GetImportRequest(ctx context.Context, id string) (*models.ImportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, apperror.NotFound("import request", id)
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryStore) ListImportRequestsByOwner(ctx context.Context, ownerID string) ([]models.ImportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.ImportRequest{}
	for _, req := range m.requests {
		if req.OwnerID == ownerID {
			out = append(out, *req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListStaleImportRequests(ctx context.Context, before time.Time, limit int) ([]models.ImportRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.ImportRequest{}
	for _, req := range m.requests {
		if req.AIProcessed || !req.UpdatedAt.Before(before) {
			continue
		}
		if req.Status == models.RequestStatusPending || req.Status == models.RequestStatusFindingSupplier {
			out = append(out, *req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ClaimRequestForSourcing(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok || req.AIProcessed {
		return false, nil
	}
	switch req.Status {
	case models.RequestStatusPending:
	case models.RequestStatusFindingSupplier:
		if req.ClaimedAt != nil && !req.ClaimedAt.Before(staleBefore) {
			return false, nil
		}
	default:
		return false, nil
	}

	now := m.now()
	req.Status = models.RequestStatusFindingSupplier
	req.ClaimedAt = &now
	req.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) UpdateImportRequestStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if req.Status == st {
			req.Status = to
			req.UpdatedAt = m.now()
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SaveQuotes(ctx context.Context, requestID string, quotes []models.SupplierQuote) error {
	if len(quotes) == 0 {
		return apperror.Validation(map[string]string{"quotes": "at least one quote is required"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return apperror.NotFound("import request", requestID)
	}
	if req.AIProcessed {
		return apperror.Conflict("import request %s already has quotes", requestID)
	}
	if req.Status != models.RequestStatusFindingSupplier {
		return apperror.Conflict("import request %s is %s, not finding_supplier", requestID, req.Status)
	}

	now := m.now()
	for i := range quotes {
		q := quotes[i]
		q.CreatedAt = now
		m.quotes[q.ID] = &q
		m.quoteOrder = append(m.quoteOrder, q.ID)
	}
	req.Status = models.RequestStatusQuoted
	req.AIProcessed = true
	req.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetQuote(ctx context.Context, id string) (*models.SupplierQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotes[id]
	if !ok {
		return nil, apperror.NotFound("quote", id)
	}
	cp := *q
	return &cp, nil
}

func (m *MemoryStore) ListQuotesByRequest(ctx context.Context, requestID string) ([]models.SupplierQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.SupplierQuote{}
	for _, id := range m.quoteOrder {
		if q := m.quotes[id]; q.RequestID == requestID {
			out = append(out, *q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalCost != out[j].TotalCost {
			return out[i].TotalCost < out[j].TotalCost
		}
		return out[i].SupplierName < out[j].SupplierName
	})
	return out, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.ImportOrder, initial *models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orders {
		if existing.QuoteID == order.QuoteID {
			return apperror.Conflict("quote %s already has an order", order.QuoteID)
		}
	}

	now := m.now()
	order.CreatedAt, order.UpdatedAt = now, now
	cp := *order
	m.orders[order.ID] = &cp

	if initial != nil {
		initial.OrderID = order.ID
		m.appendEvent(initial, now)
	}
	return nil
}

func (m *MemoryStore) appendEvent(ev *models.TrackingEvent, now time.Time) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.CreatedAt = now
	m.events[ev.OrderID] = append(m.events[ev.OrderID], *ev)
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.ImportOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, apperror.NotFound("order", id)
	}
	cp := *order
	return &cp, nil
}

func (m *MemoryStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]models.ImportOrder, error) {
	return m.listOrders(func(o *models.ImportOrder) bool { return o.OwnerID == ownerID }), nil
}

func (m *MemoryStore) ListOrdersByShippingStatus(ctx context.Context, status models.ShippingStatus) ([]models.ImportOrder, error) {
	return m.listOrders(func(o *models.ImportOrder) bool { return status == "" || o.ShippingStatus == status }), nil
}

func (m *MemoryStore) listOrders(match func(*models.ImportOrder) bool) []models.ImportOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.ImportOrder{}
	for _, o := range m.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) AdvanceShipment(ctx context.Context, orderID string, apply ShipmentTransition) (*models.ImportOrder, *models.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[orderID]
	if !ok {
		return nil, nil, apperror.NotFound("order", orderID)
	}

	working := *stored
	event, err := apply(&working)
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	event.OrderID = orderID
	m.appendEvent(event, now)
	working.UpdatedAt = now
	*stored = working

	cp := working
	ev := *event
	return &cp, &ev, nil
}

func (m *MemoryStore) GetOrderSnapshot(ctx context.Context, orderID string) (*models.OrderSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, apperror.NotFound("order", orderID)
	}
	snap := &models.OrderSnapshot{
		Order:  *order,
		Events: append([]models.TrackingEvent{}, m.events[orderID]...),
	}
	if q, ok := m.quotes[order.QuoteID]; ok {
		cp := *q
		snap.Quote = &cp
	}
	return snap, nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[payment.ID]; exists {
		return apperror.Conflict("payment %s already exists", payment.ID)
	}
	if len(payment.Metadata) == 0 {
		payment.Metadata = json.RawMessage(`{}`)
	}
	now := m.now()
	payment.CreatedAt, payment.UpdatedAt = now, now
	cp := *payment
	m.payments[payment.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, apperror.NotFound("payment", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.payments {
		if p.ProviderReference != nil && *p.ProviderReference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("payment", reference)
}

func (m *MemoryStore) SetPaymentReference(ctx context.Context, id, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return apperror.NotFound("payment", id)
	}
	for otherID, other := range m.payments {
		if otherID != id && other.ProviderReference != nil && *other.ProviderReference == reference {
			return apperror.Conflict("provider reference %s already recorded", reference)
		}
	}
	ref := reference
	p.ProviderReference = &ref
	p.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CompletePayment(ctx context.Context, id string, metadata json.RawMessage) (bool, *models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, changed, err := m.finalizePayment(id, models.PaymentStatusCompleted, metadata)
	if err != nil || !changed {
		return false, p, err
	}

	now := m.now()
	switch p.Purpose {
	case models.PaymentPurposeImportOrder:
		if order, ok := m.orders[p.RelatedID]; ok && order.PaymentStatus != models.OrderPaymentPaid {
			order.PaymentStatus = models.OrderPaymentPaid
			order.UpdatedAt = now
			if req, ok := m.requests[order.RequestID]; ok && req.Status == models.RequestStatusQuoted {
				req.Status = models.RequestStatusPaid
				req.UpdatedAt = now
			}
		}
	case models.PaymentPurposePromotion:
		if promo, ok := m.promotions[p.RelatedID]; ok {
			promo.IsActive = true
			promo.UpdatedAt = now
		}
	}
	return true, p, nil
}

func (m *MemoryStore) FailPayment(ctx context.Context, id string, metadata json.RawMessage) (bool, *models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, changed, err := m.finalizePayment(id, models.PaymentStatusFailed, metadata)
	if err != nil || !changed {
		return false, p, err
	}

	if p.Purpose == models.PaymentPurposeImportOrder {
		if order, ok := m.orders[p.RelatedID]; ok && order.PaymentStatus == models.OrderPaymentPending {
			order.PaymentStatus = models.OrderPaymentFailed
			order.UpdatedAt = m.now()
		}
	}
	return true, p, nil
}

// finalizePayment must be called with mu held
func (m *MemoryStore) finalizePayment(id string, to models.PaymentStatus, metadata json.RawMessage) (*models.Payment, bool, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, false, apperror.NotFound("payment", id)
	}
	if p.Status != models.PaymentStatusPending {
		cp := *p
		return &cp, false, nil
	}
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	p.Status = to
	p.Metadata = append(json.RawMessage{}, metadata...)
	p.UpdatedAt = m.now()
	cp := *p
	return &cp, true, nil
}

func (m *MemoryStore) CreatePromotion(ctx context.Context, promo *models.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	promo.CreatedAt, promo.UpdatedAt = now, now
	cp := *promo
	m.promotions[promo.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPromotion(ctx context.Context, id string) (*models.Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	promo, ok := m.promotions[id]
	if !ok {
		return nil, apperror.NotFound("promotion", id)
	}
	cp := *promo
	return &cp, nil
}

func (m *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; !ok {
		m.processed[eventID] = eventType
	}
	return nil
}

// TrackingEventCount returns the number of events stored for an order
func (m *MemoryStore) TrackingEventCount(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[orderID])
}

// QuoteCount returns the number of quotes stored for a request
func (m *MemoryStore) QuoteCount(requestID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, q := range m.quotes {
		if q.RequestID == requestID {
			n++
		}
	}
	return n
}
