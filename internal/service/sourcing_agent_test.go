package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseUnitCost(t *testing.T) {
	tests := []struct {
		title string
		want  int64
	}{
		{"iPhone 15 Pro Max", 20000},
		{"Gaming LAPTOP", 45000},
		{"55 inch TV", 35000},
		{"Ladies fashion wear", 1500},
		{"Running shoes", 3500},
		{"Leather bag", 2500},
		{"Wrist watch", 8000},
		{"Industrial equipment", 80000},
		{"Grocery hamper", 2000},
		{"Ceramic vase", 5000},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseUnitCost(tt.title))
		})
	}
}

func TestFallbackScenarioIPhone(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{
		OwnerID:           "buyer-1",
		Title:             "iPhone 15 Pro Max",
		Quantity:          intPtr(1),
		PreferredShipping: models.PreferAir,
	})
	require.NoError(t, err)

	res, err := w.agent.ProcessRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteSourceFallback, res.Source)
	assert.Equal(t, models.RequestStatusQuoted, res.Request.Status)
	assert.True(t, res.Request.AIProcessed)

	stored, err := w.store.ListQuotesByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, stored, 6)

	type expectation struct {
		country string
		airDays int
		seaDays int
	}
	want := map[string]expectation{
		"Guangzhou Global Trade Co.": {"China", 7, 38},
		"Istanbul Premium Exports":   {"Turkey", 5, 32},
		"Dubai International Supply": {"UAE", 4, 28},
	}

	perSupplier := map[string]int{}
	for _, q := range stored {
		exp, ok := want[q.SupplierName]
		require.True(t, ok, "unexpected supplier %s", q.SupplierName)
		perSupplier[q.SupplierName]++

		assert.Equal(t, exp.country, q.SupplierCountry)
		assert.Equal(t, q.ProductCost+q.ShippingCost, q.TotalCost)
		assert.Equal(t, (q.ProductCost*5+50)/100, q.ServiceFee)
		switch q.ShippingMode {
		case models.ShippingModeAir:
			assert.Equal(t, exp.airDays, q.DeliveryDays)
		case models.ShippingModeSea:
			assert.Equal(t, exp.seaDays, q.DeliveryDays)
		default:
			t.Fatalf("unexpected mode %s", q.ShippingMode)
		}
	}
	for name := range want {
		assert.Equal(t, 2, perSupplier[name], name)
	}

	// baseline 200 USD: China 0.85 of it by air, 97% of that by sea
	china := res.Quotes[0:2]
	assert.Equal(t, int64(17000), china[0].ProductCost)
	assert.Equal(t, int64(850), china[0].ServiceFee)
	assert.Equal(t, int64(16490), china[1].ProductCost)
	assert.Equal(t, int64(825), china[1].ServiceFee)

	require.Len(t, w.publisher.quoted, 1)
	assert.Equal(t, 6, w.publisher.quoted[0].QuoteCount)
	assert.Len(t, w.notifier.on(RequestChannel(req.ID)), 1)
}

func TestFallbackIsDeterministic(t *testing.T) {
	strip := func(quotes []models.SupplierQuote) []models.SupplierQuote {
		out := make([]models.SupplierQuote, len(quotes))
		for i, q := range quotes {
			q.ID, q.RequestID = "", ""
			out[i] = q
		}
		return out
	}

	assert.Equal(t, FallbackSuppliers("Running shoes", 3), FallbackSuppliers("Running shoes", 3))

	w := newWorkflow()
	_, first := w.quotedRequest(t, "buyer-1", "Running shoes")
	_, second := w.quotedRequest(t, "buyer-2", "Running shoes")
	assert.Equal(t, strip(first), strip(second))
}

func TestFallbackScalesWithQuantity(t *testing.T) {
	one := FallbackSuppliers("Leather bag", 1)
	ten := FallbackSuppliers("Leather bag", 10)
	require.Len(t, ten, 3)
	for i := range one {
		assert.Equal(t, one[i].ProductCost*10, ten[i].ProductCost)
	}
}

func TestProcessRequestUsesReasoningAnswer(t *testing.T) {
	w := newWorkflow()
	w.finder.err = nil
	w.finder.candidates = []models.SupplierCandidate{
		{Name: "A", Country: "China", ProductCost: 10000, AirShippingCost: 1500, SeaShippingCost: 500, AirDeliveryDays: 8, SeaDeliveryDays: 35, MinOrderQuantity: 1, Rating: 4.1},
		{Name: "B", Country: "India", ProductCost: 11000, AirShippingCost: 1400, SeaShippingCost: 450, AirDeliveryDays: 9, SeaDeliveryDays: 40, MinOrderQuantity: 1, Rating: 4.4},
		{Name: "C", Country: "Vietnam", ProductCost: 9000, AirShippingCost: 2000, SeaShippingCost: 700, AirDeliveryDays: 10, SeaDeliveryDays: 42, MinOrderQuantity: 1, Rating: 4.9},
	}
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Ceramic tiles", Quantity: intPtr(100)})
	require.NoError(t, err)

	res, err := w.agent.ProcessRequest(ctx, req.ID)
	require.NoError(t, err)

	assert.Equal(t, models.QuoteSourceAI, res.Source)
	assert.Equal(t, 1, w.finder.calls)
	require.Len(t, res.Quotes, 6)
	assert.Equal(t, "A", res.Quotes[0].SupplierName)
	assert.Equal(t, int64(11500), res.Quotes[0].TotalCost)
	assert.Equal(t, int64(9700+500), res.Quotes[1].TotalCost)
	assert.Equal(t, 6, w.store.QuoteCount(req.ID))
}

func TestProcessRequestFallsBack(t *testing.T) {
	tests := []struct {
		name   string
		finder *fakeFinder
	}{
		{"error", &fakeFinder{err: errors.New("503 from gateway")}},
		{"wrong count", &fakeFinder{candidates: FallbackSuppliers("bag", 1)[:2]}},
		{"timeout", &fakeFinder{delay: 2 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorkflow()
			w.agent = NewSourcingAgent(w.store, tt.finder, w.publisher, nil, nil, SourcingConfig{Timeout: 50 * time.Millisecond})
			ctx := context.Background()

			req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Leather bag"})
			require.NoError(t, err)

			res, err := w.agent.ProcessRequest(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, models.QuoteSourceFallback, res.Source)
			assert.Equal(t, 6, w.store.QuoteCount(req.ID))
		})
	}
}

func TestProcessRequestRunsOnce(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()
	req, _ := w.quotedRequest(t, "buyer-1", "Laptop")

	_, err := w.agent.ProcessRequest(ctx, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindStateConflict))
	assert.Equal(t, 6, w.store.QuoteCount(req.ID))
	assert.Len(t, w.publisher.quoted, 1)
}

func TestProcessRequestRespectsLock(t *testing.T) {
	w := newWorkflow()
	locker := &fakeLocker{}
	w.agent = NewSourcingAgent(w.store, nil, w.publisher, nil, locker, SourcingConfig{})
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Laptop"})
	require.NoError(t, err)

	_, held, err := locker.AcquireLock(ctx, "sourcing:"+req.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = w.agent.ProcessRequest(ctx, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindStateConflict))

	stored, err := w.store.GetImportRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, stored.Status)
}

func TestProcessRequestReleasesLock(t *testing.T) {
	w := newWorkflow()
	locker := &fakeLocker{}
	w.agent = NewSourcingAgent(w.store, nil, w.publisher, nil, locker, SourcingConfig{})

	req, _ := w.quotedRequest(t, "buyer-1", "Laptop")
	assert.Empty(t, locker.held)
	assert.True(t, req.AIProcessed)
}

func TestProcessRequestNotFound(t *testing.T) {
	w := newWorkflow()
	_, err := w.agent.ProcessRequest(context.Background(), "missing")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestProcessRequestRecoversFromStorageFailure(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()
	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Laptop"})
	require.NoError(t, err)

	faulty := &faultyStore{MemoryStore: w.store, saveQuotesErr: apperror.Storage("save quotes", errors.New("connection reset"))}
	broken := NewSourcingAgent(faulty, w.finder, w.publisher, nil, nil, SourcingConfig{ClaimStaleAfter: time.Minute})

	_, err = broken.ProcessRequest(ctx, req.ID)
	require.True(t, apperror.Is(err, apperror.KindStorage))

	stored, err := w.store.GetImportRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusFindingSupplier, stored.Status)
	assert.False(t, stored.AIProcessed)
	assert.Zero(t, w.store.QuoteCount(req.ID))
	assert.Empty(t, w.publisher.quoted)

	// the claim holds until it goes stale
	_, err = w.agent.ProcessRequest(ctx, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindStateConflict))

	w.agent.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	res, err := w.agent.ProcessRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusQuoted, res.Request.Status)
	assert.True(t, res.Request.AIProcessed)
	assert.Equal(t, 6, w.store.QuoteCount(req.ID))
}
