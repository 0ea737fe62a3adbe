package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAppliesDefaultsAndTriggersAgent(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{
		OwnerID: "buyer-1",
		Title:   "  iPhone 15 Pro Max ",
	})
	require.NoError(t, err)

	assert.Equal(t, "iPhone 15 Pro Max", req.Title)
	assert.Equal(t, 1, req.Quantity)
	assert.Equal(t, models.PreferAir, req.PreferredShipping)
	assert.Equal(t, "Nigeria", req.DestinationCountry)

	stored, err := w.intake.Get(ctx, "buyer-1", req.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.RequestStatus{models.RequestStatusPending, models.RequestStatusFindingSupplier}, stored.Status)
	assert.False(t, stored.AIProcessed)

	require.Len(t, w.publisher.submitted, 1)
	assert.Equal(t, req.ID, w.publisher.submitted[0].RequestID)
	assert.Equal(t, models.EventTypeRequestSubmitted, w.publisher.submitted[0].EventType)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name  string
		input SubmitRequestInput
		field string
	}{
		{"missing title", SubmitRequestInput{OwnerID: "b", Title: "   "}, "title"},
		{"zero quantity", SubmitRequestInput{OwnerID: "b", Title: "Shoes", Quantity: intPtr(0)}, "quantity"},
		{"negative quantity", SubmitRequestInput{OwnerID: "b", Title: "Shoes", Quantity: intPtr(-3)}, "quantity"},
		{"unknown shipping", SubmitRequestInput{OwnerID: "b", Title: "Shoes", PreferredShipping: "rail"}, "preferred_shipping"},
		{"missing owner", SubmitRequestInput{Title: "Shoes"}, "owner_id"},
		{"long title", SubmitRequestInput{OwnerID: "b", Title: strings.Repeat("é", 201)}, "title"},
		{"long description", SubmitRequestInput{OwnerID: "b", Title: "Shoes", Description: strings.Repeat("x", 4001)}, "description"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorkflow()
			_, err := w.intake.Submit(context.Background(), tt.input)

			appErr, ok := apperror.As(err)
			require.True(t, ok)
			assert.Equal(t, apperror.KindValidation, appErr.Kind)
			assert.Contains(t, appErr.Fields, tt.field)
			assert.Empty(t, w.publisher.submitted)
		})
	}
}

func TestSubmitSurvivesTriggerFailure(t *testing.T) {
	w := newWorkflow()
	w.publisher.submitErr = errors.New("broker down")
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Laptop"})
	require.NoError(t, err)

	stored, err := w.store.GetImportRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, stored.Status)
	assert.False(t, stored.AIProcessed)
}

func TestGetQuotesGroupsByMode(t *testing.T) {
	w := newWorkflow()
	req, _ := w.quotedRequest(t, "buyer-1", "Smart watch")

	grouped, err := w.intake.GetQuotes(context.Background(), "buyer-1", req.ID)
	require.NoError(t, err)

	require.Len(t, grouped[models.ShippingModeAir], 3)
	require.Len(t, grouped[models.ShippingModeSea], 3)
	for mode, quotes := range grouped {
		for i, q := range quotes {
			assert.Equal(t, mode, q.ShippingMode)
			if i > 0 {
				assert.LessOrEqual(t, quotes[i-1].TotalCost, q.TotalCost)
			}
		}
	}
}

func TestGetHidesOtherOwnersRequests(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Tv"})
	require.NoError(t, err)

	_, err = w.intake.Get(ctx, "buyer-2", req.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	_, err = w.intake.Get(ctx, "", req.ID)
	assert.NoError(t, err)
}

func TestAwaitCompletion(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Grocery box"})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.agent.ProcessRequest(ctx, req.ID)
	}()

	done, err := w.intake.AwaitCompletion(ctx, "buyer-1", req.ID, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, done.AIProcessed)
	assert.Equal(t, models.RequestStatusQuoted, done.Status)
}

func TestAwaitCompletionTimesOut(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Grocery box"})
	require.NoError(t, err)

	start := time.Now()
	latest, err := w.intake.AwaitCompletion(ctx, "buyer-1", req.ID, 30*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, latest.AIProcessed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCancelRejectAndRetrigger(t *testing.T) {
	w := newWorkflow()
	ctx := context.Background()

	req, err := w.intake.Submit(ctx, SubmitRequestInput{OwnerID: "buyer-1", Title: "Sewing machine"})
	require.NoError(t, err)

	_, err = w.intake.Retrigger(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, w.publisher.submitted, 2)
	assert.True(t, w.publisher.submitted[1].Retry)

	_, err = w.intake.Cancel(ctx, "buyer-2", req.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	cancelled, err := w.intake.Cancel(ctx, "buyer-1", req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, cancelled.Status)
	assert.Len(t, w.notifier.on(RequestChannel(req.ID)), 1)

	_, err = w.intake.Cancel(ctx, "buyer-1", req.ID)
	assert.True(t, apperror.Is(err, apperror.KindStateConflict))
	_, err = w.intake.Reject(ctx, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindStateConflict))
	_, err = w.intake.Retrigger(ctx, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindStateConflict))

	_, err = w.agent.ProcessRequest(ctx, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindStateConflict))
	assert.Equal(t, 0, w.store.QuoteCount(req.ID))
}
