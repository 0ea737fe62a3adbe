package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"import-sourcing/internal/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"abc"}}`)
	sig := Sign(body, "sk_test")

	assert.True(t, VerifySignature(body, sig, "sk_test"))
	assert.False(t, VerifySignature(body, sig, "sk_other"))
	assert.False(t, VerifySignature([]byte(`{"event":"charge.success"}`), sig, "sk_test"))
	assert.False(t, VerifySignature(body, "not-hex", "sk_test"))
	assert.False(t, VerifySignature(body, "", "sk_test"))
}

func TestInitializeTransaction(t *testing.T) {
	var got InitializeParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created",
			"data":{"authorization_url":"https://checkout.paystack.com/xyz","access_code":"xyz","reference":"pay-1"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "sk_test", time.Second)
	res, err := client.InitializeTransaction(context.Background(), InitializeParams{
		Email:     "buyer@example.com",
		Amount:    25000,
		Currency:  "USD",
		Reference: "pay-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.paystack.com/xyz", res.AuthorizationURL)
	assert.Equal(t, "pay-1", res.Reference)
	assert.Equal(t, int64(25000), got.Amount)
	assert.Equal(t, "buyer@example.com", got.Email)
}

func TestInitializeTransactionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_bad", time.Second)
	_, err := client.InitializeTransaction(context.Background(), InitializeParams{Email: "a@b.co", Amount: 100, Reference: "r"})

	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindExternalService, appErr.Kind)
	assert.Contains(t, appErr.Upstream, "Invalid key")
}

func TestParseWebhook(t *testing.T) {
	event, err := ParseWebhook([]byte(`{"event":"charge.success","data":{"reference":"pay-1","amount":25000,"status":"success"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventChargeSuccess, event.Event)
	assert.Equal(t, "pay-1", event.Data.Reference)

	_, err = ParseWebhook([]byte(`not json`))
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	_, err = ParseWebhook([]byte(`{"data":{}}`))
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}
