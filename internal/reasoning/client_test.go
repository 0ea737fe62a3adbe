package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeSuppliers = "```json\n" + `[
  {"name": "Shenzhen Tech", "country": "China", "product_cost": 180.5, "air_shipping_cost": 25, "sea_shipping_cost": 8.25,
   "air_delivery_days": 8, "sea_delivery_days": 35, "min_order_quantity": 10, "rating": 4.5},
  {"name": "Ankara Mobile", "country": "Turkey", "product_cost": 200, "air_shipping_cost": 20, "sea_shipping_cost": 7,
   "air_delivery_days": 6, "sea_delivery_days": 32, "min_order_quantity": 5, "rating": 4.2},
  {"name": "Jebel Ali Traders", "country": "UAE", "product_cost": 215, "air_shipping_cost": 15, "sea_shipping_cost": 6,
   "air_delivery_days": 5, "sea_delivery_days": 30, "min_order_quantity": 0, "rating": 4.8}
]` + "\n```"

func TestParseSuppliers(t *testing.T) {
	got, err := ParseSuppliers(threeSuppliers)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Shenzhen Tech", got[0].Name)
	assert.Equal(t, int64(18050), got[0].ProductCost)
	assert.Equal(t, int64(825), got[0].SeaShippingCost)
	assert.Equal(t, 1, got[2].MinOrderQuantity)
}

func TestParseSuppliersRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no array", "I could not find suppliers."},
		{"two suppliers", `[{"name":"a","country":"b","product_cost":1,"air_shipping_cost":1,"sea_shipping_cost":1,"air_delivery_days":6,"sea_delivery_days":31,"rating":4.5},
			{"name":"c","country":"d","product_cost":1,"air_shipping_cost":1,"sea_shipping_cost":1,"air_delivery_days":6,"sea_delivery_days":31,"rating":4.5}]`},
		{"unknown field", `[{"name":"a","country":"b","product_cost":1,"air_shipping_cost":1,"sea_shipping_cost":1,"air_delivery_days":6,"sea_delivery_days":31,"rating":4.5,"website":"x"}]`},
		{"air days out of range", `[{"name":"a","country":"b","product_cost":1,"air_shipping_cost":1,"sea_shipping_cost":1,"air_delivery_days":2,"sea_delivery_days":31,"rating":4.5},
			{"name":"a","country":"b","product_cost":1,"air_shipping_cost":1,"sea_shipping_cost":1,"air_delivery_days":6,"sea_delivery_days":31,"rating":4.5},
			{"name":"a","country":"b","product_cost":1,"air_shipping_cost":1,"sea_shipping_cost":1,"air_delivery_days":6,"sea_delivery_days":31,"rating":4.5}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuppliers(tt.content)
			assert.Error(t, err)
		})
	}
}

func TestFindSuppliers(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: threeSuppliers}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-1", "test-model", time.Second)
	got, err := client.FindSuppliers(context.Background(), Query{
		Title:             "iPhone 15 Pro Max",
		Quantity:          2,
		PreferredShipping: models.PreferBoth,
	})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Contains(t, gotReq.Messages[1].Content, "iPhone 15 Pro Max")
	assert.Contains(t, gotReq.Messages[1].Content, "Quantity: 2")
}

func TestFindSuppliersUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-1", "m", time.Second)
	_, err := client.FindSuppliers(context.Background(), Query{Title: "bag", Quantity: 1})

	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindExternalService, appErr.Kind)
	assert.Contains(t, appErr.Upstream, "rate limited")
}

func TestFindSuppliersWithoutKey(t *testing.T) {
	client := NewClient("http://unused", "", "m", time.Second)
	_, err := client.FindSuppliers(context.Background(), Query{Title: "bag", Quantity: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFindSuppliersTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-1", "m", 50*time.Millisecond)
	_, err := client.FindSuppliers(context.Background(), Query{Title: "bag", Quantity: 1})
	assert.True(t, apperror.Is(err, apperror.KindExternalService))
}
