package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"
	"import-sourcing/internal/util"

	"go.uber.org/zap"
)

// SupplierCount is the number of candidates a successful answer must hold
const SupplierCount = 3

// ErrUnavailable is returned when no API key is configured
var ErrUnavailable = errors.New("reasoning service not configured")

// Query describes the product to source
type Query struct {
	Title              string
	Description        string
	Quantity           int
	PreferredShipping  models.PreferredShipping
	DestinationCountry string
}

// Client calls an OpenAI-compatible chat completions endpoint
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a reasoning client. timeout bounds every call.
func NewClient(apiURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// supplierAnswer is one supplier as the model reports it, in USD
type supplierAnswer struct {
	Name             string  `json:"name"`
	Country          string  `json:"country"`
	ProductCost      float64 `json:"product_cost"`
	AirShippingCost  float64 `json:"air_shipping_cost"`
	SeaShippingCost  float64 `json:"sea_shipping_cost"`
	AirDeliveryDays  int     `json:"air_delivery_days"`
	SeaDeliveryDays  int     `json:"sea_delivery_days"`
	MinOrderQuantity int     `json:"min_order_quantity"`
	Rating           float64 `json:"rating"`
}

const systemPrompt = "You are an international sourcing agent. You answer only with a JSON array, no prose."

// BuildPrompt renders the structured sourcing prompt for q
func BuildPrompt(q Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find exactly %d real-world suppliers for the following product.\n", SupplierCount)
	fmt.Fprintf(&b, "Product: %s\n", q.Title)
	if q.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", q.Description)
	}
	fmt.Fprintf(&b, "Quantity: %d\n", q.Quantity)
	fmt.Fprintf(&b, "Preferred shipping: %s\n", q.PreferredShipping)
	if q.DestinationCountry != "" {
		fmt.Fprintf(&b, "Destination country: %s\n", q.DestinationCountry)
	}
	b.WriteString(`Return a JSON array of objects with exactly these fields:
name (string), country (string), product_cost (USD for the full quantity),
air_shipping_cost (USD), sea_shipping_cost (USD),
air_delivery_days (integer between 5 and 12), sea_delivery_days (integer between 30 and 45),
min_order_quantity (integer), rating (number between 4.0 and 5.0).`)
	return b.String()
}

// FindSuppliers asks the reasoning service for supplier candidates. Any
// transport, status or parse failure is returned as an error.
func (c *Client) FindSuppliers(ctx context.Context, q Query) ([]models.SupplierCandidate, error) {
	if c.apiKey == "" {
		return nil, ErrUnavailable
	}

	ctx, span := util.StartSpan(ctx, "ReasoningClient.FindSuppliers")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReasoningLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(q)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.SpanError(span, err)
		return nil, apperror.External("reasoning service", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.External("reasoning service", "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		util.SpanError(span, err)
		return nil, apperror.External("reasoning service", string(raw), err)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, errors.New("chat response has no choices")
	}

	suppliers, err := ParseSuppliers(chat.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("Reasoning answer rejected", zap.String("title", q.Title), zap.Error(err))
		return nil, err
	}
	return suppliers, nil
}

// ParseSuppliers extracts and validates the supplier array from a model
// answer. Markdown code fences around the array are tolerated.
func ParseSuppliers(content string) ([]models.SupplierCandidate, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array in answer")
	}

	dec := json.NewDecoder(strings.NewReader(content[start : end+1]))
	dec.DisallowUnknownFields()

	var answers []supplierAnswer
	if err := dec.Decode(&answers); err != nil {
		return nil, fmt.Errorf("failed to parse supplier array: %w", err)
	}
	if len(answers) != SupplierCount {
		return nil, fmt.Errorf("expected %d suppliers, got %d", SupplierCount, len(answers))
	}

	out := make([]models.SupplierCandidate, 0, len(answers))
	for i, a := range answers {
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("supplier %d: %w", i, err)
		}
		moq := a.MinOrderQuantity
		if moq < 1 {
			moq = 1
		}
		out = append(out, models.SupplierCandidate{
			Name:             strings.TrimSpace(a.Name),
			Country:          strings.TrimSpace(a.Country),
			ProductCost:      toCents(a.ProductCost),
			AirShippingCost:  toCents(a.AirShippingCost),
			SeaShippingCost:  toCents(a.SeaShippingCost),
			AirDeliveryDays:  a.AirDeliveryDays,
			SeaDeliveryDays:  a.SeaDeliveryDays,
			MinOrderQuantity: moq,
			Rating:           a.Rating,
		})
	}
	return out, nil
}

func (a supplierAnswer) validate() error {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return errors.New("name is empty")
	case strings.TrimSpace(a.Country) == "":
		return errors.New("country is empty")
	case a.ProductCost <= 0 || a.AirShippingCost <= 0 || a.SeaShippingCost <= 0:
		return errors.New("costs must be positive")
	case a.AirDeliveryDays < 5 || a.AirDeliveryDays > 12:
		return fmt.Errorf("air delivery days %d out of range", a.AirDeliveryDays)
	case a.SeaDeliveryDays < 30 || a.SeaDeliveryDays > 45:
		return fmt.Errorf("sea delivery days %d out of range", a.SeaDeliveryDays)
	case a.Rating < 4.0 || a.Rating > 5.0:
		return fmt.Errorf("rating %.1f out of range", a.Rating)
	}
	return nil
}

func toCents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}
