package service

import (
	"math"
	"strings"

	"import-sourcing/internal/models"

	"github.com/google/uuid"
)

// ServiceFeePercent is charged on the product cost of every quote
const ServiceFeePercent = 5

const defaultBaseCostUSD = 50

// baseCosts maps title keywords to a per-unit estimate in USD. The first
// matching row wins.
var baseCosts = []struct {
	keywords []string
	usd      int64
}{
	{[]string{"phone"}, 200},
	{[]string{"laptop"}, 450},
	{[]string{"tv"}, 350},
	{[]string{"cloth", "fashion"}, 15},
	{[]string{"shoe"}, 35},
	{[]string{"bag"}, 25},
	{[]string{"watch"}, 80},
	{[]string{"machine", "equipment"}, 800},
	{[]string{"food", "grocery"}, 20},
}

type fallbackSupplier struct {
	name          string
	country       string
	productFactor float64
	airFactor     float64
	seaFactor     float64
	airDays       int
	seaDays       int
	minOrder      int
	rating        float64
}

// fallbackSuppliers trade price against speed: cheapest and slowest first
var fallbackSuppliers = []fallbackSupplier{
	{"Guangzhou Global Trade Co.", "China", 0.85, 0.18, 0.06, 7, 38, 50, 4.3},
	{"Istanbul Premium Exports", "Turkey", 1.00, 0.14, 0.05, 5, 32, 20, 4.6},
	{"Dubai International Supply", "UAE", 1.12, 0.11, 0.045, 4, 28, 10, 4.8},
}

// modeProductPercent adjusts product cost per shipping mode
var modeProductPercent = map[models.ShippingMode]int64{
	models.ShippingModeAir: 100,
	models.ShippingModeSea: 97,
}

// BaseUnitCost returns the per-unit estimate for a title in minor units
func BaseUnitCost(title string) int64 {
	lower := strings.ToLower(title)
	for _, row := range baseCosts {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return row.usd * 100
			}
		}
	}
	return defaultBaseCostUSD * 100
}

// FallbackSuppliers synthesizes three suppliers from the title and quantity
// alone. It is a pure function of its inputs.
func FallbackSuppliers(title string, quantity int) []models.SupplierCandidate {
	if quantity < 1 {
		quantity = 1
	}
	baseline := float64(BaseUnitCost(title) * int64(quantity))

	out := make([]models.SupplierCandidate, 0, len(fallbackSuppliers))
	for _, s := range fallbackSuppliers {
		out = append(out, models.SupplierCandidate{
			Name:             s.name,
			Country:          s.country,
			ProductCost:      int64(math.Round(baseline * s.productFactor)),
			AirShippingCost:  int64(math.Round(baseline * s.airFactor)),
			SeaShippingCost:  int64(math.Round(baseline * s.seaFactor)),
			AirDeliveryDays:  s.airDays,
			SeaDeliveryDays:  s.seaDays,
			MinOrderQuantity: s.minOrder,
			Rating:           s.rating,
		})
	}
	return out
}

// BuildQuotes turns each candidate into one air and one sea quote
func BuildQuotes(requestID, currency string, candidates []models.SupplierCandidate) []models.SupplierQuote {
	quotes := make([]models.SupplierQuote, 0, len(candidates)*len(models.ShippingModes))
	for _, c := range candidates {
		for _, mode := range models.ShippingModes {
			product := percentOf(c.ProductCost, modeProductPercent[mode])

			shipping, days := c.AirShippingCost, c.AirDeliveryDays
			if mode == models.ShippingModeSea {
				shipping, days = c.SeaShippingCost, c.SeaDeliveryDays
			}

			quotes = append(quotes, models.SupplierQuote{
				ID:               uuid.New().String(),
				RequestID:        requestID,
				SupplierName:     c.Name,
				SupplierCountry:  c.Country,
				ProductCost:      product,
				ShippingCost:     shipping,
				ServiceFee:       percentOf(product, ServiceFeePercent),
				TotalCost:        product + shipping,
				Currency:         currency,
				DeliveryDays:     days,
				ShippingMode:     mode,
				MinOrderQuantity: c.MinOrderQuantity,
				Rating:           c.Rating,
			})
		}
	}
	return quotes
}

// percentOf returns amount*percent/100 rounded half up
func percentOf(amount, percent int64) int64 {
	return (amount*percent + 50) / 100
}
