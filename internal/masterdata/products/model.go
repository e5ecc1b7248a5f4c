package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the two product families the sale workflows treat
// differently: parts sell in arbitrary quantity, vehicles sell one per sale.
type Kind string

const (
	KindPart    Kind = "part"
	KindVehicle Kind = "vehicle"
)

// Product is a catalog item.
type Product struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Model          string          `json:"model,omitempty"`
	SKU            string          `json:"sku,omitempty"`
	Kind           Kind            `json:"kind"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	DiscountPrice  decimal.Decimal `json:"discount_price"`
	MinQuantity    int64           `json:"min_quantity"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
