package salespoints

import "time"

// SalesPoint is a stock-holding location: a retail point of sale or the
// central warehouse. The warehouse flag gates restock shipping.
type SalesPoint struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Address     string    `json:"address,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	IsWarehouse bool      `json:"is_warehouse"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
