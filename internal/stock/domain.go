package stock

import (
	"errors"
	"time"
)

// Row tracks the stock counters for one product at one salespoint. Identity is
// (salespoint, product); the row is created lazily on first use and never
// deleted. Remaining and available quantities are always derived from the
// counters, never stored.
type Row struct {
	ID           int64     `json:"id"`
	SalesPointID int64     `json:"salespoint_id"`
	ProductID    int64     `json:"product_id"`
	OpeningQty   int64     `json:"opening_qty"`
	SoldQty      int64     `json:"sold_qty"`
	TransferIn   int64     `json:"transfer_in"`
	TransferOut  int64     `json:"transfer_out"`
	ReservedQty  int64     `json:"reserved_qty"`
	AlertQty     int64     `json:"alert_qty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Remaining is the physically present quantity: opening plus recorded
// movements, independent of reservations. Never negative.
func (r Row) Remaining() int64 {
	rem := r.OpeningQty + r.TransferIn - r.TransferOut - r.SoldQty
	if rem < 0 {
		return 0
	}
	return rem
}

// Available is what can still be newly reserved right now. Never negative.
func (r Row) Available() int64 {
	av := r.Remaining() - r.ReservedQty
	if av < 0 {
		return 0
	}
	return av
}

// BelowAlert reports whether the row has reached its reorder threshold.
func (r Row) BelowAlert() bool {
	return r.Remaining() <= r.AlertQty
}

// Reason classifies a ledger entry.
type Reason string

const (
	ReasonSale             Reason = "sale"
	ReasonReturn           Reason = "return"
	ReasonTransferIn       Reason = "transfer_in"
	ReasonTransferOut      Reason = "transfer_out"
	ReasonRestock          Reason = "restock"
	ReasonRestockSent      Reason = "restock_sent"
	ReasonRestockValidated Reason = "restock_validated"
	ReasonAdjustment       Reason = "adjustment"
	ReasonGoodsReceipt     Reason = "grn"
	ReasonWriteOff         Reason = "write_off"
	ReasonCycleCount       Reason = "cycle_count"
)

// Entry is one immutable audit record of a stock quantity change. Positive qty
// is inbound, negative is outbound. Corrections never update or delete an
// entry; they append a reversal entry with the opposite quantity.
type Entry struct {
	ID              int64     `json:"id"`
	SalesPointID    int64     `json:"salespoint_id"`
	ProductID       int64     `json:"product_id"`
	Qty             int64     `json:"qty"`
	Reason          Reason    `json:"reason"`
	Reference       string    `json:"reference"`
	ActorID         int64     `json:"actor_id"`
	DocumentType    string    `json:"document_type,omitempty"`
	DocumentID      int64     `json:"document_id,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	IsReversal      bool      `json:"is_reversal"`
	ReversedEntryID *int64    `json:"reversed_entry_id,omitempty"`
	ReversalReason  string    `json:"reversal_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// EntryFilter narrows ledger listings.
type EntryFilter struct {
	SalesPointID int64
	ProductID    int64
	Reason       Reason
	Reference    string
	From         time.Time
	To           time.Time
	Limit        int
}

// LineQty pairs a product with a quantity for batch operations.
type LineQty struct {
	ProductID int64
	Qty       int64
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity was passed to a
	// primitive that requires one.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrInsufficientStock indicates a reservation exceeds the available quantity.
	ErrInsufficientStock = errors.New("stock: insufficient available stock")
	// ErrInsufficientReservation indicates a commit exceeds the reserved quantity.
	ErrInsufficientReservation = errors.New("stock: insufficient reserved stock")
	// ErrReverseReversal indicates an attempt to reverse a reversal entry.
	ErrReverseReversal = errors.New("stock: cannot reverse a reversal entry")
	// ErrEntryNotFound indicates a missing ledger entry.
	ErrEntryNotFound = errors.New("stock: ledger entry not found")
)
