package restock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the restock request lifecycle state. Requests flow salespoint to
// warehouse (draft, sent) or warehouse to salespoint (shipped pre-approved);
// goods stay in transit at the warehouse until the destination validates
// reception line by line.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusSent               Status = "sent"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusCancelled          Status = "cancelled"
	StatusPartiallyValidated Status = "partially_validated"
	StatusValidated          Status = "validated"
)

// Request is a warehouse resupply document for one destination salespoint.
type Request struct {
	ID           int64      `json:"id"`
	SalesPointID int64      `json:"salespoint_id"`
	RequestedBy  int64      `json:"requested_by"`
	Reference    string     `json:"reference,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DecidedBy    *int64     `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	ValidatedAt  *time.Time `json:"validated_at,omitempty"`
}

// Line is one product on a request. RemainingAtRequest and AlertAtRequest
// snapshot the destination's stock picture at draft time; StockAtValidation
// snapshots it again just before reception is booked.
type Line struct {
	ID                 int64      `json:"id"`
	RequestID          int64      `json:"request_id"`
	ProductID          int64      `json:"product_id"`
	QtyRequested       int64      `json:"qty_requested"`
	QtyApproved        int64      `json:"qty_approved"`
	RemainingAtRequest int64      `json:"remaining_at_request"`
	AlertAtRequest     int64      `json:"alert_at_request"`
	ValidatedAt        *time.Time `json:"validated_at,omitempty"`
	StockAtValidation  int64      `json:"stock_at_validation"`
}

// ValidationAudit is the immutable trail of one validated line: stock levels
// around the booking and the value received at cost.
type ValidationAudit struct {
	ID           int64           `json:"id"`
	RequestID    int64           `json:"request_id"`
	ProductID    int64           `json:"product_id"`
	ValidatedBy  int64           `json:"validated_by"`
	QtyValidated int64           `json:"qty_validated"`
	StockBefore  int64           `json:"stock_before"`
	StockAfter   int64           `json:"stock_after"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	TotalValue   decimal.Decimal `json:"total_value"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LineInput is a requested product and quantity.
type LineInput struct {
	ProductID int64
	Qty       int64
}

// Grant is the warehouse's decision for one product.
type Grant struct {
	ProductID int64
	Qty       int64
}

// ValidationInput marks one line as received, with the cost price agreed at
// reception time.
type ValidationInput struct {
	LineID    int64
	CostPrice decimal.Decimal
}

var (
	// ErrNotFound indicates a missing restock request.
	ErrNotFound = errors.New("restock: request not found")
	// ErrInvalidState indicates an operation attempted from a status that
	// does not permit it.
	ErrInvalidState = errors.New("restock: operation not allowed in current status")
	// ErrNoLines indicates a request without any usable line.
	ErrNoLines = errors.New("restock: at least one line is required")
	// ErrAllPending indicates every drafted product is already awaiting
	// delivery on another open request.
	ErrAllPending = errors.New("restock: all products already pending on another request")
	// ErrNoWarehouse indicates no salespoint is flagged as the warehouse.
	ErrNoWarehouse = errors.New("restock: no warehouse configured")
)
