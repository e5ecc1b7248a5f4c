package transfers

import (
	"errors"
	"time"
)

// Status is the transfer request lifecycle state. The destination drafts and
// sends the request; the source decides it; the destination acknowledges
// fulfilment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

// Request is a cross-salespoint movement document. Counters move the moment
// the source approves, not when goods physically arrive, so sold-state
// visibility is immediate.
type Request struct {
	ID               int64      `json:"id"`
	FromSalesPointID int64      `json:"from_salespoint_id"`
	ToSalesPointID   int64      `json:"to_salespoint_id"`
	RequestedBy      int64      `json:"requested_by"`
	DecidedBy        *int64     `json:"decided_by,omitempty"`
	Number           string     `json:"number,omitempty"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
	FulfilledAt      *time.Time `json:"fulfilled_at,omitempty"`
}

// Line is one requested product. AvailableAtSource is snapshotted when the
// draft is saved so the approver decides against the figure the requester saw;
// grants are clamped to it.
type Line struct {
	ID                int64 `json:"id"`
	RequestID         int64 `json:"request_id"`
	ProductID         int64 `json:"product_id"`
	QtyRequested      int64 `json:"qty_requested"`
	QtyGranted        int64 `json:"qty_granted"`
	AvailableAtSource int64 `json:"available_at_source"`
}

// LineInput is a requested product and quantity.
type LineInput struct {
	ProductID int64
	Qty       int64
}

// Grant is the source's decision for one product.
type Grant struct {
	ProductID int64
	Qty       int64
}

var (
	// ErrNotFound indicates a missing transfer request.
	ErrNotFound = errors.New("transfers: request not found")
	// ErrInvalidState indicates an operation attempted from a status that does
	// not permit it.
	ErrInvalidState = errors.New("transfers: operation not allowed in current status")
	// ErrInvalidRoute indicates identical or missing endpoints.
	ErrInvalidRoute = errors.New("transfers: source and destination must differ")
	// ErrNoLines indicates a draft without any usable line.
	ErrNoLines = errors.New("transfers: at least one line is required")
)
