package sales

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the sale lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusAwaitingCashier Status = "awaiting_cashier"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
)

// Kind is the sale family code embedded in the invoice number. Parts sales
// carry any number of lines; a vehicle sale is exactly one line of quantity
// one, because each vehicle carries unique chassis and engine data.
const (
	KindParts   = "P"
	KindVehicle = "V"
)

// Payment types. Only cash requires the received amount to cover the total at
// approval time.
const (
	PaymentCash   = "cash"
	PaymentMobile = "mobile"
	PaymentCredit = "credit"
)

// Sale is an invoice at one salespoint, identified for humans by its
// daily-sequenced number.
type Sale struct {
	ID             int64            `json:"id"`
	SalesPointID   int64            `json:"salespoint_id"`
	SellerID       int64            `json:"seller_id"`
	CashierID      *int64           `json:"cashier_id,omitempty"`
	Kind           string           `json:"kind"`
	Number         string           `json:"number"`
	CustomerName   string           `json:"customer_name"`
	CustomerPhone  string           `json:"customer_phone,omitempty"`
	PaymentType    string           `json:"payment_type"`
	Status         Status           `json:"status"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	GrossProfit    decimal.Decimal  `json:"gross_profit"`
	ReceivedAmount *decimal.Decimal `json:"received_amount,omitempty"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Line is one sale line. Unit cost is snapshotted from the catalog when the
// line is created and never re-fetched, so historical margins stay accurate
// when catalog prices move.
type Line struct {
	ID         int64           `json:"id"`
	SaleID     int64           `json:"sale_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	LineTotal  decimal.Decimal `json:"line_total"`
	LineCost   decimal.Decimal `json:"line_cost"`
	LineProfit decimal.Decimal `json:"line_profit"`
}

func (l *Line) recompute() {
	qty := decimal.NewFromInt(l.Quantity)
	l.LineTotal = l.UnitPrice.Mul(qty).Round(0)
	l.LineCost = l.UnitCost.Mul(qty).Round(0)
	l.LineProfit = l.LineTotal.Sub(l.LineCost)
}

// recomputeTotals rederives the sale's money fields from its lines.
func (s *Sale) recomputeTotals(lines []Line) {
	total := decimal.Zero
	cost := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
		cost = cost.Add(l.LineCost)
	}
	s.TotalAmount = total.Round(0)
	s.TotalCost = cost.Round(0)
	s.GrossProfit = s.TotalAmount.Sub(s.TotalCost)
}

// RequestStatus is the cancellation-request lifecycle state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// CancellationRequest asks an approver to reverse (part of) an approved sale
// after the same-day window has closed. Line quantities and prices are
// snapshotted at request time.
type CancellationRequest struct {
	ID          int64         `json:"id"`
	SaleID      int64         `json:"sale_id"`
	RequestedBy int64         `json:"requested_by"`
	ApproverID  *int64        `json:"approver_id,omitempty"`
	Status      RequestStatus `json:"status"`
	Reason      string        `json:"reason"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CancellationLine snapshots one sale line's cancellation quantity.
type CancellationLine struct {
	ID         int64           `json:"id"`
	RequestID  int64           `json:"request_id"`
	SaleLineID int64           `json:"sale_line_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

var (
	// ErrSaleNotFound indicates a missing sale.
	ErrSaleNotFound = errors.New("sales: sale not found")
	// ErrRequestNotFound indicates a missing cancellation request.
	ErrRequestNotFound = errors.New("sales: cancellation request not found")
	// ErrInsufficientPayment indicates a cash approval below the sale total.
	ErrInsufficientPayment = errors.New("sales: received amount below sale total")
	// ErrDuplicateReference indicates invoice numbering retries were exhausted.
	ErrDuplicateReference = errors.New("sales: could not generate a unique invoice number")
	// ErrDuplicateNumber is returned by repositories when an invoice number
	// collides; the service retries with a fresh number.
	ErrDuplicateNumber = errors.New("sales: duplicate invoice number")
	// ErrInvalidState indicates an operation attempted from a status that does
	// not permit it.
	ErrInvalidState = errors.New("sales: operation not allowed in current status")
	// ErrSameDayOnly indicates an instant reversal on a sale approved before
	// today.
	ErrSameDayOnly = errors.New("sales: instant reversal limited to sales approved today")
	// ErrReasonRequired indicates a cancellation request without a reason.
	ErrReasonRequired = errors.New("sales: cancellation reason is required")
)

// LineInput is a raw sale line as submitted by a seller.
type LineInput struct {
	ProductID int64
	Qty       int64
	UnitPrice decimal.Decimal
}

// normalizeLines merges duplicate products, keeping line order stable, and
// rejects invalid quantities, prices, or inconsistent prices for the same
// product.
func normalizeLines(inputs []LineInput) ([]LineInput, error) {
	if len(inputs) == 0 {
		return nil, errors.New("sales: no lines provided")
	}
	index := make(map[int64]int)
	out := make([]LineInput, 0, len(inputs))
	for _, in := range inputs {
		if in.ProductID <= 0 || in.Qty <= 0 {
			return nil, fmt.Errorf("sales: invalid line for product %d", in.ProductID)
		}
		if !in.UnitPrice.IsPositive() {
			return nil, fmt.Errorf("sales: invalid unit price for product %d", in.ProductID)
		}
		if i, ok := index[in.ProductID]; ok {
			if !out[i].UnitPrice.Equal(in.UnitPrice) {
				return nil, fmt.Errorf("sales: inconsistent price for product %d", in.ProductID)
			}
			out[i].Qty += in.Qty
			continue
		}
		index[in.ProductID] = len(out)
		out = append(out, in)
	}
	return out, nil
}
