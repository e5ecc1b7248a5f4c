package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-erp/atlas-erp/internal/masterdata/products"
	"github.com/atlas-erp/atlas-erp/internal/masterdata/salespoints"
	"github.com/atlas-erp/atlas-erp/internal/refs"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// SalesPointPort resolves salespoints for invoice prefixes.
type SalesPointPort interface {
	Get(ctx context.Context, id int64) (salespoints.SalesPoint, error)
}

// CatalogPort resolves products for cost snapshots.
type CatalogPort interface {
	GetMany(ctx context.Context, ids []int64) (map[int64]products.Product, error)
}

// JournalPort records stock movements after the fact.
type JournalPort interface {
	RecordBestEffort(ctx context.Context, e stock.Entry)
}

// numberAttempts bounds invoice-number retries on collision.
const numberAttempts = 4

// Service drives the sale workflow: draft with reservations, cashier approval
// committing stock, cancellation releasing it, and the two reversal paths.
type Service struct {
	repo        RepositoryPort
	salesPoints SalesPointPort
	catalog     CatalogPort
	journal     JournalPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, salesPoints SalesPointPort, catalog CatalogPort, journal JournalPort, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		salesPoints: salesPoints,
		catalog:     catalog,
		journal:     journal,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateDraftInput carries a seller's submitted sale.
type CreateDraftInput struct {
	SalesPointID  int64
	SellerID      int64
	Kind          string
	CustomerName  string
	CustomerPhone string
	PaymentType   string
	Lines         []LineInput
}

// CreateDraft creates a sale awaiting cashier approval and reserves stock for
// every line. The whole draft is one transaction: any failed reservation rolls
// back the sale, its lines, and every earlier reservation. The invoice number
// is retried on collision with a fresh scan.
func (s *Service) CreateDraft(ctx context.Context, input CreateDraftInput) (Sale, []Line, error) {
	lines, err := normalizeLines(input.Lines)
	if err != nil {
		return Sale{}, nil, err
	}

	kind := strings.ToUpper(strings.TrimSpace(input.Kind))
	if kind == "" {
		kind = KindParts
	}
	if kind != KindParts && kind != KindVehicle {
		return Sale{}, nil, fmt.Errorf("sales: unknown sale kind %q", kind)
	}
	if kind == KindVehicle {
		if len(lines) != 1 || lines[0].Qty != 1 {
			return Sale{}, nil, fmt.Errorf("sales: a vehicle sale must contain exactly one vehicle with quantity 1")
		}
	}

	payment := input.PaymentType
	if payment == "" {
		payment = PaymentCash
	}
	customer := strings.TrimSpace(input.CustomerName)
	if customer == "" {
		customer = "DIVERS"
	}

	sp, err := s.salesPoints.Get(ctx, input.SalesPointID)
	if err != nil {
		return Sale{}, nil, fmt.Errorf("sales: salespoint %d: %w", input.SalesPointID, err)
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	catalog, err := s.catalog.GetMany(ctx, ids)
	if err != nil {
		return Sale{}, nil, err
	}

	saleLines := make([]Line, 0, len(lines))
	for _, l := range lines {
		p, ok := catalog[l.ProductID]
		if !ok {
			return Sale{}, nil, fmt.Errorf("sales: product %d not found in catalog", l.ProductID)
		}
		line := Line{
			ProductID: l.ProductID,
			Quantity:  l.Qty,
			UnitPrice: l.UnitPrice,
			UnitCost:  p.CostPrice,
		}
		line.recompute()
		saleLines = append(saleLines, line)
	}

	sale := Sale{
		SalesPointID:  input.SalesPointID,
		SellerID:      input.SellerID,
		Kind:          kind,
		CustomerName:  customer,
		CustomerPhone: strings.TrimSpace(input.CustomerPhone),
		PaymentType:   payment,
		Status:        StatusAwaitingCashier,
	}
	sale.recomputeTotals(saleLines)

	prefix := refs.KindPrefix(sp.Code, s.now(), kind)

	for attempt := 0; attempt < numberAttempts; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			existing, err := tx.LockNumbers(ctx, sale.SalesPointID, prefix)
			if err != nil {
				return err
			}
			sale.Number = refs.NextSequence(prefix, existing)

			id, err := tx.InsertSale(ctx, sale)
			if err != nil {
				return err
			}
			sale.ID = id

			if err := tx.InsertLines(ctx, id, saleLines); err != nil {
				return err
			}
			st := tx.Stock()
			for _, l := range saleLines {
				if _, err := stock.ReserveInTx(ctx, st, sale.SalesPointID, l.ProductID, l.Quantity); err != nil {
					return fmt.Errorf("product %d: %w", l.ProductID, err)
				}
			}
			return nil
		})
		if err == nil {
			return s.repo.GetSale(ctx, sale.ID)
		}
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		return Sale{}, nil, err
	}
	return Sale{}, nil, ErrDuplicateReference
}

// Approve finalizes a reserved sale: cash sales must be fully paid, every
// reservation is committed to sold, and the cashier is stamped. Approving a
// sale that already left awaiting_cashier is a no-op that still reports the
// change due.
func (s *Service) Approve(ctx context.Context, saleID int64, received decimal.Decimal, cashierID int64) (decimal.Decimal, error) {
	var change decimal.Decimal
	var entries []stock.Entry

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		total := sale.TotalAmount.Round(0)
		amt := received.Round(0)
		if sale.PaymentType == PaymentCash && amt.LessThan(total) {
			return ErrInsufficientPayment
		}
		change = amt.Sub(total)
		if sale.Status != StatusAwaitingCashier {
			return nil
		}

		lines, err := tx.GetLines(ctx, saleID)
		if err != nil {
			return err
		}
		st := tx.Stock()
		for _, l := range lines {
			if _, err := stock.CommitInTx(ctx, st, sale.SalesPointID, l.ProductID, l.Quantity); err != nil {
				return fmt.Errorf("product %d: %w", l.ProductID, err)
			}
			entries = append(entries, stock.Entry{
				SalesPointID: sale.SalesPointID,
				ProductID:    l.ProductID,
				Qty:          -l.Quantity,
				Reason:       stock.ReasonSale,
				Reference:    sale.Number,
				ActorID:      cashierID,
				DocumentType: "sale",
				DocumentID:   sale.ID,
			})
		}

		now := s.now()
		sale.CashierID = &cashierID
		sale.ApprovedAt = &now
		sale.ReceivedAmount = &amt
		sale.Status = StatusApproved
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, e := range entries {
		s.journal.RecordBestEffort(ctx, e)
	}
	return change, nil
}

// Cancel releases a draft or awaiting sale's reservations. Any other status is
// a no-op returning the sale unchanged.
func (s *Service) Cancel(ctx context.Context, saleID int64) (Sale, error) {
	var out Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusDraft && sale.Status != StatusAwaitingCashier {
			out = sale
			return nil
		}
		lines, err := tx.GetLines(ctx, saleID)
		if err != nil {
			return err
		}
		st := tx.Stock()
		for _, l := range lines {
			if _, err := stock.ReleaseInTx(ctx, st, sale.SalesPointID, l.ProductID, l.Quantity); err != nil {
				return err
			}
		}
		now := s.now()
		sale.Status = StatusCancelled
		sale.CancelledAt = &now
		out = sale
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}
	return out, nil
}

// ReverseSameDay undoes part or all of a sale approved today. Quantities are
// keyed by sale line id; a nil map reverses every line in full.
func (s *Service) ReverseSameDay(ctx context.Context, saleID int64, lineQtys map[int64]int64, actorID int64, reason string) (Sale, error) {
	var out Sale
	var entries []stock.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.ApprovedAt != nil && !sameDay(*sale.ApprovedAt, s.now()) {
			return ErrSameDayOnly
		}
		out, entries, err = s.reverseInTx(ctx, tx, sale, lineQtys, actorID, reason)
		return err
	})
	if err != nil {
		return Sale{}, err
	}
	for _, e := range entries {
		s.journal.RecordBestEffort(ctx, e)
	}
	return out, nil
}

// reverseInTx returns sold quantities to stock, shrinks or deletes the
// affected lines, and recomputes totals. The sale must be approved. Returns
// the journal entries to record after commit.
func (s *Service) reverseInTx(ctx context.Context, tx TxRepository, sale Sale, lineQtys map[int64]int64, actorID int64, reason string) (Sale, []stock.Entry, error) {
	if sale.Status != StatusApproved {
		return Sale{}, nil, ErrInvalidState
	}
	lines, err := tx.GetLines(ctx, sale.ID)
	if err != nil {
		return Sale{}, nil, err
	}
	byID := make(map[int64]Line, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}

	selections := make(map[int64]int64, len(lines))
	if len(lineQtys) > 0 {
		for lineID, qty := range lineQtys {
			l, ok := byID[lineID]
			if !ok {
				return Sale{}, nil, fmt.Errorf("sales: unknown sale line %d", lineID)
			}
			if qty <= 0 || qty > l.Quantity {
				return Sale{}, nil, fmt.Errorf("sales: invalid reversal quantity for line %d", lineID)
			}
			selections[lineID] = qty
		}
	} else {
		for _, l := range lines {
			selections[l.ID] = l.Quantity
		}
	}

	st := tx.Stock()
	var entries []stock.Entry
	remaining := make([]Line, 0, len(lines))
	for _, l := range lines {
		qty, picked := selections[l.ID]
		if !picked {
			remaining = append(remaining, l)
			continue
		}
		if _, err := stock.ReturnSoldInTx(ctx, st, sale.SalesPointID, l.ProductID, qty); err != nil {
			return Sale{}, nil, err
		}
		entries = append(entries, stock.Entry{
			SalesPointID:   sale.SalesPointID,
			ProductID:      l.ProductID,
			Qty:            qty,
			Reason:         stock.ReasonReturn,
			Reference:      sale.Number,
			ActorID:        actorID,
			DocumentType:   "sale",
			DocumentID:     sale.ID,
			IsReversal:     true,
			ReversalReason: reason,
		})

		if qty == l.Quantity {
			if err := tx.DeleteLine(ctx, l.ID); err != nil {
				return Sale{}, nil, err
			}
			continue
		}
		l.Quantity -= qty
		l.recompute()
		if err := tx.UpdateLine(ctx, l); err != nil {
			return Sale{}, nil, err
		}
		remaining = append(remaining, l)
	}

	if len(remaining) == 0 {
		now := s.now()
		sale.Status = StatusCancelled
		sale.CancelledAt = &now
	}
	sale.recomputeTotals(remaining)
	if err := tx.UpdateSale(ctx, sale); err != nil {
		return Sale{}, nil, err
	}
	return sale, entries, nil
}

// CreateCancellationRequest opens a pending reversal request for an approved
// sale, snapshotting the affected line quantities and prices.
func (s *Service) CreateCancellationRequest(ctx context.Context, saleID int64, lineQtys map[int64]int64, requestedBy int64, reason string) (CancellationRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return CancellationRequest{}, ErrReasonRequired
	}
	var out CancellationRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusApproved {
			return ErrInvalidState
		}
		lines, err := tx.GetLines(ctx, saleID)
		if err != nil {
			return err
		}
		byID := make(map[int64]Line, len(lines))
		for _, l := range lines {
			byID[l.ID] = l
		}

		req := CancellationRequest{
			SaleID:      saleID,
			RequestedBy: requestedBy,
			Status:      RequestPending,
			Reason:      strings.TrimSpace(reason),
		}
		reqID, err := tx.InsertRequest(ctx, req)
		if err != nil {
			return err
		}
		req.ID = reqID

		var reqLines []CancellationLine
		appendLine := func(l Line, qty int64) {
			reqLines = append(reqLines, CancellationLine{
				RequestID:  reqID,
				SaleLineID: l.ID,
				ProductID:  l.ProductID,
				Quantity:   qty,
				UnitPrice:  l.UnitPrice,
				UnitCost:   l.UnitCost,
				LineTotal:  l.UnitPrice.Mul(decimal.NewFromInt(qty)).Round(0),
			})
		}
		if len(lineQtys) > 0 {
			for lineID, qty := range lineQtys {
				l, ok := byID[lineID]
				if !ok {
					return fmt.Errorf("sales: unknown sale line %d", lineID)
				}
				if qty <= 0 || qty > l.Quantity {
					return fmt.Errorf("sales: invalid cancellation quantity for line %d", lineID)
				}
				appendLine(l, qty)
			}
		} else {
			for _, l := range lines {
				appendLine(l, l.Quantity)
			}
		}
		if err := tx.InsertRequestLines(ctx, reqID, reqLines); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return CancellationRequest{}, err
	}
	return out, nil
}

// ApproveCancellationRequest applies a pending request's reversal regardless
// of the sale's approval day; the request workflow is the sanctioned path for
// after-the-day reversals. Non-pending requests are a no-op.
func (s *Service) ApproveCancellationRequest(ctx context.Context, requestID, approverID int64) (CancellationRequest, error) {
	var out CancellationRequest
	var entries []stock.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			out = req
			return nil
		}
		reqLines, err := tx.GetRequestLines(ctx, requestID)
		if err != nil {
			return err
		}
		qtys := make(map[int64]int64, len(reqLines))
		for _, l := range reqLines {
			qtys[l.SaleLineID] += l.Quantity
		}

		sale, err := tx.GetSaleForUpdate(ctx, req.SaleID)
		if err != nil {
			return err
		}
		_, entries, err = s.reverseInTx(ctx, tx, sale, qtys, approverID, req.Reason)
		if err != nil {
			return err
		}

		now := s.now()
		req.Status = RequestApproved
		req.ApproverID = &approverID
		req.ApprovedAt = &now
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return CancellationRequest{}, err
	}
	for _, e := range entries {
		s.journal.RecordBestEffort(ctx, e)
	}
	return out, nil
}

// RejectCancellationRequest closes a pending request without touching the sale.
func (s *Service) RejectCancellationRequest(ctx context.Context, requestID, approverID int64) (CancellationRequest, error) {
	var out CancellationRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			out = req
			return nil
		}
		now := s.now()
		req.Status = RequestRejected
		req.ApproverID = &approverID
		req.ApprovedAt = &now
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return CancellationRequest{}, err
	}
	return out, nil
}

// Get returns a sale with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, []Line, error) {
	return s.repo.GetSale(ctx, id)
}

// GetByNumber finds a sale by its invoice number at a salespoint.
func (s *Service) GetByNumber(ctx context.Context, salesPointID int64, number string) (Sale, []Line, error) {
	return s.repo.GetSaleByNumber(ctx, salesPointID, strings.TrimSpace(number))
}

// List pages through sales.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, int64, error) {
	return s.repo.ListSales(ctx, filter)
}

// GetRequest returns a cancellation request with its lines.
func (s *Service) GetRequest(ctx context.Context, id int64) (CancellationRequest, []CancellationLine, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests lists cancellation requests, optionally by status.
func (s *Service) ListRequests(ctx context.Context, status RequestStatus) ([]CancellationRequest, error) {
	return s.repo.ListRequests(ctx, status)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
