package restock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-erp/atlas-erp/internal/masterdata/salespoints"
	"github.com/atlas-erp/atlas-erp/internal/refs"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// SalesPointPort resolves the warehouse salespoint.
type SalesPointPort interface {
	Warehouse(ctx context.Context) (salespoints.SalesPoint, error)
}

// JournalPort records stock movements after the fact.
type JournalPort interface {
	RecordBestEffort(ctx context.Context, e stock.Entry)
}

// NotifierPort delivers best-effort workflow notifications.
type NotifierPort interface {
	NotifyBestEffort(ctx context.Context, salesPointID int64, kind, message, link string)
}

// IdempotencyPort guards replayed shipments.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const idempotencyModule = "restock_ship"

// Service drives warehouse resupply: salespoint drafts, warehouse shipments
// and the destination's reception validation.
type Service struct {
	repo        RepositoryPort
	salesPoints SalesPointPort
	journal     JournalPort
	notifier    NotifierPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, salesPoints SalesPointPort, journal JournalPort, notifier NotifierPort, idempotency IdempotencyPort, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		salesPoints: salesPoints,
		journal:     journal,
		notifier:    notifier,
		idempotency: idempotency,
		logger:      logger,
		now:         time.Now,
	}
}

// ShipInput is a warehouse push shipment.
type ShipInput struct {
	ToSalesPointID int64
	Kind           string // "P" parts, "M" machines
	Lines          []LineInput
	ActorID        int64
	IdempotencyKey string
}

// SaveDraft stores the salespoint manager's resupply wishlist. Duplicate
// products merge their quantities; each line snapshots the salespoint's
// remaining and alert quantities so the warehouse sees why it was asked.
func (s *Service) SaveDraft(ctx context.Context, salesPointID, requestedBy int64, lines []LineInput) (Request, []Line, error) {
	if salesPointID <= 0 {
		return Request{}, nil, fmt.Errorf("restock: invalid salespoint %d", salesPointID)
	}
	merged := mergeLines(lines)
	if len(merged) == 0 {
		return Request{}, nil, ErrNoLines
	}

	var req Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindDraftForSalesPoint(ctx, salesPointID)
		switch {
		case err == nil:
			req = existing
		case errors.Is(err, ErrNotFound):
			req = Request{SalesPointID: salesPointID, RequestedBy: requestedBy, Status: StatusDraft}
			id, err := tx.InsertRequest(ctx, req)
			if err != nil {
				return err
			}
			req.ID = id
		default:
			return err
		}

		st := tx.Stock()
		reqLines := make([]Line, 0, len(merged))
		for _, l := range merged {
			row, err := st.LockRow(ctx, salesPointID, l.ProductID)
			if err != nil {
				return err
			}
			reqLines = append(reqLines, Line{
				RequestID:          req.ID,
				ProductID:          l.ProductID,
				QtyRequested:       l.Qty,
				RemainingAtRequest: row.Remaining(),
				AlertAtRequest:     row.AlertQty,
			})
		}
		return tx.ReplaceLines(ctx, req.ID, reqLines)
	})
	if err != nil {
		return Request{}, nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

// Send marks a draft as sent to the warehouse. Products already awaiting
// delivery on another open request are dropped from the draft and reported
// back; sending fails with ErrAllPending when nothing is left. The reference
// is assigned under lock from the day's WH-RQ sequence.
func (s *Service) Send(ctx context.Context, id int64) (Request, []Line, error) {
	var out Request
	var dropped []Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dropped = nil
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return ErrInvalidState
		}

		pending, err := tx.PendingProductIDs(ctx, req.SalesPointID, req.ID)
		if err != nil {
			return err
		}
		lines, err := tx.GetLines(ctx, req.ID)
		if err != nil {
			return err
		}
		kept := 0
		for _, l := range lines {
			if _, dup := pending[l.ProductID]; dup {
				if err := tx.DeleteLine(ctx, l.ID); err != nil {
					return err
				}
				dropped = append(dropped, l)
				continue
			}
			kept++
		}
		if kept == 0 {
			return ErrAllPending
		}

		if req.Reference == "" {
			prefix := refs.DailyPrefix("WH-RQ", s.now())
			existing, err := tx.LockReferences(ctx, prefix)
			if err != nil {
				return err
			}
			req.Reference = refs.NextSequence(prefix, existing)
		}
		now := s.now()
		req.Status = StatusSent
		req.SentAt = &now
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Request{}, nil, err
	}
	if wh, whErr := s.salesPoints.Warehouse(ctx); whErr == nil {
		s.notify(ctx, wh.ID, "restock_incoming",
			fmt.Sprintf("Resupply request %s awaiting warehouse decision", out.Reference), "/restock/"+out.Reference)
	}
	return out, dropped, nil
}

// Decide approves or rejects a sent request on the warehouse side. Approval
// books every granted quantity out of the warehouse immediately: the goods are
// in transit until the destination validates reception. Grants are clamped to
// what the warehouse actually has available.
func (s *Service) Decide(ctx context.Context, id int64, approve bool, grants []Grant, actorID int64) (Request, error) {
	wh, err := s.salesPoints.Warehouse(ctx)
	if err != nil {
		return Request{}, ErrNoWarehouse
	}

	// A replayed approval must not book the goods out twice, even if the
	// status check races. The key is deterministic per request.
	var guardKey string
	if approve {
		guardKey = uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("RESTOCK-DECIDE:%d", id))).String()
		if err := s.idempotency.CheckAndInsert(ctx, guardKey, idempotencyModule); err != nil {
			return Request{}, err
		}
	}

	var out Request
	var entries []stock.Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries = nil
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusSent {
			return ErrInvalidState
		}
		now := s.now()
		req.DecidedBy = &actorID
		req.DecidedAt = &now

		if !approve {
			req.Status = StatusRejected
			out = req
			return tx.UpdateRequest(ctx, req)
		}

		byProduct := make(map[int64]int64, len(grants))
		for _, g := range grants {
			byProduct[g.ProductID] = g.Qty
		}
		lines, err := tx.GetLines(ctx, req.ID)
		if err != nil {
			return err
		}
		st := tx.Stock()
		for _, l := range lines {
			qty := byProduct[l.ProductID]
			if qty <= 0 {
				continue
			}
			row, err := st.LockRow(ctx, wh.ID, l.ProductID)
			if err != nil {
				return err
			}
			if avail := row.Available(); avail > 0 && qty > avail {
				qty = avail
			}
			if _, err := stock.TransferOutInTx(ctx, st, wh.ID, l.ProductID, qty); err != nil {
				return err
			}
			l.QtyApproved = qty
			if err := tx.UpdateLine(ctx, l); err != nil {
				return err
			}
			entries = append(entries, stock.Entry{
				SalesPointID: wh.ID,
				ProductID:    l.ProductID,
				Qty:          -qty,
				Reason:       stock.ReasonRestockSent,
				Reference:    req.Reference,
				ActorID:      actorID,
				DocumentType: "restock_request",
				DocumentID:   req.ID,
			})
		}

		req.Status = StatusApproved
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		if guardKey != "" {
			if delErr := s.idempotency.Delete(ctx, guardKey); delErr != nil {
				s.logger.Error("idempotency key rollback failed", "key", guardKey, "error", delErr)
			}
		}
		return Request{}, err
	}
	for _, e := range entries {
		s.journal.RecordBestEffort(ctx, e)
	}
	if out.Status == StatusApproved {
		s.notify(ctx, out.SalesPointID, "restock_incoming",
			fmt.Sprintf("Shipment %s on its way from the warehouse", out.Reference), "/restock/"+out.Reference)
	} else {
		s.notify(ctx, out.SalesPointID, "restock_rejected",
			fmt.Sprintf("Resupply request %s rejected by the warehouse", out.Reference), "/restock/"+out.Reference)
	}
	return out, nil
}

// Ship is the warehouse pushing goods without a prior salespoint request. The
// created request arrives pre-approved with the goods already booked out of
// the warehouse. Replays carrying the same idempotency key are refused.
func (s *Service) Ship(ctx context.Context, in ShipInput) (Request, []Line, error) {
	if in.ToSalesPointID <= 0 {
		return Request{}, nil, fmt.Errorf("restock: invalid destination %d", in.ToSalesPointID)
	}
	merged := mergeLines(in.Lines)
	if len(merged) == 0 {
		return Request{}, nil, ErrNoLines
	}
	kind := "P"
	if in.Kind == "M" {
		kind = "M"
	}
	wh, err := s.salesPoints.Warehouse(ctx)
	if err != nil {
		return Request{}, nil, ErrNoWarehouse
	}

	if in.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			return Request{}, nil, err
		}
	}

	var req Request
	var entries []stock.Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries = nil
		prefix := refs.KindPrefix("WH", s.now(), kind)
		existing, err := tx.LockReferences(ctx, prefix)
		if err != nil {
			return err
		}
		now := s.now()
		req = Request{
			SalesPointID: in.ToSalesPointID,
			RequestedBy:  in.ActorID,
			Reference:    refs.NextSequence(prefix, existing),
			Status:       StatusApproved,
			SentAt:       &now,
			DecidedBy:    &in.ActorID,
			DecidedAt:    &now,
		}
		id, err := tx.InsertRequest(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id

		st := tx.Stock()
		reqLines := make([]Line, 0, len(merged))
		for _, l := range merged {
			qty := l.Qty
			row, err := st.LockRow(ctx, wh.ID, l.ProductID)
			if err != nil {
				return err
			}
			if avail := row.Available(); avail > 0 && qty > avail {
				qty = avail
			}
			if _, err := stock.TransferOutInTx(ctx, st, wh.ID, l.ProductID, qty); err != nil {
				return err
			}
			reqLines = append(reqLines, Line{
				RequestID:    req.ID,
				ProductID:    l.ProductID,
				QtyRequested: qty,
				QtyApproved:  qty,
			})
			entries = append(entries, stock.Entry{
				SalesPointID: wh.ID,
				ProductID:    l.ProductID,
				Qty:          -qty,
				Reason:       stock.ReasonRestockSent,
				Reference:    req.Reference,
				ActorID:      in.ActorID,
				DocumentType: "restock_request",
				DocumentID:   req.ID,
			})
		}
		return tx.ReplaceLines(ctx, req.ID, reqLines)
	})
	if err != nil {
		if in.IdempotencyKey != "" {
			if delErr := s.idempotency.Delete(ctx, in.IdempotencyKey); delErr != nil {
				s.logger.Error("idempotency key rollback failed", "key", in.IdempotencyKey, "error", delErr)
			}
		}
		return Request{}, nil, err
	}
	for _, e := range entries {
		s.journal.RecordBestEffort(ctx, e)
	}
	s.notify(ctx, in.ToSalesPointID, "restock_incoming",
		fmt.Sprintf("Shipment %s on its way from the warehouse", req.Reference), "/restock/"+req.Reference)
	s.notify(ctx, wh.ID, "restock_sent",
		fmt.Sprintf("Shipment %s dispatched", req.Reference), "/restock/"+req.Reference)
	return s.repo.Get(ctx, req.ID)
}

// ValidateLines books reception of the named lines at the destination. For
// each line the destination's transfer_in grows by the approved quantity while
// the warehouse's in-transit amount settles into sold, and an audit row pins
// the stock picture and cost around the booking. The request turns validated
// once every line is, partially_validated before that.
func (s *Service) ValidateLines(ctx context.Context, requestID int64, inputs []ValidationInput, actorID int64) (Request, error) {
	if len(inputs) == 0 {
		return Request{}, ErrNoLines
	}
	wh, err := s.salesPoints.Warehouse(ctx)
	if err != nil {
		return Request{}, ErrNoWarehouse
	}

	var out Request
	var entries []stock.Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries = nil
		req, err := tx.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusApproved && req.Status != StatusPartiallyValidated {
			return ErrInvalidState
		}
		lines, err := tx.GetLines(ctx, req.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]Line, len(lines))
		for _, l := range lines {
			byID[l.ID] = l
		}

		st := tx.Stock()
		now := s.now()
		for _, in := range inputs {
			l, ok := byID[in.LineID]
			if !ok || l.ValidatedAt != nil {
				continue
			}
			qty := l.QtyApproved
			if qty <= 0 {
				qty = l.QtyRequested
			}
			if qty <= 0 {
				continue
			}

			row, err := st.LockRow(ctx, req.SalesPointID, l.ProductID)
			if err != nil {
				return err
			}
			before := row.Remaining()
			if _, err := stock.TransferInInTx(ctx, st, req.SalesPointID, l.ProductID, qty); err != nil {
				return err
			}
			if _, err := stock.SettleTransitInTx(ctx, st, wh.ID, l.ProductID, qty); err != nil {
				return err
			}

			l.ValidatedAt = &now
			l.StockAtValidation = before
			if err := tx.UpdateLine(ctx, l); err != nil {
				return err
			}
			byID[l.ID] = l

			if err := tx.InsertAudit(ctx, ValidationAudit{
				RequestID:    req.ID,
				ProductID:    l.ProductID,
				ValidatedBy:  actorID,
				QtyValidated: qty,
				StockBefore:  before,
				StockAfter:   before + qty,
				CostPrice:    in.CostPrice,
				TotalValue:   in.CostPrice.Mul(decimal.NewFromInt(qty)),
			}); err != nil {
				return err
			}
			entries = append(entries, stock.Entry{
				SalesPointID: req.SalesPointID,
				ProductID:    l.ProductID,
				Qty:          qty,
				Reason:       stock.ReasonRestock,
				Reference:    req.Reference,
				ActorID:      actorID,
				DocumentType: "restock_request",
				DocumentID:   req.ID,
			})
		}

		validated := 0
		for _, l := range byID {
			if l.ValidatedAt != nil {
				validated++
			}
		}
		switch {
		case validated == len(byID):
			req.Status = StatusValidated
			req.ValidatedAt = &now
		case validated > 0:
			req.Status = StatusPartiallyValidated
		}
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Request{}, err
	}
	for _, e := range entries {
		s.journal.RecordBestEffort(ctx, e)
	}
	if len(entries) > 0 {
		s.notify(ctx, wh.ID, "restock_validated",
			fmt.Sprintf("Reception of %s validated", out.Reference), "/restock/"+out.Reference)
	}
	return out, nil
}

// Cancel discards a draft.
func (s *Service) Cancel(ctx context.Context, id int64) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return ErrInvalidState
		}
		req.Status = StatusCancelled
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// Get returns a request with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Request, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List lists requests matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	return s.repo.List(ctx, filter)
}

// Audits returns the validation trail of a request.
func (s *Service) Audits(ctx context.Context, requestID int64) ([]ValidationAudit, error) {
	return s.repo.ListAudits(ctx, requestID)
}

func (s *Service) notify(ctx context.Context, salesPointID int64, kind, message, link string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyBestEffort(ctx, salesPointID, kind, message, link)
}

// mergeLines deduplicates by product, summing quantities and dropping invalid
// ones, preserving first-seen order.
func mergeLines(lines []LineInput) []LineInput {
	merged := make([]LineInput, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, l := range lines {
		if l.ProductID <= 0 || l.Qty <= 0 {
			continue
		}
		if i, ok := index[l.ProductID]; ok {
			merged[i].Qty += l.Qty
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	return merged
}
