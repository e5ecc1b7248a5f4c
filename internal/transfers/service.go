package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlas-erp/atlas-erp/internal/masterdata/salespoints"
	"github.com/atlas-erp/atlas-erp/internal/refs"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// SalesPointPort resolves salespoints for reference prefixes.
type SalesPointPort interface {
	Get(ctx context.Context, id int64) (salespoints.SalesPoint, error)
}

// JournalPort records stock movements after the fact.
type JournalPort interface {
	RecordBestEffort(ctx context.Context, e stock.Entry)
}

// NotifierPort delivers best-effort workflow notifications.
type NotifierPort interface {
	NotifyBestEffort(ctx context.Context, salesPointID int64, kind, message, link string)
}

// Service drives the salespoint-to-salespoint transfer workflow.
type Service struct {
	repo        RepositoryPort
	salesPoints SalesPointPort
	journal     JournalPort
	notifier    NotifierPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, salesPoints SalesPointPort, journal JournalPort, notifier NotifierPort, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		salesPoints: salesPoints,
		journal:     journal,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateDraft saves the destination manager's request against a source
// salespoint. An existing draft for the same route is reused and its lines
// replaced; each line snapshots the source's available quantity so the
// approver decides against the figure the requester saw.
func (s *Service) CreateDraft(ctx context.Context, fromID, toID, requestedBy int64, lines []LineInput) (Request, []Line, error) {
	if fromID <= 0 || toID <= 0 || fromID == toID {
		return Request{}, nil, ErrInvalidRoute
	}
	if len(lines) == 0 {
		return Request{}, nil, ErrNoLines
	}
	for _, l := range lines {
		if l.ProductID <= 0 || l.Qty <= 0 {
			return Request{}, nil, fmt.Errorf("transfers: line for product %d: %w", l.ProductID, stock.ErrInvalidQuantity)
		}
	}

	var req Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindDraftForRoute(ctx, fromID, toID)
		switch {
		case err == nil:
			req = existing
		case errors.Is(err, ErrNotFound):
			req = Request{FromSalesPointID: fromID, ToSalesPointID: toID, RequestedBy: requestedBy, Status: StatusDraft}
			id, err := tx.InsertRequest(ctx, req)
			if err != nil {
				return err
			}
			req.ID = id
		default:
			return err
		}

		st := tx.Stock()
		reqLines := make([]Line, 0, len(lines))
		for _, l := range lines {
			row, err := st.LockRow(ctx, fromID, l.ProductID)
			if err != nil {
				return err
			}
			reqLines = append(reqLines, Line{
				RequestID:         req.ID,
				ProductID:         l.ProductID,
				QtyRequested:      l.Qty,
				AvailableAtSource: row.Available(),
			})
		}
		return tx.ReplaceLines(ctx, req.ID, reqLines)
	})
	if err != nil {
		return Request{}, nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

// Send moves a draft to sent and assigns its daily reference if missing.
func (s *Service) Send(ctx context.Context, id int64) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return ErrInvalidState
		}
		if req.Number == "" {
			sp, err := s.salesPoints.Get(ctx, req.ToSalesPointID)
			if err != nil {
				return err
			}
			prefix := refs.DailyPrefix(sp.Code+"-TR", s.now())
			existing, err := tx.LockNumbers(ctx, req.ToSalesPointID, prefix)
			if err != nil {
				return err
			}
			req.Number = refs.NextSequence(prefix, existing)
		}
		now := s.now()
		req.Status = StatusSent
		req.SentAt = &now
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Request{}, err
	}
	s.notify(ctx, out.FromSalesPointID, "transfer_requested",
		fmt.Sprintf("Transfer request %s awaiting your decision", out.Number), "/transfers/"+out.Number)
	return out, nil
}

// Decide approves or rejects a sent request on the source side. On approval
// every granted line moves counters immediately: the source's transfer_out and
// the destination's transfer_in both increase, clamped to the availability
// snapshot taken at draft time.
func (s *Service) Decide(ctx context.Context, id int64, approve bool, grants []Grant, actorID int64) (Request, error) {
	var out Request
	var entries []stock.Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
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
			if l.AvailableAtSource > 0 && qty > l.AvailableAtSource {
				qty = l.AvailableAtSource
			}
			if _, err := stock.TransferOutInTx(ctx, st, req.FromSalesPointID, l.ProductID, qty); err != nil {
				return err
			}
			if _, err := stock.TransferInInTx(ctx, st, req.ToSalesPointID, l.ProductID, qty); err != nil {
				return err
			}
			l.QtyGranted = qty
			if err := tx.UpdateLine(ctx, l); err != nil {
				return err
			}
			entries = append(entries,
				stock.Entry{
					SalesPointID: req.FromSalesPointID,
					ProductID:    l.ProductID,
					Qty:          -qty,
					Reason:       stock.ReasonTransferOut,
					Reference:    req.Number,
					ActorID:      actorID,
					DocumentType: "transfer_request",
					DocumentID:   req.ID,
				},
				stock.Entry{
					SalesPointID: req.ToSalesPointID,
					ProductID:    l.ProductID,
					Qty:          qty,
					Reason:       stock.ReasonTransferIn,
					Reference:    req.Number,
					ActorID:      actorID,
					DocumentType: "transfer_request",
					DocumentID:   req.ID,
				})
		}

		req.Status = StatusApproved
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Request{}, err
	}
	for _, e := range entries {
		s.journal.RecordBestEffort(ctx, e)
	}
	verdict := "rejected"
	if out.Status == StatusApproved {
		verdict = "approved"
	}
	s.notify(ctx, out.ToSalesPointID, "transfer_decided",
		fmt.Sprintf("Transfer %s %s", out.Number, verdict), "/transfers/"+out.Number)
	return out, nil
}

// Fulfill is the destination's acknowledgement that goods arrived.
func (s *Service) Fulfill(ctx context.Context, id, actorID int64) (Request, error) {
	var out Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusApproved {
			return ErrInvalidState
		}
		now := s.now()
		req.Status = StatusFulfilled
		req.FulfilledAt = &now
		out = req
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// Cancel discards a draft. Sent or decided requests cannot be cancelled.
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

func (s *Service) notify(ctx context.Context, salesPointID int64, kind, message, link string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyBestEffort(ctx, salesPointID, kind, message, link)
}

// Get returns a request with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Request, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List lists requests matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	return s.repo.List(ctx, filter)
}
