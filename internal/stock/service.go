package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// JournalPort abstracts the stock ledger for service use.
type JournalPort interface {
	RecordBestEffort(ctx context.Context, e Entry)
}

// Service coordinates stock counter operations. Single-row primitives each run
// in their own transaction; document workflows that need several rows changed
// atomically go through the InTx functions on their own transaction instead.
type Service struct {
	repo    RepositoryPort
	journal JournalPort
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, journal JournalPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, journal: journal, logger: logger}
}

// MoveInput identifies a row and a quantity for the reservation primitives.
type MoveInput struct {
	SalesPointID int64
	ProductID    int64
	Qty          int64
}

// CommitInput extends MoveInput with the audit fields a finalized sale carries.
type CommitInput struct {
	SalesPointID int64
	ProductID    int64
	Qty          int64
	Reference    string
	ActorID      int64
	DocumentType string
	DocumentID   int64
}

// AdjustInput describes a manual counter correction.
type AdjustInput struct {
	SalesPointID int64
	ProductID    int64
	Delta        int64
	Reason       Reason
	Reference    string
	ActorID      int64
	Notes        string
}

// Reserve places a hold against available stock. Reservations are holds, not
// movements, so no journal entry is written.
func (s *Service) Reserve(ctx context.Context, input MoveInput) (Row, error) {
	if input.SalesPointID == 0 || input.ProductID == 0 {
		return Row{}, errors.New("stock: salespoint and product required")
	}
	var row Row
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		row, err = ReserveInTx(ctx, tx, input.SalesPointID, input.ProductID, input.Qty)
		return err
	})
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Release gives a hold back.
func (s *Service) Release(ctx context.Context, input MoveInput) (Row, error) {
	if input.SalesPointID == 0 || input.ProductID == 0 {
		return Row{}, errors.New("stock: salespoint and product required")
	}
	var row Row
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		row, err = ReleaseInTx(ctx, tx, input.SalesPointID, input.ProductID, input.Qty)
		return err
	})
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Commit converts a hold into a sale and journals the outbound movement once
// the counters have committed.
func (s *Service) Commit(ctx context.Context, input CommitInput) (Row, error) {
	if input.SalesPointID == 0 || input.ProductID == 0 {
		return Row{}, errors.New("stock: salespoint and product required")
	}
	var row Row
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		row, err = CommitInTx(ctx, tx, input.SalesPointID, input.ProductID, input.Qty)
		return err
	})
	if err != nil {
		return Row{}, err
	}
	s.journal.RecordBestEffort(ctx, Entry{
		SalesPointID: input.SalesPointID,
		ProductID:    input.ProductID,
		Qty:          -input.Qty,
		Reason:       ReasonSale,
		Reference:    input.Reference,
		ActorID:      input.ActorID,
		DocumentType: input.DocumentType,
		DocumentID:   input.DocumentID,
	})
	return row, nil
}

// Adjust applies a signed correction to the opening count and journals it.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Row, error) {
	if input.SalesPointID == 0 || input.ProductID == 0 {
		return Row{}, errors.New("stock: salespoint and product required")
	}
	if input.Delta == 0 {
		return Row{}, ErrInvalidQuantity
	}
	switch input.Reason {
	case ReasonAdjustment, ReasonGoodsReceipt, ReasonWriteOff, ReasonCycleCount:
	default:
		return Row{}, fmt.Errorf("stock: %q is not an adjustment reason", input.Reason)
	}
	var row Row
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.LockRow(ctx, input.SalesPointID, input.ProductID)
		if err != nil {
			return err
		}
		r.OpeningQty += input.Delta
		if r.OpeningQty < 0 {
			r.OpeningQty = 0
		}
		if err := tx.UpdateCounters(ctx, r); err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		return Row{}, err
	}
	s.journal.RecordBestEffort(ctx, Entry{
		SalesPointID: input.SalesPointID,
		ProductID:    input.ProductID,
		Qty:          input.Delta,
		Reason:       input.Reason,
		Reference:    input.Reference,
		ActorID:      input.ActorID,
		Notes:        input.Notes,
	})
	return row, nil
}

// ReserveForSale reserves every line, each in its own transaction. A failing
// line stops the loop and reports which product fell short; lines already
// reserved stay reserved for the caller to release.
func (s *Service) ReserveForSale(ctx context.Context, salesPointID int64, lines []LineQty) error {
	for _, line := range lines {
		_, err := s.Reserve(ctx, MoveInput{SalesPointID: salesPointID, ProductID: line.ProductID, Qty: line.Qty})
		if err != nil {
			return fmt.Errorf("product %d: %w", line.ProductID, err)
		}
	}
	return nil
}

// ReleaseForSale releases every line. Release clamps, so lines that were never
// reserved are harmless; errors are collected rather than short-circuiting so
// one bad row cannot strand the holds behind it.
func (s *Service) ReleaseForSale(ctx context.Context, salesPointID int64, lines []LineQty) error {
	var firstErr error
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		_, err := s.Release(ctx, MoveInput{SalesPointID: salesPointID, ProductID: line.ProductID, Qty: line.Qty})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("product %d: %w", line.ProductID, err)
		}
	}
	return firstErr
}

// CommitForSale commits every line under one reference, each in its own
// transaction, journaling the outbound movement per line.
func (s *Service) CommitForSale(ctx context.Context, salesPointID int64, lines []LineQty, reference string, actorID int64) error {
	for _, line := range lines {
		_, err := s.Commit(ctx, CommitInput{
			SalesPointID: salesPointID,
			ProductID:    line.ProductID,
			Qty:          line.Qty,
			Reference:    reference,
			ActorID:      actorID,
		})
		if err != nil {
			return fmt.Errorf("product %d: %w", line.ProductID, err)
		}
	}
	return nil
}

// GetRow returns the row for one product at one salespoint. Absent rows read
// as all-zero.
func (s *Service) GetRow(ctx context.Context, salesPointID, productID int64) (Row, error) {
	if salesPointID == 0 || productID == 0 {
		return Row{}, errors.New("stock: salespoint and product required")
	}
	return s.repo.GetRow(ctx, salesPointID, productID)
}

// ListRows pages through a salespoint's rows.
func (s *Service) ListRows(ctx context.Context, salesPointID int64, limit, offset int) ([]Row, int64, error) {
	if salesPointID == 0 {
		return nil, 0, errors.New("stock: salespoint required")
	}
	return s.repo.ListRows(ctx, salesPointID, limit, offset)
}

// LowStock returns rows at or under their alert threshold. A zero salesPointID
// scans all salespoints.
func (s *Service) LowStock(ctx context.Context, salesPointID int64) ([]Row, error) {
	return s.repo.ListBelowAlert(ctx, salesPointID)
}

// SetOpening stocks a row initially or rebases it after a physical count, and
// journals the delta. The before-count is read under the row lock so the delta
// matches exactly what this call changed, even with concurrent corrections.
func (s *Service) SetOpening(ctx context.Context, salesPointID, productID, openingQty, alertQty, actorID int64) (Row, error) {
	if salesPointID == 0 || productID == 0 {
		return Row{}, errors.New("stock: salespoint and product required")
	}
	if openingQty < 0 || alertQty < 0 {
		return Row{}, ErrInvalidQuantity
	}
	var row Row
	var delta int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.LockRow(ctx, salesPointID, productID)
		if err != nil {
			return err
		}
		delta = openingQty - r.OpeningQty
		r.OpeningQty = openingQty
		r.AlertQty = alertQty
		if err := tx.UpdateCounters(ctx, r); err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		return Row{}, err
	}
	if delta != 0 {
		s.journal.RecordBestEffort(ctx, Entry{
			SalesPointID: salesPointID,
			ProductID:    productID,
			Qty:          delta,
			Reason:       ReasonCycleCount,
			ActorID:      actorID,
		})
	}
	return row, nil
}
