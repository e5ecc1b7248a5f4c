package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu     sync.Mutex
	rows   map[string]Row
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[string]Row)}
}

func key(salesPointID, productID int64) string {
	return fmt.Sprintf("%d:%d", salesPointID, productID)
}

// WithTx holds the repo lock for the whole callback and restores the previous
// state on error, mirroring the serialization and rollback the database gives.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]Row, len(r.rows))
	for k, v := range r.rows {
		snapshot[k] = v
	}

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.rows = snapshot
		return err
	}
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) LockRow(ctx context.Context, salesPointID, productID int64) (Row, error) {
	k := key(salesPointID, productID)
	if row, ok := tx.repo.rows[k]; ok {
		return row, nil
	}
	tx.repo.nextID++
	row := Row{ID: tx.repo.nextID, SalesPointID: salesPointID, ProductID: productID}
	tx.repo.rows[k] = row
	return row, nil
}

func (tx *memoryTx) UpdateCounters(ctx context.Context, row Row) error {
	tx.repo.rows[key(row.SalesPointID, row.ProductID)] = row
	return nil
}

func (r *memoryRepo) GetRow(ctx context.Context, salesPointID, productID int64) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[key(salesPointID, productID)]; ok {
		return row, nil
	}
	return Row{SalesPointID: salesPointID, ProductID: productID}, nil
}

func (r *memoryRepo) ListRows(ctx context.Context, salesPointID int64, limit, offset int) ([]Row, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, 0)
	for _, row := range r.rows {
		if row.SalesPointID == salesPointID {
			out = append(out, row)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memoryRepo) ListBelowAlert(ctx context.Context, salesPointID int64) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, 0)
	for _, row := range r.rows {
		if salesPointID > 0 && row.SalesPointID != salesPointID {
			continue
		}
		if row.AlertQty > 0 && row.BelowAlert() {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memoryRepo) SetOpening(ctx context.Context, salesPointID, productID, openingQty, alertQty int64) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(salesPointID, productID)
	row, ok := r.rows[k]
	if !ok {
		r.nextID++
		row = Row{ID: r.nextID, SalesPointID: salesPointID, ProductID: productID}
	}
	row.OpeningQty = openingQty
	row.AlertQty = alertQty
	r.rows[k] = row
	return row, nil
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *memoryJournal) RecordBestEffort(ctx context.Context, e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.ID = int64(len(j.entries) + 1)
	j.entries = append(j.entries, e)
}

func newTestService() (*Service, *memoryRepo, *memoryJournal) {
	repo := newMemoryRepo()
	journal := &memoryJournal{}
	return NewService(repo, journal, slog.Default()), repo, journal
}

func TestDerivedQuantitiesNeverNegative(t *testing.T) {
	row := Row{OpeningQty: 5, SoldQty: 9}
	require.EqualValues(t, 0, row.Remaining())
	require.EqualValues(t, 0, row.Available())

	row = Row{OpeningQty: 10, TransferIn: 2, TransferOut: 3, SoldQty: 4, ReservedQty: 20}
	require.EqualValues(t, 5, row.Remaining())
	require.EqualValues(t, 0, row.Available())
}

func TestReserveCommitRoundTrip(t *testing.T) {
	svc, repo, journal := newTestService()
	ctx := context.Background()

	_, err := repo.SetOpening(ctx, 1, 7, 10, 0)
	require.NoError(t, err)

	row, err := svc.Reserve(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 4})
	require.NoError(t, err)
	require.EqualValues(t, 4, row.ReservedQty)
	require.EqualValues(t, 10, row.Remaining())
	require.EqualValues(t, 6, row.Available())

	row, err = svc.Commit(ctx, CommitInput{SalesPointID: 1, ProductID: 7, Qty: 4, Reference: "EC-010125-P-0001", ActorID: 42})
	require.NoError(t, err)
	require.EqualValues(t, 0, row.ReservedQty)
	require.EqualValues(t, 4, row.SoldQty)
	require.EqualValues(t, 6, row.Remaining())
	require.EqualValues(t, 6, row.Available())

	require.Len(t, journal.entries, 1)
	e := journal.entries[0]
	require.Equal(t, ReasonSale, e.Reason)
	require.EqualValues(t, -4, e.Qty)
	require.Equal(t, "EC-010125-P-0001", e.Reference)
	require.EqualValues(t, 42, e.ActorID)
}

func TestReserveInsufficientLeavesRowUntouched(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SetOpening(ctx, 1, 7, 5, 0, 1)
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 3})
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 3})
	require.ErrorIs(t, err, ErrInsufficientStock)

	row, err := repo.GetRow(ctx, 1, 7)
	require.NoError(t, err)
	require.EqualValues(t, 3, row.ReservedQty)
}

func TestReleaseClampsAtZero(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SetOpening(ctx, 1, 7, 10, 0, 1)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 2})
	require.NoError(t, err)

	row, err := svc.Release(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 5})
	require.NoError(t, err)
	require.EqualValues(t, 0, row.ReservedQty)

	// Releasing against an empty reservation stays a no-op.
	row, err = svc.Release(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 1})
	require.NoError(t, err)
	require.EqualValues(t, 0, row.ReservedQty)
	require.EqualValues(t, 10, row.Available())
}

func TestCommitRequiresReservation(t *testing.T) {
	svc, repo, journal := newTestService()
	ctx := context.Background()

	_, err := repo.SetOpening(ctx, 1, 7, 10, 0)
	require.NoError(t, err)

	_, err = svc.Commit(ctx, CommitInput{SalesPointID: 1, ProductID: 7, Qty: 1, Reference: "X"})
	require.ErrorIs(t, err, ErrInsufficientReservation)

	row, err := repo.GetRow(ctx, 1, 7)
	require.NoError(t, err)
	require.EqualValues(t, 0, row.SoldQty)
	require.Empty(t, journal.entries)
}

func TestInvalidQuantities(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Reserve(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Reserve(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: -2})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Commit(ctx, CommitInput{SalesPointID: 1, ProductID: 7, Qty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SetOpening(ctx, 1, 7, 10, 0, 1)
	require.NoError(t, err)

	const workers = 25
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, MoveInput{SalesPointID: 1, ProductID: 7, Qty: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, ErrInsufficientStock)
			insufficient++
		}
	}
	require.Equal(t, 10, ok)
	require.Equal(t, workers-10, insufficient)

	row, err := repo.GetRow(ctx, 1, 7)
	require.NoError(t, err)
	require.EqualValues(t, 10, row.ReservedQty)
	require.EqualValues(t, 0, row.Available())
}

func TestBatchReserveStopsAtFailingLine(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SetOpening(ctx, 1, 10, 5, 0, 1)
	require.NoError(t, err)
	_, err = svc.SetOpening(ctx, 1, 11, 1, 0, 1)
	require.NoError(t, err)

	lines := []LineQty{{ProductID: 10, Qty: 2}, {ProductID: 11, Qty: 3}, {ProductID: 12, Qty: 1}}
	err = svc.ReserveForSale(ctx, 1, lines)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "product 11")

	// Lines before the failure keep their holds until the caller cleans up.
	row, _ := repo.GetRow(ctx, 1, 10)
	require.EqualValues(t, 2, row.ReservedQty)
	row, _ = repo.GetRow(ctx, 1, 12)
	require.EqualValues(t, 0, row.ReservedQty)

	require.NoError(t, svc.ReleaseForSale(ctx, 1, lines))
	row, _ = repo.GetRow(ctx, 1, 10)
	require.EqualValues(t, 0, row.ReservedQty)
	row, _ = repo.GetRow(ctx, 1, 11)
	require.EqualValues(t, 0, row.ReservedQty)
}

func TestCommitForSaleJournalsEveryLine(t *testing.T) {
	svc, repo, journal := newTestService()
	ctx := context.Background()

	for _, p := range []int64{20, 21} {
		_, err := repo.SetOpening(ctx, 1, p, 10, 0)
		require.NoError(t, err)
	}
	lines := []LineQty{{ProductID: 20, Qty: 2}, {ProductID: 21, Qty: 5}}
	require.NoError(t, svc.ReserveForSale(ctx, 1, lines))
	require.NoError(t, svc.CommitForSale(ctx, 1, lines, "EC-010125-P-0002", 9))

	require.Len(t, journal.entries, 2)
	for i, e := range journal.entries {
		require.Equal(t, ReasonSale, e.Reason)
		require.Equal(t, "EC-010125-P-0002", e.Reference)
		require.EqualValues(t, -lines[i].Qty, e.Qty)
	}
}

func TestTransferCountersMove(t *testing.T) {
	_, repo, _ := newTestService()
	ctx := context.Background()

	_, err := repo.SetOpening(ctx, 1, 7, 10, 0)
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := TransferOutInTx(ctx, tx, 1, 7, 4); err != nil {
			return err
		}
		_, err := TransferInInTx(ctx, tx, 2, 7, 4)
		return err
	})
	require.NoError(t, err)

	src, _ := repo.GetRow(ctx, 1, 7)
	require.EqualValues(t, 6, src.Remaining())
	dst, _ := repo.GetRow(ctx, 2, 7)
	require.EqualValues(t, 4, dst.Remaining())
}

func TestSettleTransitRebooksAsSold(t *testing.T) {
	_, repo, _ := newTestService()
	ctx := context.Background()

	_, err := repo.SetOpening(ctx, 1, 7, 10, 0)
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := TransferOutInTx(ctx, tx, 1, 7, 4)
		return err
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := SettleTransitInTx(ctx, tx, 1, 7, 4)
		return err
	})
	require.NoError(t, err)

	row, _ := repo.GetRow(ctx, 1, 7)
	require.EqualValues(t, 0, row.TransferOut)
	require.EqualValues(t, 4, row.SoldQty)
	require.EqualValues(t, 6, row.Remaining())
}

func TestAdjustClampsOpeningAndJournals(t *testing.T) {
	svc, repo, journal := newTestService()
	ctx := context.Background()

	_, err := repo.SetOpening(ctx, 1, 7, 10, 0)
	require.NoError(t, err)

	row, err := svc.Adjust(ctx, AdjustInput{SalesPointID: 1, ProductID: 7, Delta: -3, Reason: ReasonWriteOff, ActorID: 5})
	require.NoError(t, err)
	require.EqualValues(t, 7, row.OpeningQty)

	row, err = svc.Adjust(ctx, AdjustInput{SalesPointID: 1, ProductID: 7, Delta: -20, Reason: ReasonWriteOff, ActorID: 5})
	require.NoError(t, err)
	require.EqualValues(t, 0, row.OpeningQty)

	_, err = svc.Adjust(ctx, AdjustInput{SalesPointID: 1, ProductID: 7, Delta: 1, Reason: ReasonSale})
	require.Error(t, err)

	require.Len(t, journal.entries, 2)
	require.Equal(t, ReasonWriteOff, journal.entries[0].Reason)
	require.EqualValues(t, -3, journal.entries[0].Qty)
}

func TestLowStockScan(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SetOpening(ctx, 1, 7, 3, 5, 1)
	require.NoError(t, err)
	_, err = svc.SetOpening(ctx, 1, 8, 50, 5, 1)
	require.NoError(t, err)
	_, err = svc.SetOpening(ctx, 2, 7, 2, 0, 1)
	require.NoError(t, err)

	rows, err := svc.LowStock(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 7, rows[0].ProductID)
}

// trackingRepo counts plain reads so tests can assert corrections never rely
// on an unlocked snapshot.
type trackingRepo struct {
	*memoryRepo
	plainReads int
}

func (r *trackingRepo) GetRow(ctx context.Context, salesPointID, productID int64) (Row, error) {
	r.plainReads++
	return r.memoryRepo.GetRow(ctx, salesPointID, productID)
}

func TestSetOpeningJournalsDeltaUnderLock(t *testing.T) {
	repo := &trackingRepo{memoryRepo: newMemoryRepo()}
	journal := &memoryJournal{}
	svc := NewService(repo, journal, slog.Default())
	ctx := context.Background()

	_, err := svc.SetOpening(ctx, 1, 7, 10, 0, 1)
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustInput{SalesPointID: 1, ProductID: 7, Delta: 5, Reason: ReasonGoodsReceipt, ActorID: 1})
	require.NoError(t, err)

	// Rebase against the corrected count of 15, not a stale snapshot.
	row, err := svc.SetOpening(ctx, 1, 7, 12, 3, 1)
	require.NoError(t, err)
	require.EqualValues(t, 12, row.OpeningQty)
	require.EqualValues(t, 3, row.AlertQty)

	last := journal.entries[len(journal.entries)-1]
	require.Equal(t, ReasonCycleCount, last.Reason)
	require.EqualValues(t, -3, last.Qty)
	require.Zero(t, repo.plainReads)
}

func TestSetOpeningWithoutDeltaSkipsJournal(t *testing.T) {
	svc, _, journal := newTestService()
	ctx := context.Background()

	_, err := svc.SetOpening(ctx, 1, 7, 10, 2, 1)
	require.NoError(t, err)
	entries := len(journal.entries)

	// Same opening count with a new threshold moves no stock.
	row, err := svc.SetOpening(ctx, 1, 7, 10, 5, 1)
	require.NoError(t, err)
	require.EqualValues(t, 5, row.AlertQty)
	require.Len(t, journal.entries, entries)
}
