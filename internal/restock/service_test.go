package restock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-erp/atlas-erp/internal/masterdata/salespoints"
	"github.com/atlas-erp/atlas-erp/internal/shared"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

const warehouseID = int64(99)

type memoryState struct {
	requests  map[int64]Request
	lines     map[int64]Line
	audits    []ValidationAudit
	stockRows map[string]stock.Row
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		requests:  make(map[int64]Request, len(s.requests)),
		lines:     make(map[int64]Line, len(s.lines)),
		audits:    append([]ValidationAudit(nil), s.audits...),
		stockRows: make(map[string]stock.Row, len(s.stockRows)),
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	for k, v := range s.stockRows {
		out.stockRows[k] = v
	}
	return out
}

type memoryRepo struct {
	mu     sync.Mutex
	state  *memoryState
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		requests:  make(map[int64]Request),
		lines:     make(map[int64]Line),
		stockRows: make(map[string]stock.Row),
	}}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func stockKey(salesPointID, productID int64) string {
	return fmt.Sprintf("%d:%d", salesPointID, productID)
}

func (r *memoryRepo) seedStock(salesPointID, productID, opening, alert int64) {
	r.state.stockRows[stockKey(salesPointID, productID)] = stock.Row{
		ID: r.id(), SalesPointID: salesPointID, ProductID: productID, OpeningQty: opening, AlertQty: alert,
	}
}

func (r *memoryRepo) stockRow(salesPointID, productID int64) stock.Row {
	return r.state.stockRows[stockKey(salesPointID, productID)]
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Request, []Line, error) {
	req, ok := r.state.requests[id]
	if !ok {
		return Request{}, nil, ErrNotFound
	}
	return req, r.linesOf(id), nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	var out []Request
	for _, req := range r.state.requests {
		if filter.SalesPointID > 0 && req.SalesPointID != filter.SalesPointID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListAudits(ctx context.Context, requestID int64) ([]ValidationAudit, error) {
	var out []ValidationAudit
	for _, a := range r.state.audits {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) linesOf(requestID int64) []Line {
	var out []Line
	for _, l := range r.state.lines {
		if l.RequestID == requestID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Stock() stock.TxRepository {
	return &memoryStockTx{repo: t.repo}
}

type memoryStockTx struct {
	repo *memoryRepo
}

func (t *memoryStockTx) LockRow(ctx context.Context, salesPointID, productID int64) (stock.Row, error) {
	k := stockKey(salesPointID, productID)
	if row, ok := t.repo.state.stockRows[k]; ok {
		return row, nil
	}
	row := stock.Row{ID: t.repo.id(), SalesPointID: salesPointID, ProductID: productID}
	t.repo.state.stockRows[k] = row
	return row, nil
}

func (t *memoryStockTx) UpdateCounters(ctx context.Context, row stock.Row) error {
	t.repo.state.stockRows[stockKey(row.SalesPointID, row.ProductID)] = row
	return nil
}

func (t *memoryTx) FindDraftForSalesPoint(ctx context.Context, salesPointID int64) (Request, error) {
	var found Request
	ok := false
	for _, req := range t.repo.state.requests {
		if req.Status == StatusDraft && req.SalesPointID == salesPointID {
			if !ok || req.ID > found.ID {
				found = req
				ok = true
			}
		}
	}
	if !ok {
		return Request{}, ErrNotFound
	}
	return found, nil
}

func (t *memoryTx) InsertRequest(ctx context.Context, req Request) (int64, error) {
	req.ID = t.repo.id()
	req.CreatedAt = time.Now()
	t.repo.state.requests[req.ID] = req
	return req.ID, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	if req, ok := t.repo.state.requests[id]; ok {
		return req, nil
	}
	return Request{}, ErrNotFound
}

func (t *memoryTx) ReplaceLines(ctx context.Context, requestID int64, lines []Line) error {
	for id, l := range t.repo.state.lines {
		if l.RequestID == requestID {
			delete(t.repo.state.lines, id)
		}
	}
	for _, l := range lines {
		l.ID = t.repo.id()
		l.RequestID = requestID
		t.repo.state.lines[l.ID] = l
	}
	return nil
}

func (t *memoryTx) GetLines(ctx context.Context, requestID int64) ([]Line, error) {
	return t.repo.linesOf(requestID), nil
}

func (t *memoryTx) DeleteLine(ctx context.Context, lineID int64) error {
	delete(t.repo.state.lines, lineID)
	return nil
}

func (t *memoryTx) UpdateRequest(ctx context.Context, req Request) error {
	if _, ok := t.repo.state.requests[req.ID]; !ok {
		return ErrNotFound
	}
	t.repo.state.requests[req.ID] = req
	return nil
}

func (t *memoryTx) UpdateLine(ctx context.Context, line Line) error {
	if _, ok := t.repo.state.lines[line.ID]; !ok {
		return ErrNotFound
	}
	t.repo.state.lines[line.ID] = line
	return nil
}

func (t *memoryTx) PendingProductIDs(ctx context.Context, salesPointID, excludeRequestID int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for _, l := range t.repo.state.lines {
		req, ok := t.repo.state.requests[l.RequestID]
		if !ok || req.SalesPointID != salesPointID || req.ID == excludeRequestID {
			continue
		}
		switch req.Status {
		case StatusSent, StatusApproved, StatusPartiallyValidated:
			out[l.ProductID] = struct{}{}
		}
	}
	return out, nil
}

func (t *memoryTx) LockReferences(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for _, req := range t.repo.state.requests {
		if len(req.Reference) >= len(prefix) && req.Reference[:len(prefix)] == prefix {
			out = append(out, req.Reference)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertAudit(ctx context.Context, audit ValidationAudit) error {
	audit.ID = t.repo.id()
	audit.CreatedAt = time.Now()
	t.repo.state.audits = append(t.repo.state.audits, audit)
	return nil
}

type fakeSalesPoints struct{}

func (fakeSalesPoints) Warehouse(ctx context.Context) (salespoints.SalesPoint, error) {
	return salespoints.SalesPoint{ID: warehouseID, Name: "Depot Central", Code: "CE", IsWarehouse: true}, nil
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []stock.Entry
}

func (j *memoryJournal) RecordBestEffort(ctx context.Context, e stock.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

type fakeIdempotency struct {
	keys map[string]struct{}
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]struct{})}
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := f.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = struct{}{}
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

var testDay = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestService(repo *memoryRepo, journal *memoryJournal, idem *fakeIdempotency) *Service {
	if idem == nil {
		idem = newFakeIdempotency()
	}
	svc := NewService(repo, fakeSalesPoints{}, journal, nil, idem, slog.Default())
	svc.now = func() time.Time { return testDay }
	return svc
}

func TestSaveDraftMergesAndSnapshots(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedStock(1, 10, 4, 5)
	svc := newTestService(repo, &memoryJournal{}, nil)

	req, lines, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{
		{ProductID: 10, Qty: 3},
		{ProductID: 10, Qty: 2},
		{ProductID: 11, Qty: 1},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, req.Status)
	require.Len(t, lines, 2)
	require.Equal(t, int64(5), lines[0].QtyRequested)
	require.Equal(t, int64(4), lines[0].RemainingAtRequest)
	require.Equal(t, int64(5), lines[0].AlertAtRequest)
	require.Equal(t, int64(1), lines[1].QtyRequested)

	// Saving again reuses the same draft and replaces its lines.
	again, lines, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 12, Qty: 9}})
	require.NoError(t, err)
	require.Equal(t, req.ID, again.ID)
	require.Len(t, lines, 1)
	require.Equal(t, int64(12), lines[0].ProductID)
}

func TestSaveDraftRequiresLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &memoryJournal{}, nil)

	_, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 10, Qty: 0}})
	require.ErrorIs(t, err, ErrNoLines)
}

func TestSendAssignsReferenceAndDropsPending(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &memoryJournal{}, nil)

	// An earlier sent request already covers product 11.
	earlier, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 11, Qty: 2}})
	require.NoError(t, err)
	_, _, err = svc.Send(context.Background(), earlier.ID)
	require.NoError(t, err)

	draft, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 10, Qty: 3}, {ProductID: 11, Qty: 2}})
	require.NoError(t, err)

	sent, dropped, err := svc.Send(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, sent.Status)
	require.Equal(t, "WH-RQ-150125-0002", sent.Reference)
	require.NotNil(t, sent.SentAt)
	require.Len(t, dropped, 1)
	require.Equal(t, int64(11), dropped[0].ProductID)

	_, lines, err := svc.Get(context.Background(), sent.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int64(10), lines[0].ProductID)
}

func TestSendAllPendingFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &memoryJournal{}, nil)

	earlier, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 10, Qty: 2}})
	require.NoError(t, err)
	_, _, err = svc.Send(context.Background(), earlier.ID)
	require.NoError(t, err)

	draft, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 10, Qty: 5}})
	require.NoError(t, err)
	_, _, err = svc.Send(context.Background(), draft.ID)
	require.ErrorIs(t, err, ErrAllPending)

	// The failed send left the draft and its line intact.
	got, lines, err := svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Len(t, lines, 1)
}

func TestDecideApprovesClampsAndBooksTransit(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedStock(warehouseID, 10, 6, 0)
	journal := &memoryJournal{}
	svc := newTestService(repo, journal, nil)

	draft, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 10, Qty: 10}})
	require.NoError(t, err)
	sent, _, err := svc.Send(context.Background(), draft.ID)
	require.NoError(t, err)

	decided, err := svc.Decide(context.Background(), sent.ID, true, []Grant{{ProductID: 10, Qty: 10}}, 42)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
	require.NotNil(t, decided.DecidedBy)
	require.Equal(t, int64(42), *decided.DecidedBy)

	_, lines, err := svc.Get(context.Background(), sent.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), lines[0].QtyApproved)

	wh := repo.stockRow(warehouseID, 10)
	require.Equal(t, int64(6), wh.TransferOut)
	require.Equal(t, int64(0), wh.Remaining())

	require.Len(t, journal.entries, 1)
	require.Equal(t, int64(-6), journal.entries[0].Qty)
	require.Equal(t, stock.ReasonRestockSent, journal.entries[0].Reason)
	require.Equal(t, sent.Reference, journal.entries[0].Reference)
}

func TestDecideRejectLeavesStockAlone(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedStock(warehouseID, 10, 6, 0)
	journal := &memoryJournal{}
	svc := newTestService(repo, journal, nil)

	draft, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 10, Qty: 4}})
	require.NoError(t, err)
	sent, _, err := svc.Send(context.Background(), draft.ID)
	require.NoError(t, err)

	decided, err := svc.Decide(context.Background(), sent.ID, false, nil, 42)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, decided.Status)
	require.Equal(t, int64(0), repo.stockRow(warehouseID, 10).TransferOut)
	require.Empty(t, journal.entries)

	_, err = svc.Decide(context.Background(), sent.ID, true, nil, 42)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestShipCreatesPreApprovedRequest(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedStock(warehouseID, 10, 6, 0)
	journal := &memoryJournal{}
	svc := newTestService(repo, journal, nil)

	req, lines, err := svc.Ship(context.Background(), ShipInput{
		ToSalesPointID: 1,
		Lines:          []LineInput{{ProductID: 10, Qty: 10}},
		ActorID:        42,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, req.Status)
	require.Equal(t, "WH-150125-P-0001", req.Reference)
	require.Len(t, lines, 1)
	require.Equal(t, int64(6), lines[0].QtyApproved)
	require.Equal(t, int64(6), repo.stockRow(warehouseID, 10).TransferOut)
	require.Len(t, journal.entries, 1)
	require.Equal(t, stock.ReasonRestockSent, journal.entries[0].Reason)
}

func TestShipIdempotencyKeyRefusesReplay(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedStock(warehouseID, 10, 20, 0)
	svc := newTestService(repo, &memoryJournal{}, nil)

	in := ShipInput{
		ToSalesPointID: 1,
		Lines:          []LineInput{{ProductID: 10, Qty: 5}},
		ActorID:        42,
		IdempotencyKey: "ship-once",
	}
	_, _, err := svc.Ship(context.Background(), in)
	require.NoError(t, err)

	_, _, err = svc.Ship(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(5), repo.stockRow(warehouseID, 10).TransferOut)
}

func TestValidateLinesBooksReceptionAndAudits(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedStock(warehouseID, 10, 6, 0)
	repo.seedStock(warehouseID, 11, 8, 0)
	repo.seedStock(1, 10, 2, 0)
	journal := &memoryJournal{}
	svc := newTestService(repo, journal, nil)

	req, lines, err := svc.Ship(context.Background(), ShipInput{
		ToSalesPointID: 1,
		Lines:          []LineInput{{ProductID: 10, Qty: 4}, {ProductID: 11, Qty: 3}},
		ActorID:        42,
	})
	require.NoError(t, err)
	journal.entries = nil

	cost := decimal.NewFromInt(800)
	partial, err := svc.ValidateLines(context.Background(), req.ID, []ValidationInput{{LineID: lines[0].ID, CostPrice: cost}}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyValidated, partial.Status)

	dest := repo.stockRow(1, 10)
	require.Equal(t, int64(4), dest.TransferIn)
	require.Equal(t, int64(6), dest.Remaining())

	wh := repo.stockRow(warehouseID, 10)
	require.Equal(t, int64(0), wh.TransferOut)
	require.Equal(t, int64(4), wh.SoldQty)
	require.Equal(t, int64(2), wh.Remaining())

	audits, err := svc.Audits(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Equal(t, int64(4), audits[0].QtyValidated)
	require.Equal(t, int64(2), audits[0].StockBefore)
	require.Equal(t, int64(6), audits[0].StockAfter)
	require.True(t, audits[0].TotalValue.Equal(decimal.NewFromInt(3200)))

	require.Len(t, journal.entries, 1)
	require.Equal(t, stock.ReasonRestock, journal.entries[0].Reason)
	require.Equal(t, int64(4), journal.entries[0].Qty)

	// Validating the same line again is a no-op; the second line completes it.
	full, err := svc.ValidateLines(context.Background(), req.ID, []ValidationInput{
		{LineID: lines[0].ID, CostPrice: cost},
		{LineID: lines[1].ID, CostPrice: decimal.NewFromInt(100)},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, full.Status)
	require.NotNil(t, full.ValidatedAt)
	require.Equal(t, int64(4), repo.stockRow(1, 10).TransferIn)
	require.Equal(t, int64(3), repo.stockRow(1, 11).TransferIn)

	_, err = svc.ValidateLines(context.Background(), req.ID, []ValidationInput{{LineID: lines[0].ID, CostPrice: cost}}, 7)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelOnlyDrafts(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &memoryJournal{}, nil)

	draft, _, err := svc.SaveDraft(context.Background(), 1, 7, []LineInput{{ProductID: 10, Qty: 2}})
	require.NoError(t, err)
	cancelled, err := svc.Cancel(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), draft.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}
