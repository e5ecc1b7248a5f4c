package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-erp/atlas-erp/internal/masterdata/products"
	"github.com/atlas-erp/atlas-erp/internal/masterdata/salespoints"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

type memoryState struct {
	sales     map[int64]Sale
	lines     map[int64]Line
	requests  map[int64]CancellationRequest
	reqLines  map[int64]CancellationLine
	stockRows map[string]stock.Row
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		sales:     make(map[int64]Sale, len(s.sales)),
		lines:     make(map[int64]Line, len(s.lines)),
		requests:  make(map[int64]CancellationRequest, len(s.requests)),
		reqLines:  make(map[int64]CancellationLine, len(s.reqLines)),
		stockRows: make(map[string]stock.Row, len(s.stockRows)),
	}
	for k, v := range s.sales {
		out.sales[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.reqLines {
		out.reqLines[k] = v
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
		sales:     make(map[int64]Sale),
		lines:     make(map[int64]Line),
		requests:  make(map[int64]CancellationRequest),
		reqLines:  make(map[int64]CancellationLine),
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

func (r *memoryRepo) seedStock(salesPointID, productID, opening int64) {
	r.state.stockRows[stockKey(salesPointID, productID)] = stock.Row{
		ID: r.id(), SalesPointID: salesPointID, ProductID: productID, OpeningQty: opening,
	}
}

func (r *memoryRepo) stockRow(salesPointID, productID int64) stock.Row {
	return r.state.stockRows[stockKey(salesPointID, productID)]
}

// WithTx serializes callbacks and restores the prior state on error, the way
// the database transaction would.
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

func (t *memoryTx) LockNumbers(ctx context.Context, salesPointID int64, prefix string) ([]string, error) {
	var out []string
	for _, s := range t.repo.state.sales {
		if s.SalesPointID == salesPointID && len(s.Number) >= len(prefix) && s.Number[:len(prefix)] == prefix {
			out = append(out, s.Number)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	for _, existing := range t.repo.state.sales {
		if existing.SalesPointID == sale.SalesPointID && existing.Number == sale.Number {
			return 0, ErrDuplicateNumber
		}
	}
	sale.ID = t.repo.id()
	sale.CreatedAt = time.Now()
	t.repo.state.sales[sale.ID] = sale
	return sale.ID, nil
}

func (t *memoryTx) InsertLines(ctx context.Context, saleID int64, lines []Line) error {
	for _, l := range lines {
		l.ID = t.repo.id()
		l.SaleID = saleID
		t.repo.state.lines[l.ID] = l
	}
	return nil
}

func (t *memoryTx) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	if s, ok := t.repo.state.sales[id]; ok {
		return s, nil
	}
	return Sale{}, ErrSaleNotFound
}

func (t *memoryTx) GetLines(ctx context.Context, saleID int64) ([]Line, error) {
	return t.repo.linesOf(saleID), nil
}

func (r *memoryRepo) linesOf(saleID int64) []Line {
	var out []Line
	for id := int64(1); id <= r.nextID; id++ {
		if l, ok := r.state.lines[id]; ok && l.SaleID == saleID {
			out = append(out, l)
		}
	}
	return out
}

func (t *memoryTx) UpdateSale(ctx context.Context, sale Sale) error {
	t.repo.state.sales[sale.ID] = sale
	return nil
}

func (t *memoryTx) UpdateLine(ctx context.Context, line Line) error {
	t.repo.state.lines[line.ID] = line
	return nil
}

func (t *memoryTx) DeleteLine(ctx context.Context, id int64) error {
	delete(t.repo.state.lines, id)
	return nil
}

func (t *memoryTx) InsertRequest(ctx context.Context, req CancellationRequest) (int64, error) {
	req.ID = t.repo.id()
	req.CreatedAt = time.Now()
	t.repo.state.requests[req.ID] = req
	return req.ID, nil
}

func (t *memoryTx) InsertRequestLines(ctx context.Context, requestID int64, lines []CancellationLine) error {
	for _, l := range lines {
		l.ID = t.repo.id()
		l.RequestID = requestID
		t.repo.state.reqLines[l.ID] = l
	}
	return nil
}

func (t *memoryTx) GetRequestForUpdate(ctx context.Context, id int64) (CancellationRequest, error) {
	if req, ok := t.repo.state.requests[id]; ok {
		return req, nil
	}
	return CancellationRequest{}, ErrRequestNotFound
}

func (t *memoryTx) GetRequestLines(ctx context.Context, requestID int64) ([]CancellationLine, error) {
	var out []CancellationLine
	for id := int64(1); id <= t.repo.nextID; id++ {
		if l, ok := t.repo.state.reqLines[id]; ok && l.RequestID == requestID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memoryTx) UpdateRequest(ctx context.Context, req CancellationRequest) error {
	t.repo.state.requests[req.ID] = req
	return nil
}

func (r *memoryRepo) GetSale(ctx context.Context, id int64) (Sale, []Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.sales[id]
	if !ok {
		return Sale{}, nil, ErrSaleNotFound
	}
	return s, r.linesOf(id), nil
}

func (r *memoryRepo) GetSaleByNumber(ctx context.Context, salesPointID int64, number string) (Sale, []Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.state.sales {
		if s.SalesPointID == salesPointID && s.Number == number {
			return s, r.linesOf(s.ID), nil
		}
	}
	return Sale{}, nil, ErrSaleNotFound
}

func (r *memoryRepo) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sale
	for _, s := range r.state.sales {
		if filter.SalesPointID > 0 && s.SalesPointID != filter.SalesPointID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

func (r *memoryRepo) GetRequest(ctx context.Context, id int64) (CancellationRequest, []CancellationLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.state.requests[id]
	if !ok {
		return CancellationRequest{}, nil, ErrRequestNotFound
	}
	var lines []CancellationLine
	for _, l := range r.state.reqLines {
		if l.RequestID == id {
			lines = append(lines, l)
		}
	}
	return req, lines, nil
}

func (r *memoryRepo) ListRequests(ctx context.Context, status RequestStatus) ([]CancellationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CancellationRequest
	for _, req := range r.state.requests {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

type fakeSalesPoints struct {
	points map[int64]salespoints.SalesPoint
}

func (f *fakeSalesPoints) Get(ctx context.Context, id int64) (salespoints.SalesPoint, error) {
	if sp, ok := f.points[id]; ok {
		return sp, nil
	}
	return salespoints.SalesPoint{}, fmt.Errorf("salespoint %d not found", id)
}

type fakeCatalog struct {
	items map[int64]products.Product
}

func (f *fakeCatalog) GetMany(ctx context.Context, ids []int64) (map[int64]products.Product, error) {
	out := make(map[int64]products.Product)
	for _, id := range ids {
		if p, ok := f.items[id]; ok {
			out[id] = p
		}
	}
	return out, nil
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

var testDay = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memoryRepo, *memoryJournal) {
	repo := newMemoryRepo()
	journal := &memoryJournal{}
	svc := NewService(repo,
		&fakeSalesPoints{points: map[int64]salespoints.SalesPoint{
			1: {ID: 1, Name: "PDV Essomba", Code: "ES"},
		}},
		&fakeCatalog{items: map[int64]products.Product{
			10: {ID: 10, Name: "Brake pad", CostPrice: decimal.NewFromInt(800)},
			11: {ID: 11, Name: "Chain kit", CostPrice: decimal.NewFromInt(2000)},
			12: {ID: 12, Name: "Motorcycle X", Kind: products.KindVehicle, CostPrice: decimal.NewFromInt(400000)},
		}},
		journal, slog.Default())
	svc.now = func() time.Time { return testDay }
	return svc, repo, journal
}

func draftLines() []LineInput {
	return []LineInput{
		{ProductID: 10, Qty: 3, UnitPrice: decimal.NewFromInt(1500)},
		{ProductID: 11, Qty: 1, UnitPrice: decimal.NewFromInt(3500)},
	}
}

func TestCreateDraftReservesAndNumbers(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	repo.seedStock(1, 10, 10)
	repo.seedStock(1, 11, 5)

	sale, lines, err := svc.CreateDraft(ctx, CreateDraftInput{
		SalesPointID: 1, SellerID: 7, Lines: draftLines(),
	})
	require.NoError(t, err)
	require.Equal(t, "ES-150125-P-0001", sale.Number)
	require.Equal(t, StatusAwaitingCashier, sale.Status)
	require.Equal(t, "DIVERS", sale.CustomerName)
	require.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(3*1500+3500)))
	require.True(t, sale.TotalCost.Equal(decimal.NewFromInt(3*800+2000)))
	require.True(t, sale.GrossProfit.Equal(sale.TotalAmount.Sub(sale.TotalCost)))
	require.Len(t, lines, 2)
	require.True(t, lines[0].UnitCost.Equal(decimal.NewFromInt(800)))

	require.EqualValues(t, 3, repo.stockRow(1, 10).ReservedQty)
	require.EqualValues(t, 1, repo.stockRow(1, 11).ReservedQty)

	second, _, err := svc.CreateDraft(ctx, CreateDraftInput{
		SalesPointID: 1, SellerID: 7,
		Lines: []LineInput{{ProductID: 10, Qty: 1, UnitPrice: decimal.NewFromInt(1500)}},
	})
	require.NoError(t, err)
	require.Equal(t, "ES-150125-P-0002", second.Number)
}

func TestCreateDraftMergesDuplicateLines(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	repo.seedStock(1, 10, 10)

	sale, lines, err := svc.CreateDraft(ctx, CreateDraftInput{
		SalesPointID: 1, SellerID: 7,
		Lines: []LineInput{
			{ProductID: 10, Qty: 2, UnitPrice: decimal.NewFromInt(1500)},
			{ProductID: 10, Qty: 3, UnitPrice: decimal.NewFromInt(1500)},
		},
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.EqualValues(t, 5, lines[0].Quantity)
	require.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(5*1500)))
}

func TestCreateDraftRejectsInconsistentPrices(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.seedStock(1, 10, 10)

	_, _, err := svc.CreateDraft(context.Background(), CreateDraftInput{
		SalesPointID: 1, SellerID: 7,
		Lines: []LineInput{
			{ProductID: 10, Qty: 1, UnitPrice: decimal.NewFromInt(1500)},
			{ProductID: 10, Qty: 1, UnitPrice: decimal.NewFromInt(1400)},
		},
	})
	require.Error(t, err)
}

func TestCreateDraftInsufficientStockRollsBackEverything(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	repo.seedStock(1, 10, 10)
	repo.seedStock(1, 11, 0)

	_, _, err := svc.CreateDraft(ctx, CreateDraftInput{
		SalesPointID: 1, SellerID: 7, Lines: draftLines(),
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	// The whole draft rolls back: no sale row, no surviving reservation on the
	// line that succeeded first.
	require.Empty(t, repo.state.sales)
	require.EqualValues(t, 0, repo.stockRow(1, 10).ReservedQty)
}

func TestVehicleSaleRules(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	repo.seedStock(1, 12, 2)
	repo.seedStock(1, 10, 10)

	_, _, err := svc.CreateDraft(ctx, CreateDraftInput{
		SalesPointID: 1, SellerID: 7, Kind: KindVehicle,
		Lines: []LineInput{
			{ProductID: 12, Qty: 1, UnitPrice: decimal.NewFromInt(500000)},
			{ProductID: 10, Qty: 1, UnitPrice: decimal.NewFromInt(1500)},
		},
	})
	require.Error(t, err)

	_, _, err = svc.CreateDraft(ctx, CreateDraftInput{
		SalesPointID: 1, SellerID: 7, Kind: KindVehicle,
		Lines: []LineInput{{ProductID: 12, Qty: 2, UnitPrice: decimal.NewFromInt(500000)}},
	})
	require.Error(t, err)

	sale, _, err := svc.CreateDraft(ctx, CreateDraftInput{
		SalesPointID: 1, SellerID: 7, Kind: KindVehicle,
		Lines: []LineInput{{ProductID: 12, Qty: 1, UnitPrice: decimal.NewFromInt(500000)}},
	})
	require.NoError(t, err)
	require.Equal(t, "ES-150125-V-0001", sale.Number)
}

func approvedSale(t *testing.T, svc *Service, repo *memoryRepo) Sale {
	t.Helper()
	repo.seedStock(1, 10, 10)
	repo.seedStock(1, 11, 5)
	sale, _, err := svc.CreateDraft(context.Background(), CreateDraftInput{
		SalesPointID: 1, SellerID: 7, Lines: draftLines(),
	})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), sale.ID, sale.TotalAmount, 9)
	require.NoError(t, err)
	out, _, err := svc.Get(context.Background(), sale.ID)
	require.NoError(t, err)
	return out
}

func TestApproveCommitsStockAndReturnsChange(t *testing.T) {
	svc, repo, journal := newTestService()
	ctx := context.Background()
	repo.seedStock(1, 10, 10)
	repo.seedStock(1, 11, 5)

	sale, _, err := svc.CreateDraft(ctx, CreateDraftInput{SalesPointID: 1, SellerID: 7, Lines: draftLines()})
	require.NoError(t, err)

	change, err := svc.Approve(ctx, sale.ID, sale.TotalAmount.Add(decimal.NewFromInt(500)), 9)
	require.NoError(t, err)
	require.True(t, change.Equal(decimal.NewFromInt(500)))

	row := repo.stockRow(1, 10)
	require.EqualValues(t, 0, row.ReservedQty)
	require.EqualValues(t, 3, row.SoldQty)
	require.EqualValues(t, 7, row.Remaining())

	approved, _, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.CashierID)
	require.EqualValues(t, 9, *approved.CashierID)
	require.NotNil(t, approved.ApprovedAt)

	require.Len(t, journal.entries, 2)
	require.Equal(t, stock.ReasonSale, journal.entries[0].Reason)
	require.EqualValues(t, -3, journal.entries[0].Qty)
	require.Equal(t, sale.Number, journal.entries[0].Reference)

	// Approving again is a no-op that still reports the change due.
	change, err = svc.Approve(ctx, sale.ID, sale.TotalAmount.Add(decimal.NewFromInt(200)), 9)
	require.NoError(t, err)
	require.True(t, change.Equal(decimal.NewFromInt(200)))
	require.EqualValues(t, 3, repo.stockRow(1, 10).SoldQty)
	require.Len(t, journal.entries, 2)
}

func TestApproveInsufficientPayment(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	repo.seedStock(1, 10, 10)
	repo.seedStock(1, 11, 5)

	sale, _, err := svc.CreateDraft(ctx, CreateDraftInput{SalesPointID: 1, SellerID: 7, Lines: draftLines()})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, sale.ID, sale.TotalAmount.Sub(decimal.NewFromInt(1)), 9)
	require.ErrorIs(t, err, ErrInsufficientPayment)

	unchanged, _, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingCashier, unchanged.Status)
	require.EqualValues(t, 3, repo.stockRow(1, 10).ReservedQty)
}

func TestCancelReleasesReservations(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	repo.seedStock(1, 10, 10)
	repo.seedStock(1, 11, 5)

	sale, _, err := svc.CreateDraft(ctx, CreateDraftInput{SalesPointID: 1, SellerID: 7, Lines: draftLines()})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.EqualValues(t, 0, repo.stockRow(1, 10).ReservedQty)
	require.EqualValues(t, 0, repo.stockRow(1, 11).ReservedQty)
}

func TestCancelApprovedSaleIsNoOp(t *testing.T) {
	svc, repo, _ := newTestService()
	sale := approvedSale(t, svc, repo)

	out, err := svc.Cancel(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, out.Status)
	require.EqualValues(t, 3, repo.stockRow(1, 10).SoldQty)
}

func TestReverseSameDayFull(t *testing.T) {
	svc, repo, journal := newTestService()
	sale := approvedSale(t, svc, repo)
	ctx := context.Background()

	reversed, err := svc.ReverseSameDay(ctx, sale.ID, nil, 9, "wrong customer")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, reversed.Status)
	require.True(t, reversed.TotalAmount.IsZero())

	require.EqualValues(t, 0, repo.stockRow(1, 10).SoldQty)
	require.EqualValues(t, 0, repo.stockRow(1, 11).SoldQty)
	require.EqualValues(t, 10, repo.stockRow(1, 10).Remaining())

	_, lines, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Empty(t, lines)

	// Two sale entries from approval, two reversal entries from the return.
	require.Len(t, journal.entries, 4)
	last := journal.entries[3]
	require.Equal(t, stock.ReasonReturn, last.Reason)
	require.True(t, last.IsReversal)
	require.Positive(t, last.Qty)
}

func TestReverseSameDayPartial(t *testing.T) {
	svc, repo, _ := newTestService()
	sale := approvedSale(t, svc, repo)
	ctx := context.Background()

	_, lines, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	var target Line
	for _, l := range lines {
		if l.ProductID == 10 {
			target = l
		}
	}
	require.EqualValues(t, 3, target.Quantity)

	reversed, err := svc.ReverseSameDay(ctx, sale.ID, map[int64]int64{target.ID: 1}, 9, "one unit returned")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, reversed.Status)
	require.True(t, reversed.TotalAmount.Equal(decimal.NewFromInt(2*1500+3500)))

	require.EqualValues(t, 2, repo.stockRow(1, 10).SoldQty)

	_, after, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	for _, l := range after {
		if l.ProductID == 10 {
			require.EqualValues(t, 2, l.Quantity)
			require.True(t, l.LineTotal.Equal(decimal.NewFromInt(2*1500)))
		}
	}
}

func TestReverseSameDayRejectsOlderSales(t *testing.T) {
	svc, repo, _ := newTestService()
	sale := approvedSale(t, svc, repo)

	svc.now = func() time.Time { return testDay.Add(24 * time.Hour) }
	_, err := svc.ReverseSameDay(context.Background(), sale.ID, nil, 9, "too late")
	require.ErrorIs(t, err, ErrSameDayOnly)
	require.EqualValues(t, 3, repo.stockRow(1, 10).SoldQty)
}

func TestReverseRejectsInvalidQuantities(t *testing.T) {
	svc, repo, _ := newTestService()
	sale := approvedSale(t, svc, repo)
	ctx := context.Background()

	_, lines, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)

	_, err = svc.ReverseSameDay(ctx, sale.ID, map[int64]int64{lines[0].ID: lines[0].Quantity + 1}, 9, "over")
	require.Error(t, err)
	_, err = svc.ReverseSameDay(ctx, sale.ID, map[int64]int64{99999: 1}, 9, "bogus line")
	require.Error(t, err)
}

func TestCancellationRequestFlow(t *testing.T) {
	svc, repo, _ := newTestService()
	sale := approvedSale(t, svc, repo)
	ctx := context.Background()

	// Next day: instant reversal is closed, the request workflow is not.
	svc.now = func() time.Time { return testDay.Add(48 * time.Hour) }

	_, err := svc.CreateCancellationRequest(ctx, sale.ID, nil, 7, "  ")
	require.ErrorIs(t, err, ErrReasonRequired)

	req, err := svc.CreateCancellationRequest(ctx, sale.ID, nil, 7, "customer refund")
	require.NoError(t, err)
	require.Equal(t, RequestPending, req.Status)

	_, reqLines, err := svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, reqLines, 2)

	approved, err := svc.ApproveCancellationRequest(ctx, req.ID, 99)
	require.NoError(t, err)
	require.Equal(t, RequestApproved, approved.Status)
	require.NotNil(t, approved.ApproverID)
	require.EqualValues(t, 99, *approved.ApproverID)

	require.EqualValues(t, 0, repo.stockRow(1, 10).SoldQty)
	reversedSale, _, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, reversedSale.Status)

	// Approving again is a no-op.
	again, err := svc.ApproveCancellationRequest(ctx, req.ID, 100)
	require.NoError(t, err)
	require.Equal(t, RequestApproved, again.Status)
	require.EqualValues(t, 99, *again.ApproverID)
}

func TestRejectCancellationRequestLeavesSale(t *testing.T) {
	svc, repo, _ := newTestService()
	sale := approvedSale(t, svc, repo)
	ctx := context.Background()

	req, err := svc.CreateCancellationRequest(ctx, sale.ID, nil, 7, "changed mind")
	require.NoError(t, err)

	rejected, err := svc.RejectCancellationRequest(ctx, req.ID, 99)
	require.NoError(t, err)
	require.Equal(t, RequestRejected, rejected.Status)

	intact, _, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, intact.Status)
	require.EqualValues(t, 3, repo.stockRow(1, 10).SoldQty)
}
