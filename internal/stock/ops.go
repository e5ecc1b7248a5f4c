package stock

import "context"

// TxRepository is the row-level surface exposed inside a stock transaction.
// LockRow must create the row lazily when absent and return it locked for the
// remainder of the transaction, so concurrent mutations of the same row
// serialize at the database.
type TxRepository interface {
	LockRow(ctx context.Context, salesPointID, productID int64) (Row, error)
	UpdateCounters(ctx context.Context, row Row) error
}

// RepositoryPort opens stock transactions and serves plain reads.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetRow(ctx context.Context, salesPointID, productID int64) (Row, error)
	ListRows(ctx context.Context, salesPointID int64, limit, offset int) ([]Row, int64, error)
	ListBelowAlert(ctx context.Context, salesPointID int64) ([]Row, error)
}

// The InTx primitives are the whole mutation surface for counters. They run
// against a row already locked by the enclosing transaction, so document
// workflows (sales, transfers, restock) can compose several of them plus their
// own writes into a single atomic unit.

// ReserveInTx places a hold of qty against the row. Fails without mutating
// anything when fewer than qty units are available.
func ReserveInTx(ctx context.Context, tx TxRepository, salesPointID, productID, qty int64) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	row, err := tx.LockRow(ctx, salesPointID, productID)
	if err != nil {
		return Row{}, err
	}
	if row.Available() < qty {
		return Row{}, ErrInsufficientStock
	}
	row.ReservedQty += qty
	if err := tx.UpdateCounters(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
}

// ReleaseInTx gives back a hold. Releasing more than is currently reserved
// clamps the counter at zero rather than failing: release is the cleanup path
// for cancellations and must stay callable even when counters have drifted.
// Non-positive quantities are a no-op.
func ReleaseInTx(ctx context.Context, tx TxRepository, salesPointID, productID, qty int64) (Row, error) {
	if qty <= 0 {
		return tx.LockRow(ctx, salesPointID, productID)
	}
	row, err := tx.LockRow(ctx, salesPointID, productID)
	if err != nil {
		return Row{}, err
	}
	row.ReservedQty -= qty
	if row.ReservedQty < 0 {
		row.ReservedQty = 0
	}
	if err := tx.UpdateCounters(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
}

// CommitInTx converts a hold into a sale: reserved goes down, sold goes up.
// Unlike release it fails when the reservation does not cover qty, because a
// commit without a matching hold means the approval flow was bypassed.
func CommitInTx(ctx context.Context, tx TxRepository, salesPointID, productID, qty int64) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	row, err := tx.LockRow(ctx, salesPointID, productID)
	if err != nil {
		return Row{}, err
	}
	if row.ReservedQty < qty {
		return Row{}, ErrInsufficientReservation
	}
	row.ReservedQty -= qty
	row.SoldQty += qty
	if err := tx.UpdateCounters(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
}

// ReturnSoldInTx undoes part of a committed sale, clamping sold at zero.
func ReturnSoldInTx(ctx context.Context, tx TxRepository, salesPointID, productID, qty int64) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	row, err := tx.LockRow(ctx, salesPointID, productID)
	if err != nil {
		return Row{}, err
	}
	row.SoldQty -= qty
	if row.SoldQty < 0 {
		row.SoldQty = 0
	}
	if err := tx.UpdateCounters(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
}

// TransferOutInTx records qty leaving the row (shipment or grant).
func TransferOutInTx(ctx context.Context, tx TxRepository, salesPointID, productID, qty int64) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	row, err := tx.LockRow(ctx, salesPointID, productID)
	if err != nil {
		return Row{}, err
	}
	row.TransferOut += qty
	if err := tx.UpdateCounters(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
}

// TransferInInTx records qty arriving at the row.
func TransferInInTx(ctx context.Context, tx TxRepository, salesPointID, productID, qty int64) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	row, err := tx.LockRow(ctx, salesPointID, productID)
	if err != nil {
		return Row{}, err
	}
	row.TransferIn += qty
	if err := tx.UpdateCounters(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
}

// SettleTransitInTx closes out an in-transit shipment at the source once the
// destination has confirmed receipt: the provisional transfer_out hold is
// rebooked as a sale to the destination. transfer_out is clamped at zero so a
// double validation cannot drive it negative.
func SettleTransitInTx(ctx context.Context, tx TxRepository, salesPointID, productID, qty int64) (Row, error) {
	if qty <= 0 {
		return Row{}, ErrInvalidQuantity
	}
	row, err := tx.LockRow(ctx, salesPointID, productID)
	if err != nil {
		return Row{}, err
	}
	row.TransferOut -= qty
	if row.TransferOut < 0 {
		row.TransferOut = 0
	}
	row.SoldQty += qty
	if err := tx.UpdateCounters(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
}
