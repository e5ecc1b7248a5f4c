package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atlas-erp/atlas-erp/internal/notify"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// LowStockScanJob sweeps stock rows at or under their alert threshold and
// raises notifications. The per-day dedupe lives in the notify service, so
// re-running the sweep is harmless.
type LowStockScanJob struct {
	stock  *stock.Service
	notify *notify.Service
	logger *slog.Logger
}

// NewLowStockScanJob constructs the handler.
func NewLowStockScanJob(stockSvc *stock.Service, notifySvc *notify.Service, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{stock: stockSvc, notify: notifySvc, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.stock == nil || j.notify == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	rows, err := j.stock.LowStock(ctx, payload.SalesPointID)
	if err != nil {
		j.logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}
	raised := 0
	for _, row := range rows {
		fresh, err := j.notify.LowStockAlert(ctx, row.SalesPointID, row.ProductID, row.Remaining(), row.AlertQty)
		if err != nil {
			j.logger.Error("low stock alert failed",
				slog.Int64("salespoint_id", row.SalesPointID),
				slog.Int64("product_id", row.ProductID),
				slog.Any("error", err))
			continue
		}
		if fresh {
			raised++
		}
	}
	j.logger.Info("low stock scan done", slog.Int("rows", len(rows)), slog.Int("alerts", raised))
	return nil
}
