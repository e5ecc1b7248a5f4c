package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// MailerPort enqueues outbound email.
type MailerPort interface {
	EnqueueEmail(ctx context.Context, to, subject, body string) error
}

const lowStockTTL = 48 * time.Hour

// Service writes notification rows and fans low-stock alerts out to email.
// Every delivery is best-effort.
type Service struct {
	repo       RepositoryPort
	redis      *redis.Client
	mailer     MailerPort
	alertEmail string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds Service. redis, mailer and alertEmail may be zero when
// low-stock fan-out is not wanted.
func NewService(repo RepositoryPort, rdb *redis.Client, mailer MailerPort, alertEmail string, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		redis:      rdb,
		mailer:     mailer,
		alertEmail: alertEmail,
		logger:     logger,
		now:        time.Now,
	}
}

// NotifyBestEffort writes a notification row, logging and discarding failures.
func (s *Service) NotifyBestEffort(ctx context.Context, salesPointID int64, kind, message, link string) {
	if salesPointID <= 0 || message == "" {
		return
	}
	_, err := s.repo.Insert(ctx, Notification{
		SalesPointID: salesPointID,
		Kind:         kind,
		Message:      message,
		Link:         link,
	})
	if err != nil {
		s.logger.Error("notification write failed",
			"salespoint_id", salesPointID, "kind", kind, "error", err)
	}
}

// LowStockAlert raises a low-stock notification for one (salespoint, product)
// pair, at most once per day. Returns true when the alert was actually raised.
// The daily dedupe lives in Redis so concurrent scans agree on who alerted.
func (s *Service) LowStockAlert(ctx context.Context, salesPointID, productID, remaining, alertQty int64) (bool, error) {
	day := s.now().Format("020106")
	key := fmt.Sprintf("lowstock:%d:%d:%s", salesPointID, productID, day)
	if s.redis != nil {
		fresh, err := s.redis.SetNX(ctx, key, 1, lowStockTTL).Result()
		if err != nil {
			return false, err
		}
		if !fresh {
			return false, nil
		}
	}

	msg := fmt.Sprintf("Low stock: product %d down to %d (alert threshold %d)", productID, remaining, alertQty)
	s.NotifyBestEffort(ctx, salesPointID, "low_stock", msg, fmt.Sprintf("/stock/rows/%d/%d", salesPointID, productID))

	if s.mailer != nil && s.alertEmail != "" {
		subject := fmt.Sprintf("Low stock alert: salespoint %d, product %d", salesPointID, productID)
		if err := s.mailer.EnqueueEmail(ctx, s.alertEmail, subject, msg); err != nil {
			s.logger.Error("low stock email enqueue failed",
				"salespoint_id", salesPointID, "product_id", productID, "error", err)
		}
	}
	return true, nil
}

// List returns a salespoint's notifications, newest first.
func (s *Service) List(ctx context.Context, salesPointID int64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, salesPointID, unreadOnly, limit)
}

// MarkRead stamps one notification as read.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	return s.repo.MarkRead(ctx, id, s.now())
}

// MarkAllRead stamps every unread notification of a salespoint.
func (s *Service) MarkAllRead(ctx context.Context, salesPointID int64) error {
	return s.repo.MarkAllRead(ctx, salesPointID, s.now())
}
