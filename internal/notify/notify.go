// Package notify delivers in-app notifications for workflow transitions.
// Writes are best-effort: a failed notification never fails the operation
// that triggered it.
package notify

import (
	"context"
	"errors"
	"time"
)

// Notification is one message addressed to a salespoint's staff.
type Notification struct {
	ID           int64      `json:"id"`
	SalesPointID int64      `json:"salespoint_id"`
	Kind         string     `json:"kind"`
	Message      string     `json:"message"`
	Link         string     `json:"link,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ErrNotFound indicates a missing notification.
var ErrNotFound = errors.New("notify: notification not found")

// RepositoryPort persists notifications.
type RepositoryPort interface {
	Insert(ctx context.Context, n Notification) (int64, error)
	List(ctx context.Context, salesPointID int64, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id int64, at time.Time) error
	MarkAllRead(ctx context.Context, salesPointID int64, at time.Time) error
}
