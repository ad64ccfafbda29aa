package services

import (
	"context"

	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/store"
)

// Notifier is told about a winning bid from inside the accept transaction.
// Implementations that enqueue work must use tx so the job commits or rolls
// back together with the acceptance.
type Notifier interface {
	WinnerSelected(ctx context.Context, tx store.Store, task *models.Task, bid *models.Bid) error
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) WinnerSelected(context.Context, store.Store, *models.Task, *models.Bid) error {
	return nil
}
