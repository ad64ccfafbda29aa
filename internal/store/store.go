// Package store defines the Task/Bid persistence contract shared by the
// auction services. Every mutation is a conditional write keyed on the
// expected prior status.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/models"
)

// Store is implemented by repository.PGStore and by Memory.
//
// Errors are classified with apperr: NotFound for missing rows, Conflict for
// a (task_id, agent_wallet) duplicate, PreconditionFailed for a lost
// compare-and-swap.
type Store interface {
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error)
	// ListBids orders by bid amount ascending, then creation time.
	ListBids(ctx context.Context, filter BidFilter) ([]models.Bid, error)

	InsertTask(ctx context.Context, t *models.Task) (*models.Task, error)
	// InsertBid fails with PreconditionFailed when the bid's task is no longer open.
	InsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error)

	UpdateTaskConditional(ctx context.Context, id uuid.UUID, expected models.TaskStatus, patch TaskPatch) (*models.Task, error)
	UpdateBidsConditional(ctx context.Context, filter BidFilter, expected models.BidStatus, patch BidPatch) (int64, error)

	// WithTx runs fn inside one transaction. fn receives a Store bound to the
	// transaction; a nil return commits, anything else rolls back.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
}

type TaskFilter struct {
	Status        models.TaskStatus
	PaymentStatus models.PaymentStatus
}

// BidFilter selects bids. Zero-valued fields do not filter. ExcludeID drops
// one bid from the match, used to leave the winner out of a sibling sweep.
type BidFilter struct {
	TaskID      uuid.UUID
	ID          uuid.UUID
	ExcludeID   uuid.UUID
	AgentWallet models.Wallet
}

// TaskPatch fields left nil are not written.
type TaskPatch struct {
	Status           *models.TaskStatus
	AgentWallet      *models.Wallet
	PaymentStatus    *models.PaymentStatus
	PaymentReference *string
}

type BidPatch struct {
	Status models.BidStatus
}

// OpenPaid is the filter behind the agent-facing listing.
func OpenPaid() TaskFilter {
	return TaskFilter{Status: models.TaskStatusOpen, PaymentStatus: models.PaymentStatusPaid}
}

func StatusPtr(s models.TaskStatus) *models.TaskStatus { return &s }

func PaymentStatusPtr(s models.PaymentStatus) *models.PaymentStatus { return &s }
