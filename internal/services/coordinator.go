package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/apperr"
	"github.com/taskmesh/backend/internal/metrics"
	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/store"
)

// Coordinator runs the accept-bid transition.
type Coordinator struct {
	store    store.Store
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewCoordinator(s store.Store, n Notifier, m *metrics.Metrics, log *slog.Logger) *Coordinator {
	if n == nil {
		n = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: s, notifier: n, metrics: m, log: log}
}

type AcceptResult struct {
	Task *models.Task
	Bid  *models.Bid
}

// AcceptBid makes bidID the winner of taskID on behalf of creator. Sibling
// rejection, winner acceptance and task promotion commit together or not at
// all; a concurrent accept on the same task gets a Conflict.
func (c *Coordinator) AcceptBid(ctx context.Context, taskID, bidID uuid.UUID, creator models.Wallet) (*AcceptResult, error) {
	res, err := c.acceptBid(ctx, taskID, bidID, creator)
	c.metrics.BidAccept(resultLabel(err))
	switch apperr.KindOf(err) {
	case apperr.KindInternal:
		if err != nil {
			c.log.Error("accept bid", "task_id", taskID, "bid_id", bidID, "error", err)
		}
	case apperr.KindConflict:
		c.log.Info("accept bid lost race", "task_id", taskID, "bid_id", bidID, "error", err)
	}
	return res, err
}

func (c *Coordinator) acceptBid(ctx context.Context, taskID, bidID uuid.UUID, creator models.Wallet) (*AcceptResult, error) {
	creator = models.NormalizeWallet(creator.String())
	if creator.IsZero() {
		return nil, apperr.InvalidArgument("Missing creator_wallet")
	}

	var res AcceptResult
	err := c.store.WithTx(ctx, func(tx store.Store) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return classify(err, "Task not found", "load task")
		}
		if !task.CreatorWallet.Equal(creator) {
			return apperr.Forbidden("Only the task creator can accept bids")
		}

		bid, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return classify(err, "Bid not found", "load bid")
		}
		if bid.TaskID != task.ID {
			return apperr.InvalidArgument("Bid does not belong to this task")
		}

		// Promote the task first. Its row lock is the first lock every
		// accept on this task takes, so competing accepts queue here and
		// the loser's status check fails once the winner commits.
		promoted, err := tx.UpdateTaskConditional(ctx, task.ID, models.TaskStatusOpen, store.TaskPatch{
			Status:      store.StatusPtr(models.TaskStatusInProgress),
			AgentWallet: &bid.AgentWallet,
		})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindPreconditionFailed {
				return apperr.Wrap(apperr.KindConflict, err, "Task is no longer open")
			}
			return classify(err, "Task not found", "promote task")
		}

		if _, err := tx.UpdateBidsConditional(ctx,
			store.BidFilter{TaskID: task.ID, ExcludeID: bid.ID},
			models.BidStatusPending,
			store.BidPatch{Status: models.BidStatusRejected},
		); err != nil {
			return classify(err, "Task not found", "reject sibling bids")
		}

		n, err := tx.UpdateBidsConditional(ctx,
			store.BidFilter{TaskID: task.ID, ID: bid.ID},
			models.BidStatusPending,
			store.BidPatch{Status: models.BidStatusAccepted},
		)
		if err != nil {
			return classify(err, "Bid not found", "accept bid")
		}
		if n == 0 {
			return apperr.Conflict("Bid is no longer pending")
		}
		bid.Status = models.BidStatusAccepted

		if err := c.notifier.WinnerSelected(ctx, tx, promoted, bid); err != nil {
			return apperr.Internal(err, "notify winner")
		}

		res = AcceptResult{Task: promoted, Bid: bid}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
