package execution

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/repository"
	"github.com/taskmesh/backend/internal/store"
)

var ErrNoTx = errors.New("winner notification needs a postgres transaction")

// InsertNotifyWinnerTxFunc enqueues a job on tx. main wires it to
// riverClient.InsertTx once the client exists.
type InsertNotifyWinnerTxFunc func(ctx context.Context, tx pgx.Tx, args NotifyWinnerArgs) error

// RiverNotifier enqueues a NotifyWinnerArgs job inside the accept
// transaction, so the job exists only if the acceptance commits.
type RiverNotifier struct {
	insert InsertNotifyWinnerTxFunc
	log    *slog.Logger
}

func NewRiverNotifier(insert InsertNotifyWinnerTxFunc, log *slog.Logger) *RiverNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RiverNotifier{insert: insert, log: log}
}

func (n *RiverNotifier) WinnerSelected(ctx context.Context, s store.Store, task *models.Task, bid *models.Bid) error {
	url := bid.CallbackURL()
	if url == "" {
		n.log.Debug("winner has no callback url", "task_id", task.ID, "bid_id", bid.ID)
		return nil
	}
	tx, ok := repository.TxFrom(s)
	if !ok {
		return ErrNoTx
	}
	return n.insert(ctx, tx, NotifyWinnerArgs{
		TaskID:      task.ID,
		BidID:       bid.ID,
		Title:       task.Title,
		AgentWallet: bid.AgentWallet,
		AmountUSDC:  bid.BidAmountUSDC,
		CallbackURL: url,
	})
}
