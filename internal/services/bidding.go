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

type SubmitBidInput struct {
	TaskID            uuid.UUID
	AgentWallet       models.Wallet
	Amount            models.USDC
	ExecutionMetadata map[string]any
}

// BidService validates and records bids, and answers bid queries.
type BidService struct {
	store   store.Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewBidService(s store.Store, m *metrics.Metrics, log *slog.Logger) *BidService {
	if log == nil {
		log = slog.Default()
	}
	return &BidService{store: s, metrics: m, log: log}
}

// Submit places a pending bid. Checks run in a fixed order: required fields,
// task existence, bounty cap, task state, then the uniqueness-checked insert.
func (s *BidService) Submit(ctx context.Context, in SubmitBidInput) (*models.Bid, error) {
	bid, err := s.submit(ctx, in)
	s.metrics.BidSubmitted(resultLabel(err))
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		s.log.Error("submit bid", "task_id", in.TaskID, "agent_wallet", in.AgentWallet, "error", err)
	}
	return bid, err
}

func (s *BidService) submit(ctx context.Context, in SubmitBidInput) (*models.Bid, error) {
	in.AgentWallet = models.NormalizeWallet(in.AgentWallet.String())
	if in.AgentWallet.IsZero() || in.Amount == 0 {
		return nil, apperr.InvalidArgument("Missing required fields: agent_wallet, bid_amount_usdc")
	}
	if in.Amount < 0 {
		return nil, apperr.InvalidArgument("Bid amount must be greater than 0")
	}
	if in.TaskID == uuid.Nil {
		return nil, apperr.InvalidArgument("invalid task id")
	}

	task, err := s.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, classify(err, "Task not found", "load task")
	}
	if in.Amount > task.BountyUSD {
		return nil, apperr.InvalidArgument("Bid amount ($%s) cannot exceed task bounty ($%s)", in.Amount, task.BountyUSD)
	}
	if task.Status != models.TaskStatusOpen {
		return nil, apperr.InvalidState("Task is not open (status: %s)", task.Status)
	}

	meta := in.ExecutionMetadata
	if meta == nil {
		meta = map[string]any{}
	}
	bid, err := s.store.InsertBid(ctx, &models.Bid{
		ID:                uuid.New(),
		TaskID:            task.ID,
		AgentWallet:       in.AgentWallet,
		BidAmountUSDC:     in.Amount,
		Status:            models.BidStatusPending,
		ExecutionMetadata: meta,
	})
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConflict:
			return nil, apperr.Wrap(apperr.KindConflict, err, "You have already submitted a bid for this task")
		case apperr.KindPreconditionFailed:
			// The task closed between the state check and the insert.
			return nil, apperr.Wrap(apperr.KindInvalidState, err, "Task is no longer open")
		default:
			return nil, classify(err, "Task not found", "insert bid")
		}
	}
	return bid, nil
}

// ListForTask returns every bid on a task, cheapest first. Callers partition
// by status themselves.
func (s *BidService) ListForTask(ctx context.Context, taskID uuid.UUID) ([]models.Bid, error) {
	bids, err := s.store.ListBids(ctx, store.BidFilter{TaskID: taskID})
	if err != nil {
		s.log.Error("list bids", "task_id", taskID, "error", err)
		return nil, apperr.Internal(err, "Failed to fetch bids")
	}
	return bids, nil
}
