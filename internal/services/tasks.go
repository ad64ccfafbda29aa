package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/apperr"
	"github.com/taskmesh/backend/internal/metrics"
	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/payment"
	"github.com/taskmesh/backend/internal/store"
)

// PaymentSettings describe where task bounties are paid.
type PaymentSettings struct {
	Treasury models.Wallet
	ChainID  int64
}

// TaskService owns the task lifecycle outside of bid acceptance: creation
// behind a payment, listing, direct assignment, completion and cancellation.
type TaskService struct {
	store    store.Store
	payments PaymentSettings
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewTaskService(s store.Store, p PaymentSettings, m *metrics.Metrics, log *slog.Logger) *TaskService {
	if log == nil {
		log = slog.Default()
	}
	return &TaskService{store: s, payments: p, metrics: m, log: log}
}

type CreateTaskInput struct {
	Title            string
	Description      string
	Bounty           models.USDC
	CreatorWallet    models.Wallet
	PaymentReference string
}

// Create records a new open task. With a payment reference the task is
// created paid and immediately visible to agents; without one it waits for
// ConfirmPayment. The returned config tells the creator what to pay.
func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*models.Task, payment.Config, error) {
	title := strings.TrimSpace(in.Title)
	in.CreatorWallet = models.NormalizeWallet(in.CreatorWallet.String())
	cfg := payment.NewConfig(title, in.Bounty, s.payments.Treasury, s.payments.ChainID)
	if title == "" {
		return nil, cfg, apperr.InvalidArgument("title is required")
	}
	if in.Bounty <= 0 {
		return nil, cfg, apperr.InvalidArgument("bounty_usd must be greater than 0")
	}
	if in.CreatorWallet.IsZero() {
		return nil, cfg, apperr.InvalidArgument("creator_wallet is required")
	}

	task := &models.Task{
		ID:            uuid.New(),
		Title:         title,
		Description:   in.Description,
		BountyUSD:     in.Bounty,
		Status:        models.TaskStatusOpen,
		CreatorWallet: in.CreatorWallet,
		PaymentStatus: models.PaymentStatusUnpaid,
	}
	if ref := strings.TrimSpace(in.PaymentReference); ref != "" {
		if err := payment.VerifyReference(ref); err != nil {
			return nil, cfg, apperr.Wrap(apperr.KindInvalidArgument, err, "Payment verification failed")
		}
		task.PaymentStatus = models.PaymentStatusPaid
		task.PaymentReference = &ref
	}

	created, err := s.store.InsertTask(ctx, task)
	s.metrics.TaskTransition("create", resultLabel(err))
	if err != nil {
		s.log.Error("create task", "error", err)
		return nil, cfg, classify(err, "Task not found", "insert task")
	}
	s.log.Info("task created", "task_id", created.ID, "payment_status", created.PaymentStatus, "bounty_usd", created.BountyUSD.String())
	return created, cfg, nil
}

// ConfirmPayment marks an open task paid against a settlement reference.
func (s *TaskService) ConfirmPayment(ctx context.Context, id uuid.UUID, ref string) (*models.Task, error) {
	ref = strings.TrimSpace(ref)
	if err := payment.VerifyReference(ref); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "Payment verification failed")
	}
	task, err := s.store.UpdateTaskConditional(ctx, id, models.TaskStatusOpen, store.TaskPatch{
		PaymentStatus:    store.PaymentStatusPtr(models.PaymentStatusPaid),
		PaymentReference: &ref,
	})
	s.metrics.TaskTransition("confirm_payment", resultLabel(err))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPreconditionFailed {
			return nil, apperr.Wrap(apperr.KindConflict, err, "Task is not open")
		}
		return nil, classify(err, "Task not found", "confirm payment")
	}
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, classify(err, "Task not found", "load task")
	}
	return task, nil
}

// ListOpen returns the tasks agents may bid on: open and paid.
func (s *TaskService) ListOpen(ctx context.Context) ([]models.Task, error) {
	tasks, err := s.store.ListTasks(ctx, store.OpenPaid())
	if err != nil {
		s.log.Error("list open tasks", "error", err)
		return nil, apperr.Internal(err, "list open tasks")
	}
	open := tasks[:0]
	for i := range tasks {
		if tasks[i].Biddable() {
			open = append(open, tasks[i])
		}
	}
	return open, nil
}

// Assign is the direct, auction-less claim: the first agent to call it takes
// the open task. Pending bids are rejected in the same transaction.
func (s *TaskService) Assign(ctx context.Context, id uuid.UUID, agent models.Wallet) (*models.Task, error) {
	agent = models.NormalizeWallet(agent.String())
	if agent.IsZero() {
		return nil, apperr.InvalidArgument("Missing agent_wallet")
	}
	var task *models.Task
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		task, err = tx.UpdateTaskConditional(ctx, id, models.TaskStatusOpen, store.TaskPatch{
			Status:      store.StatusPtr(models.TaskStatusInProgress),
			AgentWallet: &agent,
		})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindPreconditionFailed {
				return apperr.Wrap(apperr.KindInvalidState, err, "Task is not open")
			}
			return classify(err, "Task not found", "assign task")
		}
		_, err = tx.UpdateBidsConditional(ctx, store.BidFilter{TaskID: id}, models.BidStatusPending, store.BidPatch{Status: models.BidStatusRejected})
		if err != nil {
			return classify(err, "Task not found", "reject pending bids")
		}
		return nil
	})
	s.metrics.TaskTransition("assign", resultLabel(err))
	if err != nil {
		return nil, err
	}
	s.log.Info("task assigned", "task_id", id, "agent_wallet", agent)
	return task, nil
}

// Complete finishes an in-progress task for its assigned agent and moves the
// agent's accepted bid, if any, to completed.
func (s *TaskService) Complete(ctx context.Context, id uuid.UUID, agent models.Wallet) (*models.Task, error) {
	agent = models.NormalizeWallet(agent.String())
	if agent.IsZero() {
		return nil, apperr.InvalidArgument("Missing agent_wallet")
	}
	var task *models.Task
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetTask(ctx, id)
		if err != nil {
			return classify(err, "Task not found", "load task")
		}
		if !current.AssignedTo(agent) {
			return apperr.InvalidArgument("Task is not assigned to this agent")
		}
		task, err = tx.UpdateTaskConditional(ctx, id, models.TaskStatusInProgress, store.TaskPatch{
			Status: store.StatusPtr(models.TaskStatusCompleted),
		})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindPreconditionFailed {
				return apperr.Wrap(apperr.KindInvalidState, err, "Task is not in progress (status: "+string(current.Status)+")")
			}
			return classify(err, "Task not found", "complete task")
		}
		_, err = tx.UpdateBidsConditional(ctx, store.BidFilter{TaskID: id, AgentWallet: agent}, models.BidStatusAccepted, store.BidPatch{Status: models.BidStatusCompleted})
		if err != nil {
			return classify(err, "Task not found", "complete bid")
		}
		return nil
	})
	s.metrics.TaskTransition("complete", resultLabel(err))
	if err != nil {
		return nil, err
	}
	s.log.Info("task completed", "task_id", id, "agent_wallet", agent)
	return task, nil
}

// Cancel withdraws an open task on its creator's behalf. Pending bids are
// rejected.
func (s *TaskService) Cancel(ctx context.Context, id uuid.UUID, creator models.Wallet) (*models.Task, error) {
	creator = models.NormalizeWallet(creator.String())
	if creator.IsZero() {
		return nil, apperr.InvalidArgument("Missing creator_wallet")
	}
	var task *models.Task
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := tx.GetTask(ctx, id)
		if err != nil {
			return classify(err, "Task not found", "load task")
		}
		if !current.CreatorWallet.Equal(creator) {
			return apperr.Forbidden("Only the task creator can cancel a task")
		}
		task, err = tx.UpdateTaskConditional(ctx, id, models.TaskStatusOpen, store.TaskPatch{
			Status: store.StatusPtr(models.TaskStatusCancelled),
		})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindPreconditionFailed {
				return apperr.Wrap(apperr.KindConflict, err, "Task is not open (status: "+string(current.Status)+")")
			}
			return classify(err, "Task not found", "cancel task")
		}
		_, err = tx.UpdateBidsConditional(ctx, store.BidFilter{TaskID: id}, models.BidStatusPending, store.BidPatch{Status: models.BidStatusRejected})
		if err != nil {
			return classify(err, "Task not found", "reject pending bids")
		}
		return nil
	})
	s.metrics.TaskTransition("cancel", resultLabel(err))
	if err != nil {
		return nil, err
	}
	s.log.Info("task cancelled", "task_id", id)
	return task, nil
}
