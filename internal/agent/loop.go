// Package agent is the polling worker: it lists open tasks, claims or bids
// on one per cycle, and completes what it has been assigned.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/log"
	"github.com/taskmesh/backend/internal/models"
)

type Mode string

const (
	// ModeAssign claims the task outright through the legacy route.
	ModeAssign Mode = "assign"
	// ModeBid enters the reverse auction and waits to be accepted.
	ModeBid Mode = "bid"
)

const (
	DefaultInterval        = 8 * time.Second
	DefaultCompletionDelay = 10 * time.Second
	DefaultBidFraction     = 0.9
)

type Config struct {
	Interval        time.Duration
	CompletionDelay time.Duration
	Mode            Mode
	BidFraction     float64
	CallbackURL     string
}

// API is the server surface the loop uses. *Client implements it.
type API interface {
	Wallet() models.Wallet
	ListOpen(ctx context.Context) ([]models.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Assign(ctx context.Context, id uuid.UUID) error
	SubmitBid(ctx context.Context, id uuid.UUID, amount models.USDC, metadata map[string]any) (*models.Bid, error)
	Complete(ctx context.Context, id uuid.UUID) error
}

type Agent struct {
	config Config
	api    API
	sched  *Scheduler

	// bidOn remembers tasks bid on (or refused) in ModeBid; they stay open
	// until the creator decides, so the next cycle must move past them.
	bidMu sync.Mutex
	bidOn map[uuid.UUID]struct{}
}

func New(ctx context.Context, api API, config Config) (*Agent, error) {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.CompletionDelay <= 0 {
		config.CompletionDelay = DefaultCompletionDelay
	}
	if config.Mode == "" {
		config.Mode = ModeAssign
	}
	if config.Mode != ModeAssign && config.Mode != ModeBid {
		return nil, fmt.Errorf("unknown mode %q", config.Mode)
	}
	if config.BidFraction == 0 {
		config.BidFraction = DefaultBidFraction
	}
	if config.BidFraction < 0 || config.BidFraction > 1 {
		return nil, fmt.Errorf("bid fraction must be in (0, 1], got %v", config.BidFraction)
	}
	if api.Wallet().IsZero() {
		return nil, errors.New("agent wallet is required")
	}
	return &Agent{
		config: config,
		api:    api,
		sched:  NewScheduler(ctx),
		bidOn:  make(map[uuid.UUID]struct{}),
	}, nil
}

// Run ticks every Interval until ctx is done. Cycles run on this goroutine
// only, so they never overlap; ticks missed during a slow cycle are dropped.
func (a *Agent) Run(ctx context.Context) error {
	ctx = log.With(ctx, "wallet", a.api.Wallet().String())
	log.Infof(ctx, "TaskMesh agent started: wallet=%s mode=%s interval=%v", a.api.Wallet(), a.config.Mode, a.config.Interval)
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				log.Errorf(ctx, "Cycle failed: %v", err)
			}
		}
	}
}

// Shutdown cancels every pending completion and waits for running ones.
func (a *Agent) Shutdown() {
	if n := a.sched.Pending(); n > 0 {
		log.Infof(context.Background(), "Cancelling %d pending completions", n)
	}
	a.sched.Stop()
}

// RunOnce performs a single poll cycle. A 402 ends the cycle without error.
func (a *Agent) RunOnce(ctx context.Context) error {
	tasks, err := a.api.ListOpen(ctx)
	var payErr *PaymentRequiredError
	if errors.As(err, &payErr) {
		log.Warnf(ctx, "Payment required, invoice: %s", payErr.Invoice)
		return nil
	}
	if err != nil {
		return fmt.Errorf("list open tasks: %w", err)
	}
	log.Infof(ctx, "Found %d open tasks", len(tasks))

	task := a.pick(tasks)
	if task == nil {
		return nil
	}
	ctx = log.With(ctx, "task_id", task.ID.String())

	switch a.config.Mode {
	case ModeBid:
		amount := a.bidAmount(task.BountyUSD)
		log.Infof(ctx, "Bidding $%s on: %s", amount, task.Title)
		var meta map[string]any
		if a.config.CallbackURL != "" {
			meta = map[string]any{"callback_url": a.config.CallbackURL}
		}
		if _, err := a.api.SubmitBid(ctx, task.ID, amount, meta); err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				return fmt.Errorf("bid on %s: %w", task.ID, err)
			}
			switch apiErr.Status {
			case http.StatusConflict:
				// A bid from an earlier run is still standing; watch it.
				log.Warnf(ctx, "Already bid on %s, waiting for the creator", task.ID)
				a.markBid(task.ID)
				a.scheduleCompletion(task.ID, task.Title)
				return nil
			case http.StatusBadRequest, http.StatusNotFound:
				log.Warnf(ctx, "Skipping %s: %v", task.ID, err)
				a.markBid(task.ID)
				return nil
			}
			return fmt.Errorf("bid on %s: %w", task.ID, err)
		}
		a.markBid(task.ID)
	default:
		log.Infof(ctx, "Claiming: %s", task.Title)
		if err := a.api.Assign(ctx, task.ID); err != nil {
			return fmt.Errorf("assign %s: %w", task.ID, err)
		}
	}

	a.scheduleCompletion(task.ID, task.Title)
	return nil
}

// pick returns the first task this agent has not already bid on.
func (a *Agent) pick(tasks []models.Task) *models.Task {
	a.bidMu.Lock()
	defer a.bidMu.Unlock()
	for i := range tasks {
		if _, done := a.bidOn[tasks[i].ID]; !done {
			return &tasks[i]
		}
	}
	return nil
}

func (a *Agent) markBid(id uuid.UUID) {
	a.bidMu.Lock()
	a.bidOn[id] = struct{}{}
	a.bidMu.Unlock()
}

func (a *Agent) forgetBid(id uuid.UUID) {
	a.bidMu.Lock()
	delete(a.bidOn, id)
	a.bidMu.Unlock()
}

func (a *Agent) bidAmount(bounty models.USDC) models.USDC {
	amount := bounty.Fraction(a.config.BidFraction)
	if amount < 1 {
		amount = 1
	}
	return amount
}

func (a *Agent) scheduleCompletion(id uuid.UUID, title string) {
	a.sched.Schedule(id, a.config.CompletionDelay, func(ctx context.Context) {
		a.complete(ctx, id, title)
	})
}

// complete re-reads the task before finishing it, so a task that was
// cancelled, reassigned or already completed is left alone.
func (a *Agent) complete(ctx context.Context, id uuid.UUID, title string) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	ctx = log.With(ctx, "task_id", id.String())

	task, err := a.api.GetTask(ctx, id)
	if err != nil {
		log.Errorf(ctx, "Completion check for %s failed: %v", id, err)
		return
	}

	switch {
	case task.Status == models.TaskStatusInProgress && task.AssignedTo(a.api.Wallet()):
		log.Infof(ctx, "Completing task: %s", title)
		if err := a.api.Complete(ctx, id); err != nil {
			log.Errorf(ctx, "Complete %s failed: %v", id, err)
		}
		a.forgetBid(id)
	case task.Status == models.TaskStatusOpen && a.config.Mode == ModeBid:
		log.Debugf(ctx, "Bid on %s not accepted yet, checking again later", id)
		a.scheduleCompletion(id, title)
	default:
		log.Infof(ctx, "Dropping completion for %s: status=%s", id, task.Status)
		a.forgetBid(id)
	}
}
