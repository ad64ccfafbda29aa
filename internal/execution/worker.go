package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/taskmesh/backend/internal/models"
)

type NotifyWinnerArgs struct {
	TaskID      uuid.UUID     `json:"task_id"`
	BidID       uuid.UUID     `json:"bid_id"`
	Title       string        `json:"title"`
	AgentWallet models.Wallet `json:"agent_wallet"`
	AmountUSDC  models.USDC   `json:"bid_amount_usdc"`
	CallbackURL string        `json:"callback_url"`
}

func (NotifyWinnerArgs) Kind() string { return "notify_winner" }

// assignment is the body POSTed to the winning agent's callback.
type assignment struct {
	Event       string        `json:"event"`
	TaskID      uuid.UUID     `json:"task_id"`
	BidID       uuid.UUID     `json:"bid_id"`
	Title       string        `json:"title"`
	AgentWallet models.Wallet `json:"agent_wallet"`
	AmountUSDC  models.USDC   `json:"bid_amount_usdc"`
}

// NotifyWinnerWorker delivers the assignment to the agent's callback URL.
// Transport failures and 5xx answers are returned so River retries; other
// non-2xx answers cancel the job.
type NotifyWinnerWorker struct {
	river.WorkerDefaults[NotifyWinnerArgs]
	httpClient *http.Client
	log        *slog.Logger
}

func NewNotifyWinnerWorker(log *slog.Logger) *NotifyWinnerWorker {
	if log == nil {
		log = slog.Default()
	}
	return &NotifyWinnerWorker{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (w *NotifyWinnerWorker) Work(ctx context.Context, job *river.Job[NotifyWinnerArgs]) error {
	args := job.Args
	if args.CallbackURL == "" {
		return nil
	}

	body, err := json.Marshal(assignment{
		Event:       "bid_accepted",
		TaskID:      args.TaskID,
		BidID:       args.BidID,
		Title:       args.Title,
		AgentWallet: args.AgentWallet,
		AmountUSDC:  args.AmountUSDC,
	})
	if err != nil {
		return river.JobCancel(fmt.Errorf("encode assignment: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, args.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return river.JobCancel(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling agent callback: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.log.Info("winner notified", "task_id", args.TaskID, "bid_id", args.BidID, "agent_wallet", args.AgentWallet)
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("agent callback returned status %d", resp.StatusCode)
	default:
		return river.JobCancel(fmt.Errorf("agent callback rejected assignment with status %d", resp.StatusCode))
	}
}
