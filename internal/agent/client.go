package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/models"
)

const (
	headerWallet  = "x402-wallet"
	headerInvoice = "x402-invoice"

	requestTimeout = 10 * time.Second
)

// PaymentRequiredError is returned when the listing answers 402.
type PaymentRequiredError struct {
	Invoice string
}

func (e *PaymentRequiredError) Error() string {
	return "payment required: invoice " + e.Invoice
}

// APIError is any other non-2xx answer.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

// Client talks to the TaskMesh API on behalf of one agent wallet.
type Client struct {
	baseURL    string
	wallet     models.Wallet
	httpClient *http.Client
}

func NewClient(baseURL string, wallet models.Wallet) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		wallet:     wallet,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) Wallet() models.Wallet { return c.wallet }

// ListOpen fetches the open, paid tasks. A 402 comes back as
// *PaymentRequiredError carrying the invoice token.
func (c *Client) ListOpen(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/open", nil, &tasks)
	return tasks, err
}

func (c *Client) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+id.String(), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Assign claims a task directly through the legacy route.
func (c *Client) Assign(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+id.String()+"/bid", map[string]any{"agent_wallet": c.wallet}, nil)
}

func (c *Client) SubmitBid(ctx context.Context, id uuid.UUID, amount models.USDC, metadata map[string]any) (*models.Bid, error) {
	body := map[string]any{
		"agent_wallet":    c.wallet,
		"bid_amount_usdc": amount,
	}
	if len(metadata) > 0 {
		body["execution_metadata"] = metadata
	}
	var resp struct {
		Bid *models.Bid `json:"bid"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+id.String()+"/bids", body, &resp); err != nil {
		return nil, err
	}
	return resp.Bid, nil
}

func (c *Client) Complete(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+id.String()+"/complete", map[string]any{"agent_wallet": c.wallet}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerWallet, c.wallet.String())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return &PaymentRequiredError{Invoice: resp.Header.Get(headerInvoice)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
