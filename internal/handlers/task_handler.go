package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/apperr"
	"github.com/taskmesh/backend/internal/middleware"
	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/payment"
	"github.com/taskmesh/backend/internal/services"
)

const maxBodyBytes = 1 << 20

// TaskLifecycle is the task surface the handler needs. *services.TaskService
// implements it.
type TaskLifecycle interface {
	Create(ctx context.Context, in services.CreateTaskInput) (*models.Task, payment.Config, error)
	ConfirmPayment(ctx context.Context, id uuid.UUID, ref string) (*models.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListOpen(ctx context.Context) ([]models.Task, error)
	Assign(ctx context.Context, id uuid.UUID, agent models.Wallet) (*models.Task, error)
	Complete(ctx context.Context, id uuid.UUID, agent models.Wallet) (*models.Task, error)
	Cancel(ctx context.Context, id uuid.UUID, creator models.Wallet) (*models.Task, error)
}

// TaskHandler serves /api/tasks endpoints that act on the task itself.
type TaskHandler struct {
	Tasks     TaskLifecycle
	Validator *services.Validator
	Logger    *slog.Logger
}

type taskResponse struct {
	Success bool         `json:"success"`
	Task    *models.Task `json:"task"`
}

// --- POST /api/tasks ---

type createTaskRequest struct {
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	BountyUSD        models.USDC   `json:"bounty_usd"`
	CreatorWallet    models.Wallet `json:"creator_wallet"`
	PaymentReference string        `json:"payment_reference"`
}

type createTaskResponse struct {
	Success bool           `json:"success"`
	Task    *models.Task   `json:"task"`
	Payment payment.Config `json:"payment"`
}

// CreateTask handles POST /api/tasks.
// Read body -> Validate schema -> Create (paid when a reference is given) -> 201.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readValidated(w, r, services.SchemaCreateTask)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid bounty_usd: " + err.Error()})
		return
	}

	task, cfg, err := h.Tasks.Create(r.Context(), services.CreateTaskInput{
		Title:            req.Title,
		Description:      req.Description,
		Bounty:           req.BountyUSD,
		CreatorWallet:    req.CreatorWallet,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		writeError(w, h.Logger, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, createTaskResponse{Success: true, Task: task, Payment: cfg})
}

// --- POST /api/tasks/{id}/payment ---

type confirmPaymentRequest struct {
	PaymentReference string `json:"payment_reference"`
}

func (h *TaskHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	body, ok := h.readValidated(w, r, services.SchemaConfirmPayment)
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Tasks.ConfirmPayment(r.Context(), id, req.PaymentReference)
	if err != nil {
		writeError(w, h.Logger, "confirm payment", err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// --- GET /api/tasks/open ---

// ListOpen handles GET /api/tasks/open. It sits behind the payment gate, which
// has already identified the caller.
func (h *TaskHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.ListOpen(r.Context())
	if err != nil {
		writeError(w, h.Logger, "list open tasks", err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	h.Logger.Debug("open tasks listed", "wallet", middleware.WalletFromCtx(r.Context()), "count", len(tasks))
	writeJSON(w, http.StatusOK, tasks)
}

// --- GET /api/tasks/{id} ---

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	task, err := h.Tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- POST /api/tasks/{id}/bid ---

type walletRequest struct {
	AgentWallet   models.Wallet `json:"agent_wallet"`
	CreatorWallet models.Wallet `json:"creator_wallet"`
}

// AssignTask handles the legacy direct-assignment route. Every failure other
// than an internal one answers 400.
func (h *TaskHandler) AssignTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	var req walletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Tasks.Assign(r.Context(), id, req.AgentWallet)
	if err != nil {
		writeLegacyError(w, h.Logger, "assign task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// --- POST /api/tasks/{id}/complete ---

func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	var req walletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Tasks.Complete(r.Context(), id, req.AgentWallet)
	if err != nil {
		writeLegacyError(w, h.Logger, "complete task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// --- POST /api/tasks/{id}/cancel ---

func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	var req walletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Tasks.Cancel(r.Context(), id, req.CreatorWallet)
	if err != nil {
		writeError(w, h.Logger, "cancel task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// --- helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func (h *TaskHandler) readValidated(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return nil, false
	}
	if err := h.Validator.Validate(schema, body); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return nil, false
		}
		h.Logger.Error("validate body", "schema", schema, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return nil, false
	}
	return body, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps a service error onto its status. Internal errors are logged
// and masked.
func writeError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error(op, "error", err)
	}
	writeJSON(w, status, errorBody{Error: apperr.Message(err)})
}

func writeLegacyError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		writeError(w, log, op, err)
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: apperr.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
