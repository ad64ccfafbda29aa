package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/services"
)

type Bidding interface {
	Submit(ctx context.Context, in services.SubmitBidInput) (*models.Bid, error)
	ListForTask(ctx context.Context, taskID uuid.UUID) ([]models.Bid, error)
}

type Acceptor interface {
	AcceptBid(ctx context.Context, taskID, bidID uuid.UUID, creator models.Wallet) (*services.AcceptResult, error)
}

// BidHandler serves the reverse-auction endpoints under /api/tasks/{id}/bids.
type BidHandler struct {
	Bids        Bidding
	Coordinator Acceptor
	Logger      *slog.Logger
}

// --- POST /api/tasks/{id}/bids ---

type submitBidRequest struct {
	AgentWallet       models.Wallet  `json:"agent_wallet"`
	BidAmountUSDC     models.USDC    `json:"bid_amount_usdc"`
	ExecutionMetadata map[string]any `json:"execution_metadata"`
}

type submitBidResponse struct {
	Success bool        `json:"success"`
	Bid     *models.Bid `json:"bid"`
	Message string      `json:"message"`
}

func (h *BidHandler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	var req submitBidRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bid, err := h.Bids.Submit(r.Context(), services.SubmitBidInput{
		TaskID:            taskID,
		AgentWallet:       req.AgentWallet,
		Amount:            req.BidAmountUSDC,
		ExecutionMetadata: req.ExecutionMetadata,
	})
	if err != nil {
		writeError(w, h.Logger, "submit bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, submitBidResponse{
		Success: true,
		Bid:     bid,
		Message: fmt.Sprintf("Bid placed! You offered $%s USDC. Task creator will review all bids and select the winner.", bid.BidAmountUSDC),
	})
}

// --- GET /api/tasks/{id}/bids ---

// ListBids answers a bare array, cheapest first, whatever the bid statuses.
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	bids, err := h.Bids.ListForTask(r.Context(), taskID)
	if err != nil {
		writeError(w, h.Logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// --- POST /api/tasks/{id}/bids/{bidId}/accept ---

type acceptBidRequest struct {
	CreatorWallet models.Wallet `json:"creator_wallet"`
}

type acceptedTask struct {
	ID          uuid.UUID         `json:"id"`
	AgentWallet *models.Wallet    `json:"agent_wallet"`
	Status      models.TaskStatus `json:"status"`
}

type acceptBidResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Task    acceptedTask `json:"task"`
	Bid     *models.Bid  `json:"bid"`
}

func (h *BidHandler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(w, r, "id", "invalid task id")
	if !ok {
		return
	}
	bidID, ok := pathUUID(w, r, "bidId", "invalid bid id")
	if !ok {
		return
	}
	var req acceptBidRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Coordinator.AcceptBid(r.Context(), taskID, bidID, req.CreatorWallet)
	if err != nil {
		writeError(w, h.Logger, "accept bid", err)
		return
	}
	writeJSON(w, http.StatusOK, acceptBidResponse{
		Success: true,
		Message: fmt.Sprintf("Bid accepted! Agent %s will work on this task for $%s USDC.", res.Bid.AgentWallet.Short(), res.Bid.BidAmountUSDC),
		Task: acceptedTask{
			ID:          res.Task.ID,
			AgentWallet: res.Task.AgentWallet,
			Status:      res.Task.Status,
		},
		Bid: res.Bid,
	})
}
