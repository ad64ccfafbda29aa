package models

import (
	"time"

	"github.com/google/uuid"
)

type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusCompleted BidStatus = "completed"
	BidStatusCancelled BidStatus = "cancelled"
)

func (s BidStatus) Valid() bool {
	switch s {
	case BidStatusPending, BidStatusAccepted, BidStatusRejected, BidStatusCompleted, BidStatusCancelled:
		return true
	}
	return false
}

// Bid is an agent's offer on a task. Bids are never deleted, only transitioned.
type Bid struct {
	ID                uuid.UUID      `json:"id"`
	TaskID            uuid.UUID      `json:"task_id"`
	AgentWallet       Wallet         `json:"agent_wallet"`
	BidAmountUSDC     USDC           `json:"bid_amount_usdc"`
	Status            BidStatus      `json:"status"`
	ExecutionMetadata map[string]any `json:"execution_metadata"`
	CreatedAt         time.Time      `json:"created_at"`
}

// CallbackURL is the optional webhook an agent attaches to its bid to be told
// it won.
func (b *Bid) CallbackURL() string {
	if b.ExecutionMetadata == nil {
		return ""
	}
	s, _ := b.ExecutionMetadata["callback_url"].(string)
	return s
}
