package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is independent of TaskStatus; only paid tasks are listed to agents.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type Task struct {
	ID               uuid.UUID     `json:"id"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	BountyUSD        USDC          `json:"bounty_usd"`
	Status           TaskStatus    `json:"status"`
	CreatorWallet    Wallet        `json:"creator_wallet"`
	AgentWallet      *Wallet       `json:"agent_wallet"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentReference *string       `json:"payment_reference"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Biddable reports whether agents may see and bid on the task.
func (t *Task) Biddable() bool {
	return t.Status == TaskStatusOpen && t.PaymentStatus == PaymentStatusPaid
}

// AssignedTo reports whether w is the task's assigned agent.
func (t *Task) AssignedTo(w Wallet) bool {
	return t.AgentWallet != nil && !w.IsZero() && t.AgentWallet.Equal(w)
}
