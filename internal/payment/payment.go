// Package payment carries the x402 side of the API: the payment config a
// creator settles against, reference checks, and signed invoice tokens for
// the 402 challenge.
package payment

import (
	"errors"
	"strings"

	"github.com/taskmesh/backend/internal/models"
)

// BaseChainID is the Base mainnet chain id bounties are paid on.
const BaseChainID = 8453

const ZeroAddress = "0x0000000000000000000000000000000000000000"

var ErrInvalidReference = errors.New("payment reference must be a 0x-prefixed hex transaction hash")

// Config is what a creator must pay to publish a task.
type Config struct {
	Amount      models.USDC `json:"amount"`
	Recipient   string      `json:"recipient_address"`
	ChainID     int64       `json:"chain_id"`
	Description string      `json:"description"`
}

// NewConfig builds the payment config for a task. An empty recipient falls
// back to the zero address.
func NewConfig(title string, bounty models.USDC, recipient models.Wallet, chainID int64) Config {
	to := recipient.Checksum()
	if recipient.IsZero() {
		to = ZeroAddress
	}
	if chainID == 0 {
		chainID = BaseChainID
	}
	return Config{
		Amount:      bounty,
		Recipient:   to,
		ChainID:     chainID,
		Description: "TaskMesh Task: " + title,
	}
}

// VerifyReference checks the shape of a settlement reference. On-chain
// confirmation happens outside this service.
func VerifyReference(ref string) error {
	ref = strings.TrimSpace(ref)
	if len(ref) <= 2 || !strings.HasPrefix(ref, "0x") {
		return ErrInvalidReference
	}
	for _, c := range ref[2:] {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return ErrInvalidReference
		}
	}
	return nil
}
