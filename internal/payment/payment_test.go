package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/taskmesh/backend/internal/models"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("Summarize paper", models.MustUSDC("25"), "", 0)
	if cfg.ChainID != BaseChainID {
		t.Errorf("chain: got %d, want %d", cfg.ChainID, BaseChainID)
	}
	if cfg.Recipient != ZeroAddress {
		t.Errorf("recipient: got %s, want zero address", cfg.Recipient)
	}
	if cfg.Description != "TaskMesh Task: Summarize paper" {
		t.Errorf("description: got %q", cfg.Description)
	}

	treasury := models.NormalizeWallet("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	cfg = NewConfig("x", 1, treasury, 84532)
	if cfg.Recipient != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" || cfg.ChainID != 84532 {
		t.Errorf("got %+v", cfg)
	}
}

func TestVerifyReference(t *testing.T) {
	valid := []string{"0xabc123", "0xDEADbeef"}
	invalid := []string{"", "0x", "abc123", "0xnothex"}
	for _, ref := range valid {
		if err := VerifyReference(ref); err != nil {
			t.Errorf("%q: unexpected error %v", ref, err)
		}
	}
	for _, ref := range invalid {
		if err := VerifyReference(ref); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("%q: got %v, want ErrInvalidReference", ref, err)
		}
	}
}

func TestInvoiceRoundTrip(t *testing.T) {
	inv := NewInvoicer([]byte("test-secret"), time.Minute)
	tok, err := inv.Issue("0xagent", "GET /api/tasks/open", models.MustUSDC("0.01"))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := inv.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Payer != "0xagent" || got.Amount != 10_000 || got.Resource != "GET /api/tasks/open" || got.ID == "" {
		t.Errorf("got %+v", got)
	}
}

func TestInvoiceRejectsTamperingAndExpiry(t *testing.T) {
	inv := NewInvoicer([]byte("test-secret"), time.Minute)
	tok, _ := inv.Issue("0xagent", "r", 1)

	other := NewInvoicer([]byte("other-secret"), time.Minute)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidInvoice) {
		t.Errorf("foreign secret: got %v, want ErrInvalidInvoice", err)
	}

	inv.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := inv.Verify(tok); !errors.Is(err, ErrInvalidInvoice) {
		t.Errorf("expired: got %v, want ErrInvalidInvoice", err)
	}
}

func TestVerifyProof(t *testing.T) {
	inv := NewInvoicer([]byte("test-secret"), time.Minute)
	tok, _ := inv.Issue("0xagent", "r", 1)

	proof, err := inv.VerifyProof(tok+":0xfeed", "0xagent")
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if proof.Reference != "0xfeed" {
		t.Errorf("reference: got %q", proof.Reference)
	}

	if _, err := inv.VerifyProof(tok+":0xfeed", "0xsomeoneelse"); !errors.Is(err, ErrWrongPayer) {
		t.Errorf("wrong payer: got %v", err)
	}
	if _, err := inv.VerifyProof(tok+":nothex", "0xagent"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("bad ref: got %v", err)
	}
	if _, err := inv.VerifyProof(tok, "0xagent"); !errors.Is(err, ErrInvalidInvoice) {
		t.Errorf("no ref: got %v", err)
	}
}
