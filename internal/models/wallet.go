package models

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Wallet is a normalized wallet identity. Two wallets are the same party when
// their canonical forms are equal, so comparison is plain ==.
type Wallet string

var ErrEmptyWallet = errors.New("wallet is empty")

// NormalizeWallet trims and lowercases s. It never fails; an empty result is
// the zero Wallet.
func NormalizeWallet(s string) Wallet {
	return Wallet(strings.ToLower(strings.TrimSpace(s)))
}

// ParseWallet normalizes s and rejects empty identities.
func ParseWallet(s string) (Wallet, error) {
	w := NormalizeWallet(s)
	if w.IsZero() {
		return "", ErrEmptyWallet
	}
	return w, nil
}

func (w Wallet) String() string { return string(w) }

func (w Wallet) IsZero() bool { return w == "" }

// Equal compares canonical forms, tolerating values built without NormalizeWallet.
func (w Wallet) Equal(other Wallet) bool {
	return NormalizeWallet(string(w)) == NormalizeWallet(string(other))
}

// IsAddress reports whether w is a 20-byte hex EVM address.
func (w Wallet) IsAddress() bool {
	s := string(w)
	if len(s) != 42 || s[:2] != "0x" {
		return false
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Short renders the wallet as 0x1234...abcd for human-facing messages.
func (w Wallet) Short() string {
	s := string(w)
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// Checksum returns the EIP-55 mixed-case form of an address. Non-address
// identities are returned unchanged.
func (w Wallet) Checksum() string {
	if !w.IsAddress() {
		return string(w)
	}
	addr := []byte(string(w)[2:])
	h := sha3.NewLegacyKeccak256()
	h.Write(addr)
	sum := h.Sum(nil)
	for i, c := range addr {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			addr[i] = c - ('a' - 'A')
		}
	}
	return "0x" + string(addr)
}

func (w *Wallet) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*w = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*w = NormalizeWallet(s)
	return nil
}

// WalletPtr returns a pointer to w, or nil for the zero wallet.
func WalletPtr(w Wallet) *Wallet {
	if w.IsZero() {
		return nil
	}
	return &w
}
