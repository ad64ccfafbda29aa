package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/models"
)

const invoiceIssuer = "taskmesh"

var (
	ErrInvalidInvoice = errors.New("invalid invoice")
	ErrWrongPayer     = errors.New("invoice was issued to a different wallet")
)

// Invoice is the decoded content of an x402 invoice token.
type Invoice struct {
	ID        string
	Payer     models.Wallet
	Resource  string
	Amount    models.USDC
	ExpiresAt time.Time
}

type invoiceClaims struct {
	jwt.RegisteredClaims
	Resource     string `json:"resource"`
	AmountMicros int64  `json:"amount_micros"`
}

// Invoicer issues and verifies HS256-signed invoice tokens. Tokens are
// stateless; a settled invoice is presented back as "<token>:<reference>".
type Invoicer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewInvoicer(secret []byte, ttl time.Duration) *Invoicer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Invoicer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs an invoice for payer to access resource. payer may be empty
// when the caller has not identified itself yet.
func (i *Invoicer) Issue(payer models.Wallet, resource string, amount models.USDC) (string, error) {
	now := i.now()
	c := invoiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    invoiceIssuer,
			Subject:   payer.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Resource:     resource,
		AmountMicros: int64(amount),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(i.secret)
}

func (i *Invoicer) Verify(token string) (*Invoice, error) {
	tok, err := jwt.ParseWithClaims(token, &invoiceClaims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(invoiceIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	c, ok := tok.Claims.(*invoiceClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidInvoice
	}
	inv := &Invoice{
		ID:       c.ID,
		Payer:    models.NormalizeWallet(c.Subject),
		Resource: c.Resource,
		Amount:   models.USDC(c.AmountMicros),
	}
	if c.ExpiresAt != nil {
		inv.ExpiresAt = c.ExpiresAt.Time
	}
	return inv, nil
}

// Proof is a settled invoice presented on retry.
type Proof struct {
	Invoice   *Invoice
	Reference string
}

// VerifyProof checks an "x-payment" header value for payer. The invoice must
// have been issued to payer, or to nobody.
func (i *Invoicer) VerifyProof(header string, payer models.Wallet) (*Proof, error) {
	token, ref, ok := strings.Cut(strings.TrimSpace(header), ":")
	if !ok {
		return nil, fmt.Errorf("%w: expected <invoice>:<reference>", ErrInvalidInvoice)
	}
	inv, err := i.Verify(token)
	if err != nil {
		return nil, err
	}
	if !inv.Payer.IsZero() && inv.Payer != payer {
		return nil, ErrWrongPayer
	}
	if err := VerifyReference(ref); err != nil {
		return nil, err
	}
	return &Proof{Invoice: inv, Reference: ref}, nil
}
