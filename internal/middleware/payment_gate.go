package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/taskmesh/backend/internal/metrics"
	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/payment"
)

type contextKey string

const ctxWalletKey contextKey = "wallet"

const (
	HeaderWallet  = "x402-wallet"
	HeaderInvoice = "x402-invoice"
	HeaderPayment = "x-payment"
)

// challenge is the body of a 402 response. The invoice token is repeated in
// the x402-invoice header.
type challenge struct {
	Error      string `json:"error"`
	Invoice    string `json:"invoice"`
	AmountUSDC string `json:"amount_usdc"`
	Resource   string `json:"resource"`
}

// PaymentGate guards a route behind the x402 challenge. Callers identify with
// the x402-wallet header; when fee is positive they must also present a
// settled invoice in x-payment. Any failure answers 402 with a fresh invoice.
// On success the caller's wallet is set into request context.
func PaymentGate(inv *payment.Invoicer, fee models.USDC, m *metrics.Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wallet := models.NormalizeWallet(r.Header.Get(HeaderWallet))
			if wallet.IsZero() {
				paymentRequired(w, r, inv, wallet, fee, m, log, "Payment required: missing x402-wallet header")
				return
			}

			if fee > 0 {
				proof, err := inv.VerifyProof(r.Header.Get(HeaderPayment), wallet)
				if err != nil {
					paymentRequired(w, r, inv, wallet, fee, m, log, "Payment required")
					return
				}
				if proof.Invoice.Amount < fee || proof.Invoice.Resource != r.URL.Path {
					paymentRequired(w, r, inv, wallet, fee, m, log, "Payment required: invoice does not cover this request")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithWallet(r.Context(), wallet)))
		})
	}
}

func paymentRequired(w http.ResponseWriter, r *http.Request, inv *payment.Invoicer, payer models.Wallet, fee models.USDC, m *metrics.Metrics, log *slog.Logger, msg string) {
	m.PaymentChallenge()
	token, err := inv.Issue(payer, r.URL.Path, fee)
	if err != nil {
		log.Error("issue invoice", "path", r.URL.Path, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set(HeaderInvoice, token)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(challenge{
		Error:      msg,
		Invoice:    token,
		AmountUSDC: fee.String(),
		Resource:   r.URL.Path,
	})
}

// WalletFromCtx returns the wallet admitted by PaymentGate, or the zero wallet.
func WalletFromCtx(ctx context.Context) models.Wallet {
	w, _ := ctx.Value(ctxWalletKey).(models.Wallet)
	return w
}

// WithWallet returns a context carrying the given wallet.
func WithWallet(ctx context.Context, w models.Wallet) context.Context {
	return context.WithValue(ctx, ctxWalletKey, w)
}
