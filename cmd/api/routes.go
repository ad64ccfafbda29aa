package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskmesh/backend/internal/config"
	"github.com/taskmesh/backend/internal/handlers"
	"github.com/taskmesh/backend/internal/metrics"
	"github.com/taskmesh/backend/internal/middleware"
	"github.com/taskmesh/backend/internal/payment"
	"github.com/taskmesh/backend/internal/router"
	"github.com/taskmesh/backend/internal/services"
	"github.com/taskmesh/backend/internal/store"
)

// newHandler assembles services over st and returns the full HTTP stack.
// Middleware chain: otelhttp -> CORS -> mux (PaymentGate on GET /api/tasks/open only).
func newHandler(cfg *config.Config, st store.Store, notifier services.Notifier, m *metrics.Metrics, logger *slog.Logger) (http.Handler, error) {
	validator, err := services.NewValidator()
	if err != nil {
		return nil, err
	}

	taskSvc := services.NewTaskService(st, services.PaymentSettings{
		Treasury: cfg.TreasuryWallet,
		ChainID:  cfg.ChainID,
	}, m, logger)
	bidSvc := services.NewBidService(st, m, logger)
	coordinator := services.NewCoordinator(st, notifier, m, logger)

	invoicer := payment.NewInvoicer(cfg.X402Secret, 15*time.Minute)

	mux := router.New(router.Deps{
		Tasks: &handlers.TaskHandler{Tasks: taskSvc, Validator: validator, Logger: logger},
		Bids: &handlers.BidHandler{
			Bids:        bidSvc,
			Coordinator: coordinator,
			Logger:      logger,
		},
		Health:  handlers.Health(st, logger),
		Metrics: m.Handler(),
		Gate:    middleware.PaymentGate(invoicer, cfg.ListingFee, m, logger),
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.HeaderWallet, middleware.HeaderPayment},
		ExposedHeaders: []string{middleware.HeaderInvoice},
	}).Handler(mux)

	return otelhttp.NewHandler(corsHandler, "taskmesh-api"), nil
}
