package router

import (
	"net/http"

	"github.com/taskmesh/backend/internal/handlers"
)

// Deps are the pieces the API is assembled from. Gate guards the open-task
// listing; nil leaves it unguarded. Metrics may be nil.
type Deps struct {
	Tasks   *handlers.TaskHandler
	Bids    *handlers.BidHandler
	Health  http.HandlerFunc
	Metrics http.Handler
	Gate    func(http.Handler) http.Handler
}

// New returns an http.Handler that serves the API under /api plus /health and
// /metrics.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/tasks"

	gate := d.Gate
	if gate == nil {
		gate = func(h http.Handler) http.Handler { return h }
	}

	// Agents pay or identify themselves before they see work.
	mux.Handle("GET "+base+"/open", gate(http.HandlerFunc(d.Tasks.ListOpen)))

	mux.HandleFunc("POST "+base, d.Tasks.CreateTask)
	mux.HandleFunc("GET "+base+"/{id}", d.Tasks.GetTask)
	mux.HandleFunc("POST "+base+"/{id}/payment", d.Tasks.ConfirmPayment)
	mux.HandleFunc("POST "+base+"/{id}/cancel", d.Tasks.CancelTask)
	mux.HandleFunc("POST "+base+"/{id}/bid", d.Tasks.AssignTask)
	mux.HandleFunc("POST "+base+"/{id}/complete", d.Tasks.CompleteTask)

	mux.HandleFunc("POST "+base+"/{id}/bids", d.Bids.SubmitBid)
	mux.HandleFunc("GET "+base+"/{id}/bids", d.Bids.ListBids)
	mux.HandleFunc("POST "+base+"/{id}/bids/{bidId}/accept", d.Bids.AcceptBid)

	if d.Health != nil {
		mux.HandleFunc("GET /health", d.Health)
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	return mux
}
