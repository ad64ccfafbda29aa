package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river"

	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/repository"
	"github.com/taskmesh/backend/internal/store"
)

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func job(url string) *river.Job[NotifyWinnerArgs] {
	return &river.Job[NotifyWinnerArgs]{Args: NotifyWinnerArgs{
		TaskID:      uuid.New(),
		BidID:       uuid.New(),
		Title:       "Summarize paper",
		AgentWallet: "0xagent",
		AmountUSDC:  models.MustUSDC("42.5"),
		CallbackURL: url,
	}}
}

func TestNotifyWinnerWorker_PostsAssignment(t *testing.T) {
	var got assignment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	j := job(srv.URL)
	if err := NewNotifyWinnerWorker(nil).Work(context.Background(), j); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if got.Event != "bid_accepted" || got.TaskID != j.Args.TaskID || got.AmountUSDC != j.Args.AmountUSDC {
		t.Errorf("got %+v", got)
	}
}

func TestNotifyWinnerWorker_StatusHandling(t *testing.T) {
	cases := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, true},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewNotifyWinnerWorker(nil).Work(context.Background(), job(srv.URL))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNotifyWinnerWorker_NoCallbackIsNoop(t *testing.T) {
	if err := NewNotifyWinnerWorker(nil).Work(context.Background(), job("")); err != nil {
		t.Fatalf("Work: %v", err)
	}
}

// ---------------------------------------------------------------------------
// RiverNotifier
// ---------------------------------------------------------------------------

// noopTx satisfies pgx.Tx; only Commit and Rollback are reached.
type noopTx struct{ pgx.Tx }

func (noopTx) Commit(context.Context) error   { return nil }
func (noopTx) Rollback(context.Context) error { return nil }

type txDB struct{ tx pgx.Tx }

func (d txDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (d txDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (d txDB) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (d txDB) Begin(context.Context) (pgx.Tx, error)                   { return d.tx, nil }
func (d txDB) Ping(context.Context) error                              { return nil }

func winner(url string) (*models.Task, *models.Bid) {
	task := &models.Task{ID: uuid.New(), Title: "Label images"}
	bid := &models.Bid{
		ID:                uuid.New(),
		TaskID:            task.ID,
		AgentWallet:       "0xwinner",
		BidAmountUSDC:     models.MustUSDC("9"),
		ExecutionMetadata: map[string]any{},
	}
	if url != "" {
		bid.ExecutionMetadata["callback_url"] = url
	}
	return task, bid
}

func TestRiverNotifier_EnqueuesOnAcceptTx(t *testing.T) {
	tx := noopTx{}
	var gotTx pgx.Tx
	var gotArgs NotifyWinnerArgs
	n := NewRiverNotifier(func(_ context.Context, tx pgx.Tx, args NotifyWinnerArgs) error {
		gotTx, gotArgs = tx, args
		return nil
	}, nil)

	task, bid := winner("https://agent.example/hook")
	pg := repository.NewPGStore(txDB{tx: tx})
	err := pg.WithTx(context.Background(), func(s store.Store) error {
		return n.WinnerSelected(context.Background(), s, task, bid)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if gotTx != tx {
		t.Errorf("job was not enqueued on the accept transaction")
	}
	if gotArgs.BidID != bid.ID || gotArgs.CallbackURL != "https://agent.example/hook" || gotArgs.Title != task.Title {
		t.Errorf("got %+v", gotArgs)
	}
}

func TestRiverNotifier_SkipsWithoutCallback(t *testing.T) {
	called := false
	n := NewRiverNotifier(func(context.Context, pgx.Tx, NotifyWinnerArgs) error {
		called = true
		return nil
	}, nil)
	task, bid := winner("")
	if err := n.WinnerSelected(context.Background(), store.NewMemory(), task, bid); err != nil {
		t.Fatalf("WinnerSelected: %v", err)
	}
	if called {
		t.Error("insert called for a bid without callback")
	}
}

func TestRiverNotifier_RequiresPostgresTx(t *testing.T) {
	n := NewRiverNotifier(func(context.Context, pgx.Tx, NotifyWinnerArgs) error { return nil }, nil)
	task, bid := winner("https://agent.example/hook")
	err := n.WinnerSelected(context.Background(), store.NewMemory(), task, bid)
	if !errors.Is(err, ErrNoTx) {
		t.Fatalf("got %v, want ErrNoTx", err)
	}
}

func TestRiverNotifier_InsertErrorPropagates(t *testing.T) {
	boom := errors.New("queue down")
	n := NewRiverNotifier(func(context.Context, pgx.Tx, NotifyWinnerArgs) error { return boom }, nil)
	task, bid := winner("https://agent.example/hook")
	pg := repository.NewPGStore(txDB{tx: noopTx{}})
	err := pg.WithTx(context.Background(), func(s store.Store) error {
		return n.WinnerSelected(context.Background(), s, task, bid)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}
