package repository

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taskmesh/backend/internal/apperr"
	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/store"
)

// ---------------------------------------------------------------------------
// Scripted querier
// ---------------------------------------------------------------------------

// rowFunc adapts a function to pgx.Row.
type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func errRow(err error) pgx.Row { return rowFunc(func(...any) error { return err }) }

// valuesRow assigns vals to the scan targets in order.
func valuesRow(vals ...any) pgx.Row {
	return rowFunc(func(dest ...any) error {
		if len(dest) != len(vals) {
			return errors.New("column count mismatch")
		}
		for i := range dest {
			reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(vals[i]))
		}
		return nil
	})
}

type sqlCall struct {
	sql  string
	args []any
}

// scriptDB answers QueryRow with rows in order and records every statement.
type scriptDB struct {
	rows    []pgx.Row
	tag     pgconn.CommandTag
	execErr error
	calls   []sqlCall
}

func (db *scriptDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.calls = append(db.calls, sqlCall{sql: sql, args: args})
	if len(db.rows) == 0 {
		return errRow(errors.New("unexpected query"))
	}
	row := db.rows[0]
	db.rows = db.rows[1:]
	return row
}

func (db *scriptDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.calls = append(db.calls, sqlCall{sql: sql, args: args})
	return db.tag, db.execErr
}

func (db *scriptDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}
func (db *scriptDB) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("not scripted") }
func (db *scriptDB) Ping(context.Context) error            { return nil }

func strPtr(s string) *string { return &s }

func taskRow(id uuid.UUID, status models.TaskStatus, agent *string) pgx.Row {
	return valuesRow(id, "t", "", int64(100_000_000), string(status), "0xcreator", agent, "paid", (*string)(nil), time.Unix(1700000000, 0))
}

// ---------------------------------------------------------------------------
// UpdateBidsConditional
// ---------------------------------------------------------------------------

func TestUpdateBidsConditional_SetPlaceholderFollowsWhere(t *testing.T) {
	taskID, bidID := uuid.New(), uuid.New()
	tests := []struct {
		name     string
		filter   store.BidFilter
		expected models.BidStatus
		patch    models.BidStatus
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "reject siblings",
			filter:   store.BidFilter{TaskID: taskID, ExcludeID: bidID},
			expected: models.BidStatusPending,
			patch:    models.BidStatusRejected,
			wantSQL:  "UPDATE bids SET status = $4 WHERE task_id = $1 AND id <> $2 AND status = $3",
			wantArgs: []any{taskID, bidID, "pending", "rejected"},
		},
		{
			name:     "accept winner",
			filter:   store.BidFilter{TaskID: taskID, ID: bidID},
			expected: models.BidStatusPending,
			patch:    models.BidStatusAccepted,
			wantSQL:  "UPDATE bids SET status = $4 WHERE task_id = $1 AND id = $2 AND status = $3",
			wantArgs: []any{taskID, bidID, "pending", "accepted"},
		},
		{
			name:     "complete agent bid",
			filter:   store.BidFilter{TaskID: taskID, AgentWallet: "0xAGENT"},
			expected: models.BidStatusAccepted,
			patch:    models.BidStatusCompleted,
			wantSQL:  "UPDATE bids SET status = $4 WHERE task_id = $1 AND agent_wallet = $2 AND status = $3",
			wantArgs: []any{taskID, "0xagent", "accepted", "completed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &scriptDB{tag: pgconn.NewCommandTag("UPDATE 2")}
			n, err := NewPGStore(db).UpdateBidsConditional(context.Background(), tt.filter, tt.expected, store.BidPatch{Status: tt.patch})
			if err != nil {
				t.Fatalf("UpdateBidsConditional: %v", err)
			}
			if n != 2 {
				t.Errorf("rows: got %d, want 2", n)
			}
			if len(db.calls) != 1 {
				t.Fatalf("got %d statements, want 1", len(db.calls))
			}
			if db.calls[0].sql != tt.wantSQL {
				t.Errorf("sql:\n got %q\nwant %q", db.calls[0].sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(db.calls[0].args, tt.wantArgs) {
				t.Errorf("args: got %v, want %v", db.calls[0].args, tt.wantArgs)
			}
		})
	}
}

func TestUpdateBidsConditional_DriverErrorIsInternal(t *testing.T) {
	db := &scriptDB{execErr: &pgconn.PgError{Code: "40001"}}
	_, err := NewPGStore(db).UpdateBidsConditional(context.Background(), store.BidFilter{TaskID: uuid.New()}, models.BidStatusPending, store.BidPatch{Status: models.BidStatusRejected})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("got kind %v, want internal", apperr.KindOf(err))
	}
}

// ---------------------------------------------------------------------------
// UpdateTaskConditional
// ---------------------------------------------------------------------------

func TestUpdateTaskConditional_AppliesPatch(t *testing.T) {
	id := uuid.New()
	db := &scriptDB{rows: []pgx.Row{taskRow(id, models.TaskStatusInProgress, strPtr("0xagent"))}}
	agent := models.Wallet("0xagent")

	got, err := NewPGStore(db).UpdateTaskConditional(context.Background(), id, models.TaskStatusOpen, store.TaskPatch{
		Status:      store.StatusPtr(models.TaskStatusInProgress),
		AgentWallet: &agent,
	})
	if err != nil {
		t.Fatalf("UpdateTaskConditional: %v", err)
	}
	if got.Status != models.TaskStatusInProgress || !got.AssignedTo("0xagent") {
		t.Errorf("got %+v", got)
	}
	if len(db.calls) != 1 {
		t.Fatalf("got %d statements, want 1", len(db.calls))
	}
	call := db.calls[0]
	if !strings.Contains(call.sql, "WHERE id = $1 AND status = $2") {
		t.Errorf("missing CAS predicate in %q", call.sql)
	}
	if call.args[0] != id || call.args[1] != "open" {
		t.Errorf("predicate args: got %v, %v", call.args[0], call.args[1])
	}
	if s, _ := call.args[2].(*string); s == nil || *s != "in_progress" {
		t.Errorf("status arg: got %v", call.args[2])
	}
	if s, _ := call.args[3].(*string); s == nil || *s != "0xagent" {
		t.Errorf("agent arg: got %v", call.args[3])
	}
	if s, _ := call.args[4].(*string); s != nil {
		t.Errorf("payment status arg must be NULL, got %q", *s)
	}
}

func TestUpdateTaskConditional_ZeroRows(t *testing.T) {
	tests := []struct {
		name  string
		rows  []pgx.Row
		want  apperr.Kind
		calls int
	}{
		{"task in another state", []pgx.Row{errRow(pgx.ErrNoRows), valuesRow("in_progress")}, apperr.KindPreconditionFailed, 2},
		{"task missing", []pgx.Row{errRow(pgx.ErrNoRows), errRow(pgx.ErrNoRows)}, apperr.KindNotFound, 2},
		{"driver failure", []pgx.Row{errRow(&pgconn.PgError{Code: "40001"})}, apperr.KindInternal, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.New()
			db := &scriptDB{rows: tt.rows}
			_, err := NewPGStore(db).UpdateTaskConditional(context.Background(), id, models.TaskStatusOpen, store.TaskPatch{
				Status: store.StatusPtr(models.TaskStatusCancelled),
			})
			if got := apperr.KindOf(err); got != tt.want {
				t.Fatalf("got kind %v, want %v (err %v)", got, tt.want, err)
			}
			if len(db.calls) != tt.calls {
				t.Fatalf("got %d statements, want %d", len(db.calls), tt.calls)
			}
			if tt.calls == 2 {
				follow := db.calls[1]
				if !strings.Contains(follow.sql, "SELECT status FROM tasks WHERE id = $1") || follow.args[0] != id {
					t.Errorf("follow-up lookup: got %q %v", follow.sql, follow.args)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// InsertBid
// ---------------------------------------------------------------------------

func TestInsertBid_OnlyWhileTaskOpen(t *testing.T) {
	created := time.Unix(1700000100, 0)
	taskID, bidID := uuid.New(), uuid.New()
	db := &scriptDB{rows: []pgx.Row{valuesRow(created)}}

	got, err := NewPGStore(db).InsertBid(context.Background(), &models.Bid{
		ID:            bidID,
		TaskID:        taskID,
		AgentWallet:   " 0xAgent ",
		BidAmountUSDC: models.MustUSDC("5"),
	})
	if err != nil {
		t.Fatalf("InsertBid: %v", err)
	}
	if !got.CreatedAt.Equal(created) || got.Status != models.BidStatusPending || got.AgentWallet != "0xagent" {
		t.Errorf("got %+v", got)
	}
	if got.ExecutionMetadata == nil {
		t.Error("metadata must default to an empty object")
	}

	call := db.calls[0]
	for _, frag := range []string{"WHERE t.id = $2 AND t.status = 'open'", "FOR SHARE", "RETURNING created_at"} {
		if !strings.Contains(call.sql, frag) {
			t.Errorf("insert is missing %q", frag)
		}
	}
	wantArgs := []any{bidID, taskID, "0xagent", int64(5_000_000), "pending"}
	if !reflect.DeepEqual(call.args[:5], wantArgs) {
		t.Errorf("args: got %v, want %v", call.args[:5], wantArgs)
	}
}

func TestInsertBid_Failures(t *testing.T) {
	tests := []struct {
		name string
		rows []pgx.Row
		want apperr.Kind
	}{
		{"task closed", []pgx.Row{errRow(pgx.ErrNoRows), valuesRow("in_progress")}, apperr.KindPreconditionFailed},
		{"task missing", []pgx.Row{errRow(pgx.ErrNoRows), errRow(pgx.ErrNoRows)}, apperr.KindNotFound},
		{"duplicate wallet", []pgx.Row{errRow(&pgconn.PgError{Code: "23505"})}, apperr.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &scriptDB{rows: tt.rows}
			_, err := NewPGStore(db).InsertBid(context.Background(), &models.Bid{
				TaskID:        uuid.New(),
				AgentWallet:   "0xa",
				BidAmountUSDC: 1,
			})
			if got := apperr.KindOf(err); got != tt.want {
				t.Fatalf("got kind %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Scanning
// ---------------------------------------------------------------------------

func TestGetTask_UnknownStatusIsInternal(t *testing.T) {
	id := uuid.New()
	db := &scriptDB{rows: []pgx.Row{taskRow(id, "archived", nil)}}
	_, err := NewPGStore(db).GetTask(context.Background(), id)
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("got kind %v, want internal", apperr.KindOf(err))
	}
}
