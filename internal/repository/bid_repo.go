package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/store"
)

const bidColumns = `id, task_id, agent_wallet, amount_micros, status, execution_metadata, created_at`

func scanBid(row pgx.Row) (*models.Bid, error) {
	var (
		b      models.Bid
		wallet string
		amount int64
		status string
	)
	if err := row.Scan(&b.ID, &b.TaskID, &wallet, &amount, &status, &b.ExecutionMetadata, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.AgentWallet = models.NormalizeWallet(wallet)
	b.BidAmountUSDC = models.USDC(amount)
	b.Status = models.BidStatus(status)
	if !b.Status.Valid() {
		return nil, fmt.Errorf("bid %s has unknown status %q", b.ID, status)
	}
	return &b, nil
}

func bidWhere(filter store.BidFilter) where {
	var w where
	if filter.TaskID != uuid.Nil {
		w.add("task_id = $%d", filter.TaskID)
	}
	if filter.ID != uuid.Nil {
		w.add("id = $%d", filter.ID)
	}
	if filter.ExcludeID != uuid.Nil {
		w.add("id <> $%d", filter.ExcludeID)
	}
	if !filter.AgentWallet.IsZero() {
		w.add("agent_wallet = $%d", models.NormalizeWallet(filter.AgentWallet.String()).String())
	}
	return w
}

func (s *PGStore) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	b, err := scanBid(s.q.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgErr(err, "bid")
	}
	return b, nil
}

func (s *PGStore) ListBids(ctx context.Context, filter store.BidFilter) ([]models.Bid, error) {
	w := bidWhere(filter)
	rows, err := s.q.Query(ctx, `SELECT `+bidColumns+` FROM bids`+w.sql()+` ORDER BY amount_micros ASC, created_at ASC, id ASC`, w.args...)
	if err != nil {
		return nil, mapPgErr(err, "bids")
	}
	defer rows.Close()

	list := []models.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, mapPgErr(err, "bids")
		}
		list = append(list, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "bids")
	}
	return list, nil
}

// InsertBid inserts only while the task is open. FOR SHARE holds the task
// row until commit so an accept running concurrently either sees this bid in
// its sibling sweep or makes this insert match nothing.
func (s *PGStore) InsertBid(ctx context.Context, b *models.Bid) (*models.Bid, error) {
	out := *b
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.Status == "" {
		out.Status = models.BidStatusPending
	}
	out.AgentWallet = models.NormalizeWallet(out.AgentWallet.String())
	meta := out.ExecutionMetadata
	if meta == nil {
		meta = map[string]any{}
	}

	var createdAt time.Time
	err := s.q.QueryRow(ctx, `
		INSERT INTO bids (id, task_id, agent_wallet, amount_micros, status, execution_metadata)
		SELECT $1::uuid, t.id, $3::text, $4::bigint, $5::text, $6::jsonb
		FROM tasks t
		WHERE t.id = $2 AND t.status = 'open'
		FOR SHARE
		RETURNING created_at
	`, out.ID, out.TaskID, out.AgentWallet.String(), int64(out.BidAmountUSDC), string(out.Status), meta).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.taskPreconditionErr(ctx, out.TaskID, string(models.TaskStatusOpen))
	}
	if err != nil {
		return nil, mapPgErr(err, "bid")
	}
	out.CreatedAt = createdAt
	out.ExecutionMetadata = meta
	return &out, nil
}

func (s *PGStore) UpdateBidsConditional(ctx context.Context, filter store.BidFilter, expected models.BidStatus, patch store.BidPatch) (int64, error) {
	w := bidWhere(filter)
	w.add("status = $%d", string(expected))
	w.args = append(w.args, string(patch.Status))
	sql := `UPDATE bids SET status = $` + strconv.Itoa(len(w.args)) + w.sql()

	tag, err := s.q.Exec(ctx, sql, w.args...)
	if err != nil {
		return 0, mapPgErr(err, "bid")
	}
	return tag.RowsAffected(), nil
}
