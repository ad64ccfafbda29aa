package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskmesh/backend/internal/apperr"
	"github.com/taskmesh/backend/internal/models"
	"github.com/taskmesh/backend/internal/store"
)

const taskColumns = `id, title, description, bounty_micros, status, creator_wallet, agent_wallet, payment_status, payment_reference, created_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		t             models.Task
		bounty        int64
		status        string
		creator       string
		agent         *string
		paymentStatus string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &bounty, &status, &creator, &agent, &paymentStatus, &t.PaymentReference, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.BountyUSD = models.USDC(bounty)
	t.Status = models.TaskStatus(status)
	if !t.Status.Valid() {
		return nil, fmt.Errorf("task %s has unknown status %q", t.ID, status)
	}
	t.CreatorWallet = models.NormalizeWallet(creator)
	if agent != nil {
		t.AgentWallet = models.WalletPtr(models.NormalizeWallet(*agent))
	}
	t.PaymentStatus = models.PaymentStatus(paymentStatus)
	return &t, nil
}

func (s *PGStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(s.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgErr(err, "task")
	}
	return t, nil
}

func (s *PGStore) ListTasks(ctx context.Context, filter store.TaskFilter) ([]models.Task, error) {
	var w where
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		w.add("payment_status = $%d", string(filter.PaymentStatus))
	}

	rows, err := s.q.Query(ctx, `SELECT `+taskColumns+` FROM tasks`+w.sql()+` ORDER BY created_at ASC, id ASC`, w.args...)
	if err != nil {
		return nil, mapPgErr(err, "tasks")
	}
	defer rows.Close()

	list := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, mapPgErr(err, "tasks")
		}
		list = append(list, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "tasks")
	}
	return list, nil
}

func (s *PGStore) InsertTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	out := *t
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	var agent *string
	if out.AgentWallet != nil {
		v := out.AgentWallet.String()
		agent = &v
	}
	var createdAt time.Time
	err := s.q.QueryRow(ctx, `
		INSERT INTO tasks (id, title, description, bounty_micros, status, creator_wallet, agent_wallet, payment_status, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, out.ID, out.Title, out.Description, int64(out.BountyUSD), string(out.Status), out.CreatorWallet.String(), agent, string(out.PaymentStatus), out.PaymentReference).Scan(&createdAt)
	if err != nil {
		return nil, mapPgErr(err, "task")
	}
	out.CreatedAt = createdAt
	return &out, nil
}

// UpdateTaskConditional applies patch only while the row still has the
// expected status. The UPDATE's row lock makes concurrent callers queue; the
// loser re-evaluates the predicate after the winner commits and matches nothing.
func (s *PGStore) UpdateTaskConditional(ctx context.Context, id uuid.UUID, expected models.TaskStatus, patch store.TaskPatch) (*models.Task, error) {
	var status, agent, paymentStatus *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	if patch.AgentWallet != nil {
		v := patch.AgentWallet.String()
		agent = &v
	}
	if patch.PaymentStatus != nil {
		v := string(*patch.PaymentStatus)
		paymentStatus = &v
	}

	t, err := scanTask(s.q.QueryRow(ctx, `
		UPDATE tasks SET
			status = COALESCE($3::text, status),
			agent_wallet = COALESCE($4::text, agent_wallet),
			payment_status = COALESCE($5::text, payment_status),
			payment_reference = COALESCE($6::text, payment_reference)
		WHERE id = $1 AND status = $2
		RETURNING `+taskColumns,
		id, string(expected), status, agent, paymentStatus, patch.PaymentReference))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapPgErr(err, "task")
	}
	return nil, s.taskPreconditionErr(ctx, id, string(expected))
}

// taskPreconditionErr explains a zero-row conditional write: the task is
// either gone or in another state.
func (s *PGStore) taskPreconditionErr(ctx context.Context, id uuid.UUID, expected string) error {
	var current string
	err := s.q.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return mapPgErr(err, "task")
	}
	return apperr.PreconditionFailed("task status is %s, expected %s", current, expected)
}
