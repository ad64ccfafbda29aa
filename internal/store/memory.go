package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/backend/internal/apperr"
	"github.com/taskmesh/backend/internal/models"
)

// Memory is an in-process Store. Transactions hold the write lock for their
// whole duration and roll back through an undo log, so readers never observe
// a partially applied transaction.
type Memory struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*taskRecord
	bids  map[uuid.UUID]*bidRecord
	seq   uint64
	now   func() time.Time
}

type taskRecord struct {
	task models.Task
	seq  uint64
}

type bidRecord struct {
	bid models.Bid
	seq uint64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[uuid.UUID]*taskRecord),
		bids:  make(map[uuid.UUID]*bidRecord),
		now:   time.Now,
	}
}

func (m *Memory) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTask(id)
}

func (m *Memory) GetBid(_ context.Context, id uuid.UUID) (*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBid(id)
}

func (m *Memory) ListTasks(_ context.Context, filter TaskFilter) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTasks(filter), nil
}

func (m *Memory) ListBids(_ context.Context, filter BidFilter) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBids(filter), nil
}

func (m *Memory) InsertTask(_ context.Context, t *models.Task) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTask(t, nil)
}

func (m *Memory) InsertBid(_ context.Context, b *models.Bid) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBid(b, nil)
}

func (m *Memory) UpdateTaskConditional(_ context.Context, id uuid.UUID, expected models.TaskStatus, patch TaskPatch) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTask(id, expected, patch, nil)
}

func (m *Memory) UpdateBidsConditional(_ context.Context, filter BidFilter, expected models.BidStatus, patch BidPatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBids(filter, expected, patch, nil), nil
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// --- unlocked implementations, shared by Memory and memTx ---

func (m *Memory) getTask(id uuid.UUID) (*models.Task, error) {
	rec, ok := m.tasks[id]
	if !ok {
		return nil, apperr.NotFound("task not found")
	}
	return cloneTask(&rec.task), nil
}

func (m *Memory) getBid(id uuid.UUID) (*models.Bid, error) {
	rec, ok := m.bids[id]
	if !ok {
		return nil, apperr.NotFound("bid not found")
	}
	return cloneBid(&rec.bid), nil
}

func (m *Memory) listTasks(filter TaskFilter) []models.Task {
	recs := make([]*taskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		if filter.Status != "" && rec.task.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && rec.task.PaymentStatus != filter.PaymentStatus {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].task.CreatedAt.Equal(recs[j].task.CreatedAt) {
			return recs[i].task.CreatedAt.Before(recs[j].task.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]models.Task, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *cloneTask(&rec.task))
	}
	return out
}

func (m *Memory) listBids(filter BidFilter) []models.Bid {
	recs := make([]*bidRecord, 0)
	for _, rec := range m.bids {
		if matchBid(&rec.bid, filter) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := &recs[i].bid, &recs[j].bid
		if a.BidAmountUSDC != b.BidAmountUSDC {
			return a.BidAmountUSDC < b.BidAmountUSDC
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]models.Bid, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *cloneBid(&rec.bid))
	}
	return out
}

func (m *Memory) insertTask(t *models.Task, undo *[]func()) (*models.Task, error) {
	rec := &taskRecord{task: *cloneTask(t)}
	if rec.task.ID == uuid.Nil {
		rec.task.ID = uuid.New()
	}
	if _, exists := m.tasks[rec.task.ID]; exists {
		return nil, apperr.Conflict("task %s already exists", rec.task.ID)
	}
	if rec.task.CreatedAt.IsZero() {
		rec.task.CreatedAt = m.now().UTC()
	}
	m.seq++
	rec.seq = m.seq
	m.tasks[rec.task.ID] = rec
	record(undo, func() { delete(m.tasks, rec.task.ID) })
	return cloneTask(&rec.task), nil
}

func (m *Memory) insertBid(b *models.Bid, undo *[]func()) (*models.Bid, error) {
	rec := &bidRecord{bid: *cloneBid(b)}
	if rec.bid.ID == uuid.Nil {
		rec.bid.ID = uuid.New()
	}
	rec.bid.AgentWallet = models.NormalizeWallet(rec.bid.AgentWallet.String())

	task, ok := m.tasks[rec.bid.TaskID]
	if !ok {
		return nil, apperr.NotFound("task not found")
	}
	if task.task.Status != models.TaskStatusOpen {
		return nil, apperr.PreconditionFailed("task is %s", task.task.Status)
	}
	for _, other := range m.bids {
		if other.bid.TaskID == rec.bid.TaskID && other.bid.AgentWallet == rec.bid.AgentWallet {
			return nil, apperr.Conflict("bid already exists for task %s and wallet %s", rec.bid.TaskID, rec.bid.AgentWallet)
		}
	}
	if _, exists := m.bids[rec.bid.ID]; exists {
		return nil, apperr.Conflict("bid %s already exists", rec.bid.ID)
	}
	if rec.bid.Status == "" {
		rec.bid.Status = models.BidStatusPending
	}
	if rec.bid.CreatedAt.IsZero() {
		rec.bid.CreatedAt = m.now().UTC()
	}
	m.seq++
	rec.seq = m.seq
	m.bids[rec.bid.ID] = rec
	record(undo, func() { delete(m.bids, rec.bid.ID) })
	return cloneBid(&rec.bid), nil
}

func (m *Memory) updateTask(id uuid.UUID, expected models.TaskStatus, patch TaskPatch, undo *[]func()) (*models.Task, error) {
	rec, ok := m.tasks[id]
	if !ok {
		return nil, apperr.NotFound("task not found")
	}
	if rec.task.Status != expected {
		return nil, apperr.PreconditionFailed("task status is %s, expected %s", rec.task.Status, expected)
	}
	prev := *cloneTask(&rec.task)
	record(undo, func() { rec.task = prev })

	if patch.Status != nil {
		rec.task.Status = *patch.Status
	}
	if patch.AgentWallet != nil {
		rec.task.AgentWallet = models.WalletPtr(*patch.AgentWallet)
	}
	if patch.PaymentStatus != nil {
		rec.task.PaymentStatus = *patch.PaymentStatus
	}
	if patch.PaymentReference != nil {
		ref := *patch.PaymentReference
		rec.task.PaymentReference = &ref
	}
	return cloneTask(&rec.task), nil
}

func (m *Memory) updateBids(filter BidFilter, expected models.BidStatus, patch BidPatch, undo *[]func()) int64 {
	var n int64
	for _, rec := range m.bids {
		if rec.bid.Status != expected || !matchBid(&rec.bid, filter) {
			continue
		}
		prev := rec.bid.Status
		record(undo, func() { rec.bid.Status = prev })
		rec.bid.Status = patch.Status
		n++
	}
	return n
}

func matchBid(b *models.Bid, f BidFilter) bool {
	if f.TaskID != uuid.Nil && b.TaskID != f.TaskID {
		return false
	}
	if f.ID != uuid.Nil && b.ID != f.ID {
		return false
	}
	if f.ExcludeID != uuid.Nil && b.ID == f.ExcludeID {
		return false
	}
	if !f.AgentWallet.IsZero() && !b.AgentWallet.Equal(f.AgentWallet) {
		return false
	}
	return true
}

func record(undo *[]func(), fn func()) {
	if undo != nil {
		*undo = append(*undo, fn)
	}
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	if t.AgentWallet != nil {
		w := *t.AgentWallet
		c.AgentWallet = &w
	}
	if t.PaymentReference != nil {
		ref := *t.PaymentReference
		c.PaymentReference = &ref
	}
	return &c
}

func cloneBid(b *models.Bid) *models.Bid {
	c := *b
	if b.ExecutionMetadata != nil {
		c.ExecutionMetadata = maps.Clone(b.ExecutionMetadata)
	}
	return &c
}

// memTx is the Store handed to WithTx callbacks. The parent's lock is
// already held, so its methods call the unlocked implementations.
type memTx struct {
	m    *Memory
	undo []func()
}

func (tx *memTx) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	return tx.m.getTask(id)
}

func (tx *memTx) GetBid(_ context.Context, id uuid.UUID) (*models.Bid, error) {
	return tx.m.getBid(id)
}

func (tx *memTx) ListTasks(_ context.Context, filter TaskFilter) ([]models.Task, error) {
	return tx.m.listTasks(filter), nil
}

func (tx *memTx) ListBids(_ context.Context, filter BidFilter) ([]models.Bid, error) {
	return tx.m.listBids(filter), nil
}

func (tx *memTx) InsertTask(_ context.Context, t *models.Task) (*models.Task, error) {
	return tx.m.insertTask(t, &tx.undo)
}

func (tx *memTx) InsertBid(_ context.Context, b *models.Bid) (*models.Bid, error) {
	return tx.m.insertBid(b, &tx.undo)
}

func (tx *memTx) UpdateTaskConditional(_ context.Context, id uuid.UUID, expected models.TaskStatus, patch TaskPatch) (*models.Task, error) {
	return tx.m.updateTask(id, expected, patch, &tx.undo)
}

func (tx *memTx) UpdateBidsConditional(_ context.Context, filter BidFilter, expected models.BidStatus, patch BidPatch) (int64, error) {
	return tx.m.updateBids(filter, expected, patch, &tx.undo), nil
}

// WithTx on an open transaction joins it.
func (tx *memTx) WithTx(_ context.Context, fn func(tx Store) error) error {
	mark := len(tx.undo)
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= mark; i-- {
			tx.undo[i]()
		}
		tx.undo = tx.undo[:mark]
		return err
	}
	return nil
}

func (tx *memTx) Ping(context.Context) error { return nil }
