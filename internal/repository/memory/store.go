// Package memory keeps every aggregate in process. Each row carries its own
// write lock, so writers only contend when they touch the same aggregate.
// Writes made inside TxManager.Do stay invisible to other callers and keep
// their rows locked until the transaction commits or rolls back.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type Store struct {
	Tx        *TxManager
	Orders    *OrderRepo
	Coupons   *CouponRepo
	Resources *ResourceRepo
	Customers *CustomerRepo
}

func NewStore() *Store {
	return &Store{
		Tx:        &TxManager{},
		Orders:    NewOrderRepo(),
		Coupons:   NewCouponRepo(),
		Resources: NewResourceRepo(),
		Customers: NewCustomerRepo(),
	}
}

type journalKey struct{}

// journal tracks one transaction: index changes to undo on rollback and the
// rows it holds locked until it settles.
type journal struct {
	mu     sync.Mutex
	undo   []func()
	settle []func(commit bool)
}

func (j *journal) finish(commit bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !commit {
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
	}
	for _, fn := range j.settle {
		fn(commit)
	}
	j.undo, j.settle = nil, nil
}

func (j *journal) onSettle(fn func(commit bool)) {
	j.mu.Lock()
	j.settle = append(j.settle, fn)
	j.mu.Unlock()
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

// onRollback registers fn to run if the surrounding transaction fails.
// Outside a transaction writes are final and fn is dropped.
func onRollback(ctx context.Context, fn func()) {
	if j := journalFrom(ctx); j != nil {
		j.mu.Lock()
		j.undo = append(j.undo, fn)
		j.mu.Unlock()
	}
}

type TxManager struct{}

func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if journalFrom(ctx) != nil {
		return fn(ctx)
	}

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.finish(false)
		return err
	}
	// a cancelled context aborts the commit, as database/sql does
	if err := ctx.Err(); err != nil {
		j.finish(false)
		return fmt.Errorf("commit: %w", err)
	}
	j.finish(true)
	return nil
}

// row holds the committed value and, while a transaction writes it, that
// transaction's pending value. Other callers read the committed value and
// wait on lock to write. Stored values are never mutated in place.
type row[T any] struct {
	lock    chan struct{}
	mu      sync.Mutex
	val     *T
	pending *T
	owner   *journal
}

func newRow[T any]() *row[T] {
	return &row[T]{lock: make(chan struct{}, 1)}
}

type table[T any] struct {
	mu    sync.RWMutex
	rows  map[string]*row[T]
	clone func(*T) *T
}

func newTable[T any](clone func(*T) *T) *table[T] {
	return &table[T]{rows: make(map[string]*row[T]), clone: clone}
}

func (t *table[T]) get(id string) (*row[T], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[id]
	return r, ok
}

// visible returns the value ctx may see: its own pending write, otherwise
// the committed one. Nil means no committed row.
func (t *table[T]) visible(ctx context.Context, r *row[T]) *T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j := journalFrom(ctx); j != nil && r.owner == j {
		return r.pending
	}
	return r.val
}

// insert adds a row. Inside a transaction the row stays invisible to others
// until commit and is dropped on rollback.
func (t *table[T]) insert(ctx context.Context, id string, v *T) bool {
	r := newRow[T]()
	j := journalFrom(ctx)
	if j == nil {
		r.val = t.clone(v)
	} else {
		r.lock <- struct{}{}
		r.owner = j
		r.pending = t.clone(v)
	}

	t.mu.Lock()
	if _, ok := t.rows[id]; ok {
		t.mu.Unlock()
		return false
	}
	t.rows[id] = r
	t.mu.Unlock()

	if j != nil {
		j.onSettle(func(commit bool) { t.settle(id, r, commit) })
	}
	return true
}

func (t *table[T]) settle(id string, r *row[T], commit bool) {
	r.mu.Lock()
	if commit {
		r.val = r.pending
	}
	r.pending, r.owner = nil, nil
	gone := r.val == nil
	r.mu.Unlock()

	if gone {
		t.mu.Lock()
		if t.rows[id] == r {
			delete(t.rows, id)
		}
		t.mu.Unlock()
	}
	<-r.lock
}

// acquire takes the write lock on r. Inside a transaction the lock is held
// until the transaction settles and done is a no-op; outside, done releases
// it. Waiting gives up when ctx ends.
func (t *table[T]) acquire(ctx context.Context, id string, r *row[T]) (done func(), err error) {
	j := journalFrom(ctx)
	if j != nil {
		r.mu.Lock()
		mine := r.owner == j
		r.mu.Unlock()
		if mine {
			return func() {}, nil
		}
	}

	select {
	case r.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("row %s lock wait: %w", id, ctx.Err())
	}
	if j == nil {
		return func() { <-r.lock }, nil
	}

	r.mu.Lock()
	r.owner = j
	r.pending = r.val
	r.mu.Unlock()
	j.onSettle(func(commit bool) { t.settle(id, r, commit) })
	return func() {}, nil
}

func (t *table[T]) read(ctx context.Context, id string) *T {
	r, ok := t.get(id)
	if !ok {
		return nil
	}
	if v := t.visible(ctx, r); v != nil {
		return t.clone(v)
	}
	return nil
}

// lockRead reads the latest committed value under the write lock, like
// SELECT ... FOR UPDATE.
func (t *table[T]) lockRead(ctx context.Context, id string) (*T, error) {
	r, ok := t.get(id)
	if !ok {
		return nil, nil
	}
	done, err := t.acquire(ctx, id, r)
	if err != nil {
		return nil, err
	}
	defer done()
	if v := t.visible(ctx, r); v != nil {
		return t.clone(v), nil
	}
	return nil, nil
}

type entry[T any] struct {
	id  string
	row *row[T]
}

func (t *table[T]) all() []entry[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]entry[T], 0, len(t.rows))
	for id, r := range t.rows {
		out = append(out, entry[T]{id: id, row: r})
	}
	return out
}

func (t *table[T]) snapshot(ctx context.Context) []T {
	rows := t.all()
	out := make([]T, 0, len(rows))
	for _, e := range rows {
		if v := t.visible(ctx, e.row); v != nil {
			out = append(out, *t.clone(v))
		}
	}
	return out
}

// update applies fn to a copy of the row under its write lock and keeps the
// copy only when fn succeeds. A missing row yields (nil, nil).
func (t *table[T]) update(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	r, ok := t.get(id)
	if !ok {
		return nil, nil
	}
	return t.updateRow(ctx, id, r, fn)
}

func (t *table[T]) updateRow(ctx context.Context, id string, r *row[T], fn func(*T) error) (*T, error) {
	done, err := t.acquire(ctx, id, r)
	if err != nil {
		return nil, err
	}
	defer done()

	cur := t.visible(ctx, r)
	if cur == nil {
		return nil, nil
	}
	next := t.clone(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.owner != nil {
		r.pending = next
	} else {
		r.val = next
	}
	r.mu.Unlock()
	return t.clone(next), nil
}

var errNoMatch = errors.New("row no longer matches")

// updateWhere applies fn to every row match accepts, re-checking match under
// each row's lock. It returns how many rows changed.
func (t *table[T]) updateWhere(ctx context.Context, match func(*T) bool, fn func(*T)) (int64, error) {
	var n int64
	for _, e := range t.all() {
		if v := t.visible(ctx, e.row); v == nil || !match(v) {
			continue
		}
		got, err := t.updateRow(ctx, e.id, e.row, func(v *T) error {
			if !match(v) {
				return errNoMatch
			}
			fn(v)
			return nil
		})
		if errors.Is(err, errNoMatch) {
			continue
		}
		if err != nil {
			return n, err
		}
		if got != nil {
			n++
		}
	}
	return n, nil
}
