/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/tomoncle/memberdb/database"
	"github.com/tomoncle/memberdb/types"
)

// TxState is the lifecycle state of a UnitOfWork.
type TxState int

const (
	TxNotStarted TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
	TxClosed
)

var _ types.BaseEnum = TxState(0)

var txStateNames = [...]string{"not-started", "active", "committed", "rolled-back", "closed"}

var txStateDescs = [...]string{
	"no transaction has been started",
	"a transaction is open and changes are being staged",
	"the last transaction was committed",
	"the last transaction was rolled back",
	"the unit of work has released its connection",
}

func (s TxState) IsValid() bool {
	return s >= TxNotStarted && s <= TxClosed
}

func (s TxState) Number() int {
	if !s.IsValid() {
		return types.IllegalValue
	}
	return int(s)
}

func (s TxState) Name() string {
	if !s.IsValid() {
		return types.IllegalName
	}
	return txStateNames[s]
}

func (s TxState) String() string { return s.Name() }

func (s TxState) Desc() string {
	if !s.IsValid() {
		return types.IllegalDesc
	}
	return txStateDescs[s]
}

type entryState int

const (
	entryNew entryState = iota
	entryManaged
	entryRemoved
)

// persister writes one tracked entry of a table. Implemented by the stores.
type persister interface {
	insert(ctx context.Context, db bun.IDB, e *entry) error
	update(ctx context.Context, db bun.IDB, e *entry) (bool, error)
	remove(ctx context.Context, db bun.IDB, e *entry) error
}

type entry struct {
	table     string
	key       any
	record    any
	snapshot  []any
	state     entryState
	persisted bool // the row exists in the table or in the open transaction
	store     persister
}

// UnitOfWork tracks records loaded or created through its stores and writes
// the staged changes atomically on Commit. It holds one connection from
// Begin until Close and is meant to be used by a single goroutine.
type UnitOfWork struct {
	db       *bun.DB
	conn     *bun.Conn
	tx       *bun.Tx
	txOpts   *sql.TxOptions
	state    TxState
	entries  []*entry
	identity map[string]map[any]*entry
	records  map[any]*entry
	logger   database.Logger
	observer TransactionObserver
}

type Option func(*UnitOfWork)

func WithLogger(logger database.Logger) Option {
	return func(u *UnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func WithObserver(observer TransactionObserver) Option {
	return func(u *UnitOfWork) {
		u.observer = observer
	}
}

func WithTxOptions(opts *sql.TxOptions) Option {
	return func(u *UnitOfWork) {
		u.txOpts = opts
	}
}

func NewUnitOfWork(db *bun.DB, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		db:       db,
		logger:   database.GetLogger(),
		identity: make(map[string]map[any]*entry),
		records:  make(map[any]*entry),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *UnitOfWork) State() TxState { return u.state }

func (u *UnitOfWork) IsActive() bool { return u.state == TxActive }

// Contains reports whether rec is tracked and not staged for removal.
func (u *UnitOfWork) Contains(rec any) bool {
	e := u.records[rec]
	return e != nil && e.state != entryRemoved
}

// Begin opens a transaction. It is accepted in every state except Active
// and Closed, so one unit of work can run several transactions in turn.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.state == TxActive || u.state == TxClosed {
		return u.stateError("begin", "")
	}
	if u.conn == nil {
		conn, err := u.db.Conn(ctx)
		if err != nil {
			return newError("begin", "", nil, ErrStorageIO, err)
		}
		u.conn = &conn
	}
	tx, err := u.conn.BeginTx(ctx, u.txOpts)
	if err != nil {
		return newError("begin", "", nil, ErrStorageIO, err)
	}
	u.tx = &tx
	u.state = TxActive
	u.logger.Debug("Transaction started", "tracked", len(u.entries))
	return nil
}

// Commit flushes deletes, then inserts, then updates of every tracked
// record and commits. On failure the transaction is rolled back and the
// unit of work ends up RolledBack.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.state != TxActive {
		return u.stateError("commit", "")
	}
	if err := u.flush(ctx); err != nil {
		return u.fail(err)
	}
	if err := u.tx.Commit(); err != nil {
		u.tx = nil
		u.discard(TxRolledBack)
		u.observe("commit_failed")
		u.logger.Error("Transaction commit failed", "error", err)
		return newError("commit", "", nil, ErrStorageIO, err)
	}
	u.tx = nil
	u.pruneRemoved()
	u.state = TxCommitted
	u.observe("commit")
	u.logger.Debug("Transaction committed", "tracked", len(u.entries))
	return nil
}

// Rollback discards the staged changes and detaches every tracked record.
// Calling it again after a rollback is a no-op.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	switch u.state {
	case TxRolledBack:
		return nil
	case TxActive:
	default:
		return u.stateError("rollback", "")
	}
	err := u.rollbackTx()
	u.observe("rollback")
	if err != nil {
		return newError("rollback", "", nil, ErrStorageIO, err)
	}
	u.logger.Debug("Transaction rolled back")
	return nil
}

// Close rolls back an active transaction and releases the connection. It
// may be called any number of times.
func (u *UnitOfWork) Close() error {
	if u.state == TxClosed {
		return nil
	}
	if u.state == TxActive {
		if err := u.rollbackTx(); err != nil {
			u.logger.Warn("Rollback on close failed", "error", err)
		}
		u.observe("rollback")
	}
	u.discard(TxClosed)
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	if err != nil {
		return newError("close", "", nil, ErrStorageIO, err)
	}
	return nil
}

func (u *UnitOfWork) flush(ctx context.Context) error {
	var deleted, inserted, updated int
	for _, e := range u.entries {
		if e.state == entryRemoved && e.persisted {
			if err := e.store.remove(ctx, u.tx, e); err != nil {
				return err
			}
			e.persisted = false
			deleted++
		}
	}
	for _, e := range u.entries {
		if e.state == entryNew {
			if err := e.store.insert(ctx, u.tx, e); err != nil {
				return err
			}
			e.state = entryManaged
			e.persisted = true
			inserted++
		}
	}
	for _, e := range u.entries {
		if e.state == entryManaged {
			changed, err := e.store.update(ctx, u.tx, e)
			if err != nil {
				return err
			}
			if changed {
				updated++
			}
		}
	}
	if deleted+inserted+updated > 0 {
		u.logger.Debug("Flushed staged changes", "deleted", deleted, "inserted", inserted, "updated", updated)
	}
	return nil
}

// autoFlush writes staged changes to the open transaction so that queries
// see them.
func (u *UnitOfWork) autoFlush(ctx context.Context) error {
	if u.state != TxActive {
		return nil
	}
	if err := u.flush(ctx); err != nil {
		return u.fail(err)
	}
	return nil
}

// fail rolls back an active transaction and returns err.
func (u *UnitOfWork) fail(err error) error {
	if u.state != TxActive {
		return err
	}
	if rbErr := u.rollbackTx(); rbErr != nil {
		u.logger.Error("Rollback after failure failed", "error", rbErr)
	}
	u.observe("rollback")
	u.logger.Warn("Transaction rolled back", "error", err)
	return err
}

func (u *UnitOfWork) rollbackTx() error {
	var err error
	if u.tx != nil {
		err = u.tx.Rollback()
		u.tx = nil
	}
	u.discard(TxRolledBack)
	return err
}

// discard detaches every tracked record and moves to state.
func (u *UnitOfWork) discard(state TxState) {
	u.entries = nil
	u.identity = make(map[string]map[any]*entry)
	u.records = make(map[any]*entry)
	u.state = state
}

func (u *UnitOfWork) pruneRemoved() {
	kept := u.entries[:0]
	for _, e := range u.entries {
		if e.state == entryRemoved {
			u.forget(e)
			continue
		}
		kept = append(kept, e)
	}
	u.entries = kept
}

// idb returns the handle reads and writes go through.
func (u *UnitOfWork) idb() bun.IDB {
	if u.tx != nil {
		return u.tx
	}
	if u.conn != nil {
		return u.conn
	}
	return u.db
}

func (u *UnitOfWork) lookup(table string, key any) *entry {
	return u.identity[table][key]
}

func (u *UnitOfWork) entryOf(rec any) *entry {
	return u.records[rec]
}

func (u *UnitOfWork) attach(e *entry) {
	byKey, ok := u.identity[e.table]
	if !ok {
		byKey = make(map[any]*entry)
		u.identity[e.table] = byKey
	}
	byKey[e.key] = e
	u.records[e.record] = e
	u.entries = append(u.entries, e)
}

// detach stops tracking e immediately.
func (u *UnitOfWork) detach(e *entry) {
	u.forget(e)
	for i, other := range u.entries {
		if other == e {
			u.entries = append(u.entries[:i], u.entries[i+1:]...)
			break
		}
	}
}

func (u *UnitOfWork) forget(e *entry) {
	if u.identity[e.table][e.key] == e {
		delete(u.identity[e.table], e.key)
	}
	if u.records[e.record] == e {
		delete(u.records, e.record)
	}
}

func (u *UnitOfWork) requireActive(op, table string) error {
	if u.state != TxActive {
		return u.stateError(op, table)
	}
	return nil
}

func (u *UnitOfWork) requireOpen(op, table string) error {
	if u.state == TxClosed {
		return u.stateError(op, table)
	}
	return nil
}

func (u *UnitOfWork) stateError(op, table string) error {
	return newError(op, table, nil, ErrTransactionState, fmt.Errorf("unit of work is %s", u.state))
}

func (u *UnitOfWork) observe(outcome string) {
	if u.observer != nil {
		u.observer.ObserveTransaction(outcome)
	}
}
