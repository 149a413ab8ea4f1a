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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tomoncle/memberdb/database"
	"github.com/tomoncle/memberdb/types"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, filepath.Join(t.TempDir(), "repository.db"))
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	registry := database.NewTableRegistry()
	registry.Register(personMapping().Definition())
	require.NoError(t, database.NewSchemaManager(db, registry, database.NopLogger{}).CreateTables(context.Background()))
	return db
}

type outcomeRecorder struct {
	outcomes []string
}

func (r *outcomeRecorder) ObserveTransaction(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func newTestUnitOfWork(t *testing.T, db *bun.DB, opts ...Option) (*UnitOfWork, RecordStore[person]) {
	t.Helper()
	uow := NewUnitOfWork(db, append([]Option{WithLogger(database.NopLogger{})}, opts...)...)
	t.Cleanup(func() { _ = uow.Close() })
	store, err := NewStore(uow, personMapping())
	require.NoError(t, err)
	return uow, store
}

func seed(t *testing.T, db *bun.DB, people ...*person) {
	t.Helper()
	ctx := context.Background()
	uow, store := newTestUnitOfWork(t, db)
	require.NoError(t, uow.Begin(ctx))
	for _, p := range people {
		require.NoError(t, store.Create(ctx, p))
	}
	require.NoError(t, uow.Commit(ctx))
	require.NoError(t, uow.Close())
}

// load reads a row through a fresh unit of work.
func load(t *testing.T, db *bun.DB, id int64) (*person, error) {
	t.Helper()
	uow, store := newTestUnitOfWork(t, db)
	defer func() { _ = uow.Close() }()
	return store.Find(context.Background(), id)
}

func TestTxStateEnum(t *testing.T) {
	var _ types.BaseEnum = TxActive
	assert.Equal(t, "active", TxActive.String())
	assert.Equal(t, "rolled-back", TxRolledBack.Name())
	assert.Equal(t, 4, TxClosed.Number())
	assert.NotEmpty(t, TxCommitted.Desc())

	invalid := TxState(42)
	assert.False(t, invalid.IsValid())
	assert.Equal(t, types.IllegalValue, invalid.Number())
	assert.Equal(t, types.IllegalName, invalid.Name())
	assert.Equal(t, types.IllegalDesc, invalid.Desc())
}

func TestUnitOfWorkStateMachine(t *testing.T) {
	ctx := context.Background()
	rec := &outcomeRecorder{}
	uow, _ := newTestUnitOfWork(t, newTestDB(t), WithObserver(rec))

	assert.Equal(t, TxNotStarted, uow.State())
	assert.ErrorIs(t, uow.Commit(ctx), ErrTransactionState)
	assert.ErrorIs(t, uow.Rollback(ctx), ErrTransactionState)

	require.NoError(t, uow.Begin(ctx))
	assert.True(t, uow.IsActive())
	assert.ErrorIs(t, uow.Begin(ctx), ErrTransactionState)
	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, TxCommitted, uow.State())
	assert.ErrorIs(t, uow.Commit(ctx), ErrTransactionState)
	assert.ErrorIs(t, uow.Rollback(ctx), ErrTransactionState)

	require.NoError(t, uow.Begin(ctx), "a committed unit of work can start another transaction")
	require.NoError(t, uow.Rollback(ctx))
	require.NoError(t, uow.Rollback(ctx), "rollback is idempotent")
	assert.Equal(t, TxRolledBack, uow.State())

	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, uow.Close())
	assert.Equal(t, TxClosed, uow.State())
	require.NoError(t, uow.Close(), "close is idempotent")
	assert.ErrorIs(t, uow.Begin(ctx), ErrTransactionState)
	assert.ErrorIs(t, uow.Rollback(ctx), ErrTransactionState)
	assert.ErrorIs(t, uow.Commit(ctx), ErrTransactionState)

	assert.Equal(t, []string{"commit", "rollback", "rollback"}, rec.outcomes)
}

func TestMutationsRequireActiveTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seed(t, db, &person{ID: 1, Name: "a"})

	uow, store := newTestUnitOfWork(t, db)
	p, err := store.Find(ctx, 1)
	require.NoError(t, err, "reads work before begin")

	var re *Error
	err = store.Create(ctx, &person{ID: 2, Name: "b"})
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "create", re.Op)
	assert.ErrorIs(t, err, ErrTransactionState)
	assert.ErrorIs(t, store.Update(ctx, p), ErrTransactionState)
	assert.ErrorIs(t, store.Delete(ctx, p), ErrTransactionState)
	assert.Equal(t, TxNotStarted, uow.State())

	require.NoError(t, uow.Close())
	_, err = store.Find(ctx, 1)
	assert.ErrorIs(t, err, ErrTransactionState)
	_, err = store.ListPaged(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrTransactionState)
	_, err = store.Page(ctx, nil)
	assert.ErrorIs(t, err, ErrTransactionState)
}

func TestRollbackDiscardsStagedChanges(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seed(t, db, &person{ID: 1, Name: "a"})

	uow, store := newTestUnitOfWork(t, db)
	require.NoError(t, uow.Begin(ctx))
	created := &person{ID: 99, Name: "X"}
	require.NoError(t, store.Create(ctx, created))
	loaded, err := store.Find(ctx, 1)
	require.NoError(t, err)
	loaded.Name = "changed"
	require.NoError(t, store.Update(ctx, loaded))
	// push the staged rows into the transaction before rolling back
	_, err = store.ListPaged(ctx, 0, 10)
	require.NoError(t, err)

	require.NoError(t, uow.Rollback(ctx))
	assert.False(t, uow.Contains(created))
	assert.False(t, uow.Contains(loaded))

	_, err = store.Find(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	again, err := store.Find(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, loaded, again)
	assert.Equal(t, "a", again.Name)
}

func TestCloseRollsBackActiveTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rec := &outcomeRecorder{}

	uow, store := newTestUnitOfWork(t, db, WithObserver(rec))
	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, store.Create(ctx, &person{ID: 5, Name: "e"}))
	_, err := store.ListPaged(ctx, 0, 1)
	require.NoError(t, err)
	require.NoError(t, uow.Close())

	_, err = load(t, db, 5)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"rollback"}, rec.outcomes)
}

func TestCommitKeepsTrackedRecords(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	uow, store := newTestUnitOfWork(t, db)
	require.NoError(t, uow.Begin(ctx))
	p := &person{ID: 1, Name: "a"}
	require.NoError(t, store.Create(ctx, p))
	require.NoError(t, uow.Commit(ctx))
	assert.True(t, uow.Contains(p))

	// a mutation without Update is picked up by the next commit
	require.NoError(t, uow.Begin(ctx))
	p.Name = "b"
	require.NoError(t, uow.Commit(ctx))
	require.NoError(t, uow.Close())

	stored, err := load(t, db, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", stored.Name)
}
