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
	"errors"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"

	"github.com/tomoncle/memberdb/types"
)

type recordStore[T any] struct {
	uow     *UnitOfWork
	mapping *Mapping[T]
	pk      int
}

var _ persister = (*recordStore[struct{}])(nil)

// NewStore returns a RecordStore for mapping bound to uow.
func NewStore[T any](uow *UnitOfWork, mapping *Mapping[T]) (RecordStore[T], error) {
	if uow == nil {
		return nil, errors.New("unit of work cannot be nil")
	}
	if err := mapping.Verify(); err != nil {
		return nil, err
	}
	return &recordStore[T]{uow: uow, mapping: mapping, pk: mapping.primaryKey()}, nil
}

func (s *recordStore[T]) Create(ctx context.Context, rec *T) error {
	const op = "create"
	table := s.mapping.Table
	if err := s.uow.requireActive(op, table); err != nil {
		return err
	}
	if rec == nil {
		return s.uow.fail(newError(op, table, nil, ErrInvalidRecord, errors.New("record is nil")))
	}
	key := s.keyOf(rec)
	if err := s.mapping.check(rec); err != nil {
		return s.uow.fail(newError(op, table, key, ErrInvalidRecord, err))
	}

	if e := s.uow.entryOf(rec); e != nil && e.state != entryRemoved {
		if !reflect.DeepEqual(e.key, key) {
			return s.uow.fail(newError(op, table, e.key, ErrImmutableKey, nil))
		}
		return nil
	}

	skipStorageCheck := false
	if existing := s.uow.lookup(table, key); existing != nil {
		switch {
		case existing.state != entryRemoved:
			return s.uow.fail(newError(op, table, key, ErrDuplicateKey, errors.New("key is already tracked")))
		case existing.record == any(rec):
			if existing.persisted {
				existing.state = entryManaged
			} else {
				existing.state = entryNew
			}
			return nil
		default:
			// the staged delete runs before the insert
			skipStorageCheck = true
		}
	}
	if !skipStorageCheck {
		found, err := s.exists(ctx, key)
		if err != nil {
			return s.uow.fail(storageError(op, table, key, err))
		}
		if found {
			return s.uow.fail(newError(op, table, key, ErrDuplicateKey, errors.New("key already stored")))
		}
	}

	s.uow.attach(&entry{table: table, key: key, record: rec, state: entryNew, store: s})
	s.uow.logger.Debug("Record staged for insert", "table", table, "key", key)
	return nil
}

func (s *recordStore[T]) Find(ctx context.Context, key any) (*T, error) {
	const op = "find"
	table := s.mapping.Table
	if err := s.uow.requireOpen(op, table); err != nil {
		return nil, err
	}
	k, err := s.mapping.normalizeKey(key)
	if err != nil {
		return nil, newError(op, table, key, ErrInvalidRecord, err)
	}
	if e := s.uow.lookup(table, k); e != nil {
		if e.state == entryRemoved {
			return nil, newError(op, table, k, ErrNotFound, nil)
		}
		return e.record.(*T), nil
	}

	rec := s.mapping.New()
	err = s.selectQuery().
		Where("? = ?", bun.Ident(s.pkName()), k).
		Scan(ctx, s.mapping.scanDest(rec)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(op, table, k, ErrNotFound, nil)
		}
		return nil, s.uow.fail(storageError(op, table, k, err))
	}
	return s.manage(rec, k), nil
}

// Update validates rec; its changed columns are written when the unit of
// work commits.
func (s *recordStore[T]) Update(ctx context.Context, rec *T) error {
	const op = "update"
	table := s.mapping.Table
	if err := s.uow.requireActive(op, table); err != nil {
		return err
	}
	if rec == nil {
		return s.uow.fail(newError(op, table, nil, ErrInvalidRecord, errors.New("record is nil")))
	}
	e := s.uow.entryOf(rec)
	if e == nil {
		return s.uow.fail(newError(op, table, s.keyOf(rec), ErrNotTracked, nil))
	}
	if e.state == entryRemoved {
		return s.uow.fail(newError(op, table, e.key, ErrNotFound, errors.New("record is staged for removal")))
	}
	if !reflect.DeepEqual(s.keyOf(rec), e.key) {
		return s.uow.fail(newError(op, table, e.key, ErrImmutableKey, nil))
	}
	if err := s.mapping.check(rec); err != nil {
		return s.uow.fail(newError(op, table, e.key, ErrInvalidRecord, err))
	}
	if e.state == entryNew {
		return nil
	}

	changed := s.changedColumns(e)
	if len(changed) == 0 {
		return nil
	}
	s.uow.logger.Debug("Record staged for update", "table", table, "key", e.key, "columns", changed)
	return nil
}

func (s *recordStore[T]) Delete(ctx context.Context, rec *T) error {
	const op = "delete"
	table := s.mapping.Table
	if err := s.uow.requireActive(op, table); err != nil {
		return err
	}
	if rec == nil {
		return s.uow.fail(newError(op, table, nil, ErrInvalidRecord, errors.New("record is nil")))
	}
	e := s.uow.entryOf(rec)
	if e == nil {
		return s.uow.fail(newError(op, table, s.keyOf(rec), ErrNotTracked, nil))
	}
	if e.state == entryRemoved {
		return s.uow.fail(newError(op, table, e.key, ErrNotFound, errors.New("record is already staged for removal")))
	}
	if !e.persisted {
		s.uow.detach(e)
		s.uow.logger.Debug("Pending insert cancelled", "table", table, "key", e.key)
		return nil
	}
	e.state = entryRemoved
	s.uow.logger.Debug("Record staged for delete", "table", table, "key", e.key)
	return nil
}

func (s *recordStore[T]) ListPaged(ctx context.Context, offset, limit int) ([]*T, error) {
	const op = "list"
	table := s.mapping.Table
	if err := s.uow.requireOpen(op, table); err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 {
		return nil, newError(op, table, nil, ErrInvalidPage, fmt.Errorf("offset=%d limit=%d", offset, limit))
	}
	if limit == 0 {
		return []*T{}, nil
	}
	if err := s.uow.autoFlush(ctx); err != nil {
		return nil, err
	}
	return s.list(ctx, op, offset, limit, nil)
}

func (s *recordStore[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	const op = "page"
	table := s.mapping.Table
	if err := s.uow.requireOpen(op, table); err != nil {
		return nil, err
	}
	if page == nil {
		page = types.NewPageRequest(0, types.DefaultPageSize)
	}
	if err := s.uow.autoFlush(ctx); err != nil {
		return nil, err
	}

	pagination := types.NewDefaultPagination[T](page.GetOffset(), page.GetLimit())
	total, err := s.uow.idb().NewSelect().TableExpr("?", bun.Ident(table)).Count(ctx)
	if err != nil {
		return nil, s.uow.fail(storageError(op, table, nil, err))
	}
	if total == 0 {
		return pagination, nil
	}
	items, err := s.list(ctx, op, page.GetOffset(), page.GetLimit(), page.GetOrders())
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = items
	return pagination, nil
}

func (s *recordStore[T]) list(ctx context.Context, op string, offset, limit int, orders []string) ([]*T, error) {
	table := s.mapping.Table
	q := s.selectQuery().Offset(offset).Limit(limit)
	if len(orders) > 0 {
		q = q.Order(orders...)
	}
	rows, err := q.Rows(ctx)
	if err != nil {
		return nil, s.uow.fail(storageError(op, table, nil, err))
	}
	items, err := s.scanRows(rows, limit)
	if closeErr := rows.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, s.uow.fail(storageError(op, table, nil, err))
	}
	return items, nil
}

func (s *recordStore[T]) scanRows(rows *sql.Rows, limit int) ([]*T, error) {
	table := s.mapping.Table
	items := make([]*T, 0, limit)
	for rows.Next() {
		rec := s.mapping.New()
		if err := rows.Scan(s.mapping.scanDest(rec)...); err != nil {
			return nil, err
		}
		key := s.keyOf(rec)
		if e := s.uow.lookup(table, key); e != nil {
			if e.state != entryRemoved {
				items = append(items, e.record.(*T))
			}
			continue
		}
		items = append(items, s.manage(rec, key))
	}
	return items, rows.Err()
}

func (s *recordStore[T]) insert(ctx context.Context, db bun.IDB, e *entry) error {
	const op = "insert"
	table := s.mapping.Table
	rec := e.record.(*T)
	if !reflect.DeepEqual(s.keyOf(rec), e.key) {
		return newError(op, table, e.key, ErrImmutableKey, nil)
	}
	if err := s.mapping.check(rec); err != nil {
		return newError(op, table, e.key, ErrInvalidRecord, err)
	}

	values := make(map[string]any, len(s.mapping.Columns))
	for _, c := range s.mapping.Columns {
		values[c.Name] = c.Value(rec)
	}
	if _, err := db.NewInsert().Model(&values).TableExpr("?", bun.Ident(table)).Exec(ctx); err != nil {
		return storageError(op, table, e.key, err)
	}
	e.snapshot = s.mapping.snapshot(rec)
	return nil
}

// update writes the columns that differ from the snapshot. It reports
// whether anything was written.
func (s *recordStore[T]) update(ctx context.Context, db bun.IDB, e *entry) (bool, error) {
	const op = "update"
	table := s.mapping.Table
	rec := e.record.(*T)
	changed := s.changedColumns(e)
	if len(changed) == 0 {
		return false, nil
	}
	if !reflect.DeepEqual(s.keyOf(rec), e.key) {
		return false, newError(op, table, e.key, ErrImmutableKey, nil)
	}
	if err := s.mapping.check(rec); err != nil {
		return false, newError(op, table, e.key, ErrInvalidRecord, err)
	}

	values := make(map[string]any, len(changed))
	for _, name := range changed {
		for _, c := range s.mapping.Columns {
			if c.Name == name {
				values[name] = c.Value(rec)
			}
		}
	}
	res, err := db.NewUpdate().
		Model(&values).
		TableExpr("?", bun.Ident(table)).
		Where("? = ?", bun.Ident(s.pkName()), e.key).
		Exec(ctx)
	if err != nil {
		return false, storageError(op, table, e.key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, newError(op, table, e.key, ErrNotFound, errors.New("row no longer exists"))
	}
	e.snapshot = s.mapping.snapshot(rec)
	return true, nil
}

func (s *recordStore[T]) remove(ctx context.Context, db bun.IDB, e *entry) error {
	const op = "delete"
	table := s.mapping.Table
	res, err := db.NewDelete().
		TableExpr("?", bun.Ident(table)).
		Where("? = ?", bun.Ident(s.pkName()), e.key).
		Exec(ctx)
	if err != nil {
		return storageError(op, table, e.key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return newError(op, table, e.key, ErrNotFound, errors.New("row no longer exists"))
	}
	return nil
}

func (s *recordStore[T]) selectQuery() *bun.SelectQuery {
	q := s.uow.idb().NewSelect().TableExpr("?", bun.Ident(s.mapping.Table))
	for _, name := range s.mapping.columnNames() {
		q = q.ColumnExpr("?", bun.Ident(name))
	}
	return q
}

func (s *recordStore[T]) exists(ctx context.Context, key any) (bool, error) {
	var one int
	err := s.uow.idb().NewSelect().
		TableExpr("?", bun.Ident(s.mapping.Table)).
		ColumnExpr("1").
		Where("? = ?", bun.Ident(s.pkName()), key).
		Limit(1).
		Scan(ctx, &one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// manage starts tracking a row just read from the table.
func (s *recordStore[T]) manage(rec *T, key any) *T {
	s.uow.attach(&entry{
		table:     s.mapping.Table,
		key:       key,
		record:    rec,
		snapshot:  s.mapping.snapshot(rec),
		state:     entryManaged,
		persisted: true,
		store:     s,
	})
	return rec
}

func (s *recordStore[T]) changedColumns(e *entry) []string {
	current := s.mapping.snapshot(e.record.(*T))
	var changed []string
	for i, c := range s.mapping.Columns {
		if i < len(e.snapshot) && reflect.DeepEqual(current[i], e.snapshot[i]) {
			continue
		}
		changed = append(changed, c.Name)
	}
	return changed
}

func (s *recordStore[T]) keyOf(rec *T) any {
	return s.mapping.Columns[s.pk].Value(rec)
}

func (s *recordStore[T]) pkName() string {
	return s.mapping.Columns[s.pk].Name
}
