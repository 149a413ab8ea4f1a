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
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tomoncle/memberdb/database"
)

// Error kinds. Every error returned by a store or a unit of work wraps
// exactly one of them, test with errors.Is.
var (
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrNotFound         = errors.New("record not found")
	ErrNotTracked       = errors.New("record is not tracked by this unit of work")
	ErrTransactionState = errors.New("invalid transaction state")
	ErrStorageIO        = errors.New("storage i/o failure")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrImmutableKey     = errors.New("primary key cannot be changed")
	ErrInvalidPage      = errors.New("invalid page window")
)

// Error describes a failed store or unit-of-work operation.
type Error struct {
	Op    string // create, find, update, delete, list, begin, commit, ...
	Table string
	Key   any
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("repository: ")
	b.WriteString(e.Op)
	if e.Table != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
	}
	if e.Key != nil {
		fmt.Fprintf(&b, " key=%v", e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, table string, key any, kind, cause error) *Error {
	return &Error{Op: op, Table: table, Key: key, Kind: kind, Err: cause}
}

// storageError wraps a driver error, classifying constraint violations.
// Errors that already carry a kind are returned unchanged.
func storageError(op, table string, key any, err error) error {
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return newError(op, table, key, classify(err), err)
}

func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if ok, code := database.IsSqlError(err); ok {
		switch code {
		case database.DuplicateKeyErr:
			return ErrDuplicateKey
		case database.NotNullViolationErr, database.CheckConstraintViolationErr, database.DataTruncatedErr:
			return ErrInvalidRecord
		}
	}
	return ErrStorageIO
}
