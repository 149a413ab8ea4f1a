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

	"github.com/tomoncle/memberdb/types"
)

// RecordStore persists records of one mapped type through a unit of work.
// Create, Update and Delete only stage changes; they reach the table when
// the unit of work commits.
type RecordStore[T any] interface {
	// Create starts tracking rec as a pending insert.
	Create(ctx context.Context, rec *T) error

	// Find returns the record with the given primary key, preferring the
	// instance already tracked by the unit of work.
	Find(ctx context.Context, key any) (*T, error)

	// Update stages the changes made in place to a tracked record.
	Update(ctx context.Context, rec *T) error

	// Delete stages the removal of a tracked record.
	Delete(ctx context.Context, rec *T) error

	// ListPaged skips offset rows and returns at most limit rows in the
	// order the table yields them.
	ListPaged(ctx context.Context, offset, limit int) ([]*T, error)

	PageQueryStore[T]
}

// PageQueryStore returns a window of records together with the total count.
type PageQueryStore[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// TransactionObserver receives the outcome of every transaction:
// "commit", "rollback" or "commit_failed".
type TransactionObserver interface {
	ObserveTransaction(outcome string)
}
