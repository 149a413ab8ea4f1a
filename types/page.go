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

package types

const DefaultPageSize = 10

// PageRequest describes an offset/limit window and optional ordering.
// Without orders the rows come back in whatever order the store yields.
type PageRequest struct {
	offset int
	limit  int
	orders []string // "member_no ASC", "member_name DESC"
}

func (p *PageRequest) GetOffset() int {
	if p.offset < 0 {
		p.offset = 0
	}
	return p.offset
}

func (p *PageRequest) GetLimit() int {
	if p.limit < 1 {
		p.limit = DefaultPageSize
	}
	return p.limit
}

func (p *PageRequest) GetOrders() []string {
	return p.orders
}

// NewPageRequest constructs a PageRequest for an offset/limit window.
func NewPageRequest(offset int, limit int, orders ...string) *PageRequest {
	return &PageRequest{offset, limit, orders}
}

// NewPageRequestFromPage converts a 1-based page number and page size into
// an offset/limit window.
func NewPageRequestFromPage(page int, pageSize int, orders ...string) *PageRequest {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return NewPageRequest((page-1)*pageSize, pageSize, orders...)
}

// Pagination holds paged result items along with pagination metadata.
type Pagination[T any] struct {
	Offset int
	Limit  int
	Total  int
	Items  []*T
}

// NewDefaultPagination constructs an empty pagination container.
func NewDefaultPagination[T any](offset int, limit int) *Pagination[T] {
	return &Pagination[T]{offset, limit, 0, make([]*T, 0)}
}

// HasMore reports whether rows exist beyond this page.
func (p *Pagination[T]) HasMore() bool {
	return p.Offset+len(p.Items) < p.Total
}
