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

package database

import (
	"sort"
	"sync"
)

// TableRegistry stores table definitions and exposes them in a deterministic
// order: ascending priority, then registration order.
type TableRegistry interface {
	Register(table TableDefinition)
	Tables() []TableDefinition
}

type tableRegistry struct {
	tables []TableDefinition
	mutex  sync.RWMutex
}

func NewTableRegistry() TableRegistry {
	return &tableRegistry{
		tables: make([]TableDefinition, 0),
	}
}

// Register adds a table definition; a definition with the same table name
// replaces the earlier one.
func (r *tableRegistry) Register(table TableDefinition) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i, t := range r.tables {
		if t.Name == table.Name {
			r.tables[i] = table
			return
		}
	}
	r.tables = append(r.tables, table)
}

func (r *tableRegistry) Tables() []TableDefinition {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]TableDefinition, len(r.tables))
	copy(result, r.tables)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority < result[j].Priority
	})
	return result
}
