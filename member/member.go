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

// Package member maps the Member record to the member_tb table.
package member

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomoncle/memberdb/repository"
)

const (
	TableName     = "member_tb"
	NameMaxLength = 25
)

// Member is identified by a caller-assigned number that never changes once
// the record is created.
type Member struct {
	No   int64  `json:"memberNo"`
	Name string `json:"memberName" validate:"required,max=25"`
}

func New(no int64, name string) *Member {
	return &Member{No: no, Name: name}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks the field constraints of m.
func Validate(m *Member) error {
	validateOnce.Do(func() { validate = validator.New() })
	return validate.Struct(m)
}

// Mapping binds Member to member_tb.
var Mapping = &repository.Mapping[Member]{
	Table: TableName,
	Columns: []repository.Column[Member]{
		{
			Field:      "No",
			Name:       "member_no",
			Type:       "BIGINT",
			PrimaryKey: true,
			NotNull:    true,
			Value:      func(m *Member) any { return m.No },
			Scan:       func(m *Member) any { return &m.No },
		},
		{
			Field:   "Name",
			Name:    "member_name",
			Type:    "VARCHAR",
			Length:  NameMaxLength,
			NotNull: true,
			Value:   func(m *Member) any { return m.Name },
			Scan:    func(m *Member) any { return &m.Name },
		},
	},
	New:       func() *Member { return &Member{} },
	Validator: Validate,
}

// NewStore returns a member store bound to uow.
func NewStore(uow *repository.UnitOfWork) (repository.RecordStore[Member], error) {
	return repository.NewStore(uow, Mapping)
}
