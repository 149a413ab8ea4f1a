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

import (
	"fmt"
	"strings"
)

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// SchemaPolicy controls what happens to mapped tables when the database is
// initialized and closed.
type SchemaPolicy int

const (
	SchemaPolicyNone SchemaPolicy = iota
	SchemaPolicyCreate
	SchemaPolicyCreateDrop
	SchemaPolicyValidate
)

var _ BaseEnum = SchemaPolicy(0)

var schemaPolicyNames = [...]string{"none", "create", "create-drop", "validate"}

var schemaPolicyDescs = [...]string{
	"leave the schema untouched",
	"drop and recreate mapped tables on startup",
	"recreate mapped tables on startup and drop them on shutdown",
	"verify mapped tables and columns exist on startup",
}

// ParseSchemaPolicy maps a configuration value to a SchemaPolicy. The empty
// string means SchemaPolicyNone.
func ParseSchemaPolicy(s string) (SchemaPolicy, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return SchemaPolicyNone, nil
	}
	v = strings.ReplaceAll(v, "_", "-")
	for i, name := range schemaPolicyNames {
		if name == v {
			return SchemaPolicy(i), nil
		}
	}
	return SchemaPolicy(IllegalValue), fmt.Errorf("unknown schema policy %q, supported: %s", s, strings.Join(schemaPolicyNames[:], ", "))
}

func (p SchemaPolicy) IsValid() bool {
	return p >= SchemaPolicyNone && p <= SchemaPolicyValidate
}

func (p SchemaPolicy) Number() int {
	if !p.IsValid() {
		return IllegalValue
	}
	return int(p)
}

func (p SchemaPolicy) Name() string {
	if !p.IsValid() {
		return IllegalName
	}
	return schemaPolicyNames[p]
}

func (p SchemaPolicy) String() string { return p.Name() }

func (p SchemaPolicy) Desc() string {
	if !p.IsValid() {
		return IllegalDesc
	}
	return schemaPolicyDescs[p]
}

// CreatesTables reports whether the policy (re)creates tables on startup.
func (p SchemaPolicy) CreatesTables() bool {
	return p == SchemaPolicyCreate || p == SchemaPolicyCreateDrop
}
