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
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/tomoncle/memberdb/database"
)

// Column maps one field of T to a table column.
type Column[T any] struct {
	Field      string
	Name       string
	Type       string
	Length     int
	PrimaryKey bool
	NotNull    bool
	// Value returns the current field value.
	Value func(*T) any
	// Scan returns a pointer to the field, used as a scan destination.
	Scan func(*T) any
}

// Mapping binds a record type to a table. It replaces the annotations an
// ORM would read from struct tags with an explicit value.
type Mapping[T any] struct {
	Table     string
	Columns   []Column[T]
	New       func() *T
	Validator func(*T) error
}

// Verify rejects incomplete mappings and mappings without exactly one
// primary key column.
func (m *Mapping[T]) Verify() error {
	if m == nil {
		return errors.New("mapping is nil")
	}
	if strings.TrimSpace(m.Table) == "" {
		return errors.New("mapping has no table name")
	}
	if m.New == nil {
		return fmt.Errorf("mapping %s has no constructor", m.Table)
	}
	if len(m.Columns) == 0 {
		return fmt.Errorf("mapping %s has no columns", m.Table)
	}

	seen := make(map[string]bool, len(m.Columns))
	pks := 0
	for i, c := range m.Columns {
		if c.Name == "" || c.Type == "" {
			return fmt.Errorf("mapping %s: column %d needs a name and a type", m.Table, i)
		}
		if c.Value == nil || c.Scan == nil {
			return fmt.Errorf("mapping %s: column %s needs Value and Scan accessors", m.Table, c.Name)
		}
		name := strings.ToLower(c.Name)
		if seen[name] {
			return fmt.Errorf("mapping %s: column %s declared twice", m.Table, c.Name)
		}
		seen[name] = true
		if c.PrimaryKey {
			pks++
		}
	}
	if pks != 1 {
		return fmt.Errorf("mapping %s: expected exactly one primary key column, found %d", m.Table, pks)
	}
	return nil
}

// Definition describes the mapped table for schema generation.
func (m *Mapping[T]) Definition() database.TableDefinition {
	def := database.TableDefinition{Name: m.Table, Columns: make([]database.ColumnDefinition, len(m.Columns))}
	for i, c := range m.Columns {
		def.Columns[i] = database.ColumnDefinition{
			Name:       c.Name,
			Type:       c.Type,
			Length:     c.Length,
			NotNull:    c.NotNull,
			PrimaryKey: c.PrimaryKey,
		}
	}
	return def
}

func (m *Mapping[T]) primaryKey() int {
	for i, c := range m.Columns {
		if c.PrimaryKey {
			return i
		}
	}
	return -1
}

func (m *Mapping[T]) columnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

func (m *Mapping[T]) snapshot(rec *T) []any {
	values := make([]any, len(m.Columns))
	for i, c := range m.Columns {
		values[i] = c.Value(rec)
	}
	return values
}

func (m *Mapping[T]) scanDest(rec *T) []any {
	dest := make([]any, len(m.Columns))
	for i, c := range m.Columns {
		dest[i] = c.Scan(rec)
	}
	return dest
}

// check applies the column constraints and then the record validator.
func (m *Mapping[T]) check(rec *T) error {
	for _, c := range m.Columns {
		v := c.Value(rec)
		if (c.NotNull || c.PrimaryKey) && isNil(v) {
			return fmt.Errorf("column %s must not be null", c.Name)
		}
		if s, ok := v.(string); ok && c.Length > 0 && utf8.RuneCountInString(s) > c.Length {
			return fmt.Errorf("column %s is longer than %d characters", c.Name, c.Length)
		}
	}
	if m.Validator != nil {
		return m.Validator(rec)
	}
	return nil
}

// normalizeKey converts key to the Go type of the primary key field, so
// that int and int64 keys address the same record.
func (m *Mapping[T]) normalizeKey(key any) (any, error) {
	if isNil(key) {
		return nil, errors.New("key is nil")
	}
	want := reflect.TypeOf(m.Columns[m.primaryKey()].Value(m.New()))
	v := reflect.ValueOf(key)
	if want == nil || v.Type() == want {
		return key, nil
	}
	compatible := (isNumericKind(v.Kind()) && isNumericKind(want.Kind())) ||
		(v.Kind() == reflect.String && want.Kind() == reflect.String)
	if !compatible || !v.Type().ConvertibleTo(want) {
		return nil, fmt.Errorf("key of type %T does not match primary key type %s", key, want)
	}
	if isNumericKind(v.Kind()) && !fitsIn(v, want) {
		return nil, fmt.Errorf("key %v is out of range for primary key type %s", key, want)
	}
	return v.Convert(want).Interface(), nil
}

// fitsIn reports whether the integer held by v converts to want without
// wrapping.
func fitsIn(v reflect.Value, want reflect.Type) bool {
	zero := reflect.Zero(want)
	if v.CanInt() {
		i := v.Int()
		if isUnsignedKind(want.Kind()) {
			return i >= 0 && !zero.OverflowUint(uint64(i))
		}
		return !zero.OverflowInt(i)
	}
	u := v.Uint()
	if isUnsignedKind(want.Kind()) {
		return !zero.OverflowUint(u)
	}
	return u <= math.MaxInt64 && !zero.OverflowInt(int64(u))
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isUnsignedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
