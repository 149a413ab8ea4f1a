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
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/memberdb/types"
)

// ColumnDefinition describes one mapped column for DDL and validation.
type ColumnDefinition struct {
	Name       string
	Type       string // BIGINT, VARCHAR, ...
	Length     int
	NotNull    bool
	PrimaryKey bool
}

// SQLType renders the column type including its length, e.g. VARCHAR(25).
func (c ColumnDefinition) SQLType() string {
	if c.Length > 0 && !strings.Contains(c.Type, "(") {
		return c.Type + "(" + strconv.Itoa(c.Length) + ")"
	}
	return c.Type
}

// TableDefinition describes a mapped table. Lower priorities are created
// first and dropped last.
type TableDefinition struct {
	Name     string
	Columns  []ColumnDefinition
	Priority int
}

// PrimaryKey returns the names of the primary key columns.
func (t TableDefinition) PrimaryKey() []string {
	var pks []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pks = append(pks, c.Name)
		}
	}
	return pks
}

type columnSpec struct {
	Name    string
	Type    string
	NotNull bool
}

// SchemaManager applies a schema-generation policy to registered tables.
type SchemaManager struct {
	db         *bun.DB
	registry   TableRegistry
	logger     Logger
	importPath string
}

func NewSchemaManager(db *bun.DB, registry TableRegistry, logger Logger) *SchemaManager {
	if logger == nil {
		logger = GetLogger()
	}
	return &SchemaManager{db: db, registry: registry, logger: logger}
}

// SetImportPath sets a directory of *.sql files executed after tables are
// created by the create and create-drop policies.
func (sm *SchemaManager) SetImportPath(path string) {
	sm.importPath = path
}

func (sm *SchemaManager) Apply(ctx context.Context, policy types.SchemaPolicy) error {
	switch policy {
	case types.SchemaPolicyNone:
		sm.logger.Debug("Schema policy is none, skipping")
		return nil
	case types.SchemaPolicyCreate, types.SchemaPolicyCreateDrop:
		if err := sm.DropTables(ctx); err != nil {
			return err
		}
		if err := sm.CreateTables(ctx); err != nil {
			return err
		}
		if sm.importPath != "" {
			if err := NewSQLImporter(sm.db, sm.logger).ImportDir(ctx, sm.importPath); err != nil {
				return err
			}
		}
		return nil
	case types.SchemaPolicyValidate:
		return sm.ValidateTables(ctx)
	default:
		return fmt.Errorf("unsupported schema policy: %v", policy)
	}
}

func (sm *SchemaManager) CreateTables(ctx context.Context) error {
	EnableBunSqlSilent(true)
	defer EnableBunSqlSilent(false)

	for _, t := range sm.registry.Tables() {
		if _, err := sm.db.ExecContext(ctx, buildCreateTableSQL(sm.db, t)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
		sm.logger.Info("Table created", "table", t.Name)
	}
	return nil
}

func (sm *SchemaManager) DropTables(ctx context.Context) error {
	EnableBunSqlSilent(true)
	defer EnableBunSqlSilent(false)

	tables := sm.registry.Tables()
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		if _, err := sm.db.ExecContext(ctx, buildDropTableSQL(sm.db, t.Name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", t.Name, err)
		}
		sm.logger.Debug("Table dropped", "table", t.Name)
	}
	return nil
}

// ValidateTables checks that every registered table exists with all of its
// mapped columns and matching NOT NULL constraints.
func (sm *SchemaManager) ValidateTables(ctx context.Context) error {
	for _, t := range sm.registry.Tables() {
		existing, err := listExistingColumns(ctx, sm.db, t.Name)
		if err != nil {
			return fmt.Errorf("failed to query existing columns %s: %w", t.Name, err)
		}
		if len(existing) == 0 {
			return fmt.Errorf("%w: table %s does not exist", ErrSchemaValidation, t.Name)
		}
		for _, c := range t.Columns {
			spec, ok := existing[strings.ToLower(c.Name)]
			if !ok {
				return fmt.Errorf("%w: column %s.%s does not exist", ErrSchemaValidation, t.Name, c.Name)
			}
			if wantNotNull := c.NotNull || c.PrimaryKey; spec.NotNull != wantNotNull {
				return fmt.Errorf("%w: column %s.%s nullability differs (want not null=%t)", ErrSchemaValidation, t.Name, c.Name, wantNotNull)
			}
		}
		sm.logger.Debug("Table validated", "table", t.Name, "columns", len(t.Columns))
	}
	return nil
}

func listExistingColumns(ctx context.Context, db bun.IDB, table string) (map[string]columnSpec, error) {
	cols := map[string]columnSpec{}
	name := db.Dialect().Name()
	var rows *sql.Rows
	var err error
	switch name {
	case dialect.PG:
		rows, err = db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?`, table)
	case dialect.MySQL:
		rows, err = db.QueryContext(ctx, `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, table)
	default:
		rows, err = db.QueryContext(ctx, `PRAGMA table_info(?)`, table)
	}
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	for rows.Next() {
		var colName, typStr, nullable string
		switch name {
		case dialect.PG, dialect.MySQL:
			if err := rows.Scan(&colName, &typStr, &nullable); err != nil {
				return nil, err
			}
		default:
			var cid, notnull, pk int
			var defaultNS sql.NullString
			if err := rows.Scan(&cid, &colName, &typStr, &notnull, &defaultNS, &pk); err != nil {
				return nil, err
			}
			nullable = map[bool]string{true: "NO", false: "YES"}[notnull == 1]
		}
		cols[strings.ToLower(colName)] = columnSpec{Name: colName, Type: typStr, NotNull: strings.ToUpper(nullable) == "NO"}
	}
	return cols, rows.Err()
}

func quoteIdent(db bun.IDB, s string) string {
	if db.Dialect().Name() == dialect.MySQL {
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func buildCreateTableSQL(db bun.IDB, t TableDefinition) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		def := quoteIdent(db, c.Name) + " " + c.SQLType()
		if c.NotNull || c.PrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if pks := t.PrimaryKey(); len(pks) > 0 {
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			quoted[i] = quoteIdent(db, pk)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(db, t.Name), strings.Join(defs, ", "))
}

func buildDropTableSQL(db bun.IDB, table string) string {
	return "DROP TABLE IF EXISTS " + quoteIdent(db, table)
}
