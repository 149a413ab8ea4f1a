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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSQLStatements(t *testing.T) {
	content := `
-- seed members
INSERT INTO member_tb (member_no, member_name)
VALUES (1, 'a');

INSERT INTO member_tb (member_no, member_name) VALUES (2, 'b');
DELETE FROM member_tb WHERE member_no = 3`

	assert.Equal(t, []string{
		"INSERT INTO member_tb (member_no, member_name) VALUES (1, 'a')",
		"INSERT INTO member_tb (member_no, member_name) VALUES (2, 'b')",
		"DELETE FROM member_tb WHERE member_no = 3",
	}, splitSQLStatements(content))
	assert.Empty(t, splitSQLStatements("-- only a comment\n\n"))
}

func TestParseFileOrder(t *testing.T) {
	assert.Equal(t, 1, parseFileOrder("01_seed.sql"))
	assert.Equal(t, 120, parseFileOrder("120_more.sql"))
	assert.Equal(t, 999, parseFileOrder("seed.sql"))
}

func TestReplaceEnvVariables(t *testing.T) {
	t.Setenv("MEMBERDB_SEED_NAME", "seeded")
	out, err := replaceEnvVariables("VALUES (1, '{{.MEMBERDB_SEED_NAME}}')")
	require.NoError(t, err)
	assert.Equal(t, "VALUES (1, 'seeded')", out)

	_, err = replaceEnvVariables("{{.Broken")
	assert.Error(t, err)
}

func TestSQLImporterListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10_b.sql", "02_a.sql", "seed.SQL", "notes.txt", "02_0.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}

	files, err := NewSQLImporter(nil, NopLogger{}).ListFiles(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"02_0.sql", "02_a.sql", "10_b.sql", "seed.SQL"}, names)
}

func TestSQLImporterRollsBackFailedFile(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	require.NoError(t, newSchemaManager(db, memberTable).CreateTables(ctx))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01_bad.sql"), []byte(
		"INSERT INTO member_tb (member_no, member_name) VALUES (1, 'a');\nINSERT INTO member_tb (member_no, member_name) VALUES (1, 'dup');\n"), 0o600))

	err := NewSQLImporter(db, NopLogger{}).ImportDir(ctx, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "01_bad.sql")
	assert.Equal(t, 0, countRows(t, db, "member_tb"))
}

func TestSQLImporterEmptyDir(t *testing.T) {
	assert.NoError(t, NewSQLImporter(nil, NopLogger{}).ImportDir(context.Background(), t.TempDir()))
}
