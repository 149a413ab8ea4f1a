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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/memberdb/types"
)

var supportedTypes = []string{"mysql", "postgres", "sqlite"}

// LoadConfig reads the YAML configuration at path on top of DefaultConfig.
// Environment files are loaded first so DB_* variables they define are seen
// by the factory; a missing env file is ignored. An empty path yields the
// defaults.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the database type, postgres driver and schema policy.
func (c *Config) Validate() error {
	typ := normalizeType(c.Connection.Type)
	supported := false
	for _, t := range supportedTypes {
		if typ == t {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("unsupported database type: %s, supported types: %v", c.Connection.Type, supportedTypes)
	}
	switch strings.ToLower(c.Connection.Driver) {
	case "", "postgres", "pq", "pgx":
	default:
		return fmt.Errorf("unsupported driver: %s", c.Connection.Driver)
	}
	if _, err := types.ParseSchemaPolicy(c.Schema.Policy); err != nil {
		return err
	}
	return nil
}

// SchemaPolicy returns the parsed schema policy, falling back to none when
// the configured value is invalid. Call Validate to surface that error.
func (c *Config) SchemaPolicy() types.SchemaPolicy {
	p, err := types.ParseSchemaPolicy(c.Schema.Policy)
	if err != nil {
		return types.SchemaPolicyNone
	}
	return p
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return strings.ToLower(strings.TrimSpace(t))
	}
}
