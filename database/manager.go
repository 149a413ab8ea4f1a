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
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/memberdb/types"
)

type defaultDatabaseManager struct {
	config     *Config
	db         *bun.DB
	sqlDB      *sql.DB
	logger     Logger
	registry   TableRegistry
	queryHooks []bun.QueryHook
	mu         sync.RWMutex
	connected  bool
	lastError  error
	created    bool
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun.
// If config is nil, a sensible default configuration is used.
func NewDatabaseManager(config *Config) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &defaultDatabaseManager{
		config:   config,
		registry: NewTableRegistry(),
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}

	var err error
	dm.sqlDB, dm.db, err = dm.createConnection()
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	dm.configureConnectionPool()

	ctxTimeout, cancel := context.WithTimeout(ctx, dm.config.Connection.ConnectTimeout)
	defer cancel()

	if err := dm.db.PingContext(ctxTimeout); err != nil {
		dm.lastError = err
		_ = dm.db.Close()
		dm.db, dm.sqlDB = nil, nil
		return fmt.Errorf("database connection test failed: %w", err)
	}

	dm.connected = true
	dm.lastError = nil

	if dm.logger != nil {
		dm.logger.Info("Database connected successfully:", "type", dm.config.Connection.Type, "host", dm.config.Connection.Host)
	}
	return nil
}

func (dm *defaultDatabaseManager) createConnection() (*sql.DB, *bun.DB, error) {
	conn := &dm.config.Connection
	if conn.ConnectTimeout.Seconds() <= 0 {
		conn.ConnectTimeout = 30 * time.Second
	}

	var (
		driverName string
		dsn        string
		dialect    schema.Dialect
		err        error
	)
	switch normalizeType(conn.Type) {
	case "mysql":
		driverName = "mysql"
		dsn, err = mysqlDSN(conn)
		dialect = mysqldialect.New()
	case "postgres":
		driverName = postgresDriver(conn.Driver)
		dsn = postgresDSN(conn)
		dialect = pgdialect.New()
	case "sqlite":
		driverName = sqliteshim.ShimName
		dsn = sqliteDSN(conn)
		dialect = sqlitedialect.New()
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", conn.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	var sqlDB *sql.DB
	if conn.EnableTracing {
		sqlDB, err = otelsql.Open(driverName, dsn, otelsql.WithSQLCommenter(true))
	} else {
		sqlDB, err = sql.Open(driverName, dsn)
	}
	if err != nil {
		return nil, nil, err
	}

	db := bun.NewDB(sqlDB, dialect)

	if conn.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}

	if conn.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(conn.SlowQueryTime, dm.logger))
	}

	for _, hook := range dm.queryHooks {
		db.AddQueryHook(hook)
	}

	return sqlDB, db, nil
}

func mysqlDSN(conn *ConnectionConfig) (string, error) {
	var cfg *mysql.Config
	if conn.URL != "" {
		parsed, err := mysql.ParseDSN(conn.URL)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = conn.Username
		cfg.Passwd = conn.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))
		cfg.DBName = conn.DBName
		cfg.ParseTime = true
		cfg.Loc = time.Local
		cfg.Timeout = conn.ConnectTimeout
		cfg.ReadTimeout = conn.ReadTimeout
		cfg.WriteTimeout = conn.WriteTimeout
		cfg.Params = map[string]string{"charset": "utf8mb4"}
	}
	// Updates report matched rows, so an unchanged row is not mistaken for a missing one.
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func postgresDriver(driver string) string {
	if strings.EqualFold(driver, "pgx") {
		return "pgx"
	}
	return "postgres"
}

func postgresDSN(conn *ConnectionConfig) string {
	if conn.URL != "" {
		return conn.URL
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port)),
		Path:   conn.DBName,
	}
	if conn.Password != "" {
		u.User = url.UserPassword(conn.Username, conn.Password)
	} else if conn.Username != "" {
		u.User = url.User(conn.Username)
	}
	q := u.Query()
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(conn.ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func sqliteDSN(conn *ConnectionConfig) string {
	if conn.URL != "" {
		return conn.URL
	}
	if conn.DBName == "" || conn.DBName == ":memory:" {
		return "file::memory:?cache=shared"
	}
	if strings.HasSuffix(conn.DBName, ".db") {
		return conn.DBName
	}
	return fmt.Sprintf("%s.db", conn.DBName)
}

func (dm *defaultDatabaseManager) configureConnectionPool() {
	if dm.sqlDB == nil {
		return
	}
	conn := dm.config.Connection

	dm.sqlDB.SetMaxIdleConns(conn.MaxIdleConns)
	dm.sqlDB.SetMaxOpenConns(conn.MaxOpenConns)
	dm.sqlDB.SetConnMaxLifetime(conn.ConnMaxLifetime)
	dm.sqlDB.SetConnMaxIdleTime(conn.ConnMaxIdleTime)
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db == nil {
		return nil
	}

	if dm.created && dm.config.SchemaPolicy() == types.SchemaPolicyCreateDrop {
		ctx, cancel := context.WithTimeout(context.Background(), dm.config.Connection.ConnectTimeout)
		if err := NewSchemaManager(dm.db, dm.registry, dm.logger).DropTables(ctx); err != nil && dm.logger != nil {
			dm.logger.Error("Failed to drop tables on shutdown", "error", err)
		}
		cancel()
		dm.created = false
	}

	err := dm.db.Close()
	dm.db = nil
	dm.sqlDB = nil
	dm.connected = false

	if dm.logger != nil {
		if err != nil {
			dm.logger.Error("Failed to close database connection", "error", err)
		} else {
			dm.logger.Info("Database connection closed")
		}
	}

	return err
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	dm.mu.RLock()
	db := dm.db
	dm.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("database not connected")
	}

	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
		Connected:     dm.connected,
	}

	if dm.db == nil {
		status.Healthy = false
		status.LastError = "Database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := dm.db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)

	if err != nil {
		status.Healthy = false
		status.Connected = false
		status.LastError = err.Error()
		dm.lastError = err
	} else {
		status.Healthy = true
		status.Connected = true
		dm.lastError = nil
	}

	if dm.sqlDB != nil {
		stats := dm.sqlDB.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}

	return status
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	dm.mu.RLock()
	sqlDB := dm.sqlDB
	dm.mu.RUnlock()

	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) RegisterTables(tables ...TableDefinition) {
	for _, t := range tables {
		dm.registry.Register(t)
	}
}

// ApplySchema runs the configured schema policy against the registered tables.
func (dm *defaultDatabaseManager) ApplySchema(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db == nil {
		return fmt.Errorf("database not initialized")
	}

	policy := dm.config.SchemaPolicy()
	sm := NewSchemaManager(dm.db, dm.registry, dm.logger)
	sm.SetImportPath(dm.config.Schema.ImportPath)
	if err := sm.Apply(ctx, policy); err != nil {
		return err
	}
	if policy.CreatesTables() {
		dm.created = true
	}
	return nil
}

// AddQueryHook installs hook on the current connection and on any
// connection created later by Connect.
func (dm *defaultDatabaseManager) AddQueryHook(hook bun.QueryHook) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.queryHooks = append(dm.queryHooks, hook)
	if dm.db != nil {
		dm.db.AddQueryHook(hook)
	}
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
