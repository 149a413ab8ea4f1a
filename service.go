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

// Package memberdb wires the database layer, the unit of work and the
// member store together.
package memberdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"

	"github.com/tomoncle/memberdb/database"
	"github.com/tomoncle/memberdb/member"
	"github.com/tomoncle/memberdb/repository"
)

// Service owns the database connection pool and hands out units of work.
type Service struct {
	factory *database.BaseDatabaseFactory
	metrics *database.Metrics
	logger  database.Logger
}

type options struct {
	registerer prometheus.Registerer
	logger     database.Logger
	hooks      []bun.QueryHook
}

type Option func(*options)

// WithRegisterer exports query and transaction metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithLogger(logger database.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithQueryHook adds a bun query hook to the connection.
func WithQueryHook(hook bun.QueryHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hook) }
}

// New connects to the configured database, registers the member table and
// applies the schema policy.
func New(ctx context.Context, cfg *database.Config, opts ...Option) (*Service, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	factory := database.NewDatabaseFactory()
	if o.logger != nil {
		factory.SetLogger(o.logger)
	}
	manager, err := factory.CreateFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	manager.RegisterTables(member.Mapping.Definition())

	s := &Service{factory: factory, logger: o.logger}
	if s.logger == nil {
		s.logger = database.GetLogger()
	}
	if o.registerer != nil {
		if s.metrics, err = database.NewMetrics(o.registerer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		manager.AddQueryHook(s.metrics)
	}
	for _, hook := range o.hooks {
		manager.AddQueryHook(hook)
	}

	if err := factory.InitializeDatabase(ctx); err != nil {
		_ = factory.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying bun database.
func (s *Service) DB() *bun.DB {
	return s.factory.GetDB()
}

// NewUnitOfWork returns a unit of work in the NotStarted state. Callers
// must Close it.
func (s *Service) NewUnitOfWork() *repository.UnitOfWork {
	opts := []repository.Option{repository.WithLogger(s.logger)}
	if s.metrics != nil {
		opts = append(opts, repository.WithObserver(s.metrics))
	}
	return repository.NewUnitOfWork(s.factory.GetDB(), opts...)
}

func (s *Service) Members(uow *repository.UnitOfWork) (repository.RecordStore[member.Member], error) {
	return member.NewStore(uow)
}

// InUnitOfWork runs fn inside one transaction: begin, fn, commit. When fn
// fails the transaction is rolled back; the unit of work is always closed.
func (s *Service) InUnitOfWork(ctx context.Context, fn func(uow *repository.UnitOfWork, members repository.RecordStore[member.Member]) error) (err error) {
	uow := s.NewUnitOfWork()
	defer func() {
		if closeErr := uow.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	members, err := s.Members(uow)
	if err != nil {
		return err
	}
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	if err := fn(uow, members); err != nil {
		if !uow.IsActive() {
			return err
		}
		if rbErr := uow.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if uow.IsActive() {
		return uow.Commit(ctx)
	}
	return nil
}

func (s *Service) Health(ctx context.Context) *database.HealthStatus {
	return s.factory.GetHealthStatus(ctx)
}

func (s *Service) Stats() *database.DBStats {
	return s.factory.GetStats()
}

// Close releases the connection pool, dropping the tables first under the
// create-drop policy.
func (s *Service) Close() error {
	return s.factory.Close()
}
