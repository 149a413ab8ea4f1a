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

package memberdb

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/memberdb/database"
	"github.com/tomoncle/memberdb/member"
	"github.com/tomoncle/memberdb/repository"
)

func testConfig(t *testing.T) *database.Config {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.Connection.Type = "sqlite"
	cfg.Connection.DBName = filepath.Join(t.TempDir(), "service.db")
	cfg.Connection.SlowQueryTime = 0
	cfg.Schema.Policy = "create"
	return cfg
}

func newTestService(t *testing.T, reg prometheus.Registerer) *Service {
	t.Helper()
	s, err := New(context.Background(), testConfig(t), WithRegisterer(reg), WithLogger(database.NopLogger{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type members = repository.RecordStore[member.Member]

func TestInUnitOfWork(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	s := newTestService(t, reg)

	require.NoError(t, s.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, store members) error {
		return store.Create(ctx, member.New(1, "최용석"))
	}))

	boom := errors.New("boom")
	err := s.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, store members) error {
		if err := store.Create(ctx, member.New(2, "X")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, store members) error {
		m, err := store.Find(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "최용석", m.Name)
		_, err = store.Find(ctx, 2)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	}))

	expected := `
# HELP memberdb_transactions_total Unit-of-work transactions by outcome.
# TYPE memberdb_transactions_total counter
memberdb_transactions_total{outcome="commit"} 2
memberdb_transactions_total{outcome="rollback"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "memberdb_transactions_total"))
	n, err := testutil.GatherAndCount(reg, "memberdb_queries_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestInUnitOfWorkDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, prometheus.NewRegistry())

	create := func(m *member.Member) error {
		return s.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, store members) error {
			return store.Create(ctx, m)
		})
	}
	require.NoError(t, create(member.New(1, "a")))
	assert.ErrorIs(t, create(member.New(1, "b")), repository.ErrDuplicateKey)
}

func TestInUnitOfWorkExplicitRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, prometheus.NewRegistry())

	require.NoError(t, s.InUnitOfWork(ctx, func(uow *repository.UnitOfWork, store members) error {
		if err := store.Create(ctx, member.New(99, "X")); err != nil {
			return err
		}
		return uow.Rollback(ctx)
	}))

	uow := s.NewUnitOfWork()
	defer func() { _ = uow.Close() }()
	store, err := s.Members(uow)
	require.NoError(t, err)
	_, err = store.Find(ctx, 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestServiceHealth(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, prometheus.NewRegistry())

	assert.True(t, s.Health(ctx).Healthy)
	assert.NotNil(t, s.Stats())
	assert.NotNil(t, s.DB())

	require.NoError(t, s.Close())
	assert.False(t, s.Health(ctx).Healthy)
}

func TestNewErrors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Connection.Type = "oracle"
	_, err := New(ctx, cfg, WithLogger(database.NopLogger{}))
	assert.Error(t, err)

	reg := prometheus.NewRegistry()
	newTestService(t, reg)
	_, err = New(ctx, testConfig(t), WithRegisterer(reg), WithLogger(database.NopLogger{}))
	assert.ErrorContains(t, err, "failed to register metrics")
}
