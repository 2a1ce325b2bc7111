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
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	NopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestQueryHookWritesStatements(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	var buf bytes.Buffer
	db.AddQueryHook(NewQueryHook("Reporting", false).WithWriter(&buf))

	_, err := db.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = db.ExecContext(ctx, "SELECT * FROM no_such_table")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "[Reporting]")
	assert.Contains(t, buf.String(), "no_such_table")
}

func TestQueryHookEnvironmentOverride(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	var buf bytes.Buffer
	db.AddQueryHook(NewQueryHook(DefaultContextName, false).WithWriter(&buf))

	t.Setenv(queryLogEnv, "2")
	_, err := db.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "SELECT 1")

	buf.Reset()
	t.Setenv(queryLogEnv, "0")
	_, _ = db.ExecContext(ctx, "SELECT * FROM no_such_table")
	assert.Empty(t, buf.String())

	buf.Reset()
	t.Setenv(queryLogEnv, "2")
	SetQuerySilent(true)
	defer SetQuerySilent(false)
	_, err = db.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestSlowQueryHook(t *testing.T) {
	db := openTestDB(t)
	logger := &recordingLogger{}
	db.AddQueryHook(NewSlowQueryHook(DefaultContextName, 0, logger))

	_, err := db.ExecContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Database slow query detected"}, logger.warns)
}

func TestMetricsHook(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	hook, err := NewMetricsHook("Reporting", reg)
	require.NoError(t, err)
	shared, err := NewMetricsHook(DefaultContextName, reg)
	require.NoError(t, err)
	assert.Same(t, hook.queries, shared.queries)

	db := openTestDB(t)
	db.AddQueryHook(hook)
	_, err = db.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "SELECT * FROM no_such_table")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(hook.queries.WithLabelValues("Reporting", "select", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.queries.WithLabelValues("Reporting", "select", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(hook.duration))
}
