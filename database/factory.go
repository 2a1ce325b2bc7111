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
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var supportedTypes = []string{"mysql", "postgres", "postgresql", "pgx", "sqlite", "sqlite3"}

// BaseDatabaseFactory creates database managers for configured contexts.
type BaseDatabaseFactory struct {
	logger  Logger
	metrics prometheus.Registerer
}

// NewDatabaseFactory returns a new database factory using the global logger.
func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// SetLogger sets the logger handed to every manager created afterwards.
func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// SetMetrics makes every manager created afterwards report to reg.
func (f *BaseDatabaseFactory) SetMetrics(reg prometheus.Registerer) {
	f.metrics = reg
}

// CreateFromConfig constructs an unconnected manager for one context.
func (f *BaseDatabaseFactory) CreateFromConfig(cc ContextConfig) (AbstractDatabaseManager, error) {
	supported := false
	for _, t := range supportedTypes {
		if strings.EqualFold(cc.Connection.Type, t) {
			supported = true
			break
		}
	}
	if !supported {
		return nil, NewConfigurationError("unsupported database type %q for context %s, supported types: %v", cc.Connection.Type, cc.Name, supportedTypes)
	}

	conn := cc.Connection.withDefaults()
	manager := NewDatabaseManager(cc.Name, &conn)
	manager.SetLogger(f.logger)

	if f.metrics != nil {
		hook, err := NewMetricsHook(cc.Name, f.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics for %s: %w", cc.Name, err)
		}
		manager.AddQueryHook(hook)
	}
	return manager, nil
}

// Open creates and connects the manager for one context.
func (f *BaseDatabaseFactory) Open(ctx context.Context, cc ContextConfig) (AbstractDatabaseManager, error) {
	manager, err := f.CreateFromConfig(cc)
	if err != nil {
		return nil, err
	}
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return manager, nil
}
