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
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

var (
	globalConns   *Connections
	globalConnsMu sync.RWMutex
)

// Connections holds the open pools of every configured context. The pools
// are shared by all repositories built on top of it.
type Connections struct {
	cfg      *Config
	managers map[string]AbstractDatabaseManager
	order    []string
}

type connectionOptions struct {
	logger  Logger
	metrics prometheus.Registerer
}

type ConnectionOption func(*connectionOptions)

// WithConnectionLogger sets the logger of every manager.
func WithConnectionLogger(l Logger) ConnectionOption {
	return func(o *connectionOptions) { o.logger = l }
}

// WithMetrics reports statement metrics of every context to reg.
func WithMetrics(reg prometheus.Registerer) ConnectionOption {
	return func(o *connectionOptions) { o.metrics = reg }
}

// OpenConnections connects every context in cfg. On failure the pools opened
// so far are closed again.
func OpenConnections(ctx context.Context, cfg *Config, opts ...ConnectionOption) (*Connections, error) {
	if cfg == nil {
		return nil, NewConfigurationError("database configuration cannot be empty")
	}
	o := connectionOptions{logger: GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	factory := NewDatabaseFactory()
	factory.SetLogger(o.logger)
	factory.SetMetrics(o.metrics)

	c := &Connections{cfg: cfg, managers: make(map[string]AbstractDatabaseManager, len(cfg.Contexts))}
	for _, cc := range cfg.Contexts {
		manager, err := factory.Open(ctx, cc)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.add(manager)
	}
	o.logger.Info("Database initialization completed!", "contexts", c.order)
	return c, nil
}

// NewConnections wraps already connected managers. Contexts missing from cfg
// are added with default settings; cfg may be nil.
func NewConnections(cfg *Config, managers ...AbstractDatabaseManager) *Connections {
	if cfg == nil {
		cfg = &Config{}
	}
	c := &Connections{cfg: cfg, managers: make(map[string]AbstractDatabaseManager, len(managers))}
	for _, m := range managers {
		if _, ok := cfg.Context(m.Name()); !ok {
			cfg.Contexts = append(cfg.Contexts, ContextConfig{Name: m.Name()})
		}
		c.add(m)
	}
	return c
}

func (c *Connections) add(m AbstractDatabaseManager) {
	if _, ok := c.managers[m.Name()]; !ok {
		c.order = append(c.order, m.Name())
	}
	c.managers[m.Name()] = m
}

func (c *Connections) Config() *Config { return c.cfg }

// Names returns the context names in configuration order.
func (c *Connections) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Connections) Manager(name string) (AbstractDatabaseManager, bool) {
	m, ok := c.managers[name]
	return m, ok
}

// DB returns the pool of the named context.
func (c *Connections) DB(name string) (*bun.DB, error) {
	m, ok := c.managers[name]
	if !ok {
		return nil, NewConfigurationError("no database context named %q is configured", name)
	}
	db := m.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database context %s is not connected", name)
	}
	return db, nil
}

// HealthStatus checks every context.
func (c *Connections) HealthStatus(ctx context.Context) map[string]*HealthStatus {
	out := make(map[string]*HealthStatus, len(c.managers))
	for name, m := range c.managers {
		out[name] = m.HealthCheck(ctx)
	}
	return out
}

// Close disconnects every context and joins the errors.
func (c *Connections) Close() error {
	var errs []error
	for _, name := range c.order {
		if err := c.managers[name].Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// InitConnections opens the process-wide connections.
func InitConnections(ctx context.Context, cfg *Config, opts ...ConnectionOption) (*Connections, error) {
	c, err := OpenConnections(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	globalConnsMu.Lock()
	prev := globalConns
	globalConns = c
	globalConnsMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return c, nil
}

// GetConnections returns the process-wide connections, or nil before
// InitConnections.
func GetConnections() *Connections {
	globalConnsMu.RLock()
	defer globalConnsMu.RUnlock()
	return globalConns
}

// CloseConnections closes the process-wide connections.
func CloseConnections() error {
	globalConnsMu.Lock()
	c := globalConns
	globalConns = nil
	globalConnsMu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
