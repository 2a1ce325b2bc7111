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
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tomoncle/datalayer/database"
	"github.com/tomoncle/datalayer/encryption"
)

// Repository routes every entity type to the context that owns it and
// coordinates commits, rollbacks and transactions across contexts.
//
// A Repository is a unit of work and is not safe for concurrent use; create
// one per request or job on top of shared Connections.
type Repository struct {
	contexts []*Context
	byName   map[string]*Context
	logger   database.Logger
}

type options struct {
	converter database.FieldConverter
	logger    database.Logger
	timeout   *int
}

type Option func(*options)

// WithConverter sets the field converter used for encrypted fields instead of
// the one built from the encryption configuration.
func WithConverter(c database.FieldConverter) Option {
	return func(o *options) { o.converter = c }
}

func WithLogger(l database.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCommandTimeout overrides the configured command timeout, in seconds.
func WithCommandTimeout(seconds int) Option {
	return func(o *options) { o.timeout = &seconds }
}

// Open builds one Context per configured context, each owning the entity
// types registry assigns to it.
func Open(ctx context.Context, conns *database.Connections, registry *database.Registry, opts ...Option) (*Repository, error) {
	if conns == nil {
		return nil, database.NewConfigurationError("connections cannot be nil")
	}
	if registry == nil {
		registry = database.DefaultRegistry()
	}
	o := options{logger: database.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := conns.Config()
	if o.converter == nil && cfg.Encryption.Enabled() {
		aes, err := encryption.NewFromConfig(cfg.Encryption)
		if err != nil {
			return nil, err
		}
		o.converter = aes
	}
	timeout := cfg.CommandTimeout
	if o.timeout != nil {
		timeout = *o.timeout
	}

	var contexts []*Context
	for _, cc := range cfg.Contexts {
		entities, err := registry.Partition(cc.Name, cc.Modules, cc.ForceDefault)
		if err != nil {
			return nil, err
		}
		db, err := conns.DB(cc.Name)
		if err != nil {
			return nil, err
		}
		c, err := NewContext(cc.Name, db, entities, o.converter, o.logger)
		if err != nil {
			return nil, err
		}
		c.scripts = cc.ScriptsPath
		contexts = append(contexts, c)
	}

	r := NewWithContexts(contexts...)
	r.logger = o.logger
	r.SetCommandTimeout(timeout)

	for _, cc := range cfg.Contexts {
		if !cc.AutoCreateTables {
			continue
		}
		if err := r.ensureSchema(ctx, r.byName[cc.Name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewWithContexts builds a repository over already constructed contexts.
func NewWithContexts(contexts ...*Context) *Repository {
	r := &Repository{byName: make(map[string]*Context, len(contexts)), logger: database.GetLogger()}
	for _, c := range contexts {
		r.contexts = append(r.contexts, c)
		r.byName[c.name] = c
	}
	return r
}

// Contexts returns the contexts in configuration order.
func (r *Repository) Contexts() []*Context {
	out := make([]*Context, len(r.contexts))
	copy(out, r.contexts)
	return out
}

// Context looks a context up by name. The default context answers to both
// of its names.
func (r *Repository) Context(name string) (*Context, bool) {
	if name == "" {
		name = database.DefaultContextName
	}
	if c, ok := r.byName[name]; ok {
		return c, true
	}
	if database.IsDefaultContextName(name) {
		for _, c := range r.contexts {
			if database.IsDefaultContextName(c.name) {
				return c, true
			}
		}
	}
	return nil, false
}

// ContextFor returns the first context owning typ.
func (r *Repository) ContextFor(typ reflect.Type) (*Context, error) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	for _, c := range r.contexts {
		if _, ok := c.models[typ]; ok {
			return c, nil
		}
	}
	var known []string
	for _, c := range r.contexts {
		known = append(known, fmt.Sprintf("%s [%s]", c.name, strings.Join(c.EntityNames(), ", ")))
	}
	return nil, database.NewConfigurationError("no database context owns entity type %s; contexts: %s",
		typ, strings.Join(known, "; "))
}

// Commit saves the staged changes of every context in order. Contexts are
// committed independently: a failure leaves earlier contexts committed.
func (r *Repository) Commit(ctx context.Context) error {
	for _, c := range r.contexts {
		if _, err := c.SaveChanges(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards the staged changes of every context.
func (r *Repository) Rollback() {
	for _, c := range r.contexts {
		c.Rollback()
	}
}

// BeginTransaction opens a transaction on the named context, the default
// one when name is empty. nil opts means read committed.
func (r *Repository) BeginTransaction(ctx context.Context, name string, opts *sql.TxOptions) (*Transaction, error) {
	c, ok := r.Context(name)
	if !ok {
		return nil, database.NewConfigurationError("no database context named %q is configured", name)
	}
	return c.begin(ctx, opts)
}

// SetCommandTimeout bounds every statement of every context, in seconds.
func (r *Repository) SetCommandTimeout(seconds int) {
	for _, c := range r.contexts {
		c.SetCommandTimeout(time.Duration(seconds) * time.Second)
	}
}

// Close rolls back open transactions and forgets every tracked instance.
// The pools stay open; they belong to the Connections.
func (r *Repository) Close() error {
	for _, c := range r.contexts {
		c.close()
	}
	return nil
}
