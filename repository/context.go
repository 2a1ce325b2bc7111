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
	"fmt"
	"reflect"
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/datalayer/database"
)

// Context is one named database context: a pool, the entity types it owns
// and a unit of work tracking the instances loaded or staged through it.
type Context struct {
	name    string
	db      *bun.DB
	models  map[reflect.Type]*database.EntityModel
	order   []*database.EntityModel
	sets    map[reflect.Type]any
	tracker *tracker
	tx      *Transaction
	timeout time.Duration
	scripts string
	logger  database.Logger
}

// NewContext binds entities to db. converter may be nil when none of the
// entities has encrypted fields.
func NewContext(name string, db *bun.DB, entities []*database.EntityType, converter database.FieldConverter, logger database.Logger) (*Context, error) {
	if db == nil {
		return nil, database.NewConfigurationError("database context %s has no connection", name)
	}
	if logger == nil {
		logger = database.GetLogger()
	}
	c := &Context{
		name:    name,
		db:      db,
		models:  make(map[reflect.Type]*database.EntityModel, len(entities)),
		sets:    make(map[reflect.Type]any),
		tracker: newTracker(),
		logger:  logger,
	}
	for _, et := range entities {
		m, err := database.NewEntityModel(db, et, converter)
		if err != nil {
			return nil, err
		}
		c.models[et.Type] = m
		c.order = append(c.order, m)
	}
	return c, nil
}

func (c *Context) Name() string { return c.name }

func (c *Context) DB() *bun.DB { return c.db }

// IDB returns the open transaction, or the pool when there is none.
func (c *Context) IDB() bun.IDB {
	if c.tx != nil {
		return c.tx.tx
	}
	return c.db
}

// Model returns the model of an owned entity type.
func (c *Context) Model(typ reflect.Type) (*database.EntityModel, bool) {
	m, ok := c.models[typ]
	return m, ok
}

// Models returns the owned entity models in registration order.
func (c *Context) Models() []*database.EntityModel {
	out := make([]*database.EntityModel, len(c.order))
	copy(out, c.order)
	return out
}

// EntityNames lists the owned entity types.
func (c *Context) EntityNames() []string {
	names := make([]string, 0, len(c.order))
	for _, m := range c.order {
		names = append(names, m.Name())
	}
	return names
}

func (c *Context) HasChanges() bool { return c.tracker.hasChanges() }

func (c *Context) InTransaction() bool { return c.tx != nil }

// SetCommandTimeout bounds every statement issued through the context.
// Zero or negative means no bound.
func (c *Context) SetCommandTimeout(d time.Duration) { c.timeout = d }

func (c *Context) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// SaveChanges writes every staged change: inserts, then updates of the
// modified columns, then deletes. Without an open transaction the batch runs
// in its own one. It returns the number of entities written.
func (c *Context) SaveChanges(ctx context.Context) (int, error) {
	changes := c.tracker.pending()
	if len(changes) == 0 {
		return 0, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	run := func(ctx context.Context, db bun.IDB) error {
		for _, state := range []EntityState{Added, Modified, Deleted} {
			for _, ch := range changes {
				if ch.state != state {
					continue
				}
				if err := c.write(ctx, db, ch); err != nil {
					return err
				}
			}
		}
		return nil
	}

	var err error
	if c.tx != nil {
		err = run(ctx, c.tx.tx)
	} else {
		err = c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return run(ctx, tx)
		})
	}
	if err != nil {
		c.logger.Debug("save changes failed", "context", c.name, "error", err)
		return 0, err
	}
	c.tracker.accept(changes)
	c.logger.Debug("changes saved", "context", c.name, "entities", len(changes))
	return len(changes), nil
}

func (c *Context) write(ctx context.Context, db bun.IDB, ch change) error {
	e := ch.entry
	m := e.model
	restore, err := m.EncryptFields(e.value)
	if err != nil {
		return err
	}
	defer restore()

	switch ch.state {
	case Added:
		_, err = db.NewInsert().Model(e.ptr).Exec(ctx)
	case Modified:
		q := db.NewUpdate().Model(e.ptr).Column(ch.columns...)
		_, err = whereKey(q, m, e.value).Exec(ctx)
	case Deleted:
		q := db.NewDelete().Model(e.ptr)
		_, err = whereKey(q, m, e.value).Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", ch.state, m.Name(), err)
	}
	return nil
}

type keyFilter[Q any] interface {
	WherePK(cols ...string) Q
	Where(query string, args ...any) Q
}

func whereKey[Q keyFilter[Q]](q Q, m *database.EntityModel, strct reflect.Value) Q {
	if m.KeyIsPK() {
		return q.WherePK()
	}
	return q.Where("?TableAlias.? = ?", bun.Ident(m.Key.Name), m.KeyValue(strct))
}

// Rollback discards staged changes: modified instances get their loaded
// values back, added ones are forgotten and deleted ones become unchanged.
func (c *Context) Rollback() { c.tracker.rollback() }

// materialize decrypts freshly scanned rows, including loaded relations, and
// with tracking on swaps in already tracked instances.
func (c *Context) materialize(model *database.EntityModel, rows []any, track bool) ([]any, error) {
	for i, ptr := range rows {
		v := reflect.ValueOf(ptr).Elem()
		if err := model.DecryptFields(v); err != nil {
			return nil, err
		}
		if err := c.decryptRelations(model, v); err != nil {
			return nil, err
		}
		if track {
			rows[i] = c.tracker.materialized(model, ptr)
		}
	}
	return rows, nil
}

func (c *Context) decryptRelations(model *database.EntityModel, v reflect.Value) error {
	for _, rel := range model.Table.Relations {
		fv, err := v.FieldByIndexErr(rel.Field.Index)
		if err != nil {
			continue
		}
		if err := c.decryptValue(fv); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) decryptValue(fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.Ptr:
		if fv.IsNil() || fv.Elem().Kind() != reflect.Struct {
			return nil
		}
		if m, ok := c.models[fv.Elem().Type()]; ok {
			return m.DecryptFields(fv.Elem())
		}
	case reflect.Struct:
		if m, ok := c.models[fv.Type()]; ok && fv.CanSet() {
			return m.DecryptFields(fv)
		}
	case reflect.Slice:
		for i := 0; i < fv.Len(); i++ {
			if err := c.decryptValue(fv.Index(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Context) close() {
	if c.tx != nil {
		_ = c.tx.Rollback()
	}
	c.tracker.reset()
	c.sets = make(map[reflect.Type]any)
}
