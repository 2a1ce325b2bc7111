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

	"github.com/uptrace/bun"

	"github.com/tomoncle/datalayer/database"
)

// QueryStep refines a select query.
type QueryStep func(q *bun.SelectQuery) *bun.SelectQuery

// Query is a deferred, composable select over one entity type. Every method
// returns a new Query; nothing runs until All, First or Count.
type Query[T any] struct {
	set     *EntitySet[T]
	tracked bool
	steps   []QueryStep
	columns []string
	err     error
}

func (q *Query[T]) with(step QueryStep) *Query[T] {
	c := *q
	c.steps = append(append([]QueryStep(nil), q.steps...), step)
	return &c
}

func (q *Query[T]) fail(err error) *Query[T] {
	c := *q
	if c.err == nil {
		c.err = err
	}
	return &c
}

// Model returns the entity model the query selects from.
func (q *Query[T]) Model() *database.EntityModel { return q.set.model }

func (q *Query[T]) Where(query string, args ...any) *Query[T] {
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery { return sq.Where(query, args...) })
}

func (q *Query[T]) WhereOr(query string, args ...any) *Query[T] {
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery { return sq.WhereOr(query, args...) })
}

// WhereGroup adds a parenthesized group joined with sep (" AND " or " OR ").
func (q *Query[T]) WhereGroup(sep string, fn QueryStep) *Query[T] {
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery { return sq.WhereGroup(sep, fn) })
}

// WhereField filters on a field by Go or column name.
func (q *Query[T]) WhereField(field string, value any) *Query[T] {
	f, ok := q.set.model.Field(field)
	if !ok {
		return q.fail(unknownField(field))
	}
	return q.Where("?TableAlias.? = ?", bun.Ident(f.Name), value)
}

// Order adds raw order expressions such as "last_name DESC".
func (q *Query[T]) Order(orders ...string) *Query[T] {
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery { return sq.Order(orders...) })
}

// OrderBy orders by a field given by Go or column name, ignoring case.
func (q *Query[T]) OrderBy(field string, desc bool) *Query[T] {
	f, ok := q.set.model.Field(field)
	if !ok {
		return q.fail(unknownField(field))
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery {
		return sq.OrderExpr("?TableAlias.? "+dir, bun.Ident(f.Name))
	})
}

func (q *Query[T]) Offset(n int) *Query[T] {
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery { return sq.Offset(n) })
}

func (q *Query[T]) Limit(n int) *Query[T] {
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery { return sq.Limit(n) })
}

// Relation eager loads a bun relation.
func (q *Query[T]) Relation(name string, apply ...QueryStep) *Query[T] {
	fns := make([]func(*bun.SelectQuery) *bun.SelectQuery, len(apply))
	for i, fn := range apply {
		fns[i] = fn
	}
	return q.with(func(sq *bun.SelectQuery) *bun.SelectQuery { return sq.Relation(name, fns...) })
}

// Apply adds an arbitrary step.
func (q *Query[T]) Apply(fn QueryStep) *Query[T] { return q.with(fn) }

// Select restricts the loaded fields. Partially loaded instances are never
// tracked.
func (q *Query[T]) Select(fields ...string) *Query[T] {
	c := *q
	c.tracked = false
	c.columns = append([]string(nil), q.columns...)
	for _, name := range fields {
		f, ok := q.set.model.Field(name)
		if !ok {
			return c.fail(unknownField(name))
		}
		c.columns = append(c.columns, f.Name)
	}
	return &c
}

func (q *Query[T]) AsUntracked() *Query[T] {
	c := *q
	c.tracked = false
	return &c
}

func (q *Query[T]) build(sq *bun.SelectQuery) *bun.SelectQuery {
	if len(q.columns) > 0 {
		sq = sq.Column(q.columns...)
	}
	for _, step := range q.steps {
		sq = step(sq)
	}
	return sq
}

// All runs the query. Tracked queries return already tracked instances in
// place of freshly loaded rows with the same key.
func (q *Query[T]) All(ctx context.Context) ([]*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	c := q.set.owner
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var rows []*T
	if err := q.build(c.IDB().NewSelect().Model(&rows)).Scan(ctx); err != nil {
		return nil, err
	}
	generic := make([]any, len(rows))
	for i, r := range rows {
		generic[i] = r
	}
	generic, err := c.materialize(q.set.model, generic, q.tracked)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(generic))
	for i, r := range generic {
		out[i] = r.(*T)
	}
	return out, nil
}

// First returns the first row or a *database.NotFoundError.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	rows, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &database.NotFoundError{Entity: q.set.model.Name()}
	}
	return rows[0], nil
}

// Count returns the number of matching rows, ignoring order, offset and
// limit.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	c := q.set.owner
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return q.build(c.IDB().NewSelect().Model((*T)(nil))).Count(ctx)
}

func unknownField(name string) error {
	return database.NewValidationError(fmt.Sprintf(
		"%s doesn't exist. Please check if the field exists or if the spelling is correct", name))
}
