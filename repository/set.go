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
	"errors"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"

	"github.com/tomoncle/datalayer/database"
)

// EntitySet is the typed view of one entity type inside its owning context.
type EntitySet[T any] struct {
	owner *Context
	model *database.EntityModel
}

// Set resolves the context owning T. Sets are cached per context.
func Set[T any](r *Repository) (*EntitySet[T], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	c, err := r.ContextFor(typ)
	if err != nil {
		return nil, err
	}
	if cached, ok := c.sets[typ]; ok {
		return cached.(*EntitySet[T]), nil
	}
	s := &EntitySet[T]{owner: c, model: c.models[typ]}
	c.sets[typ] = s
	return s, nil
}

// ModelOf returns the entity model of T.
func ModelOf[T any](r *Repository) (*database.EntityModel, error) {
	s, err := Set[T](r)
	if err != nil {
		return nil, err
	}
	return s.model, nil
}

func (s *EntitySet[T]) Context() *Context { return s.owner }

func (s *EntitySet[T]) Model() *database.EntityModel { return s.model }

// Find returns the instance with the given key. Tracked instances are
// returned without a round trip; deleted ones count as missing.
func (s *EntitySet[T]) Find(ctx context.Context, id any) (*T, error) {
	key, err := s.normalizeKey(id)
	if err != nil {
		return nil, err
	}
	if e, ok := s.owner.tracker.byKey(s.model, key); ok {
		if e.state == Deleted {
			return nil, &database.NotFoundError{Entity: s.model.Name(), ID: id}
		}
		return e.ptr.(*T), nil
	}

	ctx, cancel := s.owner.withTimeout(ctx)
	defer cancel()
	ent := new(T)
	err = s.owner.IDB().NewSelect().
		Model(ent).
		Where("?TableAlias.? = ?", bun.Ident(s.model.Key.Name), key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &database.NotFoundError{Entity: s.model.Name(), ID: id}
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.owner.materialize(s.model, []any{ent}, true)
	if err != nil {
		return nil, err
	}
	return rows[0].(*T), nil
}

func (s *EntitySet[T]) normalizeKey(id any) (any, error) {
	keyType := s.model.Key.IndirectType
	v := reflect.ValueOf(id)
	if !v.IsValid() {
		return nil, fmt.Errorf("%s: key cannot be nil", s.model.Name())
	}
	if v.Type() == keyType {
		return id, nil
	}
	if !v.Type().ConvertibleTo(keyType) {
		return nil, fmt.Errorf("%s: key %v of type %T does not match %s", s.model.Name(), id, id, keyType)
	}
	return v.Convert(keyType).Interface(), nil
}

// Query starts a tracked query over the set.
func (s *EntitySet[T]) Query() *Query[T] { return &Query[T]{set: s, tracked: true} }

// QueryUntracked starts a query whose results are not tracked.
func (s *EntitySet[T]) QueryUntracked() *Query[T] { return &Query[T]{set: s} }

// Add stages e for insertion. Adding an already tracked instance is a no-op.
func (s *EntitySet[T]) Add(e *T) {
	if e != nil {
		s.owner.tracker.add(s.model, e)
	}
}

// AddAll adds every instance not already tracked.
func (s *EntitySet[T]) AddAll(es ...*T) {
	for _, e := range es {
		s.Add(e)
	}
}

// AddRange stages every instance for insertion, including tracked ones in
// another state. An instance is never staged twice.
func (s *EntitySet[T]) AddRange(es ...*T) {
	for _, e := range es {
		if e != nil {
			s.owner.tracker.forceAdd(s.model, e)
		}
	}
}

// Attach starts tracking e as unchanged, or as added when its key is unset.
func (s *EntitySet[T]) Attach(e *T) {
	if e != nil {
		s.owner.tracker.attach(s.model, e)
	}
}

// Delete stages e for deletion, attaching it first when needed.
func (s *EntitySet[T]) Delete(e *T) {
	if e != nil {
		s.owner.tracker.remove(s.model, e)
	}
}

func (s *EntitySet[T]) DeleteAll(es ...*T) {
	for _, e := range es {
		s.Delete(e)
	}
}

// State reports how e is tracked.
func (s *EntitySet[T]) State(e *T) EntityState { return s.owner.tracker.state(e) }

// Truncate removes every row of the table immediately, outside the unit of
// work, and forgets tracked instances of T.
func (s *EntitySet[T]) Truncate(ctx context.Context) error {
	ctx, cancel := s.owner.withTimeout(ctx)
	defer cancel()
	if _, err := s.owner.IDB().NewTruncateTable().Model((*T)(nil)).Exec(ctx); err != nil {
		return err
	}
	s.owner.tracker.detachType(s.model.Entity.Type)
	return nil
}

// Find loads the T with the given key from its owning context.
func Find[T any](ctx context.Context, r *Repository, id any) (*T, error) {
	s, err := Set[T](r)
	if err != nil {
		return nil, err
	}
	return s.Find(ctx, id)
}

// GetAll starts a tracked query over T, eager loading relations.
func GetAll[T any](r *Repository, relations ...string) (*Query[T], error) {
	s, err := Set[T](r)
	if err != nil {
		return nil, err
	}
	q := s.Query()
	for _, rel := range relations {
		q = q.Relation(rel)
	}
	return q, nil
}

// GetAllAsUntracked is GetAll without change tracking.
func GetAllAsUntracked[T any](r *Repository, relations ...string) (*Query[T], error) {
	q, err := GetAll[T](r, relations...)
	if err != nil {
		return nil, err
	}
	return q.AsUntracked(), nil
}

func Add[T any](r *Repository, e *T) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	s.Add(e)
	return nil
}

func AddAll[T any](r *Repository, es ...*T) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	s.AddAll(es...)
	return nil
}

func AddRange[T any](r *Repository, es ...*T) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	s.AddRange(es...)
	return nil
}

func Attach[T any](r *Repository, e *T) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	s.Attach(e)
	return nil
}

func Delete[T any](r *Repository, e *T) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	s.Delete(e)
	return nil
}

func DeleteAll[T any](r *Repository, es ...*T) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	s.DeleteAll(es...)
	return nil
}

// StateOf reports how e is tracked; Detached when T has no owning context.
func StateOf[T any](r *Repository, e *T) EntityState {
	s, err := Set[T](r)
	if err != nil {
		return Detached
	}
	return s.State(e)
}

func Truncate[T any](ctx context.Context, r *Repository) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	return s.Truncate(ctx)
}
