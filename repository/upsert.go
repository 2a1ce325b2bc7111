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
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/tomoncle/datalayer/database"
)

// Upsert inserts entities immediately, outside the unit of work, updating
// fields on rows that collide with conflictKeys. Fields and keys are Go or
// column names; no conflictKeys means the entity key. Encrypted fields are
// written encrypted.
func Upsert[T any](ctx context.Context, r *Repository, fields, conflictKeys []string, entities ...*T) error {
	s, err := Set[T](r)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}
	cols, err := s.columns(fields)
	if err != nil {
		return err
	}
	if len(conflictKeys) == 0 {
		conflictKeys = []string{s.model.Key.Name}
	}
	keys, err := s.columns(conflictKeys)
	if err != nil {
		return err
	}

	for _, e := range entities {
		restore, err := s.model.EncryptFields(reflect.ValueOf(e).Elem())
		if err != nil {
			return err
		}
		defer restore()
	}

	c := s.owner
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	db := c.IDB()
	q := db.NewInsert().Model(&entities)

	switch {
	case c.db.HasFeature(feature.InsertOnConflict):
		set := make([]string, len(cols))
		for i, col := range cols {
			set[i] = fmt.Sprintf("%s = EXCLUDED.%s", quote(c.db, col), quote(c.db, col))
		}
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = quote(c.db, k)
		}
		q = q.On("CONFLICT (" + strings.Join(quoted, ", ") + ") DO UPDATE").Set(strings.Join(set, ", "))
	case c.db.HasFeature(feature.InsertOnDuplicateKey):
		set := make([]string, len(cols))
		for i, col := range cols {
			set[i] = fmt.Sprintf("%s = VALUES(%s)", quote(c.db, col), quote(c.db, col))
		}
		q = q.On("DUPLICATE KEY UPDATE " + strings.Join(set, ", "))
	default:
		return upsertFallback(ctx, db, s.model, entities)
	}
	_, err = q.Exec(ctx)
	return err
}

// upsertFallback tries an insert and falls back to an update per entity.
func upsertFallback[T any](ctx context.Context, db bun.IDB, model *database.EntityModel, entities []*T) error {
	for _, e := range entities {
		_, err := db.NewInsert().Model(e).Exec(ctx)
		if err == nil {
			continue
		}
		q := db.NewUpdate().Model(e)
		if _, updateErr := whereKey(q, model, reflect.ValueOf(e).Elem()).Exec(ctx); updateErr != nil {
			return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %v", err, updateErr)
		}
	}
	return nil
}

func (s *EntitySet[T]) columns(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		f, ok := s.model.Field(n)
		if !ok {
			return nil, unknownField(n)
		}
		out[i] = f.Name
	}
	return out, nil
}

func quote(db *bun.DB, ident string) string {
	return string(db.Formatter().AppendIdent(nil, ident))
}
