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

	"github.com/tomoncle/datalayer/database"
	"github.com/tomoncle/datalayer/procedure"
)

// querier is satisfied by *sql.DB and *sql.Tx. Raw commands go straight to
// the driver so procedure text is never rewritten by the query formatter.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Context) querier() querier {
	if c.tx != nil {
		return c.tx.tx.Tx
	}
	return c.db.DB
}

func (r *Repository) contextOf(req procedure.Request) (*Context, error) {
	if req == nil {
		return nil, database.NewConfigurationError("procedure request cannot be nil")
	}
	c, ok := r.Context(req.ContextName())
	if !ok {
		return nil, database.NewConfigurationError("no database context named %q is configured", req.ContextName())
	}
	return c, nil
}

// Execute runs a command that returns no rows and reports the affected row
// count.
func (r *Repository) Execute(ctx context.Context, req procedure.Request) (int64, error) {
	c, err := r.contextOf(req)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	c.logger.Debug("execute command", "context", c.name, "command", req.CommandText())
	res, err := c.querier().ExecContext(ctx, req.CommandText(), req.Parameters()...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExecuteList runs req on the context owning T and maps the first result
// set onto T by column name. Unmapped columns are ignored. Plain result
// structs that no context owns run on the context named by the request.
func ExecuteList[T any](ctx context.Context, r *Repository, req procedure.Request) ([]*T, error) {
	list, _, err := executeList[T](ctx, r, req, false)
	return list, err
}

// ExecuteListPaged is ExecuteList for commands that return the total row
// count as a single value in a second result set.
func ExecuteListPaged[T any](ctx context.Context, r *Repository, req procedure.Request) ([]*T, int, error) {
	return executeList[T](ctx, r, req, true)
}

func executeList[T any](ctx context.Context, r *Repository, req procedure.Request, paged bool) ([]*T, int, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	c, err := r.ContextFor(typ)
	if err != nil {
		if c, err = r.contextOf(req); err != nil {
			return nil, 0, err
		}
	}
	model, err := c.resultModel(typ)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	c.logger.Debug("execute query command", "context", c.name, "command", req.CommandText())
	rows, err := c.querier().QueryContext(ctx, req.CommandText(), req.Parameters()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list, err := scanRows[T](rows, model)
	if err != nil {
		return nil, 0, err
	}
	if !paged {
		return list, 0, rows.Err()
	}

	missing := fmt.Errorf("The SQLRequest did not return the row count as a second result set. %s", req.CommandText())
	if !rows.NextResultSet() || !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, 0, err
		}
		return nil, 0, missing
	}
	var total int
	if err := rows.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", missing, err)
	}
	return list, total, rows.Err()
}

func scanRows[T any](rows *sql.Rows, model *database.EntityModel) ([]*T, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var list []*T
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		ent := new(T)
		v := reflect.ValueOf(ent).Elem()
		for i, col := range cols {
			if _, err := model.ScanColumn(v, col, values[i]); err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
		}
		if err := model.DecryptFields(v); err != nil {
			return nil, err
		}
		list = append(list, ent)
	}
	return list, rows.Err()
}

// resultModel returns the model of typ, building an unregistered one for
// plain result row structs.
func (c *Context) resultModel(typ reflect.Type) (*database.EntityModel, error) {
	if m, ok := c.models[typ]; ok {
		return m, nil
	}
	if typ.Kind() != reflect.Struct {
		return nil, database.NewConfigurationError("result type %s must be a struct", typ)
	}
	return database.NewResultModel(c.db, typ), nil
}
