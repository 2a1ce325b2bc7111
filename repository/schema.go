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

	"github.com/tomoncle/datalayer/database"
)

// EnsureSchema creates the missing tables of every context, recording the
// run in the context's migration table.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, c := range r.contexts {
		if err := r.ensureSchema(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ensureSchema(ctx context.Context, c *Context) error {
	if len(c.order) == 0 {
		return nil
	}
	mm := database.NewMigrationManager(c.db, c.logger)
	if err := mm.RunMigrations(ctx, database.CreateTablesMigration(c.order)); err != nil {
		return fmt.Errorf("context %s: %w", c.name, err)
	}
	return nil
}

// RunScripts executes the SQL scripts configured for each context.
func (r *Repository) RunScripts(ctx context.Context) ([]database.ExecutionResult, error) {
	var all []database.ExecutionResult
	for _, c := range r.contexts {
		if c.scripts == "" {
			continue
		}
		results, err := database.NewScriptRunner(c.db, c.scripts, c.logger).Run(ctx)
		all = append(all, results...)
		if err != nil {
			return all, fmt.Errorf("context %s: %w", c.name, err)
		}
	}
	return all, nil
}

// SetScriptsPath sets the scripts directory of a context built with
// NewContext.
func (c *Context) SetScriptsPath(path string) { c.scripts = path }
