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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/datalayer/database"
)

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)

	require.NoError(t, repo.EnsureSchema(ctx))

	var applied int
	require.NoError(t, db.NewRaw("SELECT COUNT(*) FROM dal_migrations").Scan(ctx, &applied))
	assert.Equal(t, 1, applied)

	_, err := db.NewInsert().Model(&order{CustomerID: 404, Number: "A-1"}).Exec(ctx)
	ok, kind := database.IsSqlError(err)
	assert.True(t, ok)
	assert.Equal(t, database.ForeignKeyViolationErr, kind)
}

func TestRunScripts(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_seed.sql"),
		[]byte("INSERT INTO customers (first_name, last_name, national_id) VALUES ('Ada', 'Lovelace', '');"), 0o600))

	c, ok := repo.Context(database.DefaultContextName)
	require.True(t, ok)
	c.SetScriptsPath(dir)

	results, err := repo.RunScripts(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	n, err := db.NewSelect().Model((*customer)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunScriptsWithoutPaths(t *testing.T) {
	repo, _ := newTestRepo(t)
	results, err := repo.RunScripts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}
