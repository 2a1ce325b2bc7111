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
	"hash/fnv"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// MigrationManager applies versioned migrations to one database and records
// them in the dal_migrations table.
type MigrationManager struct {
	db     *bun.DB
	logger Logger
}

// Migration represents an applied migration record stored in the database.
type Migration struct {
	bun.BaseModel `bun:"table:dal_migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step executed within a transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
}

// NewMigrationManager constructs a MigrationManager for db.
func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	return &MigrationManager{db: db, logger: logger}
}

// RunMigrations creates the tracking table if needed and executes the items
// not applied yet, in ascending version order, each in its own transaction.
// Statements are not echoed by QueryHook unless DAL_QUERY_LOG_MIGRATION is set.
func (mm *MigrationManager) RunMigrations(ctx context.Context, items ...MigrationItem) error {
	if _, ok := os.LookupEnv("DAL_QUERY_LOG_MIGRATION"); !ok {
		SetQuerySilent(true)
		defer SetQuerySilent(false)
	}

	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := mm.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	sorted := make([]MigrationItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	for _, migration := range sorted {
		if err := mm.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

func (mm *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := mm.db.NewCreateTable().
		Model((*Migration)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", migration.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := migration.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().
			Model(&Migration{
				Version:     migration.Version,
				Name:        migration.Name,
				AppliedAt:   time.Now(),
				Description: migration.Description,
			}).
			Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name)
	return nil
}

// GetAppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	var migrations []Migration
	err := mm.db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}

// CreateTablesMigration creates the tables of models, principals before
// dependents, with their foreign keys. Its version is derived from the table
// names, so a context that gains an entity runs it again; existing tables are
// left alone.
func CreateTablesMigration(models []*EntityModel) MigrationItem {
	ordered := orderByDependency(models)
	names := make([]string, len(ordered))
	for i, m := range ordered {
		names[i] = m.Table.Name
	}
	sortedNames := append([]string(nil), names...)
	sort.Strings(sortedNames)
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.Join(sortedNames, ",")))

	return MigrationItem{
		Version:     fmt.Sprintf("001_tables_%08x", h.Sum32()),
		Name:        "create_tables",
		Description: "Create tables: " + strings.Join(names, ", "),
		Up: func(ctx context.Context, db bun.IDB) error {
			for _, m := range ordered {
				q := db.NewCreateTable().
					Model(reflect.New(m.Entity.Type).Interface()).
					IfNotExists()
				for i := range m.ForeignKeys {
					q = m.ForeignKeys[i].ApplyTo(q)
				}
				if _, err := q.Exec(ctx); err != nil {
					return fmt.Errorf("failed to create table %s: %w", m.Table.Name, err)
				}
			}
			return nil
		},
	}
}

// orderByDependency keeps the given order except that referenced tables come
// before the tables referencing them. Cycles are broken at the first back edge.
func orderByDependency(models []*EntityModel) []*EntityModel {
	byTable := make(map[string]*EntityModel, len(models))
	for _, m := range models {
		byTable[m.Table.Name] = m
	}
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(models))
	ordered := make([]*EntityModel, 0, len(models))

	var visit func(m *EntityModel)
	visit = func(m *EntityModel) {
		if state[m.Table.Name] != 0 {
			return
		}
		state[m.Table.Name] = visiting
		for _, fk := range m.ForeignKeys {
			if dep, ok := byTable[fk.ReferenceTable]; ok && dep != m {
				visit(dep)
			}
		}
		state[m.Table.Name] = done
		ordered = append(ordered, m)
	}
	for _, m := range models {
		visit(m)
	}
	return ordered
}
