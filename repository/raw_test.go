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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/datalayer/database"
	"github.com/tomoncle/datalayer/procedure"
)

type searchRow struct {
	CustomerID int64  `bun:"customer_id"`
	LastName   string `bun:"last_name"`
}

type customerSearch struct {
	procedure.Procedure `proc:"usp_CustomerSearch"`

	LastName  string `param:"@LastName"`
	PageIndex *int   `param:"@PageIndex"`
}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mgr, err := database.NewDatabaseManagerFromDB(database.DefaultContextName, "postgres", sqlDB)
	require.NoError(t, err)
	repo, err := Open(context.Background(), database.NewConnections(nil, mgr), testRegistry(t),
		WithConverter(testConverter(t)), WithLogger(database.NopLogger{}))
	require.NoError(t, err)
	return repo, mock
}

const searchCommand = "usp_CustomerSearch @LastName, @PageIndex"

func TestExecuteListMapsColumnsByName(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(searchCommand).WillReturnRows(
		sqlmock.NewRows([]string{"CUSTOMER_ID", "last_name", "unmapped"}).
			AddRow(int64(1), "Smith", "x").
			AddRow(int64(2), "Smythe", "y"),
	)

	rows, err := ExecuteList[searchRow](context.Background(), repo, procedure.MustBuild(&customerSearch{LastName: "Sm"}))
	require.NoError(t, err)
	assert.Equal(t, []*searchRow{{CustomerID: 1, LastName: "Smith"}, {CustomerID: 2, LastName: "Smythe"}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteListDecryptsEntities(t *testing.T) {
	repo, mock := newMockRepo(t)
	cipherText, err := testConverter(t).Encrypt("123-45-6789")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT * FROM customers").WillReturnRows(
		sqlmock.NewRows([]string{"customer_id", "first_name", "national_id"}).
			AddRow(int64(7), "Ada", cipherText),
	)

	rows, err := ExecuteList[customer](context.Background(), repo, procedure.Raw("SELECT * FROM customers"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "123-45-6789", rows[0].NationalID)
	assert.Equal(t, Detached, StateOf(repo, rows[0]))
}

func TestExecuteListPaged(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(searchCommand).WillReturnRows(
		sqlmock.NewRows([]string{"customer_id", "last_name"}).AddRow(int64(1), "Smith"),
		sqlmock.NewRows([]string{"total"}).AddRow(int64(42)),
	)

	page := 0
	rows, total, err := ExecuteListPaged[searchRow](context.Background(), repo, procedure.MustBuild(&customerSearch{LastName: "S", PageIndex: &page}))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 42, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteListPagedWithoutCount(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(searchCommand).WillReturnRows(
		sqlmock.NewRows([]string{"customer_id", "last_name"}).AddRow(int64(1), "Smith"),
	)

	_, _, err := ExecuteListPaged[searchRow](context.Background(), repo, procedure.MustBuild(&customerSearch{}))
	require.Error(t, err)
	assert.Equal(t, "The SQLRequest did not return the row count as a second result set. "+searchCommand, err.Error())
}

func TestExecuteReturnsRowsAffected(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("usp_Archive").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.Execute(context.Background(), procedure.Raw("usp_Archive"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestRawCommandsJoinOpenTransaction(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("usp_Archive").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.BeginTransaction(ctx, "", nil)
	require.NoError(t, err)
	_, err = repo.Execute(ctx, procedure.Raw("usp_Archive"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestForUnknownContext(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, err := ExecuteList[searchRow](context.Background(), repo, procedure.Raw("SELECT 1").On("Reporting"))
	assert.True(t, database.IsConfigurationError(err))

	_, err = repo.Execute(context.Background(), nil)
	assert.True(t, database.IsConfigurationError(err))
}

func TestCommandTimeout(t *testing.T) {
	repo, mock := newMockRepo(t)
	repo.SetCommandTimeout(1)
	mock.ExpectQuery(searchCommand).
		WillDelayFor(3 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))

	start := time.Now()
	_, err := ExecuteList[searchRow](context.Background(), repo, procedure.MustBuild(&customerSearch{}))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
