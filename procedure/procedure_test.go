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

package procedure

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/datalayer/database"
)

type customerSearch struct {
	Procedure `proc:"usp_CustomerSearch" dal:"context:Reporting"`

	LastName  string         `param:"@LastName"`
	MinAge    *int           `param:"@MinAge"`
	Region    sql.NullString `param:"@Region"`
	Tags      []string       `param:"@Tags"`
	PageIndex int            `param:"PageIndex"`
	internal  string
	Ignored   string
}

type noName struct {
	Procedure

	ID int `param:"@ID"`
}

type noParams struct {
	Procedure `proc:"usp_Refresh"`
}

func TestBuildCommandAndParameters(t *testing.T) {
	age := 30
	inv, err := Build(&customerSearch{LastName: "Smith", MinAge: &age, PageIndex: 2})
	require.NoError(t, err)

	assert.Equal(t, "usp_CustomerSearch", inv.Name)
	assert.Equal(t, "usp_CustomerSearch @LastName, @MinAge, @Region, @Tags, @PageIndex", inv.CommandText())
	assert.Equal(t, "Reporting", inv.ContextName())
	assert.Equal(t, []sql.NamedArg{
		sql.Named("LastName", "Smith"),
		sql.Named("MinAge", 30),
		sql.Named("Region", nil),
		sql.Named("Tags", nil),
		sql.Named("PageIndex", 2),
	}, inv.Params)
}

func TestBuildNullsAndValidNullable(t *testing.T) {
	inv, err := Build(customerSearch{Region: sql.NullString{String: "EU", Valid: true}})
	require.NoError(t, err)

	assert.Nil(t, inv.Params[1].Value)
	assert.Equal(t, "EU", inv.Params[2].Value)
}

func TestBuildMissingProcedureName(t *testing.T) {
	_, err := Build(&noName{ID: 1})
	require.Error(t, err)
	assert.True(t, database.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "undefined procedure name for procedure.noName")

	_, err = Build(struct{ A int }{})
	assert.True(t, database.IsConfigurationError(err))

	var nilReq *customerSearch
	_, err = Build(nilReq)
	assert.True(t, database.IsConfigurationError(err))
}

func TestBuildDefaultsAndNoParams(t *testing.T) {
	inv, err := Build(noParams{})
	require.NoError(t, err)
	assert.Equal(t, "usp_Refresh", inv.CommandText())
	assert.Equal(t, database.DefaultContextName, inv.ContextName())
	assert.Empty(t, inv.Parameters())
}

func TestRawAndOn(t *testing.T) {
	inv := Raw("SELECT * FROM customers WHERE id = ? AND name = @name", 5, sql.Named("name", "x"))
	assert.Equal(t, []any{5, sql.Named("name", "x")}, inv.Parameters())
	assert.Equal(t, database.DefaultContextName, inv.ContextName())

	other := inv.On("Reporting")
	assert.Equal(t, "Reporting", other.ContextName())
	assert.Equal(t, database.DefaultContextName, inv.ContextName())

	same, err := Build(other)
	require.NoError(t, err)
	assert.Same(t, other, same)
}
