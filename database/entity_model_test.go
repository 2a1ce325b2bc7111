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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// reverser "encrypts" by reversing and prefixing, which is enough to see
// both directions applied.
type reverser struct{}

func (reverser) Encrypt(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return "enc:" + string(r), nil
}

func (c reverser) Decrypt(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("not encrypted")
	}
	plain, _ := c.Encrypt(strings.TrimPrefix(s, "enc:"))
	return strings.TrimPrefix(plain, "enc:"), nil
}

func openTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := newBunDB("sqlite", sqlDB)
	require.NoError(t, err)
	return db
}

func accountModel(t *testing.T, db *bun.DB, conv FieldConverter) *EntityModel {
	t.Helper()
	et, err := newEntityType(reflect.TypeOf(account{}), "bank")
	require.NoError(t, err)
	m, err := NewEntityModel(db, et, conv)
	require.NoError(t, err)
	return m
}

func TestEntityModelKeyAndFields(t *testing.T) {
	m := accountModel(t, openTestDB(t), reverser{})

	assert.Equal(t, "id", m.Key.Name)
	assert.True(t, m.KeyIsPK())
	assert.Equal(t, "account", m.Name())

	for _, name := range []string{"Owner", "owner", "OWNER"} {
		f, ok := m.Field(name)
		require.True(t, ok, name)
		assert.Equal(t, "owner", f.Name)
	}
	f, ok := m.Field("create_user")
	require.True(t, ok)
	assert.Equal(t, "CreateUser", f.GoName)
	_, ok = m.Field("missing")
	assert.False(t, ok)

	a := account{}
	v := reflect.ValueOf(&a).Elem()
	assert.True(t, m.IsNew(v))
	assert.True(t, m.SetKey(v, 7))
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, int64(7), m.KeyValue(v))
	assert.False(t, m.IsNew(v))
}

func TestEntityModelRequiresConverterForEncryptedFields(t *testing.T) {
	et, err := newEntityType(reflect.TypeOf(account{}), "bank")
	require.NoError(t, err)
	_, err = NewEntityModel(openTestDB(t), et, nil)
	assert.True(t, IsConfigurationError(err))
}

func TestEntityModelForeignKeys(t *testing.T) {
	et, err := newEntityType(reflect.TypeOf(ledgerRow{}), "bank")
	require.NoError(t, err)
	et.ForeignKeys = []ForeignKeyRef{{Field: "AccountID", Principal: reflect.TypeOf(account{}), OnDelete: "CASCADE"}}

	m, err := NewEntityModel(openTestDB(t), et, nil)
	require.NoError(t, err)
	require.Len(t, m.ForeignKeys, 1)
	fk := m.ForeignKeys[0]
	assert.Equal(t, ForeignKeyConstraint{
		Table: "ledger", Column: "account_id", ReferenceTable: "accounts", ReferenceColumn: "id", OnDelete: "CASCADE",
	}, fk)
	assert.Equal(t, "fk_ledger_account_id", fk.GenerateConstraintName())

	et.ForeignKeys[0].OnDelete = "EXPLODE"
	_, err = NewEntityModel(openTestDB(t), et, nil)
	assert.True(t, IsConfigurationError(err))
}

func TestCopyFieldsSkipsKeyNavigationsAndNamedFields(t *testing.T) {
	m := accountModel(t, openTestDB(t), reverser{})
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	dst := account{ID: 1, Owner: "old", AuditFields: AuditFields{CreateUser: "ann", CreateDate: created}}
	src := account{
		ID: 99, Owner: "new", IBAN: "DE00",
		AuditFields: AuditFields{CreateUser: "mallory", ModifyUser: "bob"},
		Entries:     []*ledgerRow{{RowID: 1}},
	}
	m.CopyFields(reflect.ValueOf(&dst).Elem(), reflect.ValueOf(&src).Elem(), []string{"createuser", "create_date"})

	assert.Equal(t, int64(1), dst.ID)
	assert.Equal(t, "new", dst.Owner)
	assert.Equal(t, "DE00", dst.IBAN)
	assert.Equal(t, "ann", dst.CreateUser)
	assert.Equal(t, created, dst.CreateDate)
	assert.Equal(t, "bob", dst.ModifyUser)
	assert.Nil(t, dst.Entries)
}

func TestMergeRelations(t *testing.T) {
	m := accountModel(t, openTestDB(t), reverser{})
	loaded := []*ledgerRow{{RowID: 7}}

	dst := account{ID: 1, Owner: "ann"}
	m.MergeRelations(reflect.ValueOf(&dst).Elem(), reflect.ValueOf(&account{ID: 1, Owner: "other", Entries: loaded}).Elem())
	assert.Equal(t, loaded, dst.Entries)
	assert.Equal(t, "ann", dst.Owner)

	m.MergeRelations(reflect.ValueOf(&dst).Elem(), reflect.ValueOf(&account{ID: 1}).Elem())
	assert.Equal(t, loaded, dst.Entries)
}

func TestSnapshotRestoreAndChangedColumns(t *testing.T) {
	m := accountModel(t, openTestDB(t), reverser{})
	a := account{ID: 1, Owner: "ann", IBAN: "DE00"}
	v := reflect.ValueOf(&a).Elem()

	snap := m.Snapshot(v)
	assert.Empty(t, m.ChangedColumns(v, snap))

	a.Owner = "bob"
	a.IBAN = "DE11"
	assert.ElementsMatch(t, []string{"owner", "iban"}, m.ChangedColumns(v, snap))

	m.Restore(v, snap)
	assert.Equal(t, "ann", a.Owner)
	assert.Equal(t, "DE00", a.IBAN)
}

func TestEncryptAndDecryptFields(t *testing.T) {
	m := accountModel(t, openTestDB(t), reverser{})
	a := account{Owner: "ann", IBAN: "DE89"}
	v := reflect.ValueOf(&a).Elem()

	restore, err := m.EncryptFields(v)
	require.NoError(t, err)
	assert.Equal(t, "enc:98ED", a.IBAN)
	assert.Equal(t, "ann", a.Owner)
	restore()
	assert.Equal(t, "DE89", a.IBAN)

	a.IBAN = "enc:98ED"
	require.NoError(t, m.DecryptFields(v))
	assert.Equal(t, "DE89", a.IBAN)

	a.IBAN = "plain"
	assert.Error(t, m.DecryptFields(v))
}

type searchHit struct {
	CustomerID int64  `bun:"customer_id"`
	LastName   string `bun:"last_name"`
}

func TestResultModelScansByColumnName(t *testing.T) {
	m := NewResultModel(openTestDB(t), reflect.TypeOf(searchHit{}))
	var hit searchHit
	v := reflect.ValueOf(&hit).Elem()

	ok, err := m.ScanColumn(v, "CUSTOMER_ID", int64(4))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.ScanColumn(v, "LastName", []byte("Smith"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.ScanColumn(v, "unknown", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, searchHit{CustomerID: 4, LastName: "Smith"}, hit)
}

func TestDuplicate(t *testing.T) {
	a := &account{ID: 1, Owner: "ann"}
	c := Duplicate(a)
	c.Owner = "bob"
	assert.Equal(t, "ann", a.Owner)
	assert.Nil(t, Duplicate[account](nil))

	now := time.Now()
	c.MarkCreated("ann", now)
	c.MarkModified("bob", now)
	assert.Equal(t, "ann", c.CreateUser)
	assert.Equal(t, "bob", c.ModifyUser)
	assert.Equal(t, now, *c.ModifyDate)
}
