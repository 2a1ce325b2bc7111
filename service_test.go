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

package datalayer

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tomoncle/datalayer/database"
	"github.com/tomoncle/datalayer/encryption"
	"github.com/tomoncle/datalayer/repository"
	"github.com/tomoncle/datalayer/types"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets,alias:w"`
	database.AuditFields

	ID     int64  `bun:"widget_id,pk,autoincrement"`
	Name   string `bun:"name,unique"`
	Secret string `bun:"secret" dal:"encrypt"`
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newWidgetService(t *testing.T, opts ...Option[widget, int64]) (*EntityService[widget, int64], *bun.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mgr, err := database.NewDatabaseManagerFromDB(database.DefaultContextName, "sqlite", sqlDB)
	require.NoError(t, err)
	_, err = mgr.GetDB().Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	reg := database.NewRegistry()
	require.NoError(t, database.RegisterEntity[widget](reg.Module("catalog")))
	conv, err := encryption.New(encryption.StaticKey(bytes.Repeat([]byte{3}, encryption.KeySize)))
	require.NoError(t, err)

	cfg := &database.Config{Contexts: []database.ContextConfig{{
		Name:             database.DefaultContextName,
		Modules:          []string{"catalog"},
		AutoCreateTables: true,
	}}}
	repo, err := repository.Open(context.Background(), database.NewConnections(cfg, mgr), reg,
		repository.WithConverter(conv), repository.WithLogger(database.NopLogger{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	opts = append([]Option[widget, int64]{WithServiceLogger[widget, int64](database.NopLogger{})}, opts...)
	svc := NewEntityService[widget, int64](repo, opts...)
	svc.now = func() time.Time { return fixedNow }
	return svc, mgr.GetDB()
}

func seedWidgets(t *testing.T, svc *EntityService[widget, int64], n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		resp, err := svc.Save(context.Background(), &types.SaveRequest[widget]{
			Entity: &widget{Name: fmt.Sprintf("widget-%02d", i), Secret: fmt.Sprintf("s%d", i)},
		})
		require.NoError(t, err)
		require.True(t, resp.IsSuccessful, resp.Message)
	}
}

func loadWidget(t *testing.T, db *bun.DB, id int64) widget {
	t.Helper()
	var w widget
	require.NoError(t, db.NewSelect().Model(&w).Where("widget_id = ?", id).Scan(context.Background()))
	return w
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWidgetService(t)
	seedWidgets(t, svc, 2)

	resp, err := svc.Fetch(ctx, &types.FetchRequest[int64]{ID: 2})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccessful)
	assert.Equal(t, "widget-02", resp.Entity.Name)
	assert.Equal(t, "s2", resp.Entity.Secret)

	resp, err = svc.Fetch(ctx, &types.FetchRequest[int64]{ID: 99})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Nil(t, resp.Entity)
	assert.Equal(t, "widget with ID 99 was not found", resp.Message)
}

type denyOddIDs struct {
	BaseHooks[widget, int64]
}

func (denyOddIDs) ApplyFetchSecurity(_ context.Context, _ *types.FetchRequest[int64], w *widget) error {
	if w.ID%2 == 1 {
		return errors.New("access denied")
	}
	return nil
}

func TestFetchSecurityRejects(t *testing.T) {
	svc, _ := newWidgetService(t, WithHooks[widget, int64](denyOddIDs{}))
	seedWidgets(t, svc, 2)

	resp, err := svc.Fetch(context.Background(), &types.FetchRequest[int64]{ID: 1})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Nil(t, resp.Entity)
	assert.Equal(t, "access denied", resp.Message)
}

func TestFetchListPaging(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWidgetService(t)
	seedWidgets(t, svc, 25)

	resp, err := svc.FetchList(ctx, &types.FetchListRequest{
		PageIndex:     types.Ptr(2),
		PageSize:      types.Ptr(10),
		SortColumn:    " Name ",
		SortDirection: "ASC",
	})
	require.NoError(t, err)
	require.True(t, resp.IsSuccessful, resp.Message)
	assert.Equal(t, 25, resp.TotalCount)
	require.Len(t, resp.Entities, 5)
	assert.Equal(t, "widget-21", resp.Entities[0].Name)

	resp, err = svc.FetchList(ctx, &types.FetchListRequest{PageIndex: types.Ptr(-1), PageSize: types.Ptr(10)})
	require.NoError(t, err)
	assert.Len(t, resp.Entities, 25)

	resp, err = svc.FetchList(ctx, &types.FetchListRequest{PageIndex: types.Ptr(0), PageSize: types.Ptr(0)})
	require.NoError(t, err)
	assert.Len(t, resp.Entities, 25)
}

func TestFetchListSortDescending(t *testing.T) {
	svc, _ := newWidgetService(t)
	seedWidgets(t, svc, 3)

	resp, err := svc.FetchList(context.Background(), &types.FetchListRequest{SortColumn: "name", SortDirection: "desc"})
	require.NoError(t, err)
	require.Len(t, resp.Entities, 3)
	assert.Equal(t, "widget-03", resp.Entities[0].Name)
	assert.Equal(t, "widget-01", resp.Entities[2].Name)
}

func TestFetchListUnknownSortColumn(t *testing.T) {
	svc, _ := newWidgetService(t)
	seedWidgets(t, svc, 1)

	resp, err := svc.FetchList(context.Background(), &types.FetchListRequest{SortColumn: "colour", SortDirection: "asc"})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Equal(t, "colour doesn't exist. Please check if the field exists or if the spelling is correct", resp.Message)
}

type evenOnly struct {
	BaseHooks[widget, int64]
	postListCalls int
}

func (*evenOnly) ApplyFetchListSecurity(_ context.Context, _ *types.FetchListRequest, q *repository.Query[widget]) (*repository.Query[widget], error) {
	return q.Where("?TableAlias.widget_id % 2 = 0"), nil
}

func (h *evenOnly) PostFetchList(context.Context, *types.FetchListRequest, *types.FetchListResponse[widget]) error {
	h.postListCalls++
	return nil
}

func TestFetchListDropDown(t *testing.T) {
	ctx := context.Background()
	hooks := &evenOnly{}
	svc, _ := newWidgetService(t, WithHooks[widget, int64](hooks))
	seedWidgets(t, svc, 4)

	resp, err := svc.FetchList(ctx, &types.FetchListRequest{
		IsDropDown:         true,
		DropDownKeyField:   "ID",
		DropDownValueField: "Name",
		SortColumn:         "id",
		SortDirection:      "asc",
	})
	require.NoError(t, err)
	require.True(t, resp.IsSuccessful, resp.Message)
	assert.Equal(t, 2, resp.TotalCount)
	assert.Empty(t, resp.Entities)
	assert.Equal(t, []types.DropDownItem{
		{Key: int64(2), Value: "widget-02"},
		{Key: int64(4), Value: "widget-04"},
	}, resp.DropDownList)

	resp, err = svc.FetchList(ctx, &types.FetchListRequest{IsDropDown: true, DropDownKeyField: "ID"})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Equal(t, "Specified as a drop down but missing DropDownKeyField and/or DropDownValueField", resp.Message)
	assert.Equal(t, 2, hooks.postListCalls)
}

func TestSaveNew(t *testing.T) {
	svc, db := newWidgetService(t)

	req := &types.SaveRequest[widget]{
		Request: types.Request{RequestingUserEmail: "ann@example.com"},
		Entity:  &widget{Name: "gear", Secret: "blueprint", AuditFields: database.AuditFields{ModifyUser: "mallory"}},
	}
	resp, err := svc.Save(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.IsSuccessful, resp.Message)
	require.NotNil(t, resp.Entity)
	assert.NotZero(t, resp.Entity.ID)
	assert.NotSame(t, req.Entity, resp.Entity)
	assert.Zero(t, req.Entity.ID)

	stored := loadWidget(t, db, resp.Entity.ID)
	assert.Equal(t, "ann@example.com", stored.CreateUser)
	assert.True(t, fixedNow.Equal(stored.CreateDate))
	assert.Empty(t, stored.ModifyUser)
	assert.NotEqual(t, "blueprint", stored.Secret)
	assert.Equal(t, "blueprint", resp.Entity.Secret)
}

func TestSaveEdit(t *testing.T) {
	ctx := context.Background()
	svc, db := newWidgetService(t)
	seedWidgets(t, svc, 1)

	resp, err := svc.Save(ctx, &types.SaveRequest[widget]{
		Request: types.Request{RequestingUserID: "u-42"},
		Entity: &widget{ID: 1, Name: "renamed", Secret: "new",
			AuditFields: database.AuditFields{CreateUser: "mallory", CreateDate: time.Unix(0, 0)}},
	})
	require.NoError(t, err)
	require.True(t, resp.IsSuccessful, resp.Message)

	stored := loadWidget(t, db, 1)
	assert.Equal(t, "renamed", stored.Name)
	assert.Empty(t, stored.CreateUser)
	assert.True(t, fixedNow.Equal(stored.CreateDate))
	assert.Equal(t, "u-42", stored.ModifyUser)
	require.NotNil(t, stored.ModifyDate)
}

func TestSaveEditMissing(t *testing.T) {
	svc, _ := newWidgetService(t)

	resp, err := svc.Save(context.Background(), &types.SaveRequest[widget]{Entity: &widget{ID: 7, Name: "ghost"}})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Equal(t, "Unable to save the record at ID 7 as it does not exist.", resp.Message)
}

func TestSaveEmptyRequest(t *testing.T) {
	svc, _ := newWidgetService(t)

	resp, err := svc.Save(context.Background(), &types.SaveRequest[widget]{})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Equal(t, "An invalid save request was made. The request cannot be empty.", resp.Message)
}

func TestSaveDuplicateKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWidgetService(t)
	seedWidgets(t, svc, 1)

	resp, err := svc.Save(ctx, &types.SaveRequest[widget]{Entity: &widget{Name: "widget-01"}})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Nil(t, resp.Entity)
	assert.Equal(t, "A duplicate key value was detected, please verify your data.", resp.Message)
	assert.False(t, svc.Repository().Contexts()[0].HasChanges())

	resp, err = svc.Save(ctx, &types.SaveRequest[widget]{Entity: &widget{Name: "widget-02"}})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccessful, resp.Message)
}

type rejectBlankName struct {
	BaseHooks[widget, int64]
}

func (rejectBlankName) ValidateSave(_ context.Context, req *types.SaveRequest[widget]) error {
	if strings.TrimSpace(req.Entity.Name) == "" {
		return database.NewValidationError("Name is required.")
	}
	return nil
}

func TestSaveValidation(t *testing.T) {
	svc, _ := newWidgetService(t, WithHooks[widget, int64](rejectBlankName{}))

	resp, err := svc.Save(context.Background(), &types.SaveRequest[widget]{Entity: &widget{Name: " "}})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Equal(t, "Name is required.", resp.Message)
}

type stampAfterSave struct {
	BaseHooks[widget, int64]
	originals []*widget
}

func (h *stampAfterSave) PostSave(_ context.Context, _ *types.SaveRequest[widget], original, saved *widget) (bool, error) {
	h.originals = append(h.originals, original)
	saved.Secret = fmt.Sprintf("%s#%d", saved.Secret, saved.ID)
	return true, nil
}

func TestPostSaveCommitsAgain(t *testing.T) {
	ctx := context.Background()
	hooks := &stampAfterSave{}
	svc, _ := newWidgetService(t, WithHooks[widget, int64](hooks))

	resp, err := svc.Save(ctx, &types.SaveRequest[widget]{Entity: &widget{Name: "gear", Secret: "x"}})
	require.NoError(t, err)
	require.True(t, resp.IsSuccessful, resp.Message)
	assert.Nil(t, hooks.originals[0])

	resp, err = svc.Save(ctx, &types.SaveRequest[widget]{Entity: &widget{ID: resp.Entity.ID, Name: "gear 2", Secret: "y"}})
	require.NoError(t, err)
	require.True(t, resp.IsSuccessful, resp.Message)
	require.NotNil(t, hooks.originals[1])
	assert.Equal(t, "gear", hooks.originals[1].Name)

	untracked, err := repository.GetAllAsUntracked[widget](svc.Repository())
	require.NoError(t, err)
	got, err := untracked.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "y#1", got.Secret)
}

type failAfterSave struct {
	BaseHooks[widget, int64]
}

func (failAfterSave) PostSave(context.Context, *types.SaveRequest[widget], *widget, *widget) (bool, error) {
	return false, errors.New("notification failed")
}

func TestPostSaveFailureKeepsFirstCommit(t *testing.T) {
	ctx := context.Background()
	svc, db := newWidgetService(t, WithHooks[widget, int64](failAfterSave{}))

	resp, err := svc.Save(ctx, &types.SaveRequest[widget]{Entity: &widget{Name: "gear"}})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Nil(t, resp.Entity)
	assert.Equal(t, "notification failed", resp.Message)
	assert.Equal(t, "gear", loadWidget(t, db, 1).Name)
}

func TestSaveUnclassifiedCommitErrorPropagates(t *testing.T) {
	ctx := context.Background()
	svc, db := newWidgetService(t)
	_, err := db.Exec(`CREATE TRIGGER widgets_guard BEFORE INSERT ON widgets
WHEN NEW.name = 'forbidden'
BEGIN SELECT RAISE(ABORT, 'widget name is reserved'); END`)
	require.NoError(t, err)

	resp, err := svc.Save(ctx, &types.SaveRequest[widget]{Entity: &widget{Name: "forbidden"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.IsSuccessful)
	assert.Contains(t, resp.Message, "widget name is reserved")
	assert.Nil(t, database.ClassifyCommitError(err))
	assert.False(t, svc.Repository().Contexts()[0].HasChanges())

	n, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailuresAreLoggedWithCorrelationID(t *testing.T) {
	ctx := context.Background()
	base, hook := logtest.NewNullLogger()
	svc, _ := newWidgetService(t, WithServiceLogger[widget, int64](database.NewDefaultLogger(base)))

	req := &types.FetchRequest[int64]{ID: 7}
	req.CorrelationID = "req-42"
	resp, err := svc.Fetch(ctx, req)
	require.NoError(t, err)
	require.False(t, resp.IsSuccessful)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "req-42", entry.Data["correlation_id"])
	assert.Equal(t, "widget", entry.Data["entity"])

	hook.Reset()
	del := &types.DeleteRequest[int64]{IDs: []int64{7}}
	_, err = svc.Delete(ctx, del)
	require.NoError(t, err)
	_, err = uuid.Parse(del.CorrelationID)
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, db := newWidgetService(t)
	seedWidgets(t, svc, 3)

	resp, err := svc.Delete(ctx, &types.DeleteRequest[int64]{IDs: []int64{1, 3}})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccessful, resp.Message)
	assert.Equal(t, 2, resp.RecordsDeleted)

	n, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	svc, db := newWidgetService(t)
	seedWidgets(t, svc, 2)

	resp, err := svc.Delete(ctx, &types.DeleteRequest[int64]{IDs: []int64{1, 99}})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Zero(t, resp.RecordsDeleted)
	assert.Equal(t, "The record at ID 99 could not be deleted since it does not exist in the database.", resp.Message)

	n, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resp, err = svc.Delete(ctx, &types.DeleteRequest[int64]{})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Equal(t, "An invalid delete request was made. No IDs were specified to be deleted.", resp.Message)
}

type protectFirst struct {
	BaseHooks[widget, int64]
	deleted []int64
}

func (*protectFirst) ValidateDelete(_ context.Context, _ *types.DeleteRequest[int64], w *widget) error {
	if w.ID == 1 {
		return database.NewValidationError("widget-01 is protected.")
	}
	return nil
}

func (h *protectFirst) PostRecordDelete(_ context.Context, _ *types.DeleteRequest[int64], w *widget) error {
	h.deleted = append(h.deleted, w.ID)
	return nil
}

func TestDeleteHooks(t *testing.T) {
	ctx := context.Background()
	hooks := &protectFirst{}
	svc, _ := newWidgetService(t, WithHooks[widget, int64](hooks))
	seedWidgets(t, svc, 3)

	resp, err := svc.Delete(ctx, &types.DeleteRequest[int64]{IDs: []int64{2, 1}})
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful)
	assert.Equal(t, "widget-01 is protected.", resp.Message)
	assert.Empty(t, hooks.deleted)

	resp, err = svc.Delete(ctx, &types.DeleteRequest[int64]{IDs: []int64{2, 3}})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccessful)
	assert.Equal(t, []int64{2, 3}, hooks.deleted)
}

func TestInnermostMessage(t *testing.T) {
	err := fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", errors.New("root cause")))
	assert.Equal(t, "root cause", innermost(err))
	assert.Equal(t, "plain", innermost(errors.New("plain")))
}
