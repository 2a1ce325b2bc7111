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

// Package datalayer provides EntityService, the generic fetch, list, save
// and delete service built on the repository package.
package datalayer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/tomoncle/datalayer/database"
	"github.com/tomoncle/datalayer/encryption"
	"github.com/tomoncle/datalayer/repository"
	"github.com/tomoncle/datalayer/types"
)

const (
	msgEmptySave        = "An invalid save request was made. The request cannot be empty."
	msgSaveMissing      = "Unable to save the record at ID %v as it does not exist."
	msgEmptyDelete      = "An invalid delete request was made. No IDs were specified to be deleted."
	msgDeleteMissing    = "The record at ID %v could not be deleted since it does not exist in the database."
	msgDropDownMissing  = "Specified as a drop down but missing DropDownKeyField and/or DropDownValueField"
	defaultServiceLabel = "EntityService"
)

// EntityService implements Fetch, FetchList, Save and Delete for one entity
// type T keyed by ID.
//
// Every method returns a non-nil response. The error is non-nil only for
// configuration errors, decryption errors and unclassified commit failures
// of Save; everything else is logged and reported through the response.
type EntityService[T any, ID comparable] struct {
	repo     *repository.Repository
	hooks    hookSet[T, ID]
	editSkip []string
	newSkip  []string
	logger   database.Logger
	name     string
	now      func() time.Time
}

type Option[T any, ID comparable] func(*EntityService[T, ID])

// WithHooks installs every hook capability h implements.
func WithHooks[T any, ID comparable](h any) Option[T, ID] {
	return func(s *EntityService[T, ID]) { s.hooks.install(h) }
}

// WithEditSkipFields sets the fields an edit never copies from the request.
func WithEditSkipFields[T any, ID comparable](fields ...string) Option[T, ID] {
	return func(s *EntityService[T, ID]) { s.editSkip = fields }
}

// WithNewSkipFields sets the fields an insert never copies from the request.
func WithNewSkipFields[T any, ID comparable](fields ...string) Option[T, ID] {
	return func(s *EntityService[T, ID]) { s.newSkip = fields }
}

func WithServiceLogger[T any, ID comparable](l database.Logger) Option[T, ID] {
	return func(s *EntityService[T, ID]) { s.logger = l }
}

func NewEntityService[T any, ID comparable](repo *repository.Repository, opts ...Option[T, ID]) *EntityService[T, ID] {
	s := &EntityService[T, ID]{
		repo:     repo,
		hooks:    defaultHooks[T, ID](),
		editSkip: []string{"CreateDate", "CreateUser"},
		newSkip:  []string{"ModifyDate", "ModifyUser"},
		logger:   database.GetLogger(),
		name:     reflect.TypeOf((*T)(nil)).Elem().Name(),
		now:      time.Now,
	}
	if s.name == "" {
		s.name = defaultServiceLabel
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository returns the repository the service works on.
func (s *EntityService[T, ID]) Repository() *repository.Repository { return s.repo }

// Fetch loads one entity by key.
func (s *EntityService[T, ID]) Fetch(ctx context.Context, req *types.FetchRequest[ID]) (*types.FetchResponse[T], error) {
	resp := &types.FetchResponse[T]{Response: types.Response{IsSuccessful: true}}
	if req == nil {
		req = &types.FetchRequest[ID]{}
	}
	s.logger.Debug("fetch", "entity", s.name, "correlation_id", req.EnsureCorrelationID(), "id", req.ID)

	entity, err := repository.Find[T](ctx, s.repo, req.ID)
	if err != nil {
		return resp, s.fail(&req.Request, &resp.Response, "fetch", err)
	}
	resp.Entity = entity

	if err := s.hooks.fetchSecurity.ApplyFetchSecurity(ctx, req, entity); err != nil {
		resp.Entity = nil
		return resp, s.fail(&req.Request, &resp.Response, "fetch", err)
	}
	if err := s.hooks.postFetch.PostFetch(ctx, req, resp); err != nil {
		return resp, s.fail(&req.Request, &resp.Response, "fetch", err)
	}
	return resp, nil
}

// FetchList filters, sorts, counts and pages the entities, or projects them
// to key/value pairs for a drop-down.
func (s *EntityService[T, ID]) FetchList(ctx context.Context, req *types.FetchListRequest) (*types.FetchListResponse[T], error) {
	resp := &types.FetchListResponse[T]{Response: types.Response{IsSuccessful: true}}
	if req == nil {
		req = &types.FetchListRequest{}
	}
	s.logger.Debug("fetch list", "entity", s.name, "correlation_id", req.EnsureCorrelationID())
	if err := s.fetchList(ctx, req, resp); err != nil {
		return resp, s.fail(&req.Request, &resp.Response, "fetch list", err)
	}
	return resp, nil
}

func (s *EntityService[T, ID]) fetchList(ctx context.Context, req *types.FetchListRequest, resp *types.FetchListResponse[T]) error {
	q, err := repository.GetAll[T](s.repo)
	if err != nil {
		return err
	}
	if q, err = s.hooks.listFilter.ApplyFetchListFilter(ctx, req, q); err != nil {
		return err
	}

	column := strings.ToLower(strings.TrimSpace(req.SortColumn))
	if dir := types.ParseSortDirection(req.SortDirection); column != "" && dir.IsValid() {
		q = q.OrderBy(column, dir == types.SortDesc)
	}

	if q, err = s.hooks.listSecurity.ApplyFetchListSecurity(ctx, req, q); err != nil {
		return err
	}

	if resp.TotalCount, err = q.Count(ctx); err != nil {
		return err
	}

	if req.IsDropDown {
		if err := s.dropDown(ctx, req, resp, q); err != nil {
			return err
		}
	} else {
		if page, ok := types.NewPageRequest(req.PageIndex, req.PageSize); ok {
			q = q.Offset(page.Offset()).Limit(page.Limit())
		}
		if resp.Entities, err = q.All(ctx); err != nil {
			return err
		}
	}

	return s.hooks.postList.PostFetchList(ctx, req, resp)
}

func (s *EntityService[T, ID]) dropDown(ctx context.Context, req *types.FetchListRequest, resp *types.FetchListResponse[T], q *repository.Query[T]) error {
	keyName := strings.TrimSpace(req.DropDownKeyField)
	valueName := strings.TrimSpace(req.DropDownValueField)
	if keyName == "" || valueName == "" {
		resp.Fail(msgDropDownMissing)
		return nil
	}

	rows, err := q.Select(keyName, valueName).All(ctx)
	if err != nil {
		return err
	}
	model := q.Model()
	keyField, _ := model.Field(keyName)
	valueField, _ := model.Field(valueName)

	resp.DropDownList = make([]types.DropDownItem, 0, len(rows))
	for _, row := range rows {
		v := reflect.ValueOf(row).Elem()
		key, err := v.FieldByIndexErr(keyField.Index)
		if err != nil {
			return err
		}
		value, err := v.FieldByIndexErr(valueField.Index)
		if err != nil {
			return err
		}
		resp.DropDownList = append(resp.DropDownList, types.DropDownItem{
			Key:   key.Interface(),
			Value: fmt.Sprint(value.Interface()),
		})
	}
	return nil
}

// Save inserts the request entity when its key is unset and otherwise
// updates the stored entity with the request's values.
func (s *EntityService[T, ID]) Save(ctx context.Context, req *types.SaveRequest[T]) (*types.SaveResponse[T], error) {
	resp := &types.SaveResponse[T]{Response: types.Response{IsSuccessful: true}}
	if req == nil || req.Entity == nil {
		resp.Fail(msgEmptySave)
		return resp, nil
	}
	s.logger.Debug("save", "entity", s.name, "correlation_id", req.EnsureCorrelationID())
	if err := s.hooks.saveValidator.ValidateSave(ctx, req); err != nil {
		return resp, s.fail(&req.Request, &resp.Response, "save", err)
	}

	model, err := repository.ModelOf[T](s.repo)
	if err != nil {
		return resp, s.fail(&req.Request, &resp.Response, "save", err)
	}
	incoming := reflect.ValueOf(req.Entity).Elem()
	user := requestingUser(&req.Request)

	var item, original *T
	if !model.IsNew(incoming) {
		id := model.KeyValue(incoming)
		item, err = repository.Find[T](ctx, s.repo, id)
		if database.IsNotFound(err) {
			resp.Fail(fmt.Sprintf(msgSaveMissing, id))
			return resp, nil
		}
		if err != nil {
			return resp, s.fail(&req.Request, &resp.Response, "save", err)
		}
		original = database.Duplicate(item)
		model.CopyFields(reflect.ValueOf(item).Elem(), incoming, s.editSkip)
		if a, ok := any(item).(database.Auditable); ok {
			a.MarkModified(user, s.now())
		}
	} else {
		item = new(T)
		model.CopyFields(reflect.ValueOf(item).Elem(), incoming, s.newSkip)
		if a, ok := any(item).(database.Auditable); ok {
			a.MarkCreated(user, s.now())
		}
		if err := repository.Add(s.repo, item); err != nil {
			return resp, s.fail(&req.Request, &resp.Response, "save", err)
		}
	}

	if failed, err := s.commitSave(ctx, &req.Request, resp); failed != nil || err != nil {
		return failed, err
	}
	resp.Entity = item

	// A post-save failure leaves the first commit in place.
	again, err := s.hooks.postSave.PostSave(ctx, req, original, item)
	if err != nil {
		s.repo.Rollback()
		resp.Entity = nil
		return resp, s.fail(&req.Request, &resp.Response, "save", err)
	}
	if again {
		if failed, err := s.commitSave(ctx, &req.Request, resp); failed != nil || err != nil {
			return failed, err
		}
	}
	return resp, nil
}

// commitSave commits and classifies failures. Constraint violations yield a
// fresh unsuccessful response; other failures are returned as errors.
func (s *EntityService[T, ID]) commitSave(ctx context.Context, req *types.Request, resp *types.SaveResponse[T]) (*types.SaveResponse[T], error) {
	err := s.repo.Commit(ctx)
	if err == nil {
		return nil, nil
	}
	s.repo.Rollback()
	if ce := database.ClassifyCommitError(err); ce != nil {
		s.logger.Warn("save rejected by constraint", "entity", s.name, "correlation_id", req.EnsureCorrelationID(),
			"kind", ce.Kind.String(), "error", err)
		failed := &types.SaveResponse[T]{}
		failed.Fail(ce.Error())
		return failed, nil
	}
	resp.Fail(innermost(err))
	s.logger.Error("save commit failed", "entity", s.name, "correlation_id", req.EnsureCorrelationID(), "error", err)
	return resp, err
}

// Delete removes every entity in the request or none of them.
func (s *EntityService[T, ID]) Delete(ctx context.Context, req *types.DeleteRequest[ID]) (*types.DeleteResponse, error) {
	resp := &types.DeleteResponse{}
	if req == nil || len(req.IDs) == 0 {
		resp.Fail(msgEmptyDelete)
		return resp, nil
	}
	s.logger.Debug("delete", "entity", s.name, "correlation_id", req.EnsureCorrelationID(), "ids", len(req.IDs))

	items := make([]*T, 0, len(req.IDs))
	for _, id := range req.IDs {
		item, err := repository.Find[T](ctx, s.repo, id)
		if database.IsNotFound(err) {
			resp.Fail(fmt.Sprintf(msgDeleteMissing, id))
			return resp, nil
		}
		if err != nil {
			return resp, s.fail(&req.Request, &resp.Response, "delete", err)
		}
		if err := s.hooks.deleteValidator.ValidateDelete(ctx, req, item); err != nil {
			return resp, s.fail(&req.Request, &resp.Response, "delete", err)
		}
		items = append(items, item)
	}

	deleted := 0
	for _, item := range items {
		if err := s.deleteOne(ctx, req, item); err != nil {
			s.repo.Rollback()
			return resp, s.fail(&req.Request, &resp.Response, "delete", err)
		}
		deleted++
	}
	if err := s.repo.Commit(ctx); err != nil {
		s.repo.Rollback()
		return resp, s.fail(&req.Request, &resp.Response, "delete", err)
	}

	resp.IsSuccessful = true
	resp.Message = ""
	resp.RecordsDeleted = deleted
	return resp, nil
}

func (s *EntityService[T, ID]) deleteOne(ctx context.Context, req *types.DeleteRequest[ID], item *T) error {
	if err := s.hooks.recordDeleter.OnRecordDelete(ctx, req, item); err != nil {
		return err
	}
	if err := repository.Delete(s.repo, item); err != nil {
		return err
	}
	return s.hooks.postRecordDeleter.PostRecordDelete(ctx, req, item)
}

// fail records err on the response. Configuration and decryption errors are
// returned for the caller to propagate.
func (s *EntityService[T, ID]) fail(req *types.Request, resp *types.Response, op string, err error) error {
	resp.Fail(innermost(err))
	id := req.EnsureCorrelationID()
	if database.IsConfigurationError(err) || errors.Is(err, encryption.ErrDecrypt) {
		s.logger.Error(op+" aborted", "entity", s.name, "correlation_id", id, "error", err)
		return err
	}
	s.logger.Error(op+" failed", "entity", s.name, "correlation_id", id, "error", resp.Message)
	return nil
}

// innermost returns the message of the deepest wrapped error.
func innermost(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func requestingUser(r *types.Request) string {
	if r.RequestingUserEmail != "" {
		return r.RequestingUserEmail
	}
	return r.RequestingUserID
}
