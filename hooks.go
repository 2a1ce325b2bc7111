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
	"context"

	"github.com/tomoncle/datalayer/repository"
	"github.com/tomoncle/datalayer/types"
)

// FetchSecurity may reject a fetched entity. A non-nil error fails the
// fetch with the error's message.
type FetchSecurity[T any, ID comparable] interface {
	ApplyFetchSecurity(ctx context.Context, req *types.FetchRequest[ID], entity *T) error
}

// PostFetcher adjusts a successful fetch response.
type PostFetcher[T any, ID comparable] interface {
	PostFetch(ctx context.Context, req *types.FetchRequest[ID], resp *types.FetchResponse[T]) error
}

// FetchListFilter narrows the list query before sorting.
type FetchListFilter[T any] interface {
	ApplyFetchListFilter(ctx context.Context, req *types.FetchListRequest, q *repository.Query[T]) (*repository.Query[T], error)
}

// FetchListSecurity narrows the sorted list query to what the caller may see.
type FetchListSecurity[T any] interface {
	ApplyFetchListSecurity(ctx context.Context, req *types.FetchListRequest, q *repository.Query[T]) (*repository.Query[T], error)
}

// PostFetchLister adjusts the list response. It runs for drop-down failures
// too.
type PostFetchLister[T any] interface {
	PostFetchList(ctx context.Context, req *types.FetchListRequest, resp *types.FetchListResponse[T]) error
}

// SaveValidator rejects a save request before anything is loaded.
type SaveValidator[T any] interface {
	ValidateSave(ctx context.Context, req *types.SaveRequest[T]) error
}

// PostSaver runs after the first commit of a save. original is nil for new
// entities. Returning true commits again.
type PostSaver[T any] interface {
	PostSave(ctx context.Context, req *types.SaveRequest[T], original, saved *T) (bool, error)
}

// DeleteValidator may abort a delete for any of the loaded records.
type DeleteValidator[T any, ID comparable] interface {
	ValidateDelete(ctx context.Context, req *types.DeleteRequest[ID], entity *T) error
}

// RecordDeleter runs before a record is staged for deletion, e.g. to stage
// the deletion of dependent rows.
type RecordDeleter[T any, ID comparable] interface {
	OnRecordDelete(ctx context.Context, req *types.DeleteRequest[ID], entity *T) error
}

// PostRecordDeleter runs after a record is staged for deletion.
type PostRecordDeleter[T any, ID comparable] interface {
	PostRecordDelete(ctx context.Context, req *types.DeleteRequest[ID], entity *T) error
}

// BaseHooks implements every capability permissively. Embed it and override
// the hooks a service needs.
type BaseHooks[T any, ID comparable] struct{}

func (BaseHooks[T, ID]) ApplyFetchSecurity(context.Context, *types.FetchRequest[ID], *T) error {
	return nil
}

func (BaseHooks[T, ID]) PostFetch(context.Context, *types.FetchRequest[ID], *types.FetchResponse[T]) error {
	return nil
}

func (BaseHooks[T, ID]) ApplyFetchListFilter(_ context.Context, _ *types.FetchListRequest, q *repository.Query[T]) (*repository.Query[T], error) {
	return q, nil
}

func (BaseHooks[T, ID]) ApplyFetchListSecurity(_ context.Context, _ *types.FetchListRequest, q *repository.Query[T]) (*repository.Query[T], error) {
	return q, nil
}

func (BaseHooks[T, ID]) PostFetchList(context.Context, *types.FetchListRequest, *types.FetchListResponse[T]) error {
	return nil
}

func (BaseHooks[T, ID]) ValidateSave(context.Context, *types.SaveRequest[T]) error { return nil }

func (BaseHooks[T, ID]) PostSave(context.Context, *types.SaveRequest[T], *T, *T) (bool, error) {
	return false, nil
}

func (BaseHooks[T, ID]) ValidateDelete(context.Context, *types.DeleteRequest[ID], *T) error {
	return nil
}

func (BaseHooks[T, ID]) OnRecordDelete(context.Context, *types.DeleteRequest[ID], *T) error {
	return nil
}

func (BaseHooks[T, ID]) PostRecordDelete(context.Context, *types.DeleteRequest[ID], *T) error {
	return nil
}

type hookSet[T any, ID comparable] struct {
	fetchSecurity     FetchSecurity[T, ID]
	postFetch         PostFetcher[T, ID]
	listFilter        FetchListFilter[T]
	listSecurity      FetchListSecurity[T]
	postList          PostFetchLister[T]
	saveValidator     SaveValidator[T]
	postSave          PostSaver[T]
	deleteValidator   DeleteValidator[T, ID]
	recordDeleter     RecordDeleter[T, ID]
	postRecordDeleter PostRecordDeleter[T, ID]
}

func defaultHooks[T any, ID comparable]() hookSet[T, ID] {
	var b BaseHooks[T, ID]
	return hookSet[T, ID]{
		fetchSecurity:     b,
		postFetch:         b,
		listFilter:        b,
		listSecurity:      b,
		postList:          b,
		saveValidator:     b,
		postSave:          b,
		deleteValidator:   b,
		recordDeleter:     b,
		postRecordDeleter: b,
	}
}

// install replaces every hook h implements.
func (hs *hookSet[T, ID]) install(h any) {
	if v, ok := h.(FetchSecurity[T, ID]); ok {
		hs.fetchSecurity = v
	}
	if v, ok := h.(PostFetcher[T, ID]); ok {
		hs.postFetch = v
	}
	if v, ok := h.(FetchListFilter[T]); ok {
		hs.listFilter = v
	}
	if v, ok := h.(FetchListSecurity[T]); ok {
		hs.listSecurity = v
	}
	if v, ok := h.(PostFetchLister[T]); ok {
		hs.postList = v
	}
	if v, ok := h.(SaveValidator[T]); ok {
		hs.saveValidator = v
	}
	if v, ok := h.(PostSaver[T]); ok {
		hs.postSave = v
	}
	if v, ok := h.(DeleteValidator[T, ID]); ok {
		hs.deleteValidator = v
	}
	if v, ok := h.(RecordDeleter[T, ID]); ok {
		hs.recordDeleter = v
	}
	if v, ok := h.(PostRecordDeleter[T, ID]); ok {
		hs.postRecordDeleter = v
	}
}
