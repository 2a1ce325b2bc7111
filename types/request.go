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

// Package types holds the request and response envelopes of the entity
// services, plus small paging and sorting helpers.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// Request carries the identity of the caller of a service operation.
type Request struct {
	RequestingUserEmail string   `json:"requesting_user_email,omitempty"`
	RequestingUserID    string   `json:"requesting_user_id,omitempty"`
	RequestingUserRoles []string `json:"requesting_user_roles,omitempty"`
	CorrelationID       string   `json:"correlation_id,omitempty"`
}

// EnsureCorrelationID assigns a random correlation id when none is set and
// returns it.
func (r *Request) EnsureCorrelationID() string {
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	return r.CorrelationID
}

// HasRole reports whether the caller holds role, ignoring case.
func (r *Request) HasRole(role string) bool {
	for _, have := range r.RequestingUserRoles {
		if strings.EqualFold(have, role) {
			return true
		}
	}
	return false
}

// Response reports the outcome of a service operation. An unsuccessful
// response always carries a message.
type Response struct {
	IsSuccessful bool   `json:"is_successful"`
	Message      string `json:"message,omitempty"`
}

// Fail marks the response unsuccessful.
func (r *Response) Fail(msg string) {
	if strings.TrimSpace(msg) == "" {
		msg = "The operation failed."
	}
	r.IsSuccessful = false
	r.Message = msg
}

type FetchRequest[ID any] struct {
	Request
	ID ID `json:"id"`
}

type FetchResponse[T any] struct {
	Response
	Entity *T `json:"entity,omitempty"`
}

// FetchListRequest selects, sorts and pages a list. Paging applies only when
// both PageIndex > -1 and PageSize > 0. With IsDropDown the list is projected
// to DropDownKeyField and DropDownValueField instead.
type FetchListRequest struct {
	Request
	PageIndex          *int   `json:"page_index,omitempty"`
	PageSize           *int   `json:"page_size,omitempty"`
	SortColumn         string `json:"sort_column,omitempty"`
	SortDirection      string `json:"sort_direction,omitempty"`
	IsDropDown         bool   `json:"is_drop_down,omitempty"`
	DropDownKeyField   string `json:"drop_down_key_field,omitempty"`
	DropDownValueField string `json:"drop_down_value_field,omitempty"`
}

type FetchListResponse[T any] struct {
	Response
	Entities     []*T           `json:"entities,omitempty"`
	DropDownList []DropDownItem `json:"drop_down_list,omitempty"`
	TotalCount   int            `json:"total_count"`
}

// DropDownItem is one key/value pair of a drop-down projection.
type DropDownItem struct {
	Key   any    `json:"key"`
	Value string `json:"value"`
}

type SaveRequest[T any] struct {
	Request
	Entity *T `json:"entity"`
}

type SaveResponse[T any] struct {
	Response
	Entity *T `json:"entity,omitempty"`
}

type DeleteRequest[ID any] struct {
	Request
	IDs []ID `json:"ids"`
}

type DeleteResponse struct {
	Response
	RecordsDeleted int `json:"records_deleted"`
}
