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

package types

// PageRequest is a zero-based page of a list.
type PageRequest struct {
	Index int
	Size  int
}

// NewPageRequest returns the page described by optional index and size. The
// second result is false unless index > -1 and size > 0, in which case the
// list must not be paged.
func NewPageRequest(index, size *int) (PageRequest, bool) {
	if index == nil || size == nil || *index < 0 || *size < 1 {
		return PageRequest{}, false
	}
	return PageRequest{Index: *index, Size: *size}, true
}

func (p PageRequest) Offset() int {
	return p.Index * p.Size
}

func (p PageRequest) Limit() int {
	return p.Size
}

// Pagination holds paged result items along with pagination metadata.
type Pagination[T any] struct {
	PageIndex int  `json:"page_index"`
	PageSize  int  `json:"page_size"`
	Total     int  `json:"total"`
	Items     []*T `json:"items"`
}

// NewPagination wraps one page of items.
func NewPagination[T any](page PageRequest, total int, items []*T) *Pagination[T] {
	if items == nil {
		items = make([]*T, 0)
	}
	return &Pagination[T]{PageIndex: page.Index, PageSize: page.Size, Total: total, Items: items}
}

// Pages returns the number of pages needed for Total items.
func (p *Pagination[T]) Pages() int {
	if p.PageSize < 1 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// Ptr returns a pointer to v, for optional request fields.
func Ptr[T any](v T) *T {
	return &v
}
