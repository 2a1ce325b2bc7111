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

package customer

import (
	"context"

	"github.com/tomoncle/datalayer/procedure"
	"github.com/tomoncle/datalayer/repository"
	"github.com/tomoncle/datalayer/types"
)

// SearchRequest calls usp_CustomerSearch, which returns one page of
// customers followed by the total row count.
type SearchRequest struct {
	procedure.Procedure `proc:"usp_CustomerSearch"`

	LastName  string `param:"@LastName"`
	PageIndex *int   `param:"@PageIndex"`
	PageSize  *int   `param:"@PageSize"`
}

// Search pages customers by last name prefix through the search procedure.
// National ids are returned decrypted and masked.
func (s *Service) Search(ctx context.Context, lastName string, page types.PageRequest) (*types.Pagination[Customer], error) {
	inv, err := procedure.Build(&SearchRequest{
		LastName:  lastName,
		PageIndex: types.Ptr(page.Index),
		PageSize:  types.Ptr(page.Size),
	})
	if err != nil {
		return nil, err
	}
	rows, total, err := repository.ExecuteListPaged[Customer](ctx, s.repo, inv)
	if err != nil {
		return nil, err
	}
	for i, c := range rows {
		rows[i] = masked(c)
	}
	return types.NewPagination(page, total, rows), nil
}
