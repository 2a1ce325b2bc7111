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
	"sort"
	"strings"
	"time"

	"github.com/tomoncle/datalayer"
	"github.com/tomoncle/datalayer/database"
	"github.com/tomoncle/datalayer/repository"
	"github.com/tomoncle/datalayer/types"
)

// RoleViewPII lets a caller see national ids unmasked.
const RoleViewPII = "customer:pii"

var nowFunc = time.Now

// Service is the customer entity service.
type Service struct {
	*datalayer.EntityService[Customer, int]
	repo *repository.Repository
}

func NewService(repo *repository.Repository, opts ...datalayer.Option[Customer, int]) *Service {
	opts = append([]datalayer.Option[Customer, int]{
		datalayer.WithHooks[Customer, int](&hooks{repo: repo}),
	}, opts...)
	return &Service{
		EntityService: datalayer.NewEntityService[Customer, int](repo, opts...),
		repo:          repo,
	}
}

// LinkBusiness records that the customer does business with the business.
func (s *Service) LinkBusiness(ctx context.Context, req *types.Request, customerID, businessID int) (*types.Response, error) {
	resp := &types.Response{IsSuccessful: true}
	link := &BusinessCustomer{CustomerID: customerID, BusinessID: businessID}
	if req != nil {
		link.MarkCreated(req.RequestingUserEmail, nowFunc())
	} else {
		link.MarkCreated("", nowFunc())
	}
	if err := repository.Add(s.repo, link); err != nil {
		resp.Fail(err.Error())
		return resp, err
	}
	if err := s.repo.Commit(ctx); err != nil {
		s.repo.Rollback()
		if ce := database.ClassifyCommitError(err); ce != nil {
			resp.Fail(ce.Error())
			return resp, nil
		}
		resp.Fail(err.Error())
		return resp, err
	}
	return resp, nil
}

// Businesses returns the businesses a customer is linked to, by name.
func (s *Service) Businesses(ctx context.Context, customerID int) ([]*Business, error) {
	q, err := repository.GetAllAsUntracked[BusinessCustomer](s.repo, "Business")
	if err != nil {
		return nil, err
	}
	links, err := q.WhereField("CustomerID", customerID).All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Business, 0, len(links))
	for _, l := range links {
		if l.Business != nil {
			out = append(out, l.Business)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type hooks struct {
	datalayer.BaseHooks[Customer, int]
	repo *repository.Repository
}

func (h *hooks) ValidateSave(_ context.Context, req *types.SaveRequest[Customer]) error {
	c := req.Entity
	if strings.TrimSpace(c.FirstName) == "" || strings.TrimSpace(c.LastName) == "" {
		return database.NewValidationError("A customer requires a first and last name.")
	}
	return nil
}

// PostFetch masks the national id for callers without RoleViewPII. The
// entity is copied first so the tracked instance keeps its value.
func (h *hooks) PostFetch(_ context.Context, req *types.FetchRequest[int], resp *types.FetchResponse[Customer]) error {
	if resp.Entity != nil && !req.HasRole(RoleViewPII) {
		resp.Entity = masked(resp.Entity)
	}
	return nil
}

// PostFetchList masks the national id in listed entities and in drop-down
// pairs projected from it.
func (h *hooks) PostFetchList(_ context.Context, req *types.FetchListRequest, resp *types.FetchListResponse[Customer]) error {
	if req.HasRole(RoleViewPII) {
		return nil
	}
	for i, c := range resp.Entities {
		resp.Entities[i] = masked(c)
	}
	maskKey, maskValue := isNationalID(req.DropDownKeyField), isNationalID(req.DropDownValueField)
	for i := range resp.DropDownList {
		item := &resp.DropDownList[i]
		if key, ok := item.Key.(string); ok && maskKey {
			item.Key = MaskNationalID(key)
		}
		if maskValue {
			item.Value = MaskNationalID(item.Value)
		}
	}
	return nil
}

func isNationalID(field string) bool {
	field = strings.TrimSpace(field)
	return strings.EqualFold(field, "NationalID") || strings.EqualFold(field, "national_id")
}

// OnRecordDelete stages the customer's business links for deletion ahead of
// the customer itself.
func (h *hooks) OnRecordDelete(ctx context.Context, _ *types.DeleteRequest[int], c *Customer) error {
	q, err := repository.GetAll[BusinessCustomer](h.repo)
	if err != nil {
		return err
	}
	links, err := q.WhereField("CustomerID", c.CustomerID).All(ctx)
	if err != nil {
		return err
	}
	return repository.DeleteAll(h.repo, links...)
}

func masked(c *Customer) *Customer {
	out := database.Duplicate(c)
	out.NationalID = MaskNationalID(c.NationalID)
	return out
}

// MaskNationalID keeps the last four characters of id.
func MaskNationalID(id string) string {
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}
