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

import "github.com/tomoncle/datalayer/database"

// ModuleName is the registry module holding the customer entities.
const ModuleName = "customer"

type customerConfiguration struct{}

func (customerConfiguration) Configure(b *database.EntityTypeBuilder[Customer]) {
	b.HasKey("CustomerID")
}

type businessConfiguration struct{}

func (businessConfiguration) Configure(b *database.EntityTypeBuilder[Business]) {
	b.HasKey("BusinessID")
}

type businessCustomerConfiguration struct{}

func (businessCustomerConfiguration) Configure(b *database.EntityTypeBuilder[BusinessCustomer]) {
	b.HasKey("BusinessCustomerID").
		HasForeignKey("CustomerID", (*Customer)(nil), "").
		HasForeignKey("BusinessID", (*Business)(nil), "").
		Priority(1)
}

// Register adds the customer entities to reg under ModuleName.
func Register(reg *database.Registry) error {
	m := reg.Module(ModuleName)
	if err := database.RegisterEntity[Customer](m, customerConfiguration{}); err != nil {
		return err
	}
	if err := database.RegisterEntity[Business](m, businessConfiguration{}); err != nil {
		return err
	}
	return database.RegisterEntity[BusinessCustomer](m, businessCustomerConfiguration{})
}

func init() {
	if err := Register(database.DefaultRegistry()); err != nil {
		panic(err)
	}
}
