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
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/datalayer/database"
)

// Customer is a person doing business with one or more businesses.
type Customer struct {
	bun.BaseModel `bun:"table:customer,alias:cu" dal:"context:DefaultConnection"`
	database.AuditFields

	CustomerID int    `bun:"customer_id,pk,autoincrement" json:"customer_id"`
	FirstName  string `bun:"first_name,notnull" json:"first_name"`
	LastName   string `bun:"last_name,notnull" json:"last_name"`
	// NationalID is stored encrypted.
	NationalID string `bun:"national_id" json:"national_id,omitempty" dal:"encrypt"`
}

type Business struct {
	bun.BaseModel `bun:"table:business,alias:bu" dal:"context:DefaultConnection"`
	database.AuditFields

	BusinessID    int       `bun:"business_id,pk,autoincrement" json:"business_id"`
	Name          string    `bun:"name,notnull,unique" json:"name"`
	InceptionDate time.Time `bun:"inception_date" json:"inception_date"`
}

// BusinessCustomer links a customer to a business.
type BusinessCustomer struct {
	bun.BaseModel `bun:"table:business_customer,alias:bc" dal:"context:DefaultConnection"`
	database.AuditFields

	BusinessCustomerID int `bun:"business_customer_id,pk,autoincrement" json:"business_customer_id"`
	CustomerID         int `bun:"customer_id,notnull" json:"customer_id"`
	BusinessID         int `bun:"business_id,notnull" json:"business_id"`

	Business *Business `bun:"rel:belongs-to,join:business_id=business_id" json:"business,omitempty"`
	Customer *Customer `bun:"rel:belongs-to,join:customer_id=customer_id" json:"customer,omitempty"`
}
