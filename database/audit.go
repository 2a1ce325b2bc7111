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

import "time"

// AuditFields is embedded by entities that record who created and last
// modified them.
type AuditFields struct {
	CreateDate time.Time  `bun:"create_date" json:"create_date"`
	CreateUser string     `bun:"create_user" json:"create_user,omitempty"`
	ModifyDate *time.Time `bun:"modify_date" json:"modify_date,omitempty"`
	ModifyUser string     `bun:"modify_user" json:"modify_user,omitempty"`
}

// Auditable is implemented by *AuditFields and therefore by every entity
// embedding it.
type Auditable interface {
	MarkCreated(user string, at time.Time)
	MarkModified(user string, at time.Time)
}

func (a *AuditFields) MarkCreated(user string, at time.Time) {
	a.CreateDate = at
	a.CreateUser = user
}

func (a *AuditFields) MarkModified(user string, at time.Time) {
	a.ModifyDate = &at
	a.ModifyUser = user
}

// Duplicator lets an entity control how it is copied.
type Duplicator[T any] interface {
	Duplicate() *T
}

// Duplicate returns a shallow copy of e, or e.Duplicate() when T implements
// Duplicator.
func Duplicate[T any](e *T) *T {
	if e == nil {
		return nil
	}
	if d, ok := any(e).(Duplicator[T]); ok {
		return d.Duplicate()
	}
	c := *e
	return &c
}
