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

// Package procedure turns tagged request structs into stored procedure
// invocations.
//
//	type CustomerSearch struct {
//		procedure.Procedure `proc:"usp_CustomerSearch" dal:"context:Reporting"`
//
//		LastName  string `param:"@LastName"`
//		PageIndex *int   `param:"@PageIndex"`
//	}
//
//	inv, err := procedure.Build(&CustomerSearch{LastName: "Smith"})
//	// inv.Command == "usp_CustomerSearch @LastName, @PageIndex"
package procedure

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/tomoncle/datalayer/database"
)

// Procedure is embedded by request structs. Its struct tag carries the
// procedure name and, optionally, the owning context.
type Procedure struct{}

var procedureType = reflect.TypeOf(Procedure{})

// Request is a command ready to be sent to a context.
type Request interface {
	CommandText() string
	Parameters() []any
	ContextName() string
}

// Invocation is a built command with its arguments.
type Invocation struct {
	Name    string
	Command string
	Params  []sql.NamedArg
	// Args are positional arguments of raw commands.
	Args    []any
	Context string
}

var _ Request = (*Invocation)(nil)

func (i *Invocation) CommandText() string { return i.Command }

func (i *Invocation) ContextName() string {
	if i.Context == "" {
		return database.DefaultContextName
	}
	return i.Context
}

// Parameters returns the positional arguments followed by the named ones.
func (i *Invocation) Parameters() []any {
	out := make([]any, 0, len(i.Args)+len(i.Params))
	out = append(out, i.Args...)
	for _, p := range i.Params {
		out = append(out, p)
	}
	return out
}

// On returns a copy of the invocation targeting another context.
func (i *Invocation) On(contextName string) *Invocation {
	c := *i
	c.Context = contextName
	return &c
}

func (i *Invocation) String() string { return i.Command }

// Raw wraps a hand written command. sql.NamedArg arguments are kept as named
// parameters, anything else is positional.
func Raw(command string, args ...any) *Invocation {
	inv := &Invocation{Command: command}
	for _, a := range args {
		if na, ok := a.(sql.NamedArg); ok {
			inv.Params = append(inv.Params, na)
			continue
		}
		inv.Args = append(inv.Args, a)
	}
	return inv
}

type param struct {
	index []int
	name  string
}

type meta struct {
	name    string
	context string
	params  []param
}

var metaCache sync.Map // reflect.Type -> *meta

// Build reads the procedure name, context and parameters of req, a struct or
// pointer to a struct embedding Procedure. Every field tagged param yields
// one named argument; nil pointers, nil slices, nil interfaces and invalid
// sql.Null values are sent as NULL.
func Build(req any) (*Invocation, error) {
	if inv, ok := req.(*Invocation); ok {
		return inv, nil
	}
	v := reflect.ValueOf(req)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, database.NewConfigurationError("procedure request %T is nil", req)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, database.NewConfigurationError("procedure request must be a struct, got %T", req)
	}

	m := metaFor(v.Type())
	if m.name == "" {
		return nil, database.NewConfigurationError("undefined procedure name for %s", v.Type())
	}

	inv := &Invocation{Name: m.name, Context: m.context}
	names := make([]string, 0, len(m.params))
	for _, p := range m.params {
		val, err := paramValue(v.FieldByIndex(p.index))
		if err != nil {
			return nil, fmt.Errorf("procedure %s parameter @%s: %w", m.name, p.name, err)
		}
		inv.Params = append(inv.Params, sql.Named(p.name, val))
		names = append(names, "@"+p.name)
	}
	inv.Command = strings.TrimSpace(m.name + " " + strings.Join(names, ", "))
	return inv, nil
}

// MustBuild is like Build but panics on error.
func MustBuild(req any) *Invocation {
	inv, err := Build(req)
	if err != nil {
		panic(err)
	}
	return inv
}

func metaFor(typ reflect.Type) *meta {
	if cached, ok := metaCache.Load(typ); ok {
		return cached.(*meta)
	}
	m := &meta{}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Anonymous && f.Type == procedureType {
			m.name = strings.TrimSpace(f.Tag.Get("proc"))
			for _, opt := range strings.Split(f.Tag.Get("dal"), ",") {
				if k, val, ok := strings.Cut(strings.TrimSpace(opt), ":"); ok && k == "context" {
					m.context = strings.TrimSpace(val)
				}
			}
			continue
		}
		tag := strings.TrimSpace(f.Tag.Get("param"))
		if tag == "" || tag == "-" || !f.IsExported() {
			continue
		}
		m.params = append(m.params, param{index: f.Index, name: strings.TrimPrefix(tag, "@")})
	}
	actual, _ := metaCache.LoadOrStore(typ, m)
	return actual.(*meta)
}

func paramValue(v reflect.Value) (any, error) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
	}
	if valuer, ok := v.Interface().(driver.Valuer); ok {
		return valuer.Value()
	}
	if v.Kind() == reflect.Ptr {
		return paramValue(v.Elem())
	}
	return v.Interface(), nil
}
