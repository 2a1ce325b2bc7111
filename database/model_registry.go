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

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/uptrace/bun"
)

var (
	defaultRegistry = NewRegistry()
	baseModelType   = reflect.TypeOf(bun.BaseModel{})
)

// DefaultRegistry is the process-wide registry that packages populate from
// their init functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Registry groups entity registrations into named modules. A context is
// configured with the modules it draws its entities from.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	seq     int
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Module returns the module with the given name, creating it on first use.
func (r *Registry) Module(name string) *Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[name]
	if !ok {
		m = &Module{name: name, registry: r, index: make(map[reflect.Type]*EntityType)}
		r.modules[name] = m
	}
	return m
}

// Modules returns the registered module names in lexical order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Partition returns the entity types of the given modules that belong to the
// named context, ordered by priority and then registration order. An empty
// module list means every registered module. Naming a module that was never
// registered is a configuration error.
//
// A type registered in several modules is returned once; a registration made
// with configurations wins over a bare one.
func (r *Registry) Partition(contextName string, modules []string, forceDefault bool) ([]*EntityType, error) {
	if len(modules) == 0 {
		modules = r.Modules()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	picked := make(map[reflect.Type]*EntityType)
	for _, name := range modules {
		m, ok := r.modules[name]
		if !ok {
			return nil, NewConfigurationError("module %q referenced by context %q is not registered", name, contextName)
		}
		for _, et := range m.entities {
			if !et.OwnedBy(contextName, forceDefault) {
				continue
			}
			if prev, dup := picked[et.Type]; dup && (prev.Configured || !et.Configured) {
				continue
			}
			picked[et.Type] = et
		}
	}

	result := make([]*EntityType, 0, len(picked))
	for _, et := range picked {
		result = append(result, et)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority < result[j].Priority
		}
		return result[i].seq < result[j].seq
	})
	return result, nil
}

// Module is a named group of entity registrations, the unit a context is
// configured with.
type Module struct {
	name     string
	registry *Registry
	entities []*EntityType
	index    map[reflect.Type]*EntityType
}

func (m *Module) Name() string { return m.name }

// Entities returns the module's entity types in registration order.
func (m *Module) Entities() []*EntityType {
	m.registry.mu.RLock()
	defer m.registry.mu.RUnlock()
	out := make([]*EntityType, len(m.entities))
	copy(out, m.entities)
	return out
}

// EntityConfiguration configures the mapping of one entity type.
type EntityConfiguration[T any] interface {
	Configure(b *EntityTypeBuilder[T])
}

// ConfigureFunc adapts a function to EntityConfiguration.
type ConfigureFunc[T any] func(b *EntityTypeBuilder[T])

func (f ConfigureFunc[T]) Configure(b *EntityTypeBuilder[T]) { f(b) }

// RegisterEntity adds T to the module. Struct tags are read first, then each
// configuration is applied in order. Registering a type again only applies
// the new configurations.
func RegisterEntity[T any](m *Module, cfgs ...EntityConfiguration[T]) error {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()

	et, exists := m.index[typ]
	if !exists {
		var err error
		et, err = newEntityType(typ, m.name)
		if err != nil {
			return err
		}
	}
	if exists && len(cfgs) == 0 {
		return nil
	}

	staged := *et
	b := &EntityTypeBuilder[T]{et: &staged}
	for _, cfg := range cfgs {
		cfg.Configure(b)
	}
	if len(cfgs) > 0 {
		staged.Configured = true
	}
	if err := staged.validate(); err != nil {
		return err
	}

	if exists {
		*et = staged
		return nil
	}
	m.registry.seq++
	staged.seq = m.registry.seq
	registered := &staged
	m.index[typ] = registered
	m.entities = append(m.entities, registered)
	return nil
}

// MustRegisterEntity is like RegisterEntity but panics on error. It is meant
// for package init functions.
func MustRegisterEntity[T any](m *Module, cfgs ...EntityConfiguration[T]) {
	if err := RegisterEntity[T](m, cfgs...); err != nil {
		panic(err)
	}
}

// ForeignKeyRef declares that Field references the key of Principal.
type ForeignKeyRef struct {
	Field     string
	Principal reflect.Type
	OnDelete  string
}

// EntityType is the registered, database independent description of an
// entity: which context owns it, its key, encrypted and navigation fields.
type EntityType struct {
	Type        reflect.Type
	Module      string
	ContextName string
	KeyField    string
	Encrypted   []string
	Navigations []string
	ForeignKeys []ForeignKeyRef
	Priority    int
	Configured  bool

	seq int
}

func (e *EntityType) Name() string { return e.Type.Name() }

// OwnedBy reports whether a context named contextName owns the entity.
// A tagged entity belongs to the context of the same name, and also to any
// context running with forceDefault when the tag names the default context.
// Untagged entities belong to the default context only.
func (e *EntityType) OwnedBy(contextName string, forceDefault bool) bool {
	switch {
	case e.ContextName == "":
		return IsDefaultContextName(contextName)
	case e.ContextName == contextName:
		return true
	case forceDefault && e.ContextName == DefaultContextName:
		return true
	default:
		return false
	}
}

func (e *EntityType) isEncrypted(field string) bool {
	for _, f := range e.Encrypted {
		if f == field {
			return true
		}
	}
	return false
}

func (e *EntityType) isNavigation(field string) bool {
	for _, f := range e.Navigations {
		if strings.EqualFold(f, field) {
			return true
		}
	}
	return false
}

func (e *EntityType) validate() error {
	for _, name := range e.Encrypted {
		f, ok := e.Type.FieldByName(name)
		if !ok {
			return NewConfigurationError("%s: encrypted field %q does not exist", e.Name(), name)
		}
		if f.Type.Kind() != reflect.String {
			return NewConfigurationError("%s: encrypted field %q must be a string, got %s", e.Name(), name, f.Type)
		}
	}
	if e.KeyField != "" {
		if _, ok := e.Type.FieldByName(e.KeyField); !ok {
			return NewConfigurationError("%s: key field %q does not exist", e.Name(), e.KeyField)
		}
	}
	for _, fk := range e.ForeignKeys {
		if _, ok := e.Type.FieldByName(fk.Field); !ok {
			return NewConfigurationError("%s: foreign key field %q does not exist", e.Name(), fk.Field)
		}
		if fk.Principal == nil || fk.Principal.Kind() != reflect.Struct {
			return NewConfigurationError("%s: foreign key %q must reference a struct type", e.Name(), fk.Field)
		}
	}
	return nil
}

// newEntityType reads the dal and bun struct tags of typ:
//
//	bun.BaseModel `dal:"context:Reporting"`  owning context
//	Field string  `dal:"encrypt"`            encrypted at rest
//	Field int64   `dal:"key"`                key when it is not the bun pk
//	Field *Other  `bun:"rel:belongs-to"`     navigation
func newEntityType(typ reflect.Type, module string) (*EntityType, error) {
	if typ.Kind() != reflect.Struct {
		return nil, NewConfigurationError("entity %s must be a struct type", typ)
	}
	et := &EntityType{Type: typ, Module: module}
	if err := et.readTags(typ); err != nil {
		return nil, err
	}
	return et, et.validate()
}

func (e *EntityType) readTags(typ reflect.Type) error {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		opts := parseTagOptions(f.Tag.Get("dal"))

		if f.Type == baseModelType {
			e.ContextName = opts["context"]
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get("bun") == "" {
			if err := e.readTags(f.Type); err != nil {
				return err
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if _, ok := opts["encrypt"]; ok {
			e.Encrypted = append(e.Encrypted, f.Name)
		}
		if _, ok := opts["key"]; ok {
			if e.KeyField != "" {
				return NewConfigurationError("%s: more than one field is tagged as key", typ.Name())
			}
			e.KeyField = f.Name
		}
		bunTag := f.Tag.Get("bun")
		if strings.Contains(bunTag, "rel:") || strings.Contains(bunTag, "m2m:") {
			e.Navigations = append(e.Navigations, f.Name)
		}
	}
	return nil
}

// parseTagOptions parses "a,b:c" into {"a": "", "b": "c"}.
func parseTagOptions(tag string) map[string]string {
	opts := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, ":")
		opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return opts
}

// EntityTypeBuilder is handed to EntityConfiguration.Configure. Fields are
// named by their Go field name.
type EntityTypeBuilder[T any] struct {
	et *EntityType
}

// ToContext routes the entity to a named context, overriding the struct tag.
func (b *EntityTypeBuilder[T]) ToContext(name string) *EntityTypeBuilder[T] {
	b.et.ContextName = name
	return b
}

// HasKey selects the key field when it differs from the bun primary key.
func (b *EntityTypeBuilder[T]) HasKey(field string) *EntityTypeBuilder[T] {
	b.et.KeyField = field
	return b
}

// Encrypt marks string fields as encrypted at rest.
func (b *EntityTypeBuilder[T]) Encrypt(fields ...string) *EntityTypeBuilder[T] {
	for _, f := range fields {
		if !b.et.isEncrypted(f) {
			b.et.Encrypted = append(b.et.Encrypted, f)
		}
	}
	return b
}

// Navigation marks fields that are never copied by the entity service.
func (b *EntityTypeBuilder[T]) Navigation(fields ...string) *EntityTypeBuilder[T] {
	for _, f := range fields {
		if !b.et.isNavigation(f) {
			b.et.Navigations = append(b.et.Navigations, f)
		}
	}
	return b
}

// HasForeignKey declares that field references the key of principal, which
// is a pointer to the principal entity, e.g. (*Customer)(nil). The
// constraint is emitted when the context creates its tables.
func (b *EntityTypeBuilder[T]) HasForeignKey(field string, principal any, onDelete string) *EntityTypeBuilder[T] {
	typ := reflect.TypeOf(principal)
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	b.et.ForeignKeys = append(b.et.ForeignKeys, ForeignKeyRef{Field: field, Principal: typ, OnDelete: onDelete})
	return b
}

// Priority orders table creation; lower values are created first.
func (b *EntityTypeBuilder[T]) Priority(p int) *EntityTypeBuilder[T] {
	b.et.Priority = p
	return b
}
