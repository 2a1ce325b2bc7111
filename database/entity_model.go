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
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// FieldConverter transforms encrypted field values between their stored and
// in-memory form.
type FieldConverter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EntityModel binds a registered EntityType to the bun table of one
// database. All struct values passed to its methods are addressable struct
// values, not pointers.
type EntityModel struct {
	Entity      *EntityType
	Table       *schema.Table
	Key         *schema.Field
	Encrypted   []*schema.Field
	ForeignKeys []ForeignKeyConstraint

	converter FieldConverter
	byName    map[string]*schema.Field
}

// NewEntityModel resolves et against db's dialect. A nil converter is only
// accepted for entities without encrypted fields.
func NewEntityModel(db *bun.DB, et *EntityType, converter FieldConverter) (*EntityModel, error) {
	table := db.Table(et.Type)
	m := newModel(et, table)
	m.converter = converter

	key, err := m.resolveKey()
	if err != nil {
		return nil, err
	}
	m.Key = key

	for _, name := range et.Encrypted {
		f, ok := m.Field(name)
		if !ok {
			return nil, NewConfigurationError("%s: encrypted field %q is not a column", et.Name(), name)
		}
		m.Encrypted = append(m.Encrypted, f)
	}
	if len(m.Encrypted) > 0 && converter == nil {
		return nil, NewConfigurationError("%s has encrypted fields but no encryption key is configured", et.Name())
	}

	for _, ref := range et.ForeignKeys {
		f, ok := m.Field(ref.Field)
		if !ok {
			return nil, NewConfigurationError("%s: foreign key field %q is not a column", et.Name(), ref.Field)
		}
		principal := db.Table(ref.Principal)
		if len(principal.PKs) != 1 {
			return nil, NewConfigurationError("%s: foreign key %q must reference a single column key of %s", et.Name(), ref.Field, principal.TypeName)
		}
		m.ForeignKeys = append(m.ForeignKeys, ForeignKeyConstraint{
			Table:           table.Name,
			Column:          f.Name,
			ReferenceTable:  principal.Name,
			ReferenceColumn: principal.PKs[0].Name,
			OnDelete:        ref.OnDelete,
		})
	}
	if err := ValidateConstraints(m.ForeignKeys); err != nil {
		return nil, err
	}
	return m, nil
}

// NewResultModel maps a plain struct, such as a procedure result row, by
// column name. It has no key and no encrypted fields.
func NewResultModel(db *bun.DB, typ reflect.Type) *EntityModel {
	return newModel(&EntityType{Type: typ}, db.Table(typ))
}

func newModel(et *EntityType, table *schema.Table) *EntityModel {
	m := &EntityModel{
		Entity: et,
		Table:  table,
		byName: make(map[string]*schema.Field, len(table.Fields)*2),
	}
	for _, f := range table.Fields {
		m.byName[strings.ToLower(f.GoName)] = f
		m.byName[strings.ToLower(f.Name)] = f
	}
	return m
}

func (m *EntityModel) resolveKey() (*schema.Field, error) {
	if m.Entity.KeyField != "" {
		f, ok := m.Field(m.Entity.KeyField)
		if !ok {
			return nil, NewConfigurationError("%s: key field %q is not a column", m.Entity.Name(), m.Entity.KeyField)
		}
		return f, nil
	}
	switch len(m.Table.PKs) {
	case 1:
		return m.Table.PKs[0], nil
	case 0:
		return nil, NewConfigurationError("%s has no key; tag a field with bun:\",pk\" or dal:\"key\"", m.Entity.Name())
	default:
		return nil, NewConfigurationError("%s has a composite key, which is not supported", m.Entity.Name())
	}
}

func (m *EntityModel) Name() string { return m.Entity.Name() }

// Field looks a column up by Go field name or column name, ignoring case.
func (m *EntityModel) Field(name string) (*schema.Field, bool) {
	f, ok := m.byName[strings.ToLower(name)]
	return f, ok
}

// KeyIsPK reports whether the key is the bun primary key, so WherePK applies.
func (m *EntityModel) KeyIsPK() bool {
	return len(m.Table.PKs) == 1 && m.Table.PKs[0] == m.Key
}

func (m *EntityModel) KeyValue(strct reflect.Value) any {
	v, err := strct.FieldByIndexErr(m.Key.Index)
	if err != nil {
		return nil
	}
	return v.Interface()
}

// SetKey assigns id, converted to the key's type, to the key field.
func (m *EntityModel) SetKey(strct reflect.Value, id any) bool {
	v, err := strct.FieldByIndexErr(m.Key.Index)
	if err != nil || !v.CanSet() {
		return false
	}
	idv := reflect.ValueOf(id)
	if !idv.IsValid() || !idv.Type().ConvertibleTo(v.Type()) {
		return false
	}
	v.Set(idv.Convert(v.Type()))
	return true
}

// IsNew reports whether the key still holds its zero value.
func (m *EntityModel) IsNew(strct reflect.Value) bool {
	v, err := strct.FieldByIndexErr(m.Key.Index)
	return err != nil || v.IsZero()
}

// CopyFields copies every column from src to dst except the key, the
// navigations and the fields named in skip (Go or column names, any case).
func (m *EntityModel) CopyFields(dst, src reflect.Value, skip []string) {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[strings.ToLower(s)] = struct{}{}
	}
	for _, f := range m.Table.Fields {
		if f == m.Key || m.Entity.isNavigation(f.GoName) {
			continue
		}
		if _, ok := skipped[strings.ToLower(f.GoName)]; ok {
			continue
		}
		if _, ok := skipped[strings.ToLower(f.Name)]; ok {
			continue
		}
		d, err := dst.FieldByIndexErr(f.Index)
		if err != nil || !d.CanSet() {
			continue
		}
		s, err := src.FieldByIndexErr(f.Index)
		if err != nil {
			continue
		}
		d.Set(s)
	}
}

// MergeRelations copies the relations loaded on src onto dst. Relations src
// did not load are left as they are on dst.
func (m *EntityModel) MergeRelations(dst, src reflect.Value) {
	for _, rel := range m.Table.Relations {
		s, err := src.FieldByIndexErr(rel.Field.Index)
		if err != nil || s.IsZero() {
			continue
		}
		d, err := dst.FieldByIndexErr(rel.Field.Index)
		if err != nil || !d.CanSet() {
			continue
		}
		d.Set(s)
	}
}

// Snapshot returns a detached copy of the struct.
func (m *EntityModel) Snapshot(strct reflect.Value) reflect.Value {
	snap := reflect.New(strct.Type()).Elem()
	snap.Set(strct)
	return snap
}

// Restore resets every column of strct to the snapshot value.
func (m *EntityModel) Restore(strct, snapshot reflect.Value) {
	for _, f := range m.Table.Fields {
		d, err := strct.FieldByIndexErr(f.Index)
		if err != nil || !d.CanSet() {
			continue
		}
		s, err := snapshot.FieldByIndexErr(f.Index)
		if err != nil {
			continue
		}
		d.Set(s)
	}
}

// ChangedColumns returns the non key columns whose value differs from the
// snapshot.
func (m *EntityModel) ChangedColumns(strct, snapshot reflect.Value) []string {
	var cols []string
	for _, f := range m.Table.Fields {
		if f == m.Key {
			continue
		}
		a, errA := strct.FieldByIndexErr(f.Index)
		b, errB := snapshot.FieldByIndexErr(f.Index)
		if errA != nil || errB != nil {
			continue
		}
		if !reflect.DeepEqual(a.Interface(), b.Interface()) {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// EncryptFields replaces encrypted fields with their ciphertext in place.
// The returned func puts the plaintext back; it is never nil.
func (m *EntityModel) EncryptFields(strct reflect.Value) (restore func(), err error) {
	type saved struct {
		v     reflect.Value
		plain string
	}
	var done []saved
	restore = func() {
		for _, s := range done {
			s.v.SetString(s.plain)
		}
	}
	for _, f := range m.Encrypted {
		v, ferr := strct.FieldByIndexErr(f.Index)
		if ferr != nil {
			continue
		}
		plain := v.String()
		cipher, cerr := m.converter.Encrypt(plain)
		if cerr != nil {
			restore()
			return func() {}, cerr
		}
		v.SetString(cipher)
		done = append(done, saved{v: v, plain: plain})
	}
	return restore, nil
}

// DecryptFields replaces encrypted fields with their plaintext in place.
func (m *EntityModel) DecryptFields(strct reflect.Value) error {
	for _, f := range m.Encrypted {
		v, err := strct.FieldByIndexErr(f.Index)
		if err != nil {
			continue
		}
		plain, err := m.converter.Decrypt(v.String())
		if err != nil {
			return err
		}
		v.SetString(plain)
	}
	return nil
}

// ScanColumn assigns src to the field mapped to column, ignoring case.
// Columns with no matching field are skipped and reported as false.
func (m *EntityModel) ScanColumn(strct reflect.Value, column string, src any) (bool, error) {
	f, ok := m.Field(column)
	if !ok {
		return false, nil
	}
	return true, f.ScanValue(strct, src)
}
