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

package repository

import (
	"reflect"
	"sort"

	"github.com/tomoncle/datalayer/database"
)

// EntityState is the change tracking state of an entity instance.
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s EntityState) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "detached"
	}
}

type entry struct {
	model    *database.EntityModel
	ptr      any
	value    reflect.Value
	state    EntityState
	snapshot reflect.Value
	seq      int
}

// changed reports the columns modified since the snapshot.
func (e *entry) changed() []string {
	if e.state != Unchanged && e.state != Modified {
		return nil
	}
	return e.model.ChangedColumns(e.value, e.snapshot)
}

// current resolves Unchanged entries with edits to Modified.
func (e *entry) current() EntityState {
	if e.state == Unchanged && len(e.changed()) > 0 {
		return Modified
	}
	return e.state
}

type identityKey struct {
	typ reflect.Type
	key any
}

// tracker is the unit of work of one Context: every tracked instance with
// its state and the snapshot taken when it was loaded or last committed.
type tracker struct {
	entries  map[any]*entry
	identity map[identityKey]*entry
	seq      int
}

func newTracker() *tracker {
	return &tracker{
		entries:  make(map[any]*entry),
		identity: make(map[identityKey]*entry),
	}
}

func (t *tracker) lookup(ptr any) (*entry, bool) {
	e, ok := t.entries[ptr]
	return e, ok
}

func (t *tracker) byKey(model *database.EntityModel, key any) (*entry, bool) {
	e, ok := t.identity[identityKey{typ: model.Entity.Type, key: key}]
	return e, ok
}

func (t *tracker) state(ptr any) EntityState {
	if e, ok := t.entries[ptr]; ok {
		return e.current()
	}
	return Detached
}

func (t *tracker) newEntry(model *database.EntityModel, ptr any, state EntityState) *entry {
	t.seq++
	e := &entry{
		model: model,
		ptr:   ptr,
		value: reflect.ValueOf(ptr).Elem(),
		state: state,
		seq:   t.seq,
	}
	if state != Added {
		e.snapshot = model.Snapshot(e.value)
	}
	t.entries[ptr] = e
	return e
}

func (t *tracker) register(e *entry) {
	if e.model.IsNew(e.value) {
		return
	}
	t.identity[identityKey{typ: e.model.Entity.Type, key: e.model.KeyValue(e.value)}] = e
}

// materialized tracks a row read from the database and returns the instance
// callers should see: the already tracked one when the key is known, with
// the relations loaded on the row merged into it.
func (t *tracker) materialized(model *database.EntityModel, ptr any) any {
	v := reflect.ValueOf(ptr).Elem()
	if existing, ok := t.byKey(model, model.KeyValue(v)); ok {
		model.MergeRelations(existing.value, v)
		return existing.ptr
	}
	e := t.newEntry(model, ptr, Unchanged)
	t.register(e)
	return ptr
}

// add stages ptr for insertion unless it is tracked already.
func (t *tracker) add(model *database.EntityModel, ptr any) {
	if _, ok := t.entries[ptr]; ok {
		return
	}
	t.newEntry(model, ptr, Added)
}

// forceAdd stages ptr for insertion even when it is tracked in another state.
func (t *tracker) forceAdd(model *database.EntityModel, ptr any) {
	e, ok := t.entries[ptr]
	if !ok {
		t.newEntry(model, ptr, Added)
		return
	}
	if e.state == Added {
		return
	}
	e.state = Added
	e.snapshot = reflect.Value{}
}

// attach tracks ptr as Unchanged, or as Added when its key is unset.
func (t *tracker) attach(model *database.EntityModel, ptr any) {
	if _, ok := t.entries[ptr]; ok {
		return
	}
	if model.IsNew(reflect.ValueOf(ptr).Elem()) {
		t.newEntry(model, ptr, Added)
		return
	}
	t.register(t.newEntry(model, ptr, Unchanged))
}

// remove marks ptr Deleted. Added instances are simply detached. Deletes
// are written in the order they were staged.
func (t *tracker) remove(model *database.EntityModel, ptr any) {
	e, ok := t.entries[ptr]
	if !ok {
		e = t.newEntry(model, ptr, Unchanged)
		t.register(e)
	}
	if e.state == Added {
		t.detach(e)
		return
	}
	t.seq++
	e.seq = t.seq
	e.state = Deleted
}

func (t *tracker) detach(e *entry) {
	delete(t.entries, e.ptr)
	for k, v := range t.identity {
		if v == e {
			delete(t.identity, k)
		}
	}
}

// detachType forgets every instance of typ.
func (t *tracker) detachType(typ reflect.Type) {
	for _, e := range t.entries {
		if e.model.Entity.Type == typ {
			t.detach(e)
		}
	}
}

type change struct {
	entry   *entry
	state   EntityState
	columns []string
}

// pending returns the staged changes in the order they were staged.
func (t *tracker) pending() []change {
	var out []change
	for _, e := range t.entries {
		switch e.state {
		case Added, Deleted:
			out = append(out, change{entry: e, state: e.state})
		case Unchanged, Modified:
			if cols := e.changed(); len(cols) > 0 {
				out = append(out, change{entry: e, state: Modified, columns: cols})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entry.seq < out[j].entry.seq })
	return out
}

func (t *tracker) hasChanges() bool {
	for _, e := range t.entries {
		if e.state == Added || e.state == Deleted || len(e.changed()) > 0 {
			return true
		}
	}
	return false
}

// accept makes committed changes the new baseline.
func (t *tracker) accept(changes []change) {
	for _, c := range changes {
		e := c.entry
		switch c.state {
		case Deleted:
			t.detach(e)
		default:
			e.state = Unchanged
			e.snapshot = e.model.Snapshot(e.value)
			t.register(e)
		}
	}
}

// rollback restores modified instances, detaches added ones and un-deletes
// deleted ones.
func (t *tracker) rollback() {
	for _, e := range t.entries {
		switch e.state {
		case Added:
			t.detach(e)
		case Deleted:
			e.model.Restore(e.value, e.snapshot)
			e.state = Unchanged
		default:
			e.model.Restore(e.value, e.snapshot)
			e.state = Unchanged
		}
	}
}

func (t *tracker) reset() {
	t.entries = make(map[any]*entry)
	t.identity = make(map[identityKey]*entry)
}
