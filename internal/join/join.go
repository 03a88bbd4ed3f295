// Package join correlates heterogeneous record sets by a shared field.
//
// Join is an n-way inner join keyed on one field: records from every table
// that share a field value are grouped into a Row, and only rows with at
// least one member from every table are returned. A Row exposes the union of
// its members' fields, with earlier tables taking priority, so it is itself a
// Record and can be joined again.
package join

import (
	"reflect"

	"github.com/pkg/errors"
)

// ErrUnsupportedRecord is returned when a record cannot provide the join
// field, or provides a value that cannot be used as a key.
var ErrUnsupportedRecord = errors.New("record does not support join field")

// Record is anything that can be read by field name.
// ok reports whether the record's shape has the field at all; a supported
// field may still hold nil.
type Record interface {
	Get(field string) (value any, ok bool)
}

// Map adapts a plain map to Record. It supports every key.
type Map map[string]any

// Get returns the value stored under field.
func (m Map) Get(field string) (any, bool) {
	return m[field], true
}

// Row is one group of joined records.
type Row struct {
	members []Record
	tables  []bool
}

// Get returns the first non-nil value of field over the row's members, in
// table order. ok is false only when no member supports the field.
func (r *Row) Get(field string) (any, bool) {
	supported := false
	for _, m := range r.members {
		v, ok := m.Get(field)
		if !ok {
			continue
		}
		supported = true
		if !isNil(v) {
			return v, true
		}
	}
	return nil, supported
}

// Unwrap returns the first member satisfying pred.
func (r *Row) Unwrap(pred func(Record) bool) (Record, bool) {
	for _, m := range r.members {
		if pred(m) {
			return m, true
		}
	}
	return nil, false
}

// Members returns the row's records in table order.
func (r *Row) Members() []Record {
	out := make([]Record, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Row) complete() bool {
	for _, seen := range r.tables {
		if !seen {
			return false
		}
	}
	return true
}

// Join groups the records of all tables by the value of field.
//
// Rows are returned in the order their key was first seen. A row is kept
// only if every table contributed at least one member, so a key matching
// several records of one table still yields a single row holding all of
// them.
func Join(field string, tables ...[]Record) ([]*Row, error) {
	byValue := make(map[any]*Row)
	var order []*Row

	for ti, table := range tables {
		for _, rec := range table {
			v, ok := rec.Get(field)
			if !ok {
				return nil, errors.Wrapf(ErrUnsupportedRecord, "%T has no field %q", rec, field)
			}
			if v != nil && !reflect.TypeOf(v).Comparable() {
				return nil, errors.Wrapf(ErrUnsupportedRecord, "%T field %q holds non-comparable %T", rec, field, v)
			}

			row, found := byValue[v]
			if !found {
				row = &Row{tables: make([]bool, len(tables))}
				byValue[v] = row
				order = append(order, row)
			}
			row.members = append(row.members, rec)
			row.tables[ti] = true
		}
	}

	joined := make([]*Row, 0, len(order))
	for _, row := range order {
		if row.complete() {
			joined = append(joined, row)
		}
	}
	return joined, nil
}

// Table converts a typed slice into a join table.
func Table[T Record](records []T) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// First returns the first member of the row whose concrete type is T.
func First[T Record](row *Row) (T, bool) {
	for _, m := range row.members {
		if t, ok := m.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// All returns every member of type T across rows, in row then member order.
func All[T Record](rows []*Row) []T {
	var out []T
	for _, row := range rows {
		for _, m := range row.members {
			if t, ok := m.(T); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

// Int reads an int field, reporting false if it is absent or not an int.
func Int(r Record, field string) (int, bool) {
	v, ok := r.Get(field)
	if !ok {
		return 0, false
	}
	i, ok := v.(int)
	return i, ok
}

// String reads a string field, returning "" if it is absent or not a string.
func String(r Record, field string) string {
	v, _ := r.Get(field)
	s, _ := v.(string)
	return s
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
