package model

import (
	"bytes"
	"strings"
)

// ValueKind tags the payload held by a Value
type ValueKind uint8

const (
	StringKind ValueKind = iota
	BytesKind
)

func (k ValueKind) String() string {
	switch k {
	case StringKind:
		return "string"
	case BytesKind:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is either a utf-8 string or an opaque byte slice
type Value struct {
	kind ValueKind
	str  string
	raw  []byte
}

func StringValue(s string) Value {
	return Value{kind: StringKind, str: s}
}

func BytesValue(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: BytesKind, raw: b}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

// String returns the string payload, or the bytes payload converted to a string
func (v Value) String() string {
	if v.kind == BytesKind {
		return string(v.raw)
	}
	return v.str
}

// Bytes returns the bytes payload, or the string payload converted to bytes
func (v Value) Bytes() []byte {
	if v.kind == StringKind {
		return []byte(v.str)
	}
	return v.raw
}

// Len is the encoded payload size in bytes
func (v Value) Len() int {
	if v.kind == BytesKind {
		return len(v.raw)
	}
	return len(v.str)
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == BytesKind {
		return bytes.Equal(v.raw, o.raw)
	}
	return v.str == o.str
}

type Field struct {
	Name  string
	Value Value
}

// Schema identifies the layout of the records in a segment
type Schema struct {
	Name    string
	Version int32
}

// Record is an insertion ordered set of named fields.
// Field names are case-insensitive and unique within a record.
type Record struct {
	fields []Field
	names  map[string]int // folded name -> index in fields

	// Schema is filled in by readers; it does not take part in Equal
	Schema Schema
}

func NewRecord() *Record {
	return &Record{names: make(map[string]int)}
}

func foldName(name string) string {
	return strings.ToLower(name)
}

// Set adds the field, or replaces the value of an existing field with the same name
func (r *Record) Set(name string, value Value) *Record {
	if r.names == nil {
		r.names = make(map[string]int)
	}
	key := foldName(name)
	if i, ok := r.names[key]; ok {
		r.fields[i].Value = value
		return r
	}
	r.names[key] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: value})
	return r
}

func (r *Record) SetString(name, value string) *Record {
	return r.Set(name, StringValue(value))
}

func (r *Record) SetBytes(name string, value []byte) *Record {
	return r.Set(name, BytesValue(value))
}

func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.names[foldName(name)]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// GetString returns the field as a string, empty if it is absent
func (r *Record) GetString(name string) string {
	v, _ := r.Get(name)
	return v.String()
}

func (r *Record) Has(name string) bool {
	_, ok := r.names[foldName(name)]
	return ok
}

// Remove deletes the field and reports whether it existed
func (r *Record) Remove(name string) bool {
	key := foldName(name)
	i, ok := r.names[key]
	if !ok {
		return false
	}
	r.fields = append(r.fields[:i], r.fields[i+1:]...)
	delete(r.names, key)
	for j := i; j < len(r.fields); j++ {
		r.names[foldName(r.fields[j].Name)] = j
	}
	return true
}

func (r *Record) Len() int {
	return len(r.fields)
}

// Fields returns the fields in insertion order
func (r *Record) Fields() []Field {
	fields := make([]Field, len(r.fields))
	copy(fields, r.fields)
	return fields
}

// Equal reports whether both records hold the same field set with identical values.
// Field order and name case are ignored.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.fields) != len(o.fields) {
		return false
	}
	for _, f := range r.fields {
		v, ok := o.Get(f.Name)
		if !ok || !v.Equal(f.Value) {
			return false
		}
	}
	return true
}

// RecordHeader frames every record slot in a segment:
// isDelete(1) | size(4) | crc(4)
type RecordHeader struct {
	IsDelete bool
	Size     uint32
	Crc      uint32
}

const RecordHeaderSize = 9
