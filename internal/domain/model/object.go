package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject is returned when a JSON document is not an object.
var ErrNotObject = errors.New("json value is not an object")

// ErrTrailingData is returned when input continues after the object.
var ErrTrailingData = errors.New("unexpected data after json object")

// Field is a single member of an Object. Value holds the raw JSON encoding
// of the member, whatever its kind.
type Field struct {
	Name  string
	Value json.RawMessage
}

// Object is a JSON object that remembers the order its members were decoded
// or set in. The zero value is an empty object ready to use.
type Object struct {
	fields []Field
	index  map[string]int
}

// NewObject returns an empty object with room for n members.
func NewObject(n int) *Object {
	return &Object{
		fields: make([]Field, 0, n),
		index:  make(map[string]int, n),
	}
}

// Len returns the number of members.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.fields)
}

// Names returns member names in order.
func (o *Object) Names() []string {
	names := make([]string, 0, o.Len())
	if o == nil {
		return names
	}
	for _, f := range o.fields {
		names = append(names, f.Name)
	}
	return names
}

// Fields returns a copy of the members in order.
func (o *Object) Fields() []Field {
	if o == nil {
		return nil
	}
	out := make([]Field, len(o.fields))
	copy(out, o.fields)
	return out
}

// Get returns the raw value of the named member.
func (o *Object) Get(name string) (json.RawMessage, bool) {
	if o == nil || o.index == nil {
		return nil, false
	}
	i, ok := o.index[name]
	if !ok {
		return nil, false
	}
	return o.fields[i].Value, true
}

// Set stores value under name. An existing member keeps its position.
func (o *Object) Set(name string, value json.RawMessage) {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, ok := o.index[name]; ok {
		o.fields[i].Value = value
		return
	}
	o.index[name] = len(o.fields)
	o.fields = append(o.fields, Field{Name: name, Value: value})
}

// SetValue marshals v and stores it under name.
func (o *Object) SetValue(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal field %q: %w", name, err)
	}
	o.Set(name, raw)
	return nil
}

// Merge returns a new object holding the members of o followed by the
// members of other. On a name clash the value from other wins.
func (o *Object) Merge(other *Object) *Object {
	merged := NewObject(o.Len() + other.Len())
	for _, f := range o.Fields() {
		merged.Set(f.Name, f.Value)
	}
	for _, f := range other.Fields() {
		merged.Set(f.Name, f.Value)
	}
	return merged
}

// UnmarshalJSON decodes a JSON object keeping member order. A repeated name
// keeps its first position and its last value.
func (o *Object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotObject
	}

	o.fields = o.fields[:0]
	o.index = make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode field %q: %w", name, err)
		}
		o.Set(name, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return ErrTrailingData
	}
	return nil
}

// MarshalJSON encodes members in order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(f.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseObject decodes data into a new Object.
func ParseObject(data []byte) (*Object, error) {
	obj := NewObject(0)
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return obj, nil
}
