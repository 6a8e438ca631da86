package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDuplicateKey is returned when two rows produce the same key.
var ErrDuplicateKey = errors.New("duplicate key")

// Field is one named attribute of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is an ordered attribute list; it serializes as a JSON object with
// fields in projection order.
type Record []Field

// Get returns the value of the first field called name.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeTo(&buf, f.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encodeTo(&buf, f.Value); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Dataset is an insertion-ordered mapping of key to Record.
type Dataset struct {
	keys []string
	recs map[string]Record
}

// NewDataset returns an empty Dataset.
func NewDataset() *Dataset {
	return &Dataset{recs: map[string]Record{}}
}

// Add appends rec under key. Keys are unique; a second Add for the same key
// returns ErrDuplicateKey and leaves the dataset unchanged.
func (d *Dataset) Add(key string, rec Record) error {
	if _, ok := d.recs[key]; ok {
		return fmt.Errorf("%w %q", ErrDuplicateKey, key)
	}
	d.keys = append(d.keys, key)
	d.recs[key] = rec
	return nil
}

func (d *Dataset) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Dataset) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

func (d *Dataset) Get(key string) (Record, bool) {
	r, ok := d.recs[key]
	return r, ok
}

// Map flattens the dataset into plain maps. Order is lost.
func (d *Dataset) Map() map[string]map[string]any {
	out := make(map[string]map[string]any, len(d.keys))
	for _, k := range d.keys {
		m := make(map[string]any, len(d.recs[k]))
		for _, f := range d.recs[k] {
			m[f.Name] = f.Value
		}
		out[k] = m
	}
	return out
}

// MarshalJSON implements json.Marshaler. An empty dataset encodes as {}.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeTo(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		b, err := d.recs[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", k, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeTo writes v as compact JSON without HTML escaping.
func encodeTo(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
