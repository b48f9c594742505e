package meta

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxKeysPerVector bounds each vector's attribute bag.
const MaxKeysPerVector = 64

// Store maps vector ids to their typed attribute bags. Validation
// happens at ingress; the store never holds an invalid key or value.
// The store imposes no locking.
type Store struct {
	rows map[uint64]map[string]Value
}

// NewStore creates an empty metadata store.
func NewStore() *Store {
	return &Store{rows: make(map[uint64]map[string]Value)}
}

// Set validates and upserts one key. A replaced key does not count
// against the 64-key budget twice.
func (s *Store) Set(id uint64, key string, value Value) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := value.Validate(); err != nil {
		return err
	}
	row := s.rows[id]
	if row == nil {
		row = make(map[string]Value)
		s.rows[id] = row
	}
	if _, exists := row[key]; !exists && len(row) >= MaxKeysPerVector {
		return ErrTooManyKeys
	}
	row[key] = value
	return nil
}

// SetAll atomically replaces the bag of id. Every entry is validated
// first; on any failure no mutation is applied.
func (s *Store) SetAll(id uint64, entries map[string]Value) error {
	if len(entries) > MaxKeysPerVector {
		return ErrTooManyKeys
	}
	for key, value := range entries {
		if err := ValidateKey(key); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		if err := value.Validate(); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}

	row := make(map[string]Value, len(entries))
	for key, value := range entries {
		row[key] = value
	}
	if len(row) == 0 {
		delete(s.rows, id)
		return nil
	}
	s.rows[id] = row
	return nil
}

// Get returns the value stored under (id, key).
func (s *Store) Get(id uint64, key string) (Value, bool) {
	v, ok := s.rows[id][key]
	return v, ok
}

// GetAll returns a copy of the bag of id, or nil when none exists.
func (s *Store) GetAll(id uint64) map[string]Value {
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	out := make(map[string]Value, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Row returns the live bag of id for read-only evaluation, without
// copying. Callers must not mutate it.
func (s *Store) Row(id uint64) map[string]Value {
	return s.rows[id]
}

// Delete removes one key, reporting whether it existed.
func (s *Store) Delete(id uint64, key string) bool {
	row, ok := s.rows[id]
	if !ok {
		return false
	}
	if _, ok := row[key]; !ok {
		return false
	}
	delete(row, key)
	if len(row) == 0 {
		delete(s.rows, id)
	}
	return true
}

// DeleteAll removes every key of id, reporting whether any existed.
func (s *Store) DeleteAll(id uint64) bool {
	if _, ok := s.rows[id]; !ok {
		return false
	}
	delete(s.rows, id)
	return true
}

// HasKey reports whether (id, key) exists.
func (s *Store) HasKey(id uint64, key string) bool {
	_, ok := s.rows[id][key]
	return ok
}

// KeyCount returns the number of keys stored for id.
func (s *Store) KeyCount(id uint64) int {
	return len(s.rows[id])
}

// Keys returns the sorted keys of id.
func (s *Store) Keys(id uint64) []string {
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IDs returns the sorted vector ids carrying metadata.
func (s *Store) IDs() []uint64 {
	ids := make([]uint64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of vectors carrying metadata.
func (s *Store) Len() int { return len(s.rows) }

// Remap renumbers ids after compaction, dropping rows mapped to noRemap.
func (s *Store) Remap(remap []uint64, noRemap uint64) {
	fresh := make(map[uint64]map[string]Value, len(s.rows))
	for id, row := range s.rows {
		if id >= uint64(len(remap)) {
			continue
		}
		if mapped := remap[id]; mapped != noRemap {
			fresh[mapped] = row
		}
	}
	s.rows = fresh
}

// Wire representation: packed arrays in id order, keys sorted, for a
// byte-stable encoding.

type wireValue struct {
	Type string   `msgpack:"type" json:"type"`
	Str  string   `msgpack:"str,omitempty" json:"str,omitempty"`
	Int  int64    `msgpack:"int,omitempty" json:"int,omitempty"`
	Num  float64  `msgpack:"num,omitempty" json:"num,omitempty"`
	Bool bool     `msgpack:"bool,omitempty" json:"bool,omitempty"`
	Arr  []string `msgpack:"arr,omitempty" json:"arr,omitempty"`
}

type wireEntry struct {
	Key   string    `msgpack:"key" json:"key"`
	Value wireValue `msgpack:"value" json:"value"`
}

type wireRow struct {
	ID      uint64      `msgpack:"id" json:"id"`
	Entries []wireEntry `msgpack:"entries" json:"entries"`
}

func toWire(v Value) wireValue {
	w := wireValue{Type: v.kind.String()}
	switch v.kind {
	case KindString:
		w.Str = v.str
	case KindInteger:
		w.Int = v.num
	case KindFloat:
		w.Num = v.fl
	case KindBoolean:
		w.Bool = v.b
	case KindStringArray:
		w.Arr = v.arr
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch w.Type {
	case "string":
		return String(w.Str), nil
	case "integer":
		return Integer(w.Int), nil
	case "float":
		return Float(w.Num), nil
	case "boolean":
		return Boolean(w.Bool), nil
	case "string_array":
		return StringArray(w.Arr), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown type tag %q", ErrSerialization, w.Type)
	}
}

func (s *Store) wireRows() []wireRow {
	rows := make([]wireRow, 0, len(s.rows))
	for _, id := range s.IDs() {
		row := s.rows[id]
		entries := make([]wireEntry, 0, len(row))
		for _, key := range s.Keys(id) {
			entries = append(entries, wireEntry{Key: key, Value: toWire(row[key])})
		}
		rows = append(rows, wireRow{ID: id, Entries: entries})
	}
	return rows
}

func (s *Store) fromWireRows(rows []wireRow) error {
	fresh := make(map[uint64]map[string]Value, len(rows))
	for _, r := range rows {
		bag := make(map[string]Value, len(r.Entries))
		for _, e := range r.Entries {
			v, err := fromWire(e.Value)
			if err != nil {
				return err
			}
			bag[e.Key] = v
		}
		if len(bag) > 0 {
			fresh[r.ID] = bag
		}
	}
	s.rows = fresh
	return nil
}

// EncodeMsgpack serializes the store in the compact binary section
// format.
func (s *Store) EncodeMsgpack() ([]byte, error) {
	data, err := msgpack.Marshal(s.wireRows())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// DecodeMsgpack replaces the store contents from the compact binary
// section format.
func (s *Store) DecodeMsgpack(data []byte) error {
	var rows []wireRow
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return s.fromWireRows(rows)
}

// MarshalJSON emits the JSON mirror of the store.
func (s *Store) MarshalJSON() ([]byte, error) {
	type jsonEntry struct {
		Key   string `json:"key"`
		Value Value  `json:"value"`
	}
	type jsonRow struct {
		ID      uint64      `json:"id"`
		Entries []jsonEntry `json:"entries"`
	}
	rows := make([]jsonRow, 0, len(s.rows))
	for _, id := range s.IDs() {
		row := s.rows[id]
		entries := make([]jsonEntry, 0, len(row))
		for _, key := range s.Keys(id) {
			entries = append(entries, jsonEntry{Key: key, Value: row[key]})
		}
		rows = append(rows, jsonRow{ID: id, Entries: entries})
	}
	return json.Marshal(rows)
}

// UnmarshalJSON replaces the store contents from the JSON mirror.
func (s *Store) UnmarshalJSON(data []byte) error {
	type jsonEntry struct {
		Key   string `json:"key"`
		Value Value  `json:"value"`
	}
	type jsonRow struct {
		ID      uint64      `json:"id"`
		Entries []jsonEntry `json:"entries"`
	}
	var rows []jsonRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	fresh := make(map[uint64]map[string]Value, len(rows))
	for _, r := range rows {
		bag := make(map[string]Value, len(r.Entries))
		for _, e := range r.Entries {
			bag[e.Key] = e.Value
		}
		if len(bag) > 0 {
			fresh[r.ID] = bag
		}
	}
	s.rows = fresh
	return nil
}
