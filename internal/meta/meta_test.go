package meta

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"ok simple", "category", nil},
		{"ok underscore digits", "price_2024", nil},
		{"empty", "", ErrEmptyKey},
		{"too long", strings.Repeat("k", 257), ErrKeyTooLong},
		{"at limit", strings.Repeat("k", 256), nil},
		{"dash", "foo-bar", ErrInvalidKeyFormat},
		{"space", "foo bar", ErrInvalidKeyFormat},
		{"unicode", "café", ErrInvalidKeyFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestValueValidation(t *testing.T) {
	require.NoError(t, String("hello").Validate())
	require.ErrorIs(t, String(strings.Repeat("x", MaxStringBytes+1)).Validate(), ErrStringTooLong)
	require.NoError(t, Integer(-42).Validate())
	require.NoError(t, Float(3.14).Validate())
	require.ErrorIs(t, Float(math.NaN()).Validate(), ErrInvalidFloat)
	require.ErrorIs(t, Float(math.Inf(1)).Validate(), ErrInvalidFloat)
	require.NoError(t, Boolean(true).Validate())
	require.NoError(t, StringArray([]string{"a", "b"}).Validate())
	require.ErrorIs(t, StringArray(make([]string, MaxArrayElements+1)).Validate(), ErrArrayTooLong)
	require.Error(t, Value{}.Validate(), "zero value is invalid")
}

func TestValueBinaryRoundTrip(t *testing.T) {
	values := []Value{
		String("hello"),
		String(""),
		Integer(-12345),
		Float(2.718281828),
		Boolean(true),
		Boolean(false),
		StringArray([]string{"x", "", "longer string"}),
		StringArray(nil),
	}
	for _, v := range values {
		buf := v.EncodeBinary(nil)
		got, n, err := DecodeBinary(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.True(t, v.Equal(got), "round trip changed %v", v)
	}
}

func TestValueBinaryTruncated(t *testing.T) {
	buf := Integer(7).EncodeBinary(nil)
	_, _, err := DecodeBinary(buf[:4])
	require.ErrorIs(t, err, ErrSerialization)
	_, _, err = DecodeBinary(nil)
	require.ErrorIs(t, err, ErrSerialization)
}

func TestValueJSONMirror(t *testing.T) {
	raw, err := json.Marshal(Integer(41))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"integer","value":41}`, string(raw))

	raw, err = json.Marshal(StringArray([]string{"a"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"string_array","value":["a"]}`, string(raw))

	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"type":"float","value":1.5}`), &v))
	f, ok := v.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 1.5, f)

	require.Error(t, json.Unmarshal([]byte(`{"type":"timestamp","value":1}`), &v))
}

func TestStoreSetAndGet(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set(3, "category", String("a")))
	require.NoError(t, s.Set(3, "price", Float(9.5)))

	v, ok := s.Get(3, "category")
	require.True(t, ok)
	str, _ := v.AsString()
	assert.Equal(t, "a", str)

	_, ok = s.Get(3, "missing")
	assert.False(t, ok)
	_, ok = s.Get(4, "category")
	assert.False(t, ok)

	assert.Equal(t, 2, s.KeyCount(3))
	assert.Equal(t, []string{"category", "price"}, s.Keys(3))
	assert.True(t, s.HasKey(3, "price"))
}

func TestStoreSetUpsertsWithinBudget(t *testing.T) {
	s := NewStore()
	for i := 0; i < MaxKeysPerVector; i++ {
		require.NoError(t, s.Set(1, "k"+strings.Repeat("x", i%5)+string(rune('a'+i%26))+itoa(i), Integer(int64(i))))
	}
	require.Equal(t, MaxKeysPerVector, s.KeyCount(1))

	// Replacing an existing key stays within budget.
	existing := s.Keys(1)[0]
	require.NoError(t, s.Set(1, existing, Integer(99)))

	err := s.Set(1, "one_more", Integer(1))
	require.ErrorIs(t, err, ErrTooManyKeys)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestStoreSetRejectsInvalid(t *testing.T) {
	s := NewStore()
	require.ErrorIs(t, s.Set(1, "", String("x")), ErrEmptyKey)
	require.ErrorIs(t, s.Set(1, "bad key", String("x")), ErrInvalidKeyFormat)
	require.ErrorIs(t, s.Set(1, "f", Float(math.NaN())), ErrInvalidFloat)
	assert.Zero(t, s.Len(), "failed set must not create rows")
}

func TestStoreSetAllAtomic(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set(1, "keep", String("old")))

	err := s.SetAll(1, map[string]Value{
		"fine": Integer(1),
		"bad":  Float(math.Inf(-1)),
	})
	require.ErrorIs(t, err, ErrInvalidFloat)

	// On failure nothing changed.
	v, ok := s.Get(1, "keep")
	require.True(t, ok)
	str, _ := v.AsString()
	assert.Equal(t, "old", str)
	assert.False(t, s.HasKey(1, "fine"))

	require.NoError(t, s.SetAll(1, map[string]Value{"fresh": Boolean(true)}))
	assert.False(t, s.HasKey(1, "keep"), "SetAll replaces the whole bag")
	assert.True(t, s.HasKey(1, "fresh"))
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set(1, "a", Integer(1)))
	require.NoError(t, s.Set(1, "b", Integer(2)))

	assert.True(t, s.Delete(1, "a"))
	assert.False(t, s.Delete(1, "a"))
	assert.False(t, s.Delete(9, "a"))

	assert.True(t, s.DeleteAll(1))
	assert.False(t, s.DeleteAll(1))
	assert.Zero(t, s.Len())
}

func TestStoreRemap(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set(0, "k", Integer(0)))
	require.NoError(t, s.Set(2, "k", Integer(2)))
	require.NoError(t, s.Set(4, "k", Integer(4)))

	noRemap := ^uint64(0)
	s.Remap([]uint64{0, noRemap, 1, noRemap, 2}, noRemap)

	assert.Equal(t, []uint64{0, 1, 2}, s.IDs())
	v, ok := s.Get(1, "k")
	require.True(t, ok)
	i, _ := v.AsInteger()
	assert.Equal(t, int64(2), i)
}

func TestStoreMsgpackRoundTrip(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set(1, "category", String("a")))
	require.NoError(t, s.Set(1, "price", Float(49.5)))
	require.NoError(t, s.Set(7, "tags", StringArray([]string{"x", "y"})))
	require.NoError(t, s.Set(7, "active", Boolean(true)))
	require.NoError(t, s.Set(7, "rank", Integer(-3)))

	data, err := s.EncodeMsgpack()
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.DecodeMsgpack(data))
	assertStoresEqual(t, s, restored)
}

func TestStoreJSONMirrorRoundTrip(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set(0, "name", String("vector zero")))
	require.NoError(t, s.Set(3, "score", Float(0.25)))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, json.Unmarshal(data, restored))
	assertStoresEqual(t, s, restored)
}

func TestStoreEncodingIsStable(t *testing.T) {
	build := func() *Store {
		s := NewStore()
		s.Set(5, "b", Integer(2))
		s.Set(5, "a", Integer(1))
		s.Set(2, "z", String("zz"))
		return s
	}
	first, err := build().EncodeMsgpack()
	require.NoError(t, err)
	second, err := build().EncodeMsgpack()
	require.NoError(t, err)
	assert.Equal(t, first, second, "encoding must not depend on map order")
}

func assertStoresEqual(t *testing.T, want, got *Store) {
	t.Helper()
	require.Equal(t, want.IDs(), got.IDs())
	for _, id := range want.IDs() {
		require.Equal(t, want.Keys(id), got.Keys(id), "id %d", id)
		for _, key := range want.Keys(id) {
			wv, _ := want.Get(id, key)
			gv, _ := got.Get(id, key)
			assert.True(t, wv.Equal(gv), "id %d key %s: %v != %v", id, key, wv, gv)
		}
	}
}
