package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevec/edgevec/internal/meta"
)

func row(pairs ...any) map[string]meta.Value {
	m := make(map[string]meta.Value)
	for i := 0; i < len(pairs); i += 2 {
		key := pairs[i].(string)
		switch v := pairs[i+1].(type) {
		case string:
			m[key] = meta.String(v)
		case int:
			m[key] = meta.Integer(int64(v))
		case float64:
			m[key] = meta.Float(v)
		case bool:
			m[key] = meta.Boolean(v)
		case []string:
			m[key] = meta.StringArray(v)
		default:
			panic("unsupported test value")
		}
	}
	return m
}

func mustParse(t *testing.T, input string) Expr {
	t.Helper()
	expr, err := Parse(input)
	require.NoError(t, err, "parse %q", input)
	return expr
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"category =",
		"= 'a'",
		"category = 'a' AND",
		"category ~ 'a'",
		"category = 'unterminated",
		"category IN ()",
		"category IN ('a', 5)",
		"tags CONTAINS 5",
		"name LIKE 42",
		"(category = 'a'",
		"category = 'a' extra",
		"AND = 5",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.ErrorIs(t, err, ErrInvalidFilter, "input %q", in)
		})
	}
}

func TestCompareOperators(t *testing.T) {
	r := row("category", "a", "price", 49.5, "count", 7, "active", true)

	tests := []struct {
		expr string
		want bool
	}{
		{`category = 'a'`, true},
		{`category = "a"`, true},
		{`category = 'b'`, false},
		{`category != 'b'`, true},
		{`category != 'a'`, false},
		{`price < 50`, true},
		{`price <= 49.5`, true},
		{`price > 49.5`, false},
		{`price >= 49.5`, true},
		{`count = 7`, true},
		{`count < 7.5`, true}, // integer promotes to float
		{`active = true`, true},
		{`active != false`, true},
		{`active = false`, false},
		{`category < 'b'`, true}, // strings order lexicographically
		{`category > 'b'`, false},
		// Type clashes are false, not errors.
		{`price = 'cheap'`, false},
		{`category < 5`, false},
		{`active = 'true'`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.expr).Matches(r))
		})
	}
}

func TestMissingKeyIsFalse(t *testing.T) {
	r := row("present", 1)
	for _, expr := range []string{
		`absent = 1`,
		`absent != 1`,
		`absent < 1`,
		`absent LIKE '%'`,
		`absent IN (1, 2)`,
		`absent CONTAINS 'x'`,
	} {
		assert.False(t, mustParse(t, expr).Matches(r), expr)
	}
	// NOT over a missing key flips to true; no three-valued logic.
	assert.True(t, mustParse(t, `NOT absent = 1`).Matches(r))
}

func TestLike(t *testing.T) {
	r := row("name", "edge vector store")
	tests := []struct {
		pattern string
		want    bool
	}{
		{`name LIKE 'edge%'`, true},
		{`name LIKE '%store'`, true},
		{`name LIKE '%vector%'`, true},
		{`name LIKE 'edge%store'`, true},
		{`name LIKE 'Edge%'`, false}, // case-sensitive
		{`name LIKE 'edge vector store'`, true},
		{`name LIKE 'vector'`, false},
		{`name LIKE '%'`, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.pattern).Matches(r))
		})
	}
}

func TestInAndContains(t *testing.T) {
	r := row("category", "b", "tags", []string{"fast", "small"}, "count", 3)

	assert.True(t, mustParse(t, `category IN ('a', 'b')`).Matches(r))
	assert.False(t, mustParse(t, `category IN ('x', 'y')`).Matches(r))
	assert.True(t, mustParse(t, `count IN (1, 2, 3)`).Matches(r))
	assert.True(t, mustParse(t, `tags CONTAINS 'fast'`).Matches(r))
	assert.False(t, mustParse(t, `tags CONTAINS 'slow'`).Matches(r))
	// CONTAINS on a non-array value is false.
	assert.False(t, mustParse(t, `category CONTAINS 'b'`).Matches(r))
}

func TestLogicalCombinators(t *testing.T) {
	r := row("category", "a", "price", 30.0)

	assert.True(t, mustParse(t, `category = 'a' AND price < 50`).Matches(r))
	assert.False(t, mustParse(t, `category = 'a' AND price > 50`).Matches(r))
	assert.True(t, mustParse(t, `category = 'b' OR price < 50`).Matches(r))
	assert.True(t, mustParse(t, `NOT category = 'b'`).Matches(r))
	assert.True(t, mustParse(t, `NOT (category = 'a' AND price > 50)`).Matches(r))
	// AND binds tighter than OR.
	assert.True(t, mustParse(t, `category = 'b' AND price < 50 OR category = 'a'`).Matches(r))
}

func TestFilterAlgebra(t *testing.T) {
	rows := []map[string]meta.Value{
		row("category", "a", "price", 10.0),
		row("category", "b", "price", 60.0),
		row("price", 30.0),
		row("category", "a"),
	}

	double := mustParse(t, `NOT NOT category = 'a'`)
	plain := mustParse(t, `category = 'a'`)
	for i, r := range rows {
		assert.Equal(t, plain.Matches(r), double.Matches(r), "row %d", i)
	}

	ab := mustParse(t, `category = 'a' AND price < 50`)
	ba := mustParse(t, `price < 50 AND category = 'a'`)
	abOr := mustParse(t, `category = 'a' OR price < 50`)
	baOr := mustParse(t, `price < 50 OR category = 'a'`)
	for i, r := range rows {
		assert.Equal(t, ab.Matches(r), ba.Matches(r), "AND commutes, row %d", i)
		assert.Equal(t, abOr.Matches(r), baOr.Matches(r), "OR commutes, row %d", i)
	}
}

func TestSelectivity(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{`k = 1`, 0.1},
		{`k != 1`, 0.9},
		{`k < 1`, 0.3},
		{`k LIKE 'a%'`, 0.3},
		{`tags CONTAINS 'x'`, 0.3},
		{`k IN (1, 2)`, 0.2},
		{`k IN (1, 2, 3, 4, 5, 6, 7)`, 0.5}, // capped at 0.5
		{`a = 1 AND b = 2`, 0.1 * 0.1},
		{`a = 1 OR b = 2`, 0.1 + 0.1 - 0.01},
		{`NOT a = 1`, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.InDelta(t, tt.want, mustParse(t, tt.expr).Selectivity(), 1e-9)
		})
	}

	// Deep conjunctions clamp at the floor.
	deep := mustParse(t, `a = 1 AND b = 1 AND c = 1 AND d = 1`)
	assert.Equal(t, 0.01, deep.Selectivity())
}

func TestStringEscapes(t *testing.T) {
	r := row("path", `C:\data`, "quote", `say "hi"`)
	assert.True(t, mustParse(t, `path = 'C:\\data'`).Matches(r))
	assert.True(t, mustParse(t, `quote = "say \"hi\""`).Matches(r))
}
