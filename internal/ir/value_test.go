package ir

import (
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRFloat(1.5)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra":  IRString("z"),
		"apple":  IRString("a"),
		"banana": IRString("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
	assert.Empty(t, IRObject{}.SortedKeys())
}

// TestSortedKeysUTF16Order is the case where UTF-8 byte order and RFC 8785
// UTF-16 order disagree.
func TestSortedKeysUTF16Order(t *testing.T) {
	obj := IRObject{
		"\uE000":     IRInt(1),
		"\U00010000": IRInt(2),
	}

	expected := []string{"\U00010000", "\uE000"}
	assert.Equal(t, expected, obj.SortedKeys())

	utf8Order := []string{"\U00010000", "\uE000"}
	sort.Strings(utf8Order)
	assert.NotEqual(t, expected, utf8Order, "UTF-8 and UTF-16 orders must differ for this test")
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"aa", "a", 1},
		{"a", "aa", -1},
		{"A", "a", -1},
		{"", "", 0},
		{"", "a", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, compareKeysRFC8785(tt.a, tt.b))
		})
	}
}

func TestUnmarshalNumbers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected IRValue
	}{
		{"integer", `42`, IRInt(42)},
		{"negative integer", `-100`, IRInt(-100)},
		{"fraction", `3.14`, IRFloat(3.14)},
		{"integral float", `2.0`, IRFloat(2)},
		{"exponent", `1e3`, IRFloat(1000)},
		{"uppercase exponent", `1E3`, IRFloat(1000)},
		{"nested", `{"v":[1,1.5]}`, IRObject{"v": IRArray{IRInt(1), IRFloat(1.5)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := UnmarshalIRValue([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, val)
		})
	}
}

func TestUnmarshalRejectsOutOfRangeInt(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`92233720368547758080`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "int64")
}

func TestIRNullRoundTrip(t *testing.T) {
	obj := IRObject{
		"present": IRString("value"),
		"missing": IRNull{},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"missing":null,"present":"value"}`, string(data))

	var decoded IRObject
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, obj, decoded)
}

func TestRoundTripThroughEncodingJSON(t *testing.T) {
	tests := []struct {
		name  string
		value IRArray
	}{
		{"empty", IRArray{}},
		{"mixed", IRArray{IRString("a"), IRInt(1), IRFloat(0.25), IRBool(false), IRNull{}}},
		{"nested", IRArray{IRObject{"pos": IRArray{IRFloat(1), IRFloat(2), IRFloat(3)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)

			var decoded IRArray
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestFromGo(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected IRValue
	}{
		{"nil", nil, IRNull{}},
		{"string", "x", IRString("x")},
		{"bool", true, IRBool(true)},
		{"int", 7, IRInt(7)},
		{"uint16", uint16(7), IRInt(7)},
		{"float64", 0.5, IRFloat(0.5)},
		{"ir passthrough", IRInt(3), IRInt(3)},
		{"json number", json.Number("12"), IRInt(12)},
		{"slice", []any{1, "a"}, IRArray{IRInt(1), IRString("a")}},
		{"map", map[string]any{"k": 1.5}, IRObject{"k": IRFloat(1.5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok, err := FromGo(tt.input)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.expected, val)
		})
	}
}

func TestFromGoUnknownType(t *testing.T) {
	type vec struct{ X, Y float64 }

	_, ok, err := FromGo(vec{1, 2})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = FromGo([]any{1, vec{}})
	require.NoError(t, err)
	assert.False(t, ok, "unknown element makes the whole slice unknown")
}

func TestFromGoRejectsNonFinite(t *testing.T) {
	_, _, err := FromGo(math.NaN())
	require.Error(t, err)

	_, _, err = FromGo(map[string]any{"v": math.Inf(1)})
	require.Error(t, err)
}

func TestAccessors(t *testing.T) {
	n, ok := AsInt(IRInt(4))
	assert.True(t, ok)
	assert.Equal(t, int64(4), n)

	n, ok = AsInt(IRFloat(4))
	assert.True(t, ok)
	assert.Equal(t, int64(4), n)

	_, ok = AsInt(IRFloat(4.5))
	assert.False(t, ok)

	f, ok := AsFloat(IRInt(2))
	assert.True(t, ok)
	assert.Equal(t, 2.0, f)

	s, ok := AsString(IRString("s"))
	assert.True(t, ok)
	assert.Equal(t, "s", s)

	_, ok = AsBool(IRString("true"))
	assert.False(t, ok)
}

func TestNewIRObject(t *testing.T) {
	obj := NewIRObject(O("name", IRString("cube")), O("count", IRInt(5)))
	assert.Equal(t, IRObject{"name": IRString("cube"), "count": IRInt(5)}, obj)
}

func TestClone(t *testing.T) {
	orig := IRObject{"list": IRArray{IRInt(1)}, "name": IRString("a")}
	c := Clone(orig).(IRObject)
	c["list"].(IRArray)[0] = IRInt(99)
	c["name"] = IRString("b")

	assert.Equal(t, IRInt(1), orig["list"].(IRArray)[0])
	assert.Equal(t, IRString("a"), orig["name"])
}
