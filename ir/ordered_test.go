package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOrderedMap_InsertionOrder(t *testing.T) {
	var m OrderedMap[int]
	m.Set("zeta", 1)
	m.Set("alpha", 2)
	m.Set("mid", 3)
	m.Set("zeta", 10)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, m.Keys())
	assert.Equal(t, 3, m.Len())

	v, ok := m.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, []int{10, 2, 3}, m.Values())
}

func TestOrderedMap_Delete(t *testing.T) {
	m := NewOrderedMap[string]()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("c", "3")

	m.Delete("b")
	m.Delete("missing")

	assert.Equal(t, []string{"a", "c"}, m.Keys())
	assert.False(t, m.Has("b"))
}

func TestOrderedMap_RangeStops(t *testing.T) {
	var m OrderedMap[int]
	for i, k := range []string{"a", "b", "c"} {
		m.Set(k, i)
	}

	var seen []string
	m.Range(func(k string, _ int) bool {
		seen = append(seen, k)
		return k != "b"
	})
	assert.Equal(t, []string{"a", "b"}, seen)

	seen = nil
	for k := range m.All() {
		seen = append(seen, k)
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestOrderedMap_JSONPreservesOrder(t *testing.T) {
	var m OrderedMap[string]
	m.Set("z", "last\"quoted\"")
	m.Set("a", "first\nline")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"last\"quoted\"","a":"first\nline"}`, string(data))

	var back OrderedMap[string]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}

func TestOrderedMap_JSONStructValues(t *testing.T) {
	var m OrderedMap[CardinalityRange]
	m.Set("b", Required())
	m.Set("a", OptionalArray())

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back OrderedMap[CardinalityRange]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"b", "a"}, back.Keys())
	got, _ := back.Get("a")
	assert.Nil(t, got.Max)
}

func TestOrderedMap_JSONNull(t *testing.T) {
	var m OrderedMap[int]
	m.Set("x", 1)
	require.NoError(t, json.Unmarshal([]byte("null"), &m))
	assert.Equal(t, 0, m.Len())
}

func TestOrderedMap_YAMLPreservesOrder(t *testing.T) {
	var m OrderedMap[int]
	m.Set("zeta", 1)
	m.Set("alpha", 2)

	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, "zeta: 1\nalpha: 2\n", string(data))

	var back OrderedMap[int]
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}

func TestOrderedMap_YAMLRejectsSequence(t *testing.T) {
	var m OrderedMap[int]
	err := yaml.Unmarshal([]byte("- 1\n- 2\n"), &m)
	assert.Error(t, err)
}
