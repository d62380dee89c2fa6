package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAddedRemovedChanged(t *testing.T) {
	oldState := map[string]interface{}{
		"title":    "planning sync",
		"location": "room 4",
		"duration": 30,
	}
	newState := map[string]interface{}{
		"title":       "planning sync",
		"location":    "room 7",
		"description": "weekly",
	}

	d, err := Compute(oldState, newState)
	require.NoError(t, err)

	require.Len(t, d.Added, 1)
	assert.Equal(t, "description", d.Added[0].Path)
	assert.Equal(t, "weekly", d.Added[0].Value)

	require.Len(t, d.Removed, 1)
	assert.Equal(t, "duration", d.Removed[0].Path)

	require.Len(t, d.Changed, 1)
	assert.Equal(t, "location", d.Changed[0].Path)
	assert.Equal(t, "room 4", d.Changed[0].Old)
	assert.Equal(t, "room 7", d.Changed[0].New)
}

func TestComputeIdenticalInputs(t *testing.T) {
	state := map[string]interface{}{"title": "standup", "nested": map[string]interface{}{"a": 1}}

	d, err := Compute(state, state)
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestComputeRecursesIntoNestedMappings(t *testing.T) {
	oldState := map[string]interface{}{
		"recurrence": map[string]interface{}{"freq": "weekly", "count": 4},
	}
	newState := map[string]interface{}{
		"recurrence": map[string]interface{}{"freq": "daily", "count": 4},
	}

	d, err := Compute(oldState, newState)
	require.NoError(t, err)

	require.Len(t, d.Changed, 1)
	assert.Equal(t, "recurrence.freq", d.Changed[0].Path)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
}

func TestComputeEscapesDotsInKeys(t *testing.T) {
	oldState := map[string]interface{}{"a.b": map[string]interface{}{"c": 1}}
	newState := map[string]interface{}{"a.b": map[string]interface{}{"c": 2}}

	d, err := Compute(oldState, newState)
	require.NoError(t, err)

	require.Len(t, d.Changed, 1)
	assert.Equal(t, `a\.b.c`, d.Changed[0].Path)
}

func TestComputeAbsentDistinctFromNull(t *testing.T) {
	oldState := map[string]interface{}{}
	newState := map[string]interface{}{"location": nil}

	d, err := Compute(oldState, newState)
	require.NoError(t, err)

	// a key set to null is an addition, not a no-op
	require.Len(t, d.Added, 1)
	assert.Equal(t, "location", d.Added[0].Path)
	assert.Nil(t, d.Added[0].Value)

	d, err = Compute(newState, map[string]interface{}{"location": "room 4"})
	require.NoError(t, err)
	require.Len(t, d.Changed, 1)
	assert.Nil(t, d.Changed[0].Old)
}

func TestComputeContainerOrderInsensitive(t *testing.T) {
	oldState := map[string]interface{}{"tags": []interface{}{"a", "b", "c"}}
	newState := map[string]interface{}{"tags": []interface{}{"c", "a", "b"}}

	d, err := Compute(oldState, newState)
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestComputeContainerContentChange(t *testing.T) {
	oldState := map[string]interface{}{"tags": []interface{}{"a", "b"}}
	newState := map[string]interface{}{"tags": []interface{}{"a", "x"}}

	d, err := Compute(oldState, newState)
	require.NoError(t, err)
	require.Len(t, d.Changed, 1)
	assert.Equal(t, "tags", d.Changed[0].Path)
}

func TestComputeDeterministicSerialization(t *testing.T) {
	oldState := map[string]interface{}{"z": 1, "a": 2, "m": map[string]interface{}{"y": 1, "b": 2}}
	newState := map[string]interface{}{"z": 9, "a": 8, "m": map[string]interface{}{"y": 7, "b": 6}, "q": 1}

	first, err := Compute(oldState, newState)
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := Compute(oldState, newState)
		require.NoError(t, err)
		againJSON, err := json.Marshal(again)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(againJSON))
	}

	// sorted lexicographically by path
	require.Len(t, first.Changed, 4)
	assert.Equal(t, "a", first.Changed[0].Path)
	assert.Equal(t, "m.b", first.Changed[1].Path)
	assert.Equal(t, "m.y", first.Changed[2].Path)
	assert.Equal(t, "z", first.Changed[3].Path)
}

func TestComputeDepthBound(t *testing.T) {
	build := func(leaf interface{}) map[string]interface{} {
		m := map[string]interface{}{"leaf": leaf}
		for i := 0; i < maxDepth+10; i++ {
			m = map[string]interface{}{"n": m}
		}
		return m
	}

	d, err := Compute(build("a"), build("b"))
	require.NoError(t, err)
	// recursion stops at the bound and compares the remainder opaquely
	require.Len(t, d.Changed, 1)

	d, err = Compute(build("same"), build("same"))
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestNormalizeRejectsNonMappings(t *testing.T) {
	_, err := Normalize([]string{"not", "a", "mapping"})
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = Normalize("scalar")
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = Normalize(make(chan int))
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestNormalizeStructs(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}

	m, err := Normalize(payload{Title: "standup", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "standup", m["title"])
	assert.Equal(t, float64(3), m["count"])
}

func TestComputeDoesNotMutateInputs(t *testing.T) {
	oldState := map[string]interface{}{"a": 1}
	newState := map[string]interface{}{"a": 2, "b": 3}

	_, err := Compute(oldState, newState)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"a": 1}, oldState)
	assert.Equal(t, map[string]interface{}{"a": 2, "b": 3}, newState)
}

func TestApplyRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		oldState map[string]interface{}
		newState map[string]interface{}
	}{
		{
			name:     "flat",
			oldState: map[string]interface{}{"title": "a", "location": "x"},
			newState: map[string]interface{}{"title": "b", "description": "fresh"},
		},
		{
			name:     "nested",
			oldState: map[string]interface{}{"r": map[string]interface{}{"freq": "weekly", "gone": true}},
			newState: map[string]interface{}{"r": map[string]interface{}{"freq": "daily", "added": 1.0}},
		},
		{
			name:     "null values",
			oldState: map[string]interface{}{"location": nil},
			newState: map[string]interface{}{"location": "room 4"},
		},
		{
			name:     "emptied",
			oldState: map[string]interface{}{"a": 1.0, "b": 2.0},
			newState: map[string]interface{}{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := Compute(tc.oldState, tc.newState)
			require.NoError(t, err)

			got, err := Apply(tc.oldState, d)
			require.NoError(t, err)

			wantNorm, err := Normalize(tc.newState)
			require.NoError(t, err)
			assert.Equal(t, wantNorm, got)
		})
	}
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := map[string]interface{}{"a": 1.0, "nested": map[string]interface{}{"x": 1.0}}

	d, err := Compute(base, map[string]interface{}{"nested": map[string]interface{}{"x": 2.0}})
	require.NoError(t, err)

	_, err = Apply(base, d)
	require.NoError(t, err)

	assert.Equal(t, 1.0, base["a"])
	assert.Equal(t, 1.0, base["nested"].(map[string]interface{})["x"])
}
