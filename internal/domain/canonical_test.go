package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", -100, "-100"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array of ints", []int{1, 2, 3}, "[1,2,3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
		"beta":  3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 bytes but after its surrogate
	// pair in UTF-16 code units.
	obj := map[string]any{}
	obj["\uff61"] = 1
	obj["\U0001F600"] = 2

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{"title": "<b>fix</b> & ship"})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"<b>fix</b> & ship"}`, string(result))
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	a, err := MarshalCanonical(map[string]any{decomposed: decomposed})
	require.NoError(t, err)
	b, err := MarshalCanonical(map[string]any{composed: composed})
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalStructs(t *testing.T) {
	label := Label{Name: "bug", Color: "d73a4a"}

	result, err := MarshalCanonical(label)
	require.NoError(t, err)
	assert.Equal(t, `{"color":"d73a4a","name":"bug"}`, string(result))
}

func TestMarshalCanonicalIdempotency(t *testing.T) {
	pr := PullRequest{
		Repo:   RepoRef{Owner: "acme", Name: "widgets"},
		Number: 7,
		Title:  "feat: sprockets",
		Labels: []Label{{Name: "bug"}},
	}
	pr.Normalize()

	first, err := MarshalCanonical(pr)
	require.NoError(t, err)
	for range 10 {
		again, err := MarshalCanonical(pr.Clone())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMarshalCanonicalRejectsUnsupported(t *testing.T) {
	_, err := MarshalCanonical(make(chan int))
	assert.Error(t, err)
}
