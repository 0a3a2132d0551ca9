package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelKey(t *testing.T) {
	assert.Equal(t, "bug", LabelKey("  Bug "))
	assert.Equal(t, LabelKey("Cafe\u0301"), LabelKey("caf\u00e9"))
}

func TestNormalizeLabels(t *testing.T) {
	got := NormalizeLabels([]Label{
		{Name: "wontfix", Color: "FFFFFF"},
		{Name: "Bug", Color: "#D73A4A"},
		{Name: "bug", Color: "ee0701"},
		{Name: "  "},
	})

	assert.Equal(t, []Label{
		{Name: "bug", Color: "ee0701"},
		{Name: "wontfix", Color: "ffffff"},
	}, got)
}

func TestNormalizeLabels_NonNil(t *testing.T) {
	got := NormalizeLabels(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWithLabels(t *testing.T) {
	base := []Label{{Name: "bug", Color: "d73a4a"}}

	got := WithLabels(base, "BUG", "triage")
	assert.Equal(t, []Label{{Name: "bug", Color: "d73a4a"}, {Name: "triage"}}, got)
	assert.Len(t, base, 1, "input must not be modified")
}

func TestWithoutLabels(t *testing.T) {
	base := []Label{{Name: "bug"}, {Name: "triage"}, {Name: "wontfix"}}

	got := WithoutLabels(base, "Triage", "missing")
	assert.Equal(t, []Label{{Name: "bug"}, {Name: "wontfix"}}, got)
}

func TestHasLabel(t *testing.T) {
	labels := []Label{{Name: "Needs Review"}}
	assert.True(t, HasLabel(labels, "needs review"))
	assert.False(t, HasLabel(labels, "needs"))
}

func TestCloneLabels(t *testing.T) {
	assert.Nil(t, CloneLabels(nil))

	orig := []Label{{Name: "bug"}}
	c := CloneLabels(orig)
	c[0].Name = "changed"
	assert.Equal(t, "bug", orig[0].Name)
}

func TestNormalizeLogins(t *testing.T) {
	got := NormalizeLogins([]string{"carol", "Alice", "alice", " bob ", ""})
	assert.Equal(t, []string{"Alice", "bob", "carol"}, got)
}

func TestLoginHelpers(t *testing.T) {
	logins := []string{"alice", "Bob"}
	assert.True(t, ContainsLogin(logins, "bob"))
	assert.False(t, ContainsLogin(logins, "carol"))
	assert.Equal(t, []string{"alice"}, WithoutLogin(logins, "BOB"))
}
