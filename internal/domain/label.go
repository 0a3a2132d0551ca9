package domain

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Label is a forge label. Identity is the case-insensitive, NFC-normalised name.
type Label struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// LabelKey returns the identity key for a label name.
func LabelKey(name string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(name)))
}

// NormalizeLabels dedups labels by LabelKey (the last occurrence wins, so a
// later colour overrides an earlier one) and sorts them by key.
// Returns a non-nil slice.
func NormalizeLabels(labels []Label) []Label {
	byKey := make(map[string]Label, len(labels))
	for _, l := range labels {
		key := LabelKey(l.Name)
		if key == "" {
			continue
		}
		byKey[key] = Label{
			Name:  norm.NFC.String(strings.TrimSpace(l.Name)),
			Color: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(l.Color), "#")),
		}
	}
	out := make([]Label, 0, len(byKey))
	for _, l := range byKey {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return LabelKey(out[i].Name) < LabelKey(out[j].Name) })
	return out
}

// HasLabel reports whether labels contains name.
func HasLabel(labels []Label, name string) bool {
	key := LabelKey(name)
	for _, l := range labels {
		if LabelKey(l.Name) == key {
			return true
		}
	}
	return false
}

// WithLabels returns labels plus names not already present. New labels get no colour.
func WithLabels(labels []Label, names ...string) []Label {
	out := CloneLabels(labels)
	for _, n := range names {
		if !HasLabel(out, n) {
			out = append(out, Label{Name: n})
		}
	}
	return NormalizeLabels(out)
}

// WithoutLabels returns labels minus the given names.
func WithoutLabels(labels []Label, names ...string) []Label {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[LabelKey(n)] = struct{}{}
	}
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		if _, ok := drop[LabelKey(l.Name)]; ok {
			continue
		}
		out = append(out, l)
	}
	return NormalizeLabels(out)
}

// CloneLabels returns a copy that shares no backing array with labels.
func CloneLabels(labels []Label) []Label {
	if labels == nil {
		return nil
	}
	out := make([]Label, len(labels))
	copy(out, labels)
	return out
}

// NormalizeLogins dedups user logins case-insensitively and sorts them.
// Returns a non-nil slice.
func NormalizeLogins(logins []string) []string {
	seen := make(map[string]struct{}, len(logins))
	out := make([]string, 0, len(logins))
	for _, l := range logins {
		l = norm.NFC.String(strings.TrimSpace(l))
		key := strings.ToLower(l)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

// ContainsLogin reports whether logins contains login, ignoring case.
func ContainsLogin(logins []string, login string) bool {
	for _, l := range logins {
		if strings.EqualFold(l, login) {
			return true
		}
	}
	return false
}

// WithoutLogin returns logins minus login, ignoring case.
func WithoutLogin(logins []string, login string) []string {
	out := make([]string, 0, len(logins))
	for _, l := range logins {
		if !strings.EqualFold(l, login) {
			out = append(out, l)
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
