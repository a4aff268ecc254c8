// Package allocation reconciles backend allocation records with the viewer's identity.
package allocation

import (
	"strconv"
	"strings"
)

// Record is an allocation record as the backend returns it. The package only reads it.
type Record map[string]any

// assigneeFields are consulted in order; the first one present and non-null wins.
var assigneeFields = []string{"assignedDriver", "assignedAgent", "assignedTo", "agent", "userName"}

// AssignedTo returns the normalized assignee of the record, or "" when none is set.
func (r Record) AssignedTo() string {
	for _, field := range assigneeFields {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		return normalize(stringify(v))
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Identity is the viewer, plus the names it supervises when the viewer is a manager.
type Identity struct {
	CanonicalName string
	ID            *string
	TeamNames     []string
	Role          string
}

// Matcher decides which records belong to an identity.
type Matcher interface {
	Match(assignedTo string, identity Identity) bool
}

// Filter returns the records assigned to identity according to m, in their original order.
// The input slice and records are not modified.
func Filter(records []Record, identity Identity, m Matcher) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if m.Match(r.AssignedTo(), identity) {
			out = append(out, r)
		}
	}
	return out
}

// FuzzyMatcher matches by exact name, by substring containment in either direction, by ID,
// or through any team name. Containment favours recall: "anna" also matches "annabelle".
// The ID goes through the same trim and lowercase as the assignee fields.
type FuzzyMatcher struct{}

// Match reports whether assignedTo (already normalized) belongs to identity.
func (FuzzyMatcher) Match(assignedTo string, identity Identity) bool {
	if identity.ID != nil && assignedTo != "" && assignedTo == normalize(*identity.ID) {
		return true
	}
	if nameMatches(assignedTo, normalize(identity.CanonicalName)) {
		return true
	}
	for _, team := range identity.TeamNames {
		if nameMatches(assignedTo, normalize(team)) {
			return true
		}
	}
	return false
}

func nameMatches(assignedTo, name string) bool {
	if assignedTo == "" || name == "" {
		return false
	}
	return assignedTo == name ||
		strings.Contains(assignedTo, name) ||
		strings.Contains(name, assignedTo)
}

// ExactIDMatcher accepts only exact equality with the ID, the canonical name, or a team name.
type ExactIDMatcher struct{}

// Match reports whether assignedTo (already normalized) belongs to identity.
func (ExactIDMatcher) Match(assignedTo string, identity Identity) bool {
	if assignedTo == "" {
		return false
	}
	if identity.ID != nil && assignedTo == normalize(*identity.ID) {
		return true
	}
	if assignedTo == normalize(identity.CanonicalName) {
		return true
	}
	for _, team := range identity.TeamNames {
		if assignedTo == normalize(team) {
			return true
		}
	}
	return false
}
