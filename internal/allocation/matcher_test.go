package allocation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetdispatch/fleetdispatch/internal/allocation"
)

func strPtr(s string) *string { return &s }

func TestFilter_CanonicalNameMatch(t *testing.T) {
	records := []allocation.Record{
		{"assignedDriver": "Juan Dela Cruz"},
		{"assignedDriver": "Maria"},
	}

	got := allocation.Filter(records, allocation.Identity{CanonicalName: "juan dela cruz"}, allocation.FuzzyMatcher{})

	assert.Equal(t, []allocation.Record{{"assignedDriver": "Juan Dela Cruz"}}, got)
}

func TestFilter_TeamSubstringMatch(t *testing.T) {
	records := []allocation.Record{{"assignedAgent": "Ana Reyes"}}
	identity := allocation.Identity{CanonicalName: "ana", TeamNames: []string{"ana reyes"}}

	got := allocation.Filter(records, identity, allocation.FuzzyMatcher{})

	assert.Len(t, got, 1)
}

func TestFilter_PreservesOrderAndInput(t *testing.T) {
	records := []allocation.Record{
		{"id": 1.0, "assignedTo": "Pedro Santos"},
		{"id": 2.0, "agent": "Maria Clara"},
		{"id": 3.0, "userName": "pedro"},
	}
	before := len(records)

	got := allocation.Filter(records, allocation.Identity{CanonicalName: "Pedro"}, allocation.FuzzyMatcher{})

	assert.Len(t, records, before)
	assert.Equal(t, []any{1.0, 3.0}, []any{got[0]["id"], got[1]["id"]})
}

func TestFilter_EmptyIdentity(t *testing.T) {
	records := []allocation.Record{{"assignedDriver": "Juan"}, {}}

	got := allocation.Filter(records, allocation.Identity{}, allocation.FuzzyMatcher{})

	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestRecord_AssignedTo(t *testing.T) {
	tests := []struct {
		name   string
		record allocation.Record
		want   string
	}{
		{"driver first", allocation.Record{"assignedDriver": " Juan ", "assignedAgent": "Maria"}, "juan"},
		{"agent before assignedTo", allocation.Record{"assignedAgent": "Maria", "assignedTo": "Pedro"}, "maria"},
		{"assignedTo", allocation.Record{"assignedTo": "Pedro", "agent": "Jose"}, "pedro"},
		{"agent", allocation.Record{"agent": "JOSE", "userName": "rizal"}, "jose"},
		{"userName", allocation.Record{"userName": "Rizal"}, "rizal"},
		{"null skipped", allocation.Record{"assignedDriver": nil, "agent": "Jose"}, "jose"},
		{"empty string stops the chain", allocation.Record{"assignedDriver": "", "agent": "Jose"}, ""},
		{"numeric id", allocation.Record{"assignedTo": 42.0}, "42"},
		{"none", allocation.Record{"vehicle": "Vios"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.AssignedTo())
		})
	}
}

func TestFuzzyMatcher(t *testing.T) {
	tests := []struct {
		name       string
		assignedTo string
		identity   allocation.Identity
		want       bool
	}{
		{"exact", "juan dela cruz", allocation.Identity{CanonicalName: "Juan Dela Cruz"}, true},
		{"assignee contains name", "juan dela cruz", allocation.Identity{CanonicalName: "juan"}, true},
		{"name contains assignee", "juan", allocation.Identity{CanonicalName: "Juan Dela Cruz"}, true},
		{"prefix false positive", "annabelle", allocation.Identity{CanonicalName: "Anna"}, true},
		{"id", "drv-007", allocation.Identity{CanonicalName: "Juan", ID: strPtr("DRV-007")}, true},
		{"team member", "maria clara", allocation.Identity{CanonicalName: "boss", TeamNames: []string{"Maria Clara"}}, true},
		{"unrelated", "maria", allocation.Identity{CanonicalName: "juan"}, false},
		{"empty assignee", "", allocation.Identity{CanonicalName: "juan", ID: strPtr("")}, false},
		{"blank team name", "maria", allocation.Identity{TeamNames: []string{"  "}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allocation.FuzzyMatcher{}.Match(tt.assignedTo, tt.identity))
		})
	}
}

func TestExactIDMatcher(t *testing.T) {
	m := allocation.ExactIDMatcher{}

	assert.True(t, m.Match("drv-007", allocation.Identity{ID: strPtr("DRV-007")}))
	assert.True(t, m.Match("juan dela cruz", allocation.Identity{CanonicalName: "Juan Dela Cruz"}))
	assert.True(t, m.Match("maria", allocation.Identity{TeamNames: []string{"Maria"}}))
	assert.False(t, m.Match("annabelle", allocation.Identity{CanonicalName: "Anna"}))
	assert.False(t, m.Match("juan", allocation.Identity{CanonicalName: "Juan Dela Cruz"}))
	assert.False(t, m.Match("", allocation.Identity{}))
}
