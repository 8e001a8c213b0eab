package filtering

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestHierarchy_Implies(t *testing.T) {
	t.Parallel()

	h := Hierarchy{
		"ScheduledTask": {"Task"},
		"Task":          {"Runnable"},
		"Runnable":      {"Object"},
		"Ping":          {"Pong"},
		"Pong":          {"Ping"},
	}

	tests := []struct {
		name     string
		sub      string
		super    string
		expected bool
	}{
		{name: "identity", sub: "Task", super: "Task", expected: true},
		{name: "direct supertype", sub: "Task", super: "Runnable", expected: true},
		{name: "transitive supertype", sub: "ScheduledTask", super: "Object", expected: true},
		{name: "subtype does not follow from supertype", sub: "Runnable", super: "Task", expected: false},
		{name: "unrelated", sub: "Task", super: "Closer", expected: false},
		{name: "unknown capability", sub: "Widget", super: "Runnable", expected: false},
		{name: "cycle terminates", sub: "Ping", super: "Object", expected: false},
		{name: "cycle members imply each other", sub: "Ping", super: "Pong", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, h.Implies(tt.sub, tt.super))
		})
	}
}

func TestHierarchy_Reduce(t *testing.T) {
	t.Parallel()

	h := Hierarchy{
		"B": {"A"},
		"C": {"B"},
		"X": {"Y"},
		"Y": {"X"},
	}

	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "supertype dropped", input: []string{"A", "B"}, expected: []string{"B"}},
		{name: "order independent", input: []string{"B", "A"}, expected: []string{"B"}},
		{name: "transitive chain keeps narrowest", input: []string{"A", "C", "B"}, expected: []string{"C"}},
		{name: "unrelated kept in order", input: []string{"Runnable", "Closer"}, expected: []string{"Runnable", "Closer"}},
		{name: "duplicates and empties dropped", input: []string{"Closer", "", "Closer", "Runnable"}, expected: []string{"Closer", "Runnable"}},
		{name: "mixed", input: []string{"Closer", "A", "B"}, expected: []string{"Closer", "B"}},
		{name: "cyclic pair kept", input: []string{"X", "Y"}, expected: []string{"X", "Y"}},
		{name: "empty input", input: nil, expected: []string{}},
		{name: "only empties", input: []string{"", ""}, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.expected, h.Reduce(tt.input)); diff != "" {
				t.Errorf("Reduce() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHierarchy_NilReduce(t *testing.T) {
	t.Parallel()

	var h Hierarchy
	assert.Equal(t, []string{"A", "B"}, h.Reduce([]string{"A", "B", "A"}))
	assert.True(t, h.Satisfies([]string{"A"}, "A"))
	assert.False(t, h.Satisfies(nil, "A"))
}
