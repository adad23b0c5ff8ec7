package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"eventserver/internal/model"
)

func TestAttributesMatch_ScalarEquality(t *testing.T) {
	template := map[string]any{"environment": "prod"}
	assert.True(t, AttributesMatch(template, map[string]any{"environment": "prod", "extra": 1.0}))
	assert.False(t, AttributesMatch(template, map[string]any{"environment": "staging"}))
	assert.False(t, AttributesMatch(template, map[string]any{}))
}

func TestAttributesMatch_NestedMapping(t *testing.T) {
	template := map[string]any{"check": map[string]any{"name": "cpu"}}
	candidate := map[string]any{"check": map[string]any{"name": "cpu", "interval": 60.0}}
	assert.True(t, AttributesMatch(template, candidate))

	candidate2 := map[string]any{"check": map[string]any{"name": "disk"}}
	assert.False(t, AttributesMatch(template, candidate2))
}

func TestAttributesMatch_EvalPredicate(t *testing.T) {
	template := map[string]any{"occurrences": "eval: value >= 3"}
	assert.True(t, AttributesMatch(template, map[string]any{"occurrences": 5.0}))
	assert.False(t, AttributesMatch(template, map[string]any{"occurrences": 1.0}))
}

func TestAttributesMatch_EvalErrorIsNoMatch(t *testing.T) {
	template := map[string]any{"occurrences": "eval: value.undefined"}
	assert.False(t, AttributesMatch(template, map[string]any{"occurrences": 5.0}))
}

type fakeRegistry struct {
	filters map[string]model.Filter
}

func (r fakeRegistry) Filter(name string) (model.Filter, bool) {
	f, ok := r.filters[name]
	return f, ok
}

func TestEventFiltered_UnknownFilterLogsAndKeeps(t *testing.T) {
	reg := fakeRegistry{filters: map[string]model.Filter{}}
	var logged string
	filtered := EventFiltered(reg, func(name string) { logged = name }, "missing", model.Event{})
	assert.False(t, filtered)
	assert.Equal(t, "missing", logged)
}

func TestEventFiltered_NegateRoundTrip(t *testing.T) {
	event := model.Event{Client: "web01", Action: model.ActionCreate}

	nonNegated := fakeRegistry{filters: map[string]model.Filter{
		"by-client": {Name: "by-client", Attributes: map[string]any{"client": "web01"}, Negate: false},
	}}
	negated := fakeRegistry{filters: map[string]model.Filter{
		"by-client": {Name: "by-client", Attributes: map[string]any{"client": "web01"}, Negate: true},
	}}

	droppedByNonNegated := EventFiltered(nonNegated, nil, "by-client", event)
	droppedByNegated := EventFiltered(negated, nil, "by-client", event)

	assert.NotEqual(t, droppedByNonNegated, droppedByNegated)
}
