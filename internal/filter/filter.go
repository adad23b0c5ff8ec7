// Package filter implements the filter evaluator (spec §4.2): a recursive
// attribute-template match against an event, with an escape into the
// sandboxed predicate language for anything a literal comparison can't
// express. Grounded on the teacher's recursive YAML-driven matching style
// in internal/scheduler/repository (attribute-keyed lookups over decoded
// maps) rather than a typed struct walk, since filter templates are
// themselves arbitrary user-authored YAML.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"eventserver/internal/model"
	"eventserver/internal/sandbox"
)

const evalPrefix = "eval:"

// AttributesMatch recursively walks template. Every key present in template
// must be present in candidate and satisfy its rule; extra keys in
// candidate are ignored.
func AttributesMatch(template map[string]any, candidate map[string]any) bool {
	for k, want := range template {
		got, present := candidate[k]
		if !present {
			return false
		}
		if !valueMatch(want, got) {
			return false
		}
	}
	return true
}

func valueMatch(want, got any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		return AttributesMatch(w, g)
	case string:
		if rest, ok := cutEvalPrefix(w); ok {
			matched, err := sandbox.Eval(rest, got)
			if err != nil {
				return false
			}
			return matched
		}
		gs, ok := got.(string)
		return ok && gs == w
	default:
		return want == got
	}
}

func cutEvalPrefix(s string) (string, bool) {
	if !strings.HasPrefix(s, evalPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, evalPrefix)), true
}

// Registry is the subset of config.Registry the filter evaluator needs.
type Registry interface {
	Filter(name string) (model.Filter, bool)
}

// EventFiltered reports whether the named filter drops the event. An
// unknown filter is logged by the caller and treated as not-filtered.
func EventFiltered(reg Registry, logUnknown func(name string), filterName string, event model.Event) bool {
	f, ok := reg.Filter(filterName)
	if !ok {
		if logUnknown != nil {
			logUnknown(filterName)
		}
		return false
	}

	candidate, err := toCandidate(event)
	if err != nil {
		return false
	}

	matched := AttributesMatch(f.Attributes, candidate)
	if f.Negate {
		return matched
	}
	return !matched
}

func toCandidate(event model.Event) (map[string]any, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("filter.toCandidate: %w", err)
	}
	var candidate map[string]any
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return nil, fmt.Errorf("filter.toCandidate: %w", err)
	}
	return candidate, nil
}
