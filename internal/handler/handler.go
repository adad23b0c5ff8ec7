// Package handler implements the handler resolver (spec §4.3): expanding
// configured handler names — including one level of "set" indirection —
// into concrete dispatch targets, then gating the per-event source list on
// flapping/subdue/severity/filter rules. Grounded on the teacher's
// registry-lookup style in internal/scheduler/repository/server_repository.go
// (name lookup against an in-memory map, log-and-skip on miss).
package handler

import (
	"time"

	"eventserver/internal/filter"
	"eventserver/internal/model"
)

// Registry is the subset of config.Registry the handler resolver needs.
// It takes the extension-handler existence check by name rather than
// returning the callable itself, so this package need not share a named
// interface type with config.Registry's actual extension-handler return
// type — dispatch re-resolves the callable from the registry by name.
type Registry interface {
	Handler(name string) (model.Handler, bool)
	HasExtensionHandler(name string) bool
	filter.Registry
}

// ResolvedHandler is a dispatch-ready handler: either a config record or a
// callable extension referenced by name.
type ResolvedHandler struct {
	Config        model.Handler
	ExtensionName string
}

func (r ResolvedHandler) IsExtension() bool { return r.ExtensionName != "" }

func (r ResolvedHandler) key() string {
	if r.IsExtension() {
		return "ext:" + r.ExtensionName
	}
	return "cfg:" + r.Config.Name
}

// DeriveHandlers expands each name into dispatch-ready handlers, inlining
// one level of "set" handlers and de-duplicating by identity.
func DeriveHandlers(reg Registry, logUnknown func(name string), names []string) []ResolvedHandler {
	var out []ResolvedHandler
	seen := map[string]bool{}

	add := func(rh ResolvedHandler) {
		k := rh.key()
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, rh)
	}

	for _, name := range names {
		if reg.HasExtensionHandler(name) {
			add(ResolvedHandler{ExtensionName: name})
			continue
		}
		cfg, ok := reg.Handler(name)
		if !ok {
			if logUnknown != nil {
				logUnknown(name)
			}
			continue
		}
		if cfg.Type == model.HandlerTypeSet {
			for _, member := range cfg.Handlers {
				memberCfg, ok := reg.Handler(member)
				if !ok {
					if reg.HasExtensionHandler(member) {
						add(ResolvedHandler{ExtensionName: member})
						continue
					}
					if logUnknown != nil {
						logUnknown(member)
					}
					continue
				}
				if memberCfg.Type == model.HandlerTypeSet {
					// Nested sets are illegal: log and skip this member only.
					if logUnknown != nil {
						logUnknown(member)
					}
					continue
				}
				add(ResolvedHandler{Config: memberCfg})
			}
			continue
		}
		add(ResolvedHandler{Config: cfg})
	}
	return out
}

// EventHandlers resolves the gated handler list for one event (spec §4.3).
func EventHandlers(reg Registry, logUnknown func(name string), now time.Time, event model.Event) []ResolvedHandler {
	names := event.Check.Handlers
	if len(names) == 0 && event.Check.Handler != "" {
		names = []string{event.Check.Handler}
	}
	if len(names) == 0 {
		names = []string{"default"}
	}

	resolved := DeriveHandlers(reg, logUnknown, names)

	var gated []ResolvedHandler
	for _, rh := range resolved {
		if gateHandler(reg, logUnknown, now, event, rh) {
			gated = append(gated, rh)
		}
	}
	return gated
}

func gateHandler(reg Registry, logUnknown func(string), now time.Time, event model.Event, rh ResolvedHandler) bool {
	if rh.IsExtension() {
		return true
	}
	cfg := rh.Config

	if event.Action == model.ActionFlapping && !cfg.HandleFlapping {
		return false
	}

	if CheckSubdued(event.Check, now, "handler") {
		return false
	}

	if len(cfg.Severities) > 0 && event.Action != model.ActionResolve {
		if !severityListed(cfg.Severities, event.Check.Status) {
			return false
		}
	}

	filterNames := cfg.Filters
	if cfg.Filter != "" {
		filterNames = append(append([]string{}, filterNames...), cfg.Filter)
	}
	for _, fname := range filterNames {
		if filter.EventFiltered(reg, logUnknown, fname, event) {
			return false
		}
	}

	return true
}

func severityListed(severities []string, status model.Status) bool {
	name := status.Name()
	for _, s := range severities {
		if s == name {
			return true
		}
	}
	return false
}

// CheckSubdued implements spec §4.3's subdue policy for gate "handler" or
// "publisher".
func CheckSubdued(check model.Check, now time.Time, gate string) bool {
	s := check.Subdue
	if s == nil {
		return false
	}
	at := s.At
	if at == "" {
		at = "handler"
	}
	if at != gate {
		return false
	}

	inWindow := timeWindowCovers(s.Begin, s.End, now) || dayListed(s.Days, now.Weekday())
	if !inWindow {
		return false
	}
	return !inAnyException(s.Exceptions, now)
}

func inAnyException(exceptions []model.SubdueWindow, now time.Time) bool {
	for _, w := range exceptions {
		if timeWindowCovers(w.Begin, w.End, now) {
			return true
		}
	}
	return false
}

func timeWindowCovers(beginStr, endStr string, now time.Time) bool {
	if beginStr == "" || endStr == "" {
		return false
	}
	begin, err1 := parseClock(beginStr)
	end, err2 := parseClock(endStr)
	if err1 != nil || err2 != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()

	if end < begin {
		// Midnight wrap: the window is [begin,1440) U [0,end].
		return cur >= begin || cur <= end
	}
	return cur >= begin && cur <= end
}

func dayListed(days []string, weekday time.Weekday) bool {
	name := weekday.String()
	for _, d := range days {
		if d == name {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes-since-midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
