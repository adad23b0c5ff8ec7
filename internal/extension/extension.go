// Package extension provides the built-in in-process extension handlers
// and mutators (spec §4.3/§4.4/§4.5/§6) registered against
// config.Registry at startup. Grounded on the teacher pack's closest
// analogue to a pluggable check — macrat-ayd's internal/probe/plugin.go
// naming-convention dispatch — adapted from subprocess plugin discovery
// to in-process Go interface registration, since config.Registry's
// ExtensionHandler/ExtensionMutator are Go interfaces rather than
// external executables.
package extension

import (
	"encoding/json"
	"fmt"

	"eventserver/internal/config"
	"eventserver/internal/model"
)

// Logger is the narrow logging surface extensions need.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
}

// LogHandler is a built-in extension handler that logs every event it
// receives at info level instead of forwarding it anywhere. Useful as a
// default handler for checks that only need an audit trail, and as the
// reference implementation new extension handlers are modeled on.
type LogHandler struct {
	log Logger
}

func NewLogHandler(log Logger) *LogHandler {
	return &LogHandler{log: log}
}

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Handle(data []byte, settings map[string]any) error {
	h.log.Infow("log handler received event", "payload", string(data))
	return nil
}

// RedactMutator is a built-in extension mutator that strips configured
// fields from a check's output before the event reaches any handler.
// The field list is fixed when the mutator is constructed (see
// RegisterBuiltins); neither the settings snapshot passed to Mutate nor
// the event itself supplies it, so the check producing the output never
// needs to know about redaction.
type RedactMutator struct {
	fields []string
}

func NewRedactMutator(fields []string) *RedactMutator {
	return &RedactMutator{fields: fields}
}

func (m *RedactMutator) Name() string { return "redact" }

func (m *RedactMutator) Mutate(event model.Event, settings map[string]any) ([]byte, error) {
	redacted := event
	for _, field := range m.fields {
		switch field {
		case "output":
			redacted.Check.Output = "REDACTED"
		case "command":
			redacted.Check.Command = "REDACTED"
		default:
			return nil, fmt.Errorf("redact mutator: unknown field %q", field)
		}
	}
	return json.Marshal(redacted)
}

// Registry is the subset of config.Registry extensions register against.
// Declared against config's own named interface types directly (rather
// than a locally-declared equivalent) since Go interface satisfaction
// requires identical parameter types, not merely structurally equivalent
// ones.
type Registry interface {
	RegisterExtensionHandler(h config.ExtensionHandler)
	RegisterExtensionMutator(m config.ExtensionMutator)
}

// RegisterBuiltins wires every built-in extension into reg, mirroring the
// plugin-discovery step the teacher pack performs at startup.
func RegisterBuiltins(reg Registry, log Logger, redactFields []string) {
	reg.RegisterExtensionHandler(NewLogHandler(log))
	if len(redactFields) > 0 {
		reg.RegisterExtensionMutator(NewRedactMutator(redactFields))
	}
}
