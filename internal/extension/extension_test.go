package extension

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventserver/internal/model"
)

type fakeLogger struct {
	last string
}

func (l *fakeLogger) Infow(msg string, keysAndValues ...any) { l.last = msg }

func TestLogHandler_LogsPayload(t *testing.T) {
	log := &fakeLogger{}
	h := NewLogHandler(log)

	err := h.Handle([]byte(`{"client":"web01"}`), nil)

	require.NoError(t, err)
	assert.Equal(t, "log handler received event", log.last)
	assert.Equal(t, "log", h.Name())
}

func TestRedactMutator_RedactsConfiguredFields(t *testing.T) {
	m := NewRedactMutator([]string{"output", "command"})
	event := model.Event{Check: model.Check{Output: "secret output", Command: "secret cmd"}}

	data, err := m.Mutate(event, nil)

	require.NoError(t, err)
	var got model.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "REDACTED", got.Check.Output)
	assert.Equal(t, "REDACTED", got.Check.Command)
}

func TestRedactMutator_UnknownFieldErrors(t *testing.T) {
	m := NewRedactMutator([]string{"nonsense"})

	_, err := m.Mutate(model.Event{}, nil)

	assert.Error(t, err)
}
