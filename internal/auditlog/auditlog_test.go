package auditlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLogger struct {
	infoCalls  int
	errorCalls int
}

func (l *fakeLogger) Infow(msg string, keysAndValues ...any)  { l.infoCalls++ }
func (l *fakeLogger) Errorw(msg string, keysAndValues ...any) { l.errorCalls++ }

func TestMigrate_NilDBIsNoop(t *testing.T) {
	l := New(nil, &fakeLogger{})
	assert.NoError(t, l.Migrate())
}

func TestRecord_NilDBIsNoop(t *testing.T) {
	log := &fakeLogger{}
	l := New(nil, log)

	l.Record(context.Background(), 3, 2, 1, 1, nil)

	assert.Equal(t, 0, log.infoCalls)
	assert.Equal(t, 0, log.errorCalls)
}

func TestReloadEvent_HoldsReloadErrorMessage(t *testing.T) {
	event := ReloadEvent{}
	reloadErr := errors.New("yaml parse failure")
	event.Error = reloadErr.Error()
	assert.Equal(t, "yaml parse failure", event.Error)
}
