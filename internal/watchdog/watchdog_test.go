package watchdog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventserver/internal/model"
)

type fakeStore struct {
	clients map[string]model.Client
	events  map[string]map[string]bool
}

func (s fakeStore) SMembers(ctx context.Context, key string) ([]string, error) {
	var names []string
	for n := range s.clients {
		names = append(names, n)
	}
	return names, nil
}

func (s fakeStore) Get(ctx context.Context, key string) (string, error) {
	name := key[len("client:"):]
	c, ok := s.clients[name]
	if !ok {
		return "", nil
	}
	raw, _ := json.Marshal(c)
	return string(raw), nil
}

func (s fakeStore) HExists(ctx context.Context, key, field string) (bool, error) {
	fields := s.events[key]
	return fields != nil && fields[field], nil
}

type fakeLogger struct{}

func (fakeLogger) Errorw(msg string, keysAndValues ...any) {}

func TestCheckOne_CriticalPastOneHundredEightySeconds(t *testing.T) {
	now := time.Now()
	store := fakeStore{clients: map[string]model.Client{
		"web01": {Name: "web01", Timestamp: now.Add(-200 * time.Second).Unix()},
	}}

	w := &Watchdog{store: store, log: fakeLogger{}, now: func() time.Time { return now }}

	result, ok := w.synthesize(context.Background(), "web01")
	require.True(t, ok)
	assert.Equal(t, model.StatusCritical, result.Check.Status)
	assert.Contains(t, result.Check.Output, "180 seconds")
}

func TestCheckOne_WarningBetweenThresholds(t *testing.T) {
	now := time.Now()
	store := fakeStore{clients: map[string]model.Client{
		"web01": {Name: "web01", Timestamp: now.Add(-150 * time.Second).Unix()},
	}}
	w := &Watchdog{store: store, log: fakeLogger{}, now: func() time.Time { return now }}

	result, ok := w.synthesize(context.Background(), "web01")
	require.True(t, ok)
	assert.Equal(t, model.StatusWarning, result.Check.Status)
	assert.Contains(t, result.Check.Output, "120 seconds")
}

func TestCheckOne_RecentWithNoPriorEventSynthesizesNothing(t *testing.T) {
	now := time.Now()
	store := fakeStore{clients: map[string]model.Client{
		"web01": {Name: "web01", Timestamp: now.Add(-10 * time.Second).Unix()},
	}}
	w := &Watchdog{store: store, log: fakeLogger{}, now: func() time.Time { return now }}

	_, ok := w.synthesize(context.Background(), "web01")
	assert.False(t, ok)
}

func TestCheckOne_RecentWithPriorEventSynthesizesRecovery(t *testing.T) {
	now := time.Now()
	store := fakeStore{
		clients: map[string]model.Client{"web01": {Name: "web01", Timestamp: now.Add(-10 * time.Second).Unix()}},
		events:  map[string]map[string]bool{"events:web01": {"keepalive": true}},
	}
	w := &Watchdog{store: store, log: fakeLogger{}, now: func() time.Time { return now }}

	result, ok := w.synthesize(context.Background(), "web01")
	require.True(t, ok)
	assert.Equal(t, model.StatusOK, result.Check.Status)
}
