package result

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventserver/internal/model"
)

type memStore struct {
	kv      map[string]string
	sets    map[string]map[string]bool
	lists   map[string][]string
	hashes  map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		kv:     map[string]string{},
		sets:   map[string]map[string]bool{},
		lists:  map[string][]string{},
		hashes: map[string]map[string]string{},
	}
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) { return m.kv[key], nil }

func (m *memStore) SAdd(ctx context.Context, key, member string) error {
	if m.sets[key] == nil {
		m.sets[key] = map[string]bool{}
	}
	m.sets[key][member] = true
	return nil
}

func (m *memStore) RPush(ctx context.Context, key, value string) error {
	m.lists[key] = append(m.lists[key], value)
	return nil
}

func (m *memStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	return l[start : stop+1], nil
}

func (m *memStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	vals, _ := m.LRange(ctx, key, start, stop)
	m.lists[key] = vals
	return nil
}

func (m *memStore) HGet(ctx context.Context, key, field string) (string, error) {
	return m.hashes[key][field], nil
}

func (m *memStore) HSet(ctx context.Context, key, field, value string) error {
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	m.hashes[key][field] = value
	return nil
}

func (m *memStore) HDel(ctx context.Context, key string, fields ...string) error {
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	return nil
}

type fakeRegistry struct {
	checks map[string]model.Check
}

func (r fakeRegistry) Check(name string) (model.Check, bool) {
	c, ok := r.checks[name]
	return c, ok
}

type fakeDispatcher struct {
	events []model.Event
}

func (d *fakeDispatcher) HandleEvent(ctx context.Context, event model.Event) {
	d.events = append(d.events, event)
}

func noopAggregate(ctx context.Context, result model.Result) error { return nil }

func newProcessor(store *memStore, reg fakeRegistry, dispatcher *fakeDispatcher) *Processor {
	return New(store, reg, dispatcher, noopAggregate, nil)
}

func seedClient(store *memStore, name string) {
	store.kv["client:"+name] = `{"name":"` + name + `"}`
}

func TestProcessResult_DropsOrphanResult(t *testing.T) {
	store := newMemStore()
	reg := fakeRegistry{}
	dispatcher := &fakeDispatcher{}
	p := newProcessor(store, reg, dispatcher)

	err := p.ProcessResult(context.Background(), model.Result{Client: "ghost", Check: model.Check{Name: "cpu"}})
	require.NoError(t, err)
	assert.Empty(t, dispatcher.events)
}

func TestProcessResult_NonOKStatusDispatchesCreate(t *testing.T) {
	store := newMemStore()
	seedClient(store, "web01")
	reg := fakeRegistry{}
	dispatcher := &fakeDispatcher{}
	p := newProcessor(store, reg, dispatcher)

	result := model.Result{Client: "web01", Check: model.Check{Name: "cpu", Status: model.StatusCritical, Issued: 100}}
	require.NoError(t, p.ProcessResult(context.Background(), result))

	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, model.ActionCreate, dispatcher.events[0].Action)
	assert.Equal(t, 1, dispatcher.events[0].Occurrences)

	var occ model.Occurrence
	require.NoError(t, json.Unmarshal([]byte(store.hashes["events:web01"]["cpu"]), &occ))
	assert.Equal(t, model.StatusCritical, occ.Status)
}

func TestProcessResult_RepeatedSameStatusIncrementsOccurrences(t *testing.T) {
	store := newMemStore()
	seedClient(store, "web01")
	reg := fakeRegistry{}
	dispatcher := &fakeDispatcher{}
	p := newProcessor(store, reg, dispatcher)

	ctx := context.Background()
	result := model.Result{Client: "web01", Check: model.Check{Name: "cpu", Status: model.StatusCritical, Issued: 100}}
	require.NoError(t, p.ProcessResult(ctx, result))
	require.NoError(t, p.ProcessResult(ctx, result))

	require.Len(t, dispatcher.events, 2)
	assert.Equal(t, 2, dispatcher.events[1].Occurrences)
}

func TestProcessResult_RecoveryDeletesEventAndDispatchesResolve(t *testing.T) {
	store := newMemStore()
	seedClient(store, "web01")
	reg := fakeRegistry{}
	dispatcher := &fakeDispatcher{}
	p := newProcessor(store, reg, dispatcher)
	ctx := context.Background()

	bad := model.Result{Client: "web01", Check: model.Check{Name: "cpu", Status: model.StatusCritical, Issued: 100}}
	require.NoError(t, p.ProcessResult(ctx, bad))

	ok := model.Result{Client: "web01", Check: model.Check{Name: "cpu", Status: model.StatusOK, Issued: 101}}
	require.NoError(t, p.ProcessResult(ctx, ok))

	require.Len(t, dispatcher.events, 2)
	assert.Equal(t, model.ActionResolve, dispatcher.events[1].Action)
	assert.NotContains(t, store.hashes["events:web01"], "cpu")
}

func TestProcessResult_AutoResolveFalseWithoutForceSkipsResolve(t *testing.T) {
	store := newMemStore()
	seedClient(store, "web01")
	autoResolveFalse := false
	reg := fakeRegistry{checks: map[string]model.Check{
		"cpu": {Name: "cpu", AutoResolve: &autoResolveFalse},
	}}
	dispatcher := &fakeDispatcher{}
	p := newProcessor(store, reg, dispatcher)
	ctx := context.Background()

	bad := model.Result{Client: "web01", Check: model.Check{Name: "cpu", Status: model.StatusCritical, Issued: 100}}
	require.NoError(t, p.ProcessResult(ctx, bad))

	ok := model.Result{Client: "web01", Check: model.Check{Name: "cpu", Status: model.StatusOK, Issued: 101}}
	require.NoError(t, p.ProcessResult(ctx, ok))

	require.Len(t, dispatcher.events, 1) // only the original create, no resolve
	assert.Contains(t, store.hashes["events:web01"], "cpu")
}

func TestProcessResult_MetricTypeWithNoHistoryDispatchesNoAction(t *testing.T) {
	store := newMemStore()
	seedClient(store, "web01")
	reg := fakeRegistry{}
	dispatcher := &fakeDispatcher{}
	p := newProcessor(store, reg, dispatcher)

	result := model.Result{Client: "web01", Check: model.Check{Name: "latency", Type: "metric", Status: model.StatusOK, Issued: 100}}
	require.NoError(t, p.ProcessResult(context.Background(), result))

	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, model.ActionNone, dispatcher.events[0].Action)
	assert.Equal(t, 1, dispatcher.events[0].Occurrences)
}

func TestProcessResult_HandleFalseSuppressesDispatchButStillPersists(t *testing.T) {
	store := newMemStore()
	seedClient(store, "web01")
	handleFalse := false
	reg := fakeRegistry{checks: map[string]model.Check{
		"cpu": {Name: "cpu", Handle: &handleFalse},
	}}
	dispatcher := &fakeDispatcher{}
	p := newProcessor(store, reg, dispatcher)

	result := model.Result{Client: "web01", Check: model.Check{Name: "cpu", Status: model.StatusCritical, Issued: 100}}
	require.NoError(t, p.ProcessResult(context.Background(), result))

	assert.Empty(t, dispatcher.events)
	assert.Contains(t, store.hashes["events:web01"], "cpu")
}

func TestTotalStateChangeScore_AllSameStatusIsZero(t *testing.T) {
	statuses := make([]string, 21)
	for i := range statuses {
		statuses[i] = "0"
	}
	assert.Equal(t, 0, totalStateChangeScore(statuses))
}

func TestTotalStateChangeScore_AllFlappingIsHigh(t *testing.T) {
	statuses := make([]string, 21)
	for i := range statuses {
		if i%2 == 0 {
			statuses[i] = "0"
		} else {
			statuses[i] = "2"
		}
	}
	score := totalStateChangeScore(statuses)
	assert.Greater(t, score, 90)
}
