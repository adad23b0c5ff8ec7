package dispatch

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventserver/internal/broker"
	"eventserver/internal/config"
	"eventserver/internal/model"
	"eventserver/internal/process"
)

type fakeRegistry struct {
	handlers   map[string]model.Handler
	extensions map[string]config.ExtensionHandler
	mutators   map[string]model.Mutator
	extMut     map[string]config.ExtensionMutator
	filters    map[string]model.Filter
}

func (r fakeRegistry) Handler(name string) (model.Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}
func (r fakeRegistry) HasExtensionHandler(name string) bool { _, ok := r.extensions[name]; return ok }
func (r fakeRegistry) ExtensionHandler(name string) (config.ExtensionHandler, bool) {
	h, ok := r.extensions[name]
	return h, ok
}
func (r fakeRegistry) Filter(name string) (model.Filter, bool) {
	f, ok := r.filters[name]
	return f, ok
}
func (r fakeRegistry) Mutator(name string) (model.Mutator, bool) {
	m, ok := r.mutators[name]
	return m, ok
}
func (r fakeRegistry) ExtensionMutator(name string) (config.ExtensionMutator, bool) {
	m, ok := r.extMut[name]
	return m, ok
}
func (r fakeRegistry) ToHash() map[string]any { return map[string]any{} }

type fakeCounter struct {
	n atomic.Int64
}

func (c *fakeCounter) Inc() { c.n.Add(1) }
func (c *fakeCounter) Dec() { c.n.Add(-1) }

type fakeLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *fakeLogger) Infow(msg string, keysAndValues ...any)  { l.record(msg) }
func (l *fakeLogger) Errorw(msg string, keysAndValues ...any) { l.record(msg) }
func (l *fakeLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func testRunner() *process.Runner {
	return process.NewRunner(func(fn func()) { fn() })
}

func TestHandleEvent_PipeHandlerDecrementsCounterOnce(t *testing.T) {
	reg := fakeRegistry{handlers: map[string]model.Handler{
		"default": {Name: "default", Type: model.HandlerTypePipe, Command: "cat"},
	}}
	counter := &fakeCounter{}
	log := &fakeLogger{}
	d := New(reg, testRunner(), broker.NewExchange(nil, "direct"), nil, counter, log)

	event := model.Event{Client: "web01", Check: model.Check{Name: "cpu", Handlers: []string{"default"}}}
	d.HandleEvent(context.Background(), event)

	require.Eventually(t, func() bool { return counter.n.Load() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandleEvent_UnknownHandlerNeverIncrementsCounter(t *testing.T) {
	reg := fakeRegistry{handlers: map[string]model.Handler{}}
	counter := &fakeCounter{}
	log := &fakeLogger{}
	d := New(reg, testRunner(), broker.NewExchange(nil, "direct"), nil, counter, log)

	event := model.Event{Check: model.Check{Handlers: []string{"ghost"}}}
	d.HandleEvent(context.Background(), event)

	assert.Equal(t, int64(0), counter.n.Load())
}

func TestHandleEvent_UDPHandlerSendsPacket(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)

	reg := fakeRegistry{handlers: map[string]model.Handler{
		"udp-out": {Name: "udp-out", Type: model.HandlerTypeUDP, Socket: &model.Socket{Host: "127.0.0.1", Port: addr.Port}},
	}}
	counter := &fakeCounter{}
	log := &fakeLogger{}
	d := New(reg, testRunner(), broker.NewExchange(nil, "direct"), nil, counter, log)

	event := model.Event{Check: model.Check{Handlers: []string{"udp-out"}}}
	d.HandleEvent(context.Background(), event)

	buf := make([]byte, 1024)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	assert.NotZero(t, n)

	require.Eventually(t, func() bool { return counter.n.Load() == 0 }, time.Second, 10*time.Millisecond)
}

type fakeExtensionHandler struct {
	called chan []byte
}

func (f fakeExtensionHandler) Name() string { return "ext" }
func (f fakeExtensionHandler) Handle(data []byte, settings map[string]any) error {
	f.called <- data
	return nil
}

func TestHandleEvent_ExtensionHandlerInvoked(t *testing.T) {
	called := make(chan []byte, 1)
	reg := fakeRegistry{extensions: map[string]config.ExtensionHandler{
		"ext": fakeExtensionHandler{called: called},
	}}
	counter := &fakeCounter{}
	log := &fakeLogger{}
	d := New(reg, testRunner(), broker.NewExchange(nil, "direct"), nil, counter, log)

	event := model.Event{Check: model.Check{Handlers: []string{"ext"}}}
	d.HandleEvent(context.Background(), event)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("extension handler was not invoked")
	}
	require.Eventually(t, func() bool { return counter.n.Load() == 0 }, time.Second, 10*time.Millisecond)
}
