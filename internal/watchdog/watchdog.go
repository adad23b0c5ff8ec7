// Package watchdog implements the stale-client watchdog (spec §4.10): a
// periodic sweep over known clients that synthesizes keepalive results and
// republishes them through the broker so they flow through the same
// result processor as every other result. Grounded on the teacher's
// internal/scheduler/scheduler/scheduler.go periodic-tick pattern.
package watchdog

import (
	"context"
	"encoding/json"
	"time"

	"eventserver/internal/broker"
	"eventserver/internal/model"
)

// Store is the subset of store.Store the watchdog needs.
type Store interface {
	SMembers(ctx context.Context, key string) ([]string, error)
	Get(ctx context.Context, key string) (string, error)
	HExists(ctx context.Context, key, field string) (bool, error)
}

// Logger is the narrow logging surface the watchdog needs.
type Logger interface {
	Errorw(msg string, keysAndValues ...any)
}

const checkName = "keepalive"

type Watchdog struct {
	store     Store
	publisher *broker.Publisher
	log       Logger
	period    time.Duration
	now       func() time.Time

	cancel context.CancelFunc
}

func New(store Store, publisher *broker.Publisher, log Logger, period time.Duration) *Watchdog {
	return &Watchdog{store: store, publisher: publisher, log: log, period: period, now: time.Now}
}

// Start begins the periodic sweep. This timer is a master-only timer (spec
// §4.9) — callers track its cancellation alongside the publisher's.
func (w *Watchdog) Start(ctx context.Context) {
	tickCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go func() {
		ticker := time.NewTicker(w.period)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				w.sweep(tickCtx)
			}
		}
	}()
}

func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	names, err := w.store.SMembers(ctx, "clients")
	if err != nil {
		w.log.Errorw("watchdog failed to list clients", "error", err)
		return
	}
	for _, name := range names {
		w.checkOne(ctx, name)
	}
}

func (w *Watchdog) checkOne(ctx context.Context, name string) {
	result, ok := w.synthesize(ctx, name)
	if !ok {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		w.log.Errorw("watchdog failed to encode synthetic result", "client", name, "error", err)
		return
	}
	if err := w.publisher.Publish(ctx, []byte(name), payload); err != nil {
		w.log.Errorw("watchdog failed to publish synthetic result", "client", name, "error", err)
	}
}

// synthesize applies the threshold table to one client and reports
// whether a synthetic result should be published at all.
func (w *Watchdog) synthesize(ctx context.Context, name string) (model.Result, bool) {
	raw, err := w.store.Get(ctx, "client:"+name)
	if err != nil || raw == "" {
		return model.Result{}, false
	}
	var client model.Client
	if err := json.Unmarshal([]byte(raw), &client); err != nil {
		w.log.Errorw("watchdog failed to decode client", "client", name, "error", err)
		return model.Result{}, false
	}

	now := w.now().Unix()
	delta := now - client.Timestamp

	var status model.Status
	var output string
	switch {
	case delta >= 180:
		status, output = model.StatusCritical, "No keep-alive sent from client in over 180 seconds"
	case delta >= 120:
		status, output = model.StatusWarning, "No keep-alive sent from client in over 120 seconds"
	default:
		hadEvent, err := w.store.HExists(ctx, "events:"+name, checkName)
		if err != nil || !hadEvent {
			return model.Result{}, false
		}
		status, output = model.StatusOK, "Keep-alive received"
	}

	return model.Result{Client: name, Check: model.Check{Name: checkName, Status: status, Output: output, Issued: now}}, true
}
