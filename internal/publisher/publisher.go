// Package publisher implements the check-request publisher scheduler
// (spec §4.8): one staggered periodic timer per publishable check,
// fanning check requests out to each check's subscriber exchanges.
// Grounded on the teacher's internal/scheduler/scheduler/timewheel.go
// per-check timer bookkeeping, generalized from a single-shot time wheel
// to per-check periodic tickers the master can cancel en masse on
// resignation.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"eventserver/internal/broker"
	"eventserver/internal/handler"
	"eventserver/internal/model"
)

// Registry is the subset of config.Registry the publisher needs.
type Registry interface {
	Checks() []model.Check
}

// Logger is the narrow logging surface the publisher needs.
type Logger interface {
	Errorw(msg string, keysAndValues ...any)
}

// checkRequest is the wire payload a publisher sends to subscribers.
type checkRequest struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Issued  int64  `json:"issued"`
}

type Publisher struct {
	reg     Registry
	exch    *broker.Exchange
	log     Logger
	now     func() time.Time
	testing bool

	cancels []context.CancelFunc
}

func New(reg Registry, exch *broker.Exchange, log Logger, testing bool) *Publisher {
	return &Publisher{reg: reg, exch: exch, log: log, now: time.Now, testing: testing}
}

// Start schedules one staggered timer per publishable check. Each timer's
// cancel func is tracked internally so Stop() can cancel every one —
// this is the "master timer list" spec §4.9 requires be disjoint from
// non-master timers.
func (p *Publisher) Start(ctx context.Context) {
	checks := p.reg.Checks()
	for i, check := range checks {
		if !publishable(check) {
			continue
		}
		p.scheduleOne(ctx, check, i+1)
	}
}

func (p *Publisher) Stop() {
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = nil
}

func publishable(check model.Check) bool {
	published := check.Publish == nil || *check.Publish
	return published && !check.Standalone
}

func (p *Publisher) scheduleOne(ctx context.Context, check model.Check, index int) {
	stagger := time.Duration((2*index)%30) * time.Second
	interval := time.Duration(check.Interval) * time.Second
	if p.testing {
		stagger = 0
		interval = 500 * time.Millisecond
	}
	if interval <= 0 {
		return
	}

	tickCtx, cancel := context.WithCancel(ctx)
	p.cancels = append(p.cancels, cancel)

	go func() {
		select {
		case <-tickCtx.Done():
			return
		case <-time.After(stagger):
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				p.tick(tickCtx, check)
			}
		}
	}()
}

func (p *Publisher) tick(ctx context.Context, check model.Check) {
	if handler.CheckSubdued(check, p.now(), "publisher") {
		return
	}
	req := checkRequest{Name: check.Name, Command: check.Command, Issued: p.now().Unix()}
	payload, err := json.Marshal(req)
	if err != nil {
		p.log.Errorw("publisher failed to encode check request", "check", check.Name, "error", err)
		return
	}
	if err := p.exch.PublishFanout(ctx, check.Subscribers, []byte(check.Name), payload); err != nil {
		p.log.Errorw("publisher failed to publish check request", "check", check.Name, "error", err)
	}
}
