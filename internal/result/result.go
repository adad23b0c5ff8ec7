// Package result implements the result processor (spec §4.6): the
// pipeline that turns one check result into history, flap state, and
// (maybe) a dispatched event. Grounded on the teacher's
// internal/health-check-consumer/consumer.go shape — decode one message,
// merge against the config-held definition, then hand off to the
// store-backed side effects — generalized from a single persist step into
// the full history/flap/event pipeline.
package result

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"eventserver/internal/model"
)

// Store is the subset of store.Store the result processor needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key, member string) error
	RPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
}

// Registry is the subset of config.Registry the result processor needs.
type Registry interface {
	Check(name string) (model.Check, bool)
}

// Dispatcher matches internal/dispatch.Dispatcher's HandleEvent signature.
type Dispatcher interface {
	HandleEvent(ctx context.Context, event model.Event)
}

// Aggregate is internal/aggregate.AggregateResult with its store already
// bound, so this package doesn't need to import internal/aggregate
// directly (it would otherwise be the only reason to); callers wrap
// aggregate.AggregateResult in a closure over their store.
type Aggregate func(ctx context.Context, result model.Result) error

type Processor struct {
	store      Store
	registry   Registry
	dispatcher Dispatcher
	aggregate  Aggregate
	log        Logger
}

// Logger is the narrow logging surface the processor needs.
type Logger interface {
	Errorw(msg string, keysAndValues ...any)
}

func New(store Store, registry Registry, dispatcher Dispatcher, aggregate Aggregate, log Logger) *Processor {
	return &Processor{store: store, registry: registry, dispatcher: dispatcher, aggregate: aggregate, log: log}
}

const historyWindow = 21

// ProcessResult runs spec §4.6's full pipeline for one result.
func (p *Processor) ProcessResult(ctx context.Context, result model.Result) error {
	clientJSON, err := p.store.Get(ctx, "client:"+result.Client)
	if err != nil {
		return fmt.Errorf("result.ProcessResult: %w", err)
	}
	if clientJSON == "" {
		// Orphan result: dropped silently, not treated as an error.
		return nil
	}

	check := p.mergeCheck(result.Check)

	if check.Aggregate {
		if err := p.aggregate(ctx, model.Result{Client: result.Client, Check: check}); err != nil {
			return fmt.Errorf("result.ProcessResult: %w", err)
		}
	}

	historyKey := fmt.Sprintf("history:%s:%s", result.Client, check.Name)
	if err := p.store.RPush(ctx, historyKey, strconv.Itoa(int(check.Status))); err != nil {
		return fmt.Errorf("result.ProcessResult: %w", err)
	}
	if err := p.store.SAdd(ctx, "history:"+result.Client, check.Name); err != nil {
		return fmt.Errorf("result.ProcessResult: %w", err)
	}

	statuses, err := p.store.LRange(ctx, historyKey, -int64(historyWindow), -1)
	if err != nil {
		return fmt.Errorf("result.ProcessResult: %w", err)
	}
	if err := p.store.LTrim(ctx, historyKey, -int64(historyWindow), -1); err != nil {
		return fmt.Errorf("result.ProcessResult: %w", err)
	}

	var totalStateChange int
	haveT := false
	if len(statuses) == historyWindow {
		totalStateChange = totalStateChangeScore(statuses)
		haveT = true
	}

	prev, havePrev, err := p.loadOccurrence(ctx, result.Client, check.Name)
	if err != nil {
		return fmt.Errorf("result.ProcessResult: %w", err)
	}

	isFlapping := computeFlapping(check, haveT, totalStateChange, havePrev, prev)

	return p.decideAction(ctx, result.Client, check, havePrev, prev, isFlapping)
}

func (p *Processor) mergeCheck(resultCheck model.Check) model.Check {
	cfg, ok := p.registry.Check(resultCheck.Name)
	if !ok {
		return resultCheck
	}
	merged := cfg
	merged.Status = resultCheck.Status
	merged.Output = resultCheck.Output
	merged.Issued = resultCheck.Issued
	return merged
}

func totalStateChangeScore(statuses []string) int {
	var sum float64
	for pos := 1; pos <= historyWindow-1; pos++ {
		weight := 0.80 + 0.02*float64(pos-1)
		if statuses[pos] != statuses[pos-1] {
			sum += weight
		}
	}
	return int(math.Floor((sum / 20) * 100))
}

func computeFlapping(check model.Check, haveT bool, t int, havePrev bool, prev model.Occurrence) bool {
	if check.LowFlapThreshold == 0 || check.HighFlapThreshold == 0 {
		return false
	}
	if !haveT {
		if havePrev {
			return prev.Flapping
		}
		return false
	}
	if t >= check.HighFlapThreshold {
		return true
	}
	wasFlapping := havePrev && prev.Flapping
	if wasFlapping && t <= check.LowFlapThreshold {
		return false
	}
	return wasFlapping
}

func (p *Processor) loadOccurrence(ctx context.Context, client, checkName string) (model.Occurrence, bool, error) {
	raw, err := p.store.HGet(ctx, "events:"+client, checkName)
	if err != nil {
		return model.Occurrence{}, false, err
	}
	if raw == "" {
		return model.Occurrence{}, false, nil
	}
	var occ model.Occurrence
	if err := json.Unmarshal([]byte(raw), &occ); err != nil {
		return model.Occurrence{}, false, err
	}
	return occ, true, nil
}

func (p *Processor) decideAction(ctx context.Context, client string, check model.Check, havePrev bool, prev model.Occurrence, isFlapping bool) error {
	handleEnabled := check.Handle == nil || *check.Handle

	switch {
	case check.Status != model.StatusOK || isFlapping:
		occurrences := 1
		if havePrev && prev.Status == check.Status {
			occurrences = prev.Occurrences + 1
		}
		occ := model.Occurrence{
			Output:      check.Output,
			Status:      check.Status,
			Issued:      check.Issued,
			Handlers:    check.Handlers,
			Flapping:    isFlapping,
			Occurrences: occurrences,
		}
		if err := p.persistOccurrence(ctx, client, check.Name, occ); err != nil {
			return err
		}
		if handleEnabled {
			action := model.ActionCreate
			if isFlapping {
				action = model.ActionFlapping
			}
			p.dispatcher.HandleEvent(ctx, model.Event{Client: client, Check: check, Action: action, Occurrences: occurrences})
		}

	case havePrev:
		autoResolve := check.AutoResolve == nil || *check.AutoResolve
		if !autoResolve && !check.ForceResolve {
			return nil
		}
		if err := p.store.HDel(ctx, "events:"+client, check.Name); err != nil {
			return fmt.Errorf("result.decideAction: %w", err)
		}
		if handleEnabled {
			p.dispatcher.HandleEvent(ctx, model.Event{Client: client, Check: check, Action: model.ActionResolve, Occurrences: prev.Occurrences})
		}

	case check.Type == "metric":
		p.dispatcher.HandleEvent(ctx, model.Event{Client: client, Check: check, Action: model.ActionNone, Occurrences: 1})
	}

	return nil
}

func (p *Processor) persistOccurrence(ctx context.Context, client, checkName string, occ model.Occurrence) error {
	payload, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("result.persistOccurrence: %w", err)
	}
	if err := p.store.HSet(ctx, "events:"+client, checkName, string(payload)); err != nil {
		return fmt.Errorf("result.persistOccurrence: %w", err)
	}
	return nil
}
