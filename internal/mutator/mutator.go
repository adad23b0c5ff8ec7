// Package mutator implements the mutator dispatch (spec §4.4): transforms
// an event's serialized form before handler dispatch, either through the
// JSON default, a config-defined subprocess, or an in-process extension.
// Subprocess invocation is delegated to internal/process, matching the
// teacher's split between command execution and the caller that interprets
// its exit status (internal/health-checker/checker.go).
package mutator

import (
	"context"
	"encoding/json"
	"fmt"

	"eventserver/internal/apperrors"
	"eventserver/internal/config"
	"eventserver/internal/model"
	"eventserver/internal/process"
)

// Registry is the subset of config.Registry the mutator dispatch needs.
type Registry interface {
	Mutator(name string) (model.Mutator, bool)
	ExtensionMutator(name string) (config.ExtensionMutator, bool)
	ToHash() map[string]any
}

// Mutate resolves name against reg and produces the mutated payload via
// onDone/onAbort. Only a config (subprocess) mutator completes
// asynchronously, through runner's Poster; an absent name (canonical
// JSON), an extension mutator, and an unknown name all invoke their
// callback synchronously before returning — callers must not assume
// onDone is always deferred.
func Mutate(ctx context.Context, reg Registry, runner *process.Runner, name string, event model.Event, onDone func(data []byte), onAbort func(err error)) {
	if name == "" {
		data, err := json.Marshal(event)
		if err != nil {
			onAbort(fmt.Errorf("mutator.Mutate: %w", err))
			return
		}
		onDone(data)
		return
	}

	if ext, ok := reg.ExtensionMutator(name); ok {
		data, err := ext.Mutate(event, reg.ToHash())
		if err != nil {
			onAbort(fmt.Errorf("mutator.Mutate(%s): extension: %w", name, err))
			return
		}
		onDone(data)
		return
	}

	cfg, ok := reg.Mutator(name)
	if !ok {
		onAbort(fmt.Errorf("mutator.Mutate(%s): %w", name, apperrors.ErrUnknownMutator))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		onAbort(fmt.Errorf("mutator.Mutate(%s): %w", name, err))
		return
	}

	runner.Execute(ctx, cfg.Command, payload, func(err error) {
		onAbort(fmt.Errorf("mutator.Mutate(%s): %w", name, err))
	}, func(stdout string, exitStatus int) {
		if exitStatus != 0 {
			onAbort(fmt.Errorf("mutator.Mutate(%s): exit status %d", name, exitStatus))
			return
		}
		onDone([]byte(stdout))
	})
}
