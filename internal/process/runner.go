// Package process implements the subprocess runner (spec §4.1): the
// reactor thread never blocks on process I/O, so every Execute call spawns
// a goroutine and posts the completion back onto the caller-supplied
// reactor queue. The command-spawning style itself — os/exec with a
// buffered stdout, login-shell argv semantics — is grounded on
// macrat-ayd's internal/probe/exec.go runExternalCommand.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Poster posts a closure onto the single-threaded reactor so completion
// callbacks run there, preserving the server's single-writer state model.
type Poster func(func())

type Runner struct {
	post Poster
}

func NewRunner(post Poster) *Runner {
	return &Runner{post: post}
}

// Execute spawns cmd with a shell-style argv (the same invocation
// semantics a login shell gives a passed string), writes stdin if
// provided, then collects stdout and the exit status off the reactor
// thread. onError and onDone are both invoked on the reactor thread.
func (r *Runner) Execute(ctx context.Context, command string, stdin []byte, onError func(error), onDone func(stdout string, exitStatus int)) {
	go func() {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)

		if stdin != nil {
			cmd.Stdin = bytes.NewReader(stdin)
		}

		var out bytes.Buffer
		cmd.Stdout = &out

		err := cmd.Run()
		if err != nil {
			var exitErr *exec.ExitError
			if ok := asExitError(err, &exitErr); ok {
				r.post(func() {
					onDone(out.String(), exitErr.ExitCode())
				})
				return
			}
			r.post(func() {
				onError(fmt.Errorf("Runner.Execute(%q): %w", command, err))
			})
			return
		}

		r.post(func() {
			onDone(out.String(), 0)
		})
	}()
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
