// Package dispatch implements the event dispatcher (spec §4.5): resolves
// handlers for an event, mutates the payload per handler, and fans out to
// the handler's transport. Every transport decrements the in-flight
// counter exactly once regardless of outcome, which internal/master polls
// during shutdown (spec §4.9). The pipe/tcp/udp split mirrors the
// teacher's pattern of a dedicated goroutine per transport posting its
// result back through a Poster (internal/process.Runner), generalized from
// subprocess-only to every handler type.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"time"

	"eventserver/internal/apperrors"
	"eventserver/internal/broker"
	"eventserver/internal/config"
	"eventserver/internal/handler"
	"eventserver/internal/model"
	"eventserver/internal/mutator"
	"eventserver/internal/process"
	"eventserver/pkg/mail"
)

// Registry is the subset of config.Registry the dispatcher needs, beyond
// what handler.Registry and mutator.Registry already require.
type Registry interface {
	handler.Registry
	mutator.Registry
	ExtensionHandler(name string) (config.ExtensionHandler, bool)
}

// Counter tracks in-flight dispatches for graceful shutdown (spec §4.9).
type Counter interface {
	Inc()
	Dec()
}

// Logger is the narrow logging surface dispatch needs; satisfied by a
// *zap.SugaredLogger in production and a no-op/fake in tests.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

type Dispatcher struct {
	reg     Registry
	runner  *process.Runner
	exch    *broker.Exchange
	mailer  mail.Sender
	counter Counter
	log     Logger
	now     func() time.Time
}

func New(reg Registry, runner *process.Runner, exch *broker.Exchange, mailer mail.Sender, counter Counter, log Logger) *Dispatcher {
	return &Dispatcher{reg: reg, runner: runner, exch: exch, mailer: mailer, counter: counter, log: log, now: time.Now}
}

// HandleEvent resolves handlers for event and dispatches to each
// independently; one handler's failure never blocks or double-decrements
// another's counter.
func (d *Dispatcher) HandleEvent(ctx context.Context, event model.Event) {
	handlers := handler.EventHandlers(d.reg, func(name string) {
		d.log.Errorw("unknown handler or filter", "name", name)
	}, d.now(), event)

	for _, rh := range handlers {
		d.counter.Inc()
		d.dispatchOne(ctx, event, rh)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, event model.Event, rh handler.ResolvedHandler) {
	done := false
	decrementOnce := func() {
		if !done {
			done = true
			d.counter.Dec()
		}
	}

	mutatorName := ""
	if !rh.IsExtension() {
		mutatorName = rh.Config.Mutator
	}

	mutator.Mutate(ctx, d.reg, d.runner, mutatorName, event, func(data []byte) {
		d.send(ctx, event, rh, data, decrementOnce)
	}, func(err error) {
		d.log.Errorw("mutator failed, skipping this handler", "error", err)
		decrementOnce()
	})
}

func (d *Dispatcher) send(ctx context.Context, event model.Event, rh handler.ResolvedHandler, data []byte, done func()) {
	if rh.IsExtension() {
		d.sendExtension(rh.ExtensionName, data, done)
		return
	}

	cfg := rh.Config
	switch cfg.Type {
	case model.HandlerTypePipe:
		d.sendPipe(ctx, cfg, data, done)
	case model.HandlerTypeTCP:
		d.sendTCP(cfg, data, done)
	case model.HandlerTypeUDP:
		d.sendUDP(cfg, data, done)
	case model.HandlerTypeAMQP:
		d.sendAMQP(ctx, cfg, data, done)
	case model.HandlerTypeMail:
		d.sendMail(cfg, event, data, done)
	default:
		d.log.Errorw("handler has unsupported type", "name", cfg.Name, "type", cfg.Type)
		done()
	}
}

func (d *Dispatcher) sendPipe(ctx context.Context, cfg model.Handler, data []byte, done func()) {
	d.runner.Execute(ctx, cfg.Command, data, func(err error) {
		d.log.Errorw("pipe handler failed", "handler", cfg.Name, "error", err)
		done()
	}, func(stdout string, exitStatus int) {
		if exitStatus == 0 {
			d.log.Infow("pipe handler output", "handler", cfg.Name, "output", stdout)
		} else {
			d.log.Errorw("pipe handler exited non-zero", "handler", cfg.Name, "status", exitStatus, "output", stdout)
		}
		done()
	})
}

func (d *Dispatcher) sendTCP(cfg model.Handler, data []byte, done func()) {
	timeout := socketTimeout(cfg.Socket)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Socket.Host, cfg.Socket.Port)
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			d.log.Errorw("tcp handler dial failed", "handler", cfg.Name, "error", err)
			done()
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(d.now().Add(timeout))
		if _, err := conn.Write(data); err != nil {
			d.log.Errorw("tcp handler write failed", "handler", cfg.Name, "error", err)
			done()
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		done()
	}()
}

func (d *Dispatcher) sendUDP(cfg model.Handler, data []byte, done func()) {
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Socket.Host, cfg.Socket.Port)
		conn, err := net.Dial("udp", addr)
		if err != nil {
			d.log.Errorw("udp handler dial failed", "handler", cfg.Name, "error", err)
			done()
			return
		}
		defer conn.Close()
		if _, err := conn.Write(data); err != nil {
			d.log.Errorw("udp handler write failed", "handler", cfg.Name, "error", err)
		}
		done()
	}()
}

func (d *Dispatcher) sendAMQP(ctx context.Context, cfg model.Handler, data []byte, done func()) {
	defer done()
	if len(data) == 0 {
		return
	}
	name, kind := "", "direct"
	if cfg.Exchange != nil {
		name, kind = cfg.Exchange.Name, cfg.Exchange.Type
	}
	if name == "" {
		d.log.Errorw("amqp handler missing exchange name", "handler", cfg.Name)
		return
	}
	if err := d.exch.PublishDirect(ctx, name, kind, []byte(cfg.Name), data); err != nil {
		d.log.Errorw("amqp handler publish failed", "handler", cfg.Name, "error", err)
	}
}

func (d *Dispatcher) sendMail(cfg model.Handler, event model.Event, data []byte, done func()) {
	defer done()
	if cfg.Mail == nil || len(cfg.Mail.To) == 0 {
		d.log.Errorw("mail handler missing recipient", "handler", cfg.Name)
		return
	}
	subject := cfg.Mail.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] %s/%s", event.Action, event.Client, event.Check.Name)
	}
	if err := d.mailer.SendMail(cfg.Mail.To, subject, "", string(data), nil); err != nil {
		d.log.Errorw("mail handler send failed", "handler", cfg.Name, "error", err)
	}
}

func (d *Dispatcher) sendExtension(name string, data []byte, done func()) {
	defer done()
	ext, ok := d.reg.ExtensionHandler(name)
	if !ok {
		d.log.Errorw("extension handler disappeared between resolve and dispatch", "name", name, "error", apperrors.ErrUnknownHandler)
		return
	}
	if err := ext.Handle(data, d.reg.ToHash()); err != nil {
		d.log.Errorw("extension handler failed", "name", name, "error", err)
	}
}

func socketTimeout(s *model.Socket) time.Duration {
	if s == nil || s.Timeout <= 0 {
		return config.TCPHandlerTimeout
	}
	return time.Duration(s.Timeout) * time.Second
}
