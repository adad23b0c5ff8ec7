// Command eventserver is the long-lived reactor process described in
// SPEC_FULL.md: it consumes keepalives and results, derives events,
// dispatches them to handlers, publishes check requests, watches for
// stale clients, prunes aggregation state, and serves a read-only admin
// status endpoint and daily digest — all gated by a single master
// election. Wiring style (config load, zap construction, signal-driven
// shutdown) is grounded on the teacher's cmd/server-service/main.go and
// cmd/scheduler/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"eventserver/internal/adminapi"
	"eventserver/internal/aggregate"
	"eventserver/internal/auditlog"
	"eventserver/internal/broker"
	"eventserver/internal/config"
	"eventserver/internal/digest"
	"eventserver/internal/dispatch"
	"eventserver/internal/extension"
	"eventserver/internal/keepalive"
	"eventserver/internal/master"
	"eventserver/internal/model"
	"eventserver/internal/process"
	"eventserver/internal/publisher"
	"eventserver/internal/result"
	"eventserver/internal/store"
	"eventserver/internal/watchdog"
	"eventserver/pkg/infra"
	applogger "eventserver/pkg/logger"
	"eventserver/pkg/mail"
	"eventserver/pkg/middleware"
)

// inFlightCounter implements dispatch.Counter, master.Callbacks.InFlightCount,
// and adminapi's inFlight reader off one atomic.
type inFlightCounter struct{ n atomic.Int64 }

func (c *inFlightCounter) Inc()        { c.n.Add(1) }
func (c *inFlightCounter) Dec()        { c.n.Add(-1) }
func (c *inFlightCounter) Count() int64 { return c.n.Load() }

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventserver: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logSyncer, err := applogger.NewReopenableWriteSyncer("eventserver.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventserver: failed to open log file: %v\n", err)
		os.Exit(1)
	}
	zapLogger := applogger.NewLogger(cfg.Server.LogLevel, logSyncer).With(zap.String("service.name", "eventserver"))
	log := zapLogger.Sugar()
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := infra.NewRedisConnection(infra.RedisConfig{
		Host: cfg.Redis.Host, Port: cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	kv := store.New(redisClient)
	kv.Watch(ctx)
	defer kv.Close()

	var db *gorm.DB
	if cfg.Postgres.Host != "" {
		conn, err := infra.NewPostgresConnection(infra.PostgresConfig{
			Host: cfg.Postgres.Host, Port: cfg.Postgres.Port, User: cfg.Postgres.User,
			Password: cfg.Postgres.Password, DBName: cfg.Postgres.DBName,
		})
		if err != nil {
			log.Errorw("failed to connect to postgres, audit log disabled", "error", err)
		} else {
			db = conn
		}
	}
	auditLog := auditlog.New(db, log)
	if err := auditLog.Migrate(); err != nil {
		log.Errorw("audit log migration failed", "error", err)
	}

	reg := config.NewRegistry(nil)
	if checks, handlers, mutators, filters, err := reg.Reload(cfg.Registry.Dir); err != nil {
		log.Errorw("initial registry load failed", "error", err)
		auditLog.Record(ctx, checks, handlers, mutators, filters, err)
	} else {
		log.Infow("registry loaded", "checks", checks, "handlers", handlers, "mutators", mutators, "filters", filters)
		auditLog.Record(ctx, checks, handlers, mutators, filters, nil)
	}
	extension.RegisterBuiltins(reg, log, nil)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := logSyncer.Reload(); err != nil {
					log.Errorw("failed to reopen log file on SIGHUP", "error", err)
				}
				checks, handlers, mutators, filters, err := reg.Reload(cfg.Registry.Dir)
				if err != nil {
					log.Errorw("registry reload failed", "error", err)
				} else {
					log.Infow("registry reloaded", "checks", checks, "handlers", handlers, "mutators", mutators, "filters", filters)
				}
				auditLog.Record(ctx, checks, handlers, mutators, filters, err)
			}
		}
	}()

	mailer := mail.NewMailSender(cfg.Mail.Email, cfg.Mail.Password, cfg.Mail.Host, cfg.Mail.Port)

	keepaliveQueue := broker.NewQueue(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroupID, cfg.Kafka.KeepaliveQueue)
	resultsQueue := broker.NewQueue(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroupID, cfg.Kafka.ResultsQueue)
	watchdogPublisher := broker.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ResultsQueue)
	defer watchdogPublisher.Close()
	fanoutExchange := broker.NewExchange(cfg.Kafka.Brokers, "fanout")
	defer fanoutExchange.Close()

	// The reactor: subprocess completion callbacks (process.Runner) land
	// here and run one at a time. Broker message handlers run on each
	// queue's own consumer goroutine, and the master, publisher, watchdog
	// and pruner timers run on their own goroutines; none of those are
	// posted here.
	jobs := make(chan func(), 256)
	post := process.Poster(func(fn func()) {
		select {
		case jobs <- fn:
		case <-ctx.Done():
		}
	})
	go func() {
		for {
			select {
			case fn := <-jobs:
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()

	runner := process.NewRunner(post)
	counter := &inFlightCounter{}
	dispatcher := dispatch.New(reg, runner, fanoutExchange, mailer, counter, log)
	aggregateFn := func(ctx context.Context, r model.Result) error { return aggregate.AggregateResult(ctx, kv, r) }
	processor := result.New(kv, reg, dispatcher, aggregateFn, log)

	keepaliveConsumer := keepalive.New(keepaliveQueue, kv)
	pub := publisher.New(reg, fanoutExchange, log, cfg.Server.Testing)
	wd := watchdog.New(kv, watchdogPublisher, log, config.WatchdogPeriod)

	// onBrokerErr implements spec §4.9's broker half of the backend
	// disconnect policy: a broker error is treated as a reconnect-start
	// signal (the master resigns, same as OnStoreReconnectStart) and as
	// fatal (the process stops), the same way kv.OnError does for the
	// store connection below — kafka-go surfaces only one error channel,
	// not separate fatal/reconnecting signals.
	var m *master.Master
	onBrokerErr := func(source string) func(error) {
		return func(err error) {
			log.Errorw(source+" queue error", "error", err)
			m.OnBrokerReconnectStart(ctx)
			stop()
		}
	}

	m = master.New(kv, log, master.Callbacks{
		StartMasterDuties: func(ctx context.Context) {
			pub.Start(ctx)
			wd.Start(ctx)
			go prunerLoop(ctx, kv, log)
		},
		StopMasterDuties: func() {
			pub.Stop()
			wd.Stop()
		},
		Resubscribe: func(ctx context.Context) {
			keepaliveConsumer.Start(ctx, onBrokerErr("keepalive"))
			resultsQueue.Subscribe(ctx, handleResult(processor, log), onBrokerErr("results"))
		},
		UnsubscribeAll: func() {
			keepaliveConsumer.Stop()
			resultsQueue.Unsubscribe()
		},
		InFlightCount:   counter.Count,
		BrokerConnected: func() bool { return true },
	}, cfg.Server.Testing)

	kv.OnError(func(err error) {
		log.Errorw("store error, stopping", "error", err)
		stop()
	})
	kv.BeforeReconnect(func() { m.OnStoreReconnectStart(ctx) })
	kv.AfterReconnect(func() { m.OnStoreReconnectSuccess(ctx) })

	keepaliveConsumer.Start(ctx, onBrokerErr("keepalive"))
	resultsQueue.Subscribe(ctx, handleResult(processor, log), onBrokerErr("results"))

	m.Start(ctx)

	digestJob := digest.New(kv, mailer, cfg.Digest.Recipients, log)
	if err := digestJob.Start(cfg.Digest.CronExpr); err != nil {
		log.Errorw("failed to start digest cron job", "error", err)
	}
	defer digestJob.Stop()

	adminSrv := adminapi.New(cfg.Admin.Addr, kv, m, counter.Count, middleware.NewAuthMiddleware())
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("admin server failed", "error", err)
		}
	}()

	log.Infow("eventserver started")
	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.Stop(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
}

func prunerLoop(ctx context.Context, kv *store.Store, log *zap.SugaredLogger) {
	ticker := time.NewTicker(config.PrunerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := aggregate.Prune(ctx, kv); err != nil {
				log.Errorw("aggregate prune failed", "error", err)
			}
		}
	}
}

func handleResult(processor *result.Processor, log *zap.SugaredLogger) broker.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		var r model.Result
		if err := json.Unmarshal(value, &r); err != nil {
			log.Errorw("failed to decode result message", "error", err)
			return nil
		}
		if err := processor.ProcessResult(ctx, r); err != nil {
			log.Errorw("failed to process result", "error", err)
		}
		return nil
	}
}
