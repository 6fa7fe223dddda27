package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shortontech/sentry/internal/audit"
	"github.com/shortontech/sentry/internal/challenge"
	"github.com/shortontech/sentry/internal/httpx"
	"github.com/shortontech/sentry/internal/logging"
	"github.com/shortontech/sentry/internal/metrics"
	"github.com/shortontech/sentry/internal/tracker"
	"github.com/shortontech/sentry/internal/verdict"
	"github.com/shortontech/sentry/pkg/config"
)

func main() {
	cfg := config.Load()
	logger := logging.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks := startSinks(ctx, cfg)
	defer closeSinks(sinks)

	m := metrics.InitMetrics()
	metricsCfg := metrics.ConfigWith(cfg.MetricsEnabled, cfg.MetricsAddr)
	metricsSrv := metrics.NewServer(metricsCfg)
	if err := metricsSrv.Start(ctx); err != nil {
		log.Printf("metrics: failed to start: %v", err)
	}

	challenges := challenge.NewConfigured(time.Now, time.Duration(cfg.ChallengeTTLMs)*time.Millisecond)

	onTimeout := func(ip string, v verdict.Verdict) {
		m.IncrementSessionTimeouts()
		m.IncrementVerdictsIssued(string(v.Verdict))
		logger.Log(logging.TagBotVerdict, ip, v)
		fanOut(sinks, audit.NewRecord(ip, "visit-timeout", v))
	}
	visits := tracker.NewConfigured(onTimeout, time.Now,
		time.Duration(cfg.SessionDeadlineMs)*time.Millisecond,
		time.Duration(cfg.SessionTTLMs)*time.Millisecond)

	env := httpx.Env{
		Cfg:        cfg,
		Log:        logger,
		Metrics:    m,
		Challenges: challenges,
		Tracker:    visits,
		Emit:       func(r audit.Record) { fanOut(sinks, r) },
	}

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: httpx.NewMux(env),
	}

	go func() {
		log.Printf("sentry listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// startSinks builds and starts every audit sink named in cfg.Outputs. A
// sink that fails to start is logged and dropped — a broken Kafka broker
// or Postgres DSN must never stop the detector from answering requests
// it must not.
func startSinks(ctx context.Context, cfg config.Config) []audit.Sink {
	var sinks []audit.Sink
	for _, name := range cfg.Outputs {
		var s audit.Sink
		switch name {
		case "log":
			s = audit.NewLogSink()
		case "kafka":
			s = audit.NewKafkaSinkFromConfig(cfg.KafkaBrokers, cfg.KafkaTopic)
		case "postgres":
			s = audit.NewPGSinkFromConfig(cfg.PGDSN, cfg.PGTable, int(cfg.PGBatchSize), int(cfg.PGFlushMs), cfg.PGUseCopy)
		default:
			log.Printf("audit: unknown sink %q in OUTPUTS, skipping", name)
			continue
		}
		if err := s.Start(ctx); err != nil {
			log.Printf("audit: sink %q failed to start: %v", s.Name(), err)
			continue
		}
		sinks = append(sinks, s)
	}
	return sinks
}

func closeSinks(sinks []audit.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("audit: sink %q failed to close: %v", s.Name(), err)
		}
	}
}

// fanOut enqueues r on every configured sink, logging (not propagating)
// individual sink failures — a verdict is already returned to the caller
// regardless of audit durability.
func fanOut(sinks []audit.Sink, r audit.Record) {
	for _, s := range sinks {
		if err := s.Enqueue(r); err != nil {
			log.Printf("audit: sink %q enqueue failed: %v", s.Name(), err)
			if m := metrics.GetMetrics(); m != nil {
				m.IncrementAuditSinkErrors(s.Name(), "enqueue")
			}
		}
	}
}
