// Package exporter wires the credential provider, upstream client,
// mapper, registry and exposition server together and drives the poll
// loop.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/airmonio/airmon/internal/airbyte"
	"github.com/airmonio/airmon/internal/export"
	"github.com/airmonio/airmon/internal/metrics"
)

// Exporter is the top-level orchestrator for airmon.
type Exporter interface {
	// Start begins serving scrapes and launches the poll loop.
	Start(ctx context.Context) error
	// Stop shuts down gracefully, aborting any in-flight poll.
	Stop() error
}

type exporter struct {
	log     logrus.FieldLogger
	cfg     *Config
	prom    *prometheus.Registry
	self    *export.Metrics
	samples *metrics.Registry
	client  airbyte.Client
	server  *export.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Exporter.
func New(log logrus.FieldLogger, cfg *Config) (Exporter, error) {
	cfg.Airbyte.ApplyDefaults()

	prom := prometheus.NewRegistry()
	self := export.NewMetrics(prom)

	samples := metrics.NewRegistry()
	prom.MustRegister(samples)

	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	tokens := airbyte.NewTokenSource(
		log, cfg.Airbyte, self.TokenRefreshes.Inc,
	)

	return &exporter{
		log:     log.WithField("component", "exporter"),
		cfg:     cfg,
		prom:    prom,
		self:    self,
		samples: samples,
		client:  airbyte.NewClient(log, cfg.Airbyte, tokens, self),
		server:  export.NewServer(log, cfg.Server, prom),
	}, nil
}

func (e *exporter) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.server.Start(ctx); err != nil {
		return fmt.Errorf("starting exposition server: %w", err)
	}

	e.wg.Add(1)

	go e.run(ctx)

	e.log.WithFields(logrus.Fields{
		"addr":     e.server.Addr(),
		"interval": e.cfg.PollInterval,
	}).Info("Exporter started")

	return nil
}

func (e *exporter) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}

	e.wg.Wait()

	return e.server.Stop()
}

// run drives poll cycles: one immediately, then one per tick. Polls
// are strictly serialized; the ticker drops ticks while a cycle
// overruns the interval, so cycles never overlap.
func (e *exporter) run(ctx context.Context) {
	defer e.wg.Done()

	e.pollAndReport(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollAndReport(ctx)
		}
	}
}

// pollAndReport runs one cycle. A failed cycle leaves the snapshot
// untouched; scrapes keep serving the previous one until the next
// regular interval.
func (e *exporter) pollAndReport(ctx context.Context) {
	start := time.Now()

	e.self.PollsTotal.Inc()

	if err := e.poll(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}

		e.self.PollErrors.WithLabelValues(pollErrorReason(err)).Inc()
		e.log.WithError(err).
			Warn("Poll cycle failed, serving stale snapshot")

		return
	}

	e.self.PollDuration.Observe(time.Since(start).Seconds())
}

func (e *exporter) poll(ctx context.Context) error {
	conns, err := e.client.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("listing connections: %w", err)
	}

	since := time.Now().Add(-e.cfg.Airbyte.JobLookback)
	runs := make([]airbyte.JobRun, 0, len(conns))

	for _, conn := range conns {
		// Zero-value records from malformed upstream data stay in
		// the slice for the mapper to count, but have no id to
		// query jobs with.
		if conn.ID == "" {
			continue
		}

		connRuns, err := e.client.ListJobRuns(ctx, conn.ID, since)
		if err != nil {
			return fmt.Errorf(
				"listing job runs for %s: %w", conn.ID, err,
			)
		}

		runs = append(runs, connRuns...)
	}

	sources, err := e.client.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}

	dests, err := e.client.ListDestinations(ctx)
	if err != nil {
		return fmt.Errorf("listing destinations: %w", err)
	}

	samples, skipped := metrics.Map(metrics.Input{
		Connections:  conns,
		JobRuns:      runs,
		Sources:      sources,
		Destinations: dests,
	}, time.Now())

	if skipped > 0 {
		e.self.SkippedRecords.Add(float64(skipped))
		e.log.WithField("count", skipped).
			Debug("Skipped malformed upstream records")
	}

	// Abort before the swap on shutdown; never mid-swap.
	if err := ctx.Err(); err != nil {
		return err
	}

	e.samples.Swap(samples, time.Now())
	e.self.SamplesCurrent.Set(float64(len(samples)))
	e.server.SetReady()

	e.log.WithFields(logrus.Fields{
		"connections":  len(conns),
		"job_runs":     len(runs),
		"sources":      len(sources),
		"destinations": len(dests),
		"samples":      len(samples),
	}).Debug("Poll cycle complete")

	return nil
}

func pollErrorReason(err error) string {
	var (
		authErr *airbyte.AuthError
		apiErr  *airbyte.APIError
	)

	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &apiErr):
		return "api"
	default:
		return "other"
	}
}
