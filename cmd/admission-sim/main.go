// Command admission-sim runs the LEO admission-control simulation: a
// constellation snapshot provider, an admission controller, and the
// routing/scheduling/allocation pipeline driven by a synthetic traffic
// workload, with Prometheus metrics and optional CSV export.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/admission"
	"github.com/signalsfoundry/leo-admission/internal/config"
	"github.com/signalsfoundry/leo-admission/internal/dsroq"
	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/internal/observability"
	"github.com/signalsfoundry/leo-admission/internal/sim"
	"github.com/signalsfoundry/leo-admission/kb"
	"github.com/signalsfoundry/leo-admission/timectrl"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON configuration file")
	duration := flag.Duration("duration", 0, "override the simulated duration")
	step := flag.Duration("step", 0, "override the simulation time step")
	pattern := flag.String("pattern", "", "override the traffic pattern")
	variant := flag.String("variant", "", "override the admission variant (threshold or positioning_aware)")
	seed := flag.Int64("seed", 0, "override the traffic seed")
	metricsAddr := flag.String("metrics-addr", "", "override the Prometheus /metrics address")
	resultsPath := flag.String("results", "", "override the CSV results path")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load configuration", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if *duration > 0 {
		cfg.Engine.DurationSec = duration.Seconds()
	}
	if *step > 0 {
		cfg.Engine.StepSec = step.Seconds()
	}
	if *pattern != "" {
		cfg.Traffic.Pattern = *pattern
	}
	if *variant != "" {
		cfg.Admission.Variant = *variant
	}
	if *seed != 0 {
		cfg.Traffic.Seed = *seed
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *resultsPath != "" {
		cfg.Results.CSVPath = *resultsPath
	}
	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", logging.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	admissionMetrics, err := observability.NewAdmissionCollector(reg)
	if err != nil {
		log.Error(ctx, "failed to initialise admission metrics", logging.String("error", err.Error()))
		os.Exit(1)
	}
	pipelineMetrics, err := observability.NewPipelineCollector(reg)
	if err != nil {
		log.Error(ctx, "failed to initialise pipeline metrics", logging.String("error", err.Error()))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, admissionMetrics.Handler(), log)

	epoch := time.Now().UTC()
	constellation, err := buildConstellation(cfg.Constellation, epoch, log)
	if err != nil {
		log.Error(ctx, "failed to build constellation", logging.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info(ctx, "constellation ready", logging.Int("satellites", constellation.Size()))

	tick := time.Duration(cfg.Engine.StepSec * float64(time.Second))
	clock := timectrl.NewTimeController(epoch, tick, timectrl.Accelerated)

	router := dsroq.NewMCTSRouter(cfg.Pipeline.MCTS, clock, log)
	scheduler := dsroq.NewLyapunovScheduler(cfg.Pipeline.Lyapunov, log)
	allocator := dsroq.NewBandwidthAllocator(cfg.Pipeline.Bandwidth, clock, log)
	pipeline := dsroq.NewController(router, scheduler, allocator, clock, log,
		dsroq.WithCollector(pipelineMetrics))

	admit := buildAdmission(cfg.Admission, admissionMetrics, log)

	traffic, err := sim.NewTrafficGenerator(cfg.Traffic, log)
	if err != nil {
		log.Error(ctx, "failed to build traffic generator", logging.String("error", err.Error()))
		os.Exit(1)
	}
	monitor := sim.NewMonitor(cfg.Monitor, log)

	engineOpts := []sim.Option{sim.WithCollector(pipelineMetrics)}
	if cfg.Admission.Variant == config.VariantPositioning {
		engineOpts = append(engineOpts,
			sim.WithPositioning(sim.ApproxPositioning(cfg.Admission.ElevationMaskDeg)))
	}

	eng, err := sim.NewEngine(cfg.Engine, constellation, admit, pipeline, traffic, monitor, clock, log, engineOpts...)
	if err != nil {
		log.Error(ctx, "failed to build engine", logging.String("error", err.Error()))
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	runErr := eng.Run(runCtx)
	stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error(ctx, "simulation failed", logging.String("error", runErr.Error()))
		os.Exit(1)
	}

	logSummary(ctx, log, eng, admit, pipeline)

	if path := cfg.Results.CSVPath; path != "" {
		if err := sim.WriteCSV(path, monitor.History()); err != nil {
			log.Error(ctx, "failed to export results", logging.String("path", path), logging.String("error", err.Error()))
			os.Exit(1)
		}
		log.Info(ctx, "results exported", logging.String("path", path))
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

// loadConfig starts from the defaults and overlays the file when one is
// given. Flag overrides are applied by the caller, which re-validates.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildConstellation(cfg config.ConstellationConfig, epoch time.Time, log logging.Logger) (*core.Constellation, error) {
	catalog := kb.NewCatalog()
	if cfg.TLEFile != "" {
		tles, err := core.LoadTLEFile(cfg.TLEFile)
		if err != nil {
			return nil, err
		}
		return core.NewTLEConstellation(cfg.TLE, tles, epoch, catalog, log)
	}
	return core.NewWalkerConstellation(cfg.Walker, epoch, catalog, log)
}

// buildAdmission hands the collector to the outermost controller only, so
// the admitted-bandwidth counter is not incremented twice per decision.
func buildAdmission(cfg config.AdmissionConfig, collector *observability.AdmissionCollector, log logging.Logger) admission.Controller {
	if cfg.Variant == config.VariantPositioning {
		base := admission.NewThreshold(cfg.Threshold, log)
		return admission.NewPositioningAware(base, cfg.Positioning, log, admission.WithCollector(collector))
	}
	return admission.NewThreshold(cfg.Threshold, log, admission.WithCollector(collector))
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func logSummary(ctx context.Context, log logging.Logger, eng *sim.Engine, admit admission.Controller, pipeline *dsroq.Controller) {
	stats := eng.Statistics()
	admitStats := admit.Statistics()
	pipeStats := pipeline.Statistics()

	log.Info(ctx, "simulation complete",
		logging.Int("steps", int(stats.Steps)),
		logging.Float64("sim_seconds", stats.SimSeconds),
		logging.Int("generated", int(stats.Generated)),
		logging.Int("admitted", int(stats.Admitted)),
		logging.Int("rejected", int(stats.Rejected)),
		logging.Int("pipeline_rejected", int(stats.PipelineRejected)),
		logging.Int("deferred", int(stats.Deferred)),
		logging.Int("active_sessions", stats.ActiveSessions),
		logging.Float64("admission_rate", admitStats.AdmissionRate),
		logging.Float64("qos_violation_rate", admitStats.QoSViolationRate),
		logging.Float64("avg_decision_ms", admitStats.AvgDecisionTimeMs),
		logging.Int("expired", pipeStats.Expired),
		logging.Float64("allocated_mbps", pipeStats.TotalAllocatedMbps),
	)
}
