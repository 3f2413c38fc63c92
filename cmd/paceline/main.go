package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"paceline/internal/analytics"
	"paceline/internal/api"
	"paceline/internal/audit"
	"paceline/internal/circuitbreaker"
	"paceline/internal/config"
	"paceline/internal/cycler"
	"paceline/internal/dispatch"
	"paceline/internal/domain"
	"paceline/internal/generator"
	"paceline/internal/leaderelection"
	"paceline/internal/metrics"
	"paceline/internal/offset"
	"paceline/internal/store/postgres"
	"paceline/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "analyze":
		os.Exit(runAnalyze(os.Args[2:]))
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`paceline - deterministic scrape schedule generator

Usage:
  paceline <command>

Commands:
  serve      Start the cycle runner, dispatcher and API server
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  analyze    Print offset distribution stats for the current population
             (--file reads identifiers from a file or "-" for stdin, --bins overrides BIN_COUNT)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for analytics counters (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  INTERVAL_SECONDS          Cycle length in seconds (default: "300")
  BIN_COUNT                 Offset bins per cycle (default: "300")
  MAX_CV                    Max acceptable distribution CV (default: "0.5")
  TASKBUS_BUFFER_SIZE       Task bus buffer in batches (default: "16")

  SCRAPER_WEBHOOK_URL       Batch delivery endpoint (optional; log-only when unset)
  SCRAPER_WEBHOOK_SECRET    HMAC signing secret for batch deliveries
  SCRAPER_WEBHOOK_TIMEOUT   Per-request delivery timeout (default: "30s")
  DISPATCH_DRAIN_TIMEOUT    Batch drain timeout on shutdown (default: "30s")
  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open circuit cooldown (default: "2m")

  AUDIT_ENABLED             Enable the scheduled distribution audit (default: "false")
  AUDIT_SCHEDULE            Cron expression for audits (default: "0 * * * *")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  LEADER_ELECTION_ENABLED   Run generation only on the elected leader (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all replicas (default: "547211")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

// configWarnings returns operator-facing warnings for configurations that are
// valid but probably not what you want in production.
func configWarnings(cfg config.Config) []string {
	var warnings []string

	if cfg.ScraperWebhookURL == "" {
		warnings = append(warnings,
			"SCRAPER_WEBHOOK_URL not set; generated batches are logged and dropped")
	}
	if cfg.ScraperWebhookURL != "" && cfg.ScraperWebhookSecret == "" {
		warnings = append(warnings,
			"SCRAPER_WEBHOOK_SECRET not set; batch deliveries are unsigned")
	}
	if !cfg.MetricsEnabled {
		warnings = append(warnings,
			"METRICS_ENABLED=false; cycle health is not observable")
	}
	if !cfg.LeaderElectionEnabled {
		warnings = append(warnings,
			"LEADER_ELECTION_ENABLED=false; running more than one replica will emit duplicate schedules")
	}
	if !cfg.AuditEnabled {
		warnings = append(warnings,
			"AUDIT_ENABLED=false; distribution drift is only visible per cycle")
	}

	return warnings
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	for _, w := range configWarnings(cfg) {
		log.Warn().Msg("paceline: " + w)
	}

	gen, err := generator.New(generator.Config{
		IntervalSeconds: cfg.IntervalSeconds,
		BinCount:        cfg.BinCount,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid cycle geometry: %v\n", err)
		return exitInvalidConfig
	}

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	store := postgres.New(db, cfg.DBOpTimeout)

	// Metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Info().Str("port", cfg.MetricsPort).Str("path", cfg.MetricsPath).Msg("paceline: metrics enabled")

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Info().Str("addr", metricsServer.Addr).Msg("paceline: metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("paceline: metrics server error")
			}
		}()
	}

	// Task bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewTaskBus(cfg.TaskBusBufferSize, busOpts...)

	runner := cycler.New(gen, store, bus)
	if metricsSink != nil {
		runner = runner.WithMetrics(metricsSink)
	}

	// Redis analytics counters (optional)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient)
		runner = runner.WithAnalytics(sink, domain.AnalyticsConfig{
			Enabled:   true,
			Window:    gen.Interval(),
			Retention: 24 * time.Hour,
		})
		log.Info().Str("redis", cfg.RedisAddr).Msg("paceline: analytics enabled")
	}

	disp := dispatch.New(
		dispatch.NewHTTPBatchSender(),
		cfg.ScraperWebhookURL,
		cfg.ScraperWebhookSecret,
		cfg.ScraperWebhookTimeout,
	).WithDrainTimeout(cfg.DispatchDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	var auditor *audit.Auditor
	if cfg.AuditEnabled {
		auditor, err = audit.New(audit.Config{
			Schedule: cfg.AuditSchedule,
			BinCount: cfg.BinCount,
			MaxCV:    cfg.MaxCV,
		}, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid audit config: %v\n", err)
			return exitInvalidConfig
		}
		if metricsSink != nil {
			auditor = auditor.WithMetrics(metricsSink)
		}
	}

	apiHandler := api.NewHandler(store, gen, cfg.MaxCV).WithHealthChecker(db)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("paceline: http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("paceline: http server error")
		}
	}()

	// Separate contexts per component for ordered shutdown.
	cyclerCtx, cancelCycler := context.WithCancel(context.Background())
	defer cancelCycler()
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())

	var cyclerWg sync.WaitGroup
	var dispatchWg sync.WaitGroup
	var auditWg sync.WaitGroup
	var cancelAudit context.CancelFunc

	startLeaderDuties := func(ctx context.Context) {
		cyclerWg.Add(1)
		go func() {
			defer cyclerWg.Done()
			runner.Run(ctx)
		}()

		if auditor != nil {
			var auditCtx context.Context
			auditCtx, cancelAudit = context.WithCancel(ctx)
			auditWg.Add(1)
			go func() {
				defer auditWg.Done()
				auditor.Run(auditCtx)
			}()
		}
	}

	dispatchWg.Add(1)
	go func() {
		defer dispatchWg.Done()
		disp.Run(dispatchCtx, bus)
	}()

	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc

	if cfg.LeaderElectionEnabled {
		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())

		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			startLeaderDuties,
			func() {
				if cancelAudit != nil {
					cancelAudit()
				}
				auditWg.Wait()
				cyclerWg.Wait()
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Info().Int64("lock_key", cfg.LeaderLockKey).Msg("paceline: leader election enabled")
	} else {
		startLeaderDuties(cyclerCtx)
	}

	log.Info().
		Int("interval_seconds", cfg.IntervalSeconds).
		Int("bin_count", cfg.BinCount).
		Str("http", cfg.HTTPAddr).
		Msg("paceline: started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info().Str("signal", received.String()).Msg("paceline: shutting down")

	// Phase 1: stop generating (elector demotion stops cycler and auditor)
	if cancelElector != nil {
		cancelElector()
		electorWg.Wait()
	} else {
		if cancelAudit != nil {
			cancelAudit()
		}
		cancelCycler()
		auditWg.Wait()
		cyclerWg.Wait()
	}
	log.Info().Msg("paceline: cycle runner stopped")

	// Phase 2: stop dispatcher (drains buffered batches before returning)
	cancelDispatch()
	dispatchWg.Wait()
	log.Info().Msg("paceline: dispatcher stopped")

	// Phase 3: stop HTTP server
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Error().Err(err).Msg("paceline: http server shutdown error")
	}
	log.Info().Msg("paceline: http server stopped")

	// Phase 4: stop metrics server if running
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Error().Err(err).Msg("paceline: metrics server shutdown error")
		}
		log.Info().Msg("paceline: metrics server stopped")
	}

	log.Info().Msg("paceline: stopped")
	return exitSuccess
}

func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Info().
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Msg("paceline: db pool configured")

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

// analyzeReport is the JSON output of the analyze command.
type analyzeReport struct {
	Targets   int     `json:"targets"`
	BinCount  int     `json:"bin_count"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	CV        float64 `json:"cv"`
	MinBin    int     `json:"min_bin"`
	MaxBin    int     `json:"max_bin"`
	EmptyBins int     `json:"empty_bins"`
	MaxCV     float64 `json:"max_cv"`
	Healthy   bool    `json:"healthy"`
}

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	file := fs.String("file", "", "read target identifiers from a file, one per line (\"-\" for stdin)")
	bins := fs.Int("bins", 0, "override BIN_COUNT for this run")
	if err := fs.Parse(args); err != nil {
		return exitInvalidConfig
	}

	cfg := config.Load()
	if *bins > 0 {
		cfg.BinCount = *bins
	}

	var ids []string
	if *file != "" {
		if cfg.BinCount <= 0 {
			fmt.Fprintln(os.Stderr, "bins must be positive")
			return exitInvalidConfig
		}
		var err error
		ids, err = readIdentifiers(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read identifiers: %v\n", err)
			return exitRuntimeError
		}
	} else {
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			return exitInvalidConfig
		}

		db, err := openDB(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		store := postgres.New(db, cfg.DBOpTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		targets, err := store.ListEnabledTargets(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list targets: %v\n", err)
			return exitRuntimeError
		}
		ids = make([]string, 0, len(targets))
		for _, t := range targets {
			ids = append(ids, t.ID)
		}
	}

	dist, err := offset.AnalyzeDistribution(ids, cfg.BinCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to analyze distribution: %v\n", err)
		return exitRuntimeError
	}

	report := analyzeReport{
		Targets:   len(ids),
		BinCount:  cfg.BinCount,
		Mean:      dist.Mean,
		StdDev:    dist.StdDev,
		CV:        dist.CV(),
		MinBin:    dist.Min,
		MaxBin:    dist.Max,
		EmptyBins: dist.EmptyBins(),
		MaxCV:     cfg.MaxCV,
		Healthy:   dist.CV() <= cfg.MaxCV,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal report: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))

	if !report.Healthy {
		return exitRuntimeError
	}
	return exitSuccess
}

// readIdentifiers reads one identifier per line, skipping blanks.
func readIdentifiers(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func runVersion() int {
	fmt.Printf("paceline version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
