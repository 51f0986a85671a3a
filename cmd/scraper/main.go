package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-stations/checkpoint"
	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/models"
	"github.com/aluiziolira/go-scrape-stations/pipeline"
	"github.com/aluiziolira/go-scrape-stations/scraper"
	"github.com/aluiziolira/go-scrape-stations/session"
	"github.com/aluiziolira/go-scrape-stations/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg := config.DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	var proxies string
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Provider base URL. Env: STATIONS_BASE_URL")
	flag.StringVar(&cfg.RegionsFile, "regions", cfg.RegionsFile, "Master region list, one per line. Env: STATIONS_REGIONS_FILE")
	flag.StringVar(&cfg.CompletedFile, "completed", cfg.CompletedFile, "Completed region log. Env: STATIONS_COMPLETED_FILE")
	flag.StringVar(&cfg.PartialFile, "partial", cfg.PartialFile, "Partial region log. Env: STATIONS_PARTIAL_FILE")
	flag.StringVar(&cfg.FailedFile, "failed", cfg.FailedFile, "Failed region log. Env: STATIONS_FAILED_FILE")
	flag.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path. Env: STATIONS_OUTPUT")
	flag.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, or dual. Env: STATIONS_FORMAT")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent region workers. Env: STATIONS_WORKERS")
	flag.StringVar(&proxies, "proxies", strings.Join(cfg.ProxyURLs, ","), "Comma-separated egress proxy URLs. Env: STATIONS_PROXIES")
	flag.Float64Var(&cfg.RequestRPS, "rps", cfg.RequestRPS, "Global request rate limit, 0 disables. Env: STATIONS_RPS")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout. Env: STATIONS_TIMEOUT")
	flag.DurationVar(&cfg.SessionMaxAge, "session-max-age", cfg.SessionMaxAge, "Refresh the session after this age. Env: STATIONS_SESSION_MAX_AGE")
	flag.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Attempts per page for throttling and for transient errors. Env: STATIONS_MAX_RETRIES")
	flag.DurationVar(&cfg.DelayMin, "delay-min", cfg.DelayMin, "Minimum pause between pages. Env: STATIONS_DELAY_MIN")
	flag.DurationVar(&cfg.DelayMax, "delay-max", cfg.DelayMax, "Maximum pause between pages. Env: STATIONS_DELAY_MAX")
	flag.DurationVar(&cfg.ReportInterval, "report-every", cfg.ReportInterval, "Progress report interval. Env: STATIONS_REPORT_INTERVAL")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090). Env: STATIONS_METRICS_ADDR")
	flag.StringVar(&cfg.PostgresDSN, "pg-dsn", cfg.PostgresDSN, "Optional Postgres mirror DSN. Env: PG_DSN")
	flag.StringVar(&cfg.PGSchema, "pg-schema", cfg.PGSchema, "Postgres schema. Env: PG_SCHEMA")
	flag.BoolVar(&cfg.PGViaBouncer, "pg-via-bouncer", cfg.PGViaBouncer, "Use the simple protocol for PgBouncer transaction pooling. Env: PG_VIA_BOUNCER")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	flag.Parse()

	cfg.ProxyURLs = config.SplitList(proxies)
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	logger, level := newLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight regions to finish")
	}()

	queue, alreadyDone, err := checkpoint.Load(cfg.RegionsFile, cfg.CompletedFile, nil)
	if err != nil {
		return fmt.Errorf("load regions: %w", err)
	}
	if len(queue) == 0 {
		slog.Info("nothing to do, every region is already completed", slog.Int("completed", alreadyDone))
		return nil
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}

	slog.Info("starting collection",
		slog.String("run_id", s.RunID),
		slog.String("base_url", cfg.BaseURL),
		slog.Int("queued", len(queue)),
		slog.Int("already_done", alreadyDone),
		slog.Int("workers", cfg.Workers),
		slog.Int("identities", len(s.Identities())),
	)

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	opts := []pipeline.Option{pipeline.WithSeenCacheSize(cfg.DedupeCacheSize)}

	if cfg.PostgresDSN != "" {
		db, err := store.Open(ctx, cfg.PostgresDSN, cfg.PGSchema, cfg.Workers, cfg.PGViaBouncer)
		if err != nil {
			return fmt.Errorf("open postgres mirror: %w", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare postgres mirror: %w", err)
		}
		opts = append(opts, pipeline.WithMirror(db))
		slog.Info("postgres mirror enabled",
			slog.String("schema", cfg.PGSchema),
			slog.Bool("via_bouncer", cfg.PGViaBouncer),
		)
	}

	ledger := checkpoint.NewLedger(cfg.CompletedFile, cfg.PartialFile, cfg.FailedFile)
	p, err := pipeline.NewPipeline(writer, ledger, opts...)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if cfg.Verbose {
		p.StartMetricsReporting(ctx, cfg.ReportInterval)
	}

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)
	defer shutdownMetricsServer(metricsServer)

	sess, err := establishSession(ctx, s)
	if err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	slog.Info("session established",
		slog.String("session_id", sess.ID),
		slog.String("identity", sess.Identity),
	)

	summary, runErr := s.Run(ctx, queue, alreadyDone, p)
	if err := p.Close(); err != nil && runErr == nil {
		runErr = err
	}
	printSummary(os.Stdout, summary, cfg.OutputFile, p.GetMetrics())
	if runErr != nil {
		return runErr
	}

	if summary.Completed+summary.Partial > 0 && summary.Stations > 0 {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("output validation: %w", err)
		}
	}
	return nil
}

// establishSession runs the run-start acquisition behind a spinner when
// attached to a terminal.
func establishSession(ctx context.Context, s *scraper.Scraper) (*session.Session, error) {
	if isTerminal(os.Stderr) {
		sp := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		sp.Suffix = " establishing session"
		sp.Start()
		defer sp.Stop()
	}
	return s.Start(ctx)
}

func startMetricsServer(addr string, m *scraper.Metrics) *http.Server {
	if addr == "" || m == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func shutdownMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(w io.Writer, summary *models.RunSummary, outputFile string, metrics map[string]interface{}) {
	if summary == nil {
		return
	}
	separator := "--------------------------------------------------"
	duration := summary.EndTime.Sub(summary.StartTime).Round(time.Second)
	done := summary.Completed + summary.Partial + summary.Failed

	fmt.Fprintln(w, "\n"+separator)
	if summary.Interrupted {
		fmt.Fprintln(w, "Collection interrupted")
	} else {
		fmt.Fprintln(w, "Collection complete")
	}
	fmt.Fprintf(w, "  Run ID:        %s\n", summary.RunID)
	fmt.Fprintf(w, "  Regions:       %d of %d queued (%d done earlier)\n", done, summary.Queued, summary.AlreadyDone)
	fmt.Fprintf(w, "  Completed:     %d\n", summary.Completed)
	fmt.Fprintf(w, "  Partial:       %d\n", summary.Partial)
	fmt.Fprintf(w, "  Failed:        %d\n", summary.Failed)
	if len(summary.FailedByReason) > 0 {
		fmt.Fprintf(w, "  Failure types: %v\n", summary.FailedByReason)
	}
	fmt.Fprintf(w, "  Stations:      %d\n", summary.Stations)
	fmt.Fprintf(w, "  Pages:         %d\n", summary.Pages)
	fmt.Fprintf(w, "  Retries:       %d\n", summary.Retries)
	fmt.Fprintf(w, "  Sessions:      %d refreshed\n", summary.SessionRefreshes)
	if overlaps, ok := metrics["cross_region_duplicates"].(int64); ok && overlaps > 0 {
		fmt.Fprintf(w, "  Overlaps:      %d stations seen in more than one region\n", overlaps)
	}
	if mirrorErrs, ok := metrics["mirror_errors"].(int64); ok && mirrorErrs > 0 {
		fmt.Fprintf(w, "  Mirror errors: %d\n", mirrorErrs)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	if secs := duration.Seconds(); secs > 0 {
		fmt.Fprintf(w, "  Regions/sec:   %.2f\n", float64(done)/secs)
	}
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}

func newLogger(w *os.File, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var handler slog.Handler
	if isTerminal(w) {
		charmLevel := charmlog.InfoLevel
		if verbose {
			charmLevel = charmlog.DebugLevel
		}
		handler = charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Level:           charmLevel,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
