package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/medcalc/internal/calculators"
	"github.com/ehr/medcalc/internal/config"
	"github.com/ehr/medcalc/internal/domain/calculator"
	"github.com/ehr/medcalc/internal/engine"
	"github.com/ehr/medcalc/internal/engine/clinicaldata"
	"github.com/ehr/medcalc/internal/platform/auth"
	"github.com/ehr/medcalc/internal/platform/ehrdb"
	"github.com/ehr/medcalc/internal/platform/fhirclient"
	"github.com/ehr/medcalc/internal/platform/metrics"
	"github.com/ehr/medcalc/internal/platform/middleware"
	"github.com/ehr/medcalc/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medcalc-server",
		Short: "Clinical risk-score calculator host",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(calculatorsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the calculator HTTP host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func calculatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calculators",
		Short: "List registered calculators",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := engine.NewRegistry()
			for _, def := range calculators.All() {
				if err := reg.Register(def); err != nil {
					return fmt.Errorf("calculator schema: %w", err)
				}
			}
			return printCalculators(cmd.OutOrStdout(), reg)
		},
	}
}

func printCalculators(out io.Writer, reg *engine.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFIELDS\tPANELS\tTITLE")
	for _, d := range reg.List() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", d.ID, len(d.Fields()), len(d.Panels), d.Title)
	}
	return w.Flush()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// deps are the long-lived collaborators of the HTTP host.
type deps struct {
	logger  zerolog.Logger
	metrics *metrics.Collector
	tracing *telemetry.TelemetryProvider
	sources calculator.SourceFactory
	pool    *pgxpool.Pool
	store   *calculator.MemoryStore
}

// sourceFactory picks the clinical-data backend. A nil factory means every
// form opens standalone.
func sourceFactory(ctx context.Context, cfg *config.Config, logger zerolog.Logger, m *metrics.Collector) (calculator.SourceFactory, *pgxpool.Pool, error) {
	switch cfg.ClinicalSource {
	case config.SourceFHIR:
		client, err := fhirclient.New(fhirclient.Config{
			BaseURL:            cfg.FHIRBaseURL,
			RetryMax:           cfg.FHIRRetryMax,
			Timeout:            cfg.FetchTimeout,
			RateLimitRPS:       cfg.FHIRRateLimitRPS,
			RateLimitBurst:     cfg.FHIRRateLimitBurst,
			BreakerMaxFailures: cfg.BreakerMaxFailures,
			BreakerCooldown:    cfg.BreakerCooldown,
			Logger:             logger,
			Metrics:            m,
		})
		if err != nil {
			return nil, nil, err
		}
		return calculator.SourceFunc(func(_ context.Context, req calculator.SourceRequest) (clinicaldata.Source, error) {
			return client.ForPatient(req.PatientID, req.Token), nil
		}), nil, nil

	case config.SourceEHRDB:
		pool, err := ehrdb.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return calculator.SourceFunc(func(_ context.Context, req calculator.SourceRequest) (clinicaldata.Source, error) {
			tenant := req.TenantID
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			src, err := ehrdb.NewSource(pool, tenant, req.PatientID)
			if err != nil {
				return nil, err
			}
			return src, nil
		}), pool, nil
	}
	return nil, nil, nil
}

func newServer(cfg *config.Config, d deps) *echo.Echo {
	eng := engine.New(calculators.Registry(), engine.Options{
		Logger:          d.logger,
		Metrics:         d.metrics,
		FetchTimeout:    cfg.FetchTimeout,
		StaleAfter:      cfg.StaleAfter(),
		PopulateTimeout: cfg.PopulateTimeout,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	if d.tracing != nil {
		e.Use(d.tracing.TracingMiddleware())
	}
	e.Use(middleware.Logger(d.logger))
	e.Use(d.metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.CORSOrigins...))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"source":  cfg.ClinicalSource,
		})
	})
	if d.pool != nil {
		pool := d.pool
		e.GET("/health/db", ehrdb.HealthHandler(pool, func() *ehrdb.PoolStats { return ehrdb.GetPoolStats(pool) }))
	}
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))

	// Launch context, then tenant, then rate limiting keyed by tenant.
	apiV1 := e.Group("/api/v1",
		auth.LaunchContextMiddleware(auth.LaunchConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey(cfg.AuthSigningKey),
		}),
		ehrdb.TenantMiddleware(cfg.DefaultTenant),
	)
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	svc := calculator.NewService(eng, d.store, d.sources, d.logger)
	if cfg.ClinicalSource == config.SourceEHRDB {
		svc.RequireVerifiedLaunch()
	}
	calculator.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func signingKey(key string) []byte {
	if key == "" {
		return nil
	}
	return []byte(key)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollector("medcalc")
	tp, err := telemetry.NewTelemetryProvider(ctx, telemetry.TelemetryConfig{
		ServiceName:    "medcalc-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	sources, pool, err := sourceFactory(ctx, cfg, logger, m)
	if err != nil {
		logger.Fatal().Err(err).Str("source", cfg.ClinicalSource).Msg("failed to initialize clinical source")
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to EHR database")
	}

	store := calculator.NewMemoryStore(cfg.FormTTL, logger, m)
	go store.Run(ctx, 0)

	e := newServer(cfg, deps{
		logger:  logger,
		metrics: m,
		tracing: tp,
		sources: sources,
		pool:    pool,
		store:   store,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("source", cfg.ClinicalSource).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
