package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seolens/seolens/internal/analytics"
	"github.com/seolens/seolens/internal/api"
	"github.com/seolens/seolens/internal/crawler"
	"github.com/seolens/seolens/internal/db"
	"github.com/seolens/seolens/internal/email"
	"github.com/seolens/seolens/internal/gsc"
	"github.com/seolens/seolens/internal/inspect"
	"github.com/seolens/seolens/internal/jobs"
	"github.com/seolens/seolens/internal/llm"
	"github.com/seolens/seolens/internal/notifications"
	"github.com/seolens/seolens/internal/observability"
	"github.com/seolens/seolens/internal/pagespeed"
	"github.com/seolens/seolens/internal/pdf"
	"github.com/seolens/seolens/internal/pipeline"
	"github.com/seolens/seolens/internal/snapshot"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Port                 string // HTTP port to listen on
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter

	SiteURL     string // Canonical site URL, e.g. https://example.com
	SitemapURL  string // Root sitemap; defaults to SITE_URL/sitemap.xml
	OutputDir   string // Run artifact directory
	SnapshotDir string // Daily snapshot directory
	Recipients  string // Comma separated report recipients

	GoogleClientID     string
	GoogleClientSecret string
	GSCRefreshToken    string
	GA4PropertyID      string
	GA4RefreshToken    string
	PageSpeedAPIKey    string
	GeminiAPIKey       string
	BrevoAPIKey        string
	EmailFromName      string
	EmailFromAddress   string
	SlackToken         string
	SlackChannel       string
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",

		SiteURL:     os.Getenv("SITE_URL"),
		SitemapURL:  os.Getenv("SITEMAP_URL"),
		OutputDir:   getEnvWithDefault("OUTPUT_DIR", "data/artifacts"),
		SnapshotDir: getEnvWithDefault("SNAPSHOT_DIR", "data/snapshots"),
		Recipients:  os.Getenv("REPORT_RECIPIENTS"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GSCRefreshToken:    os.Getenv("GSC_REFRESH_TOKEN"),
		GA4PropertyID:      os.Getenv("GA4_PROPERTY_ID"),
		GA4RefreshToken:    os.Getenv("GA4_REFRESH_TOKEN"),
		PageSpeedAPIKey:    os.Getenv("PAGESPEED_API_KEY"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		BrevoAPIKey:        os.Getenv("BREVO_API_KEY"),
		EmailFromName:      getEnvWithDefault("EMAIL_FROM_NAME", "SEOLens Reports"),
		EmailFromAddress:   os.Getenv("EMAIL_FROM_ADDRESS"),
		SlackToken:         os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:       os.Getenv("SLACK_CHANNEL"),
	}

	setupLogging(config)

	if config.SiteURL == "" {
		log.Fatal().Msg("SITE_URL is required")
	}
	if config.SitemapURL == "" {
		config.SitemapURL = strings.TrimRight(config.SiteURL, "/") + "/sitemap.xml"
	}

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			// Ensure Sentry flushes before application exits
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var (
		obsProviders *observability.Providers
		metricsSrv   *http.Server
	)

	if config.ObservabilityEnabled {
		var err error
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:      true,
			ServiceName:  "seolens",
			Environment:  config.Env,
			OTLPEndpoint: strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:  parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure: config.OTLPInsecure,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				metricsSrv = &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           obsProviders.MetricsHandler,
					ReadHeaderTimeout: 5 * time.Second,
				}

				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()

				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	// Connect to PostgreSQL when DATABASE_URL is configured; run history and
	// page metrics persistence stay disabled without it.
	store, err := db.InitFromEnv()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	if store != nil {
		defer store.Close()
		log.Info().Msg("Connected to PostgreSQL database")
	} else {
		log.Warn().Msg("DATABASE_URL not configured, run persistence disabled")
	}

	snapshots, err := snapshot.NewStore(config.SnapshotDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", config.SnapshotDir).Msg("Failed to open snapshot store")
	}

	deps, pipelineConfig := buildPipeline(config, store, snapshots)
	pipe := pipeline.New(pipelineConfig, deps)

	// Single worker: runs never overlap
	manager := jobs.NewManager(pipe, getEnvInt("JOB_QUEUE_SIZE", 4))

	runCtx, cancelRuns := context.WithCancel(context.Background())
	manager.Start(runCtx)

	scheduler := jobs.NewScheduler(manager,
		time.Duration(getEnvInt("FETCH_INTERVAL_HOURS", 24))*time.Hour,
		time.Duration(getEnvInt("REPORT_INTERVAL_HOURS", 168))*time.Hour)
	scheduler.Start(runCtx)

	// Create API handler with dependencies
	apiHandler := api.NewHandler(manager, store, getEnvWithDefault("APP_VERSION", "dev"))

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	limiter := api.NewRateLimiter(float64(getEnvInt("RATE_LIMIT_RPS", 20)), getEnvInt("RATE_LIMIT_BURST", 10))

	// Add middleware in reverse order (outermost first)
	var handler http.Handler = mux
	handler = api.RateLimitMiddleware(limiter)(handler)
	handler = api.RecoveryMiddleware(handler)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	handler = observability.WrapHandler(handler, obsProviders)

	server := &http.Server{
		Addr:    ":" + config.Port,
		Handler: handler,
	}

	// Channel to listen for termination signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		cancelRuns()
		manager.Wait()
		scheduler.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().
		Str("port", config.Port).
		Str("site", config.SiteURL).
		Str("sitemap", config.SitemapURL).
		Msg("Starting server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done // Wait for the shutdown process to complete
	log.Info().Msg("Server stopped")
}

// buildPipeline wires the pipeline collaborators from configuration.
// Optional integrations stay nil when their credentials are absent.
func buildPipeline(config *Config, store *db.DB, snapshots *snapshot.Store) (pipeline.Deps, pipeline.Config) {
	cr := crawler.New(crawler.DefaultConfig())

	deps := pipeline.Deps{
		Crawler:   cr,
		Snapshots: snapshots,
		Renderer:  pdf.NewRenderer(),
		Store:     store,
	}

	if config.GoogleClientID != "" && config.GoogleClientSecret != "" && config.GSCRefreshToken != "" {
		gscClient := gsc.New(config.SiteURL, config.GoogleClientID, config.GoogleClientSecret, config.GSCRefreshToken)
		deps.Search = gscClient
		deps.Inspector = inspect.New(gscClient,
			inspect.WithQuota(getEnvInt("INSPECTION_DAILY_QUOTA", inspect.DefaultDailyQuota)))
	} else {
		// Fetch runs will fail as jobs until the credentials are supplied.
		log.Warn().Msg("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET or GSC_REFRESH_TOKEN not configured, Search Console integration disabled")
	}

	if config.GA4PropertyID != "" && config.GA4RefreshToken != "" {
		deps.Engagement = analytics.New(config.GA4PropertyID, "",
			config.GoogleClientID, config.GoogleClientSecret, config.GA4RefreshToken)
		log.Info().Str("property", config.GA4PropertyID).Msg("Analytics engagement source configured")
	} else {
		log.Warn().Msg("GA4 credentials not configured, engagement data disabled")
	}

	if config.PageSpeedAPIKey != "" {
		ps := pagespeed.New(config.PageSpeedAPIKey)
		deps.Experience = ps
		log.Info().Str("strategy", ps.Strategy()).Msg("PageSpeed client configured")
	} else {
		log.Warn().Msg("PAGESPEED_API_KEY not configured, Core Web Vitals disabled")
	}

	if config.GeminiAPIKey != "" {
		deps.Summariser = llm.New(config.GeminiAPIKey)
	} else {
		log.Warn().Msg("GEMINI_API_KEY not configured, report summaries disabled")
	}

	recipients := parseRecipients(config.Recipients)
	if config.BrevoAPIKey != "" && config.EmailFromAddress != "" && len(recipients) > 0 {
		valid, err := email.ValidateRecipients(recipients)
		if err != nil {
			log.Fatal().Err(err).Msg("No valid report recipients configured")
		}
		recipients = valid
		deps.Email = email.NewSender(config.BrevoAPIKey, config.EmailFromName, config.EmailFromAddress)
	} else {
		recipients = nil
		log.Warn().Msg("Email delivery not configured, reports stay on disk")
	}

	deps.Notifier = notifications.NewNotifier(config.SlackToken, config.SlackChannel)

	return deps, pipeline.Config{
		Site:           config.SiteURL,
		SitemapURL:     config.SitemapURL,
		OutputDir:      config.OutputDir,
		Recipients:     recipients,
		LookbackDays:   getEnvInt("LOOKBACK_DAYS", 28),
		NarrativeLimit: getEnvInt("NARRATIVE_LIMIT", 0),
		CWVConcurrency: getEnvInt("CWV_CONCURRENCY", 0),
		RetentionDays:  getEnvInt("RETENTION_DAYS", 0),
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}

func parseRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "seolens").
			Logger()
	}
}
