package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	libredis "github.com/go-redis/redis"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agenticpress/homevalue-gate/internal/attom"
	"github.com/agenticpress/homevalue-gate/internal/captcha"
	"github.com/agenticpress/homevalue-gate/internal/config"
	"github.com/agenticpress/homevalue-gate/internal/events"
	"github.com/agenticpress/homevalue-gate/internal/gate"
	"github.com/agenticpress/homevalue-gate/internal/logger"
	"github.com/agenticpress/homevalue-gate/internal/lookups"
	"github.com/agenticpress/homevalue-gate/internal/metrics"
	"github.com/agenticpress/homevalue-gate/internal/ratelimit"
	"github.com/agenticpress/homevalue-gate/internal/server"
	"github.com/agenticpress/homevalue-gate/internal/summary"
	"github.com/agenticpress/homevalue-gate/internal/transient"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

// newRootCmd builds and returns the root cobra command. Extracted from main so
// that tests can invoke it directly without spawning a subprocess.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "homevalue-gate",
		Short: "Property-valuation lookup service with a layered admission gate",
		Long: `A standalone service exposing an address-lookup endpoint guarded by a
layered bot/abuse-detection pipeline: multi-tier rate limiting with
progressive blocks, honeypot and timing checks, user-agent heuristics,
request fingerprinting and optional reCAPTCHA scoring.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the service (same as running without a subcommand)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local readiness endpoint (for Docker HEALTHCHECK)",
		RunE:  runHealthcheck,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "homevalue-gate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	initLogging(cfg.LogLevel, cfg.LogFormat)

	metrics.Register()

	store, ready, err := buildTransientStore(cfg)
	if err != nil {
		return err
	}

	eventLog, err := events.Open(filepath.Join(cfg.DataDir, "security_events.db"), cfg.LogLevel == "debug" || cfg.LogLevel == "trace")
	if err != nil {
		return err
	}
	defer eventLog.Close()

	records, err := lookups.Open(filepath.Join(cfg.DataDir, "lookups.db"))
	if err != nil {
		return err
	}
	defer records.Close()

	captchaClient := captcha.NewClient(captcha.ClientConfig{SecretKey: cfg.RecaptchaSecretKey})
	g := gate.New(store, eventLog, captchaClient, gateSettings(cfg))

	valuer := attom.NewClient(attom.ClientConfig{APIKey: cfg.AttomAPIKey})

	var summarizer server.Summarizer
	if cfg.AIMode == "enabled" {
		summarizer = summary.NewClient(summary.ClientConfig{
			APIKey:       cfg.GeminiAPIKey,
			Instructions: cfg.AIInstructions,
		})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Bool("captcha", cfg.EnableCaptcha).
		Bool("advanced_protection", cfg.AdvancedProtection).
		Bool("redis", cfg.RedisAddr != "").
		Str("ai_mode", cfg.AIMode).
		Str("log_level", cfg.LogLevel).
		Msg("homevalue-gate started")

	srv := server.New(cfg, g, valuer, summarizer, records, eventLog, ready)
	return srv.Run(ctx)
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	initLogging("error", cfg.LogFormat)

	_, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("healthcheck: parse listen addr: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:"+port+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: not ready (http %d)", resp.StatusCode)
	}
	return nil
}

// buildTransientStore selects Redis when configured, otherwise the
// in-process store. Returns the readiness probe alongside.
func buildTransientStore(cfg *config.Config) (transient.Store, func(ctx context.Context) error, error) {
	if cfg.RedisAddr == "" {
		return transient.NewMemStore(), nil, nil
	}
	client := libredis.NewClient(&libredis.Options{Addr: cfg.RedisAddr})
	store := transient.NewRedisStore(client, "homevalue")
	if err := store.Ping(); err != nil {
		return nil, nil, err
	}
	ready := func(ctx context.Context) error { return store.Ping() }
	return store, ready, nil
}

func gateSettings(cfg *config.Config) gate.Settings {
	return gate.Settings{
		CaptchaEnabled:     cfg.EnableCaptcha,
		CaptchaSecretKey:   cfg.RecaptchaSecretKey,
		CaptchaThreshold:   cfg.CaptchaThreshold,
		AdvancedProtection: cfg.AdvancedProtection,
		MinFormTime:        cfg.MinFormTime,
		MaxFormTime:        cfg.MaxFormTime,
		Tiers: []ratelimit.Tier{
			{Name: "minute", Window: time.Minute, Max: cfg.RateLimitMaxMinute, Penalty: 5 * time.Minute},
			{Name: "hour", Window: time.Hour, Max: cfg.RateLimitMaxHour, Penalty: 30 * time.Minute},
			{Name: "day", Window: 24 * time.Hour, Max: cfg.RateLimitMaxDay, Penalty: 24 * time.Hour},
		},
	}
}

func initLogging(level string, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	redacted := logger.NewRedactWriter(os.Stderr)
	if format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: redacted})
	} else {
		log.Logger = zerolog.New(redacted).With().Timestamp().Logger()
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
