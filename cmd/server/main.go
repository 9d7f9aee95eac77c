package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/TimurManjosov/postguard/internal/api"
	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/auth"
	"github.com/TimurManjosov/postguard/internal/config"
	"github.com/TimurManjosov/postguard/internal/gate"
	"github.com/TimurManjosov/postguard/internal/logging"
	"github.com/TimurManjosov/postguard/internal/snapshot"
	"github.com/TimurManjosov/postguard/internal/store"
	"github.com/TimurManjosov/postguard/internal/telemetry"
	"github.com/TimurManjosov/postguard/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if cfg.AdminAPIKeyHash != "" && !auth.IsHash(cfg.AdminAPIKeyHash) {
		logger.Fatal("ADMIN_API_KEY_HASH is not a bcrypt hash; create one with `postguard keys generate`")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	st, err := store.NewStore(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	// Audit events share the posts database when there is one.
	var sink audit.Sink = audit.NewMemorySink(0)
	if pg, ok := st.(*store.PostgresStore); ok {
		sink = audit.NewPostgresSink(pg.Pool())
	}
	if len(cfg.WebhookURLs) > 0 {
		dispatcher := webhook.NewDispatcher(webhookEndpoints(cfg), webhook.Options{Logger: logger})
		dispatcher.Start()
		defer dispatcher.Close()
		sink = audit.NewMultiSink(sink, dispatcher)
		logger.WithField("endpoints", len(cfg.WebhookURLs)).Info("webhooks enabled")
	}
	auditSvc := audit.NewService(sink, audit.Options{Logger: logger})
	defer auditSvc.Close()

	if err := seedRules(ctx, st, cfg.SeedBlockedIPs, logger); err != nil {
		return err
	}

	telemetry.Init()

	srvAPI := api.NewServer(api.Options{
		Store:  st,
		Audit:  auditSvc,
		Auth:   auth.NewAuthenticator(cfg.AdminAPIKey, cfg.AdminAPIKeyHash),
		Logger: logger,
		Gate: gate.Options{
			HomeURL:       cfg.HomeURL,
			Title:         cfg.BlockedTitle,
			Message:       cfg.BlockedMessage,
			RedirectDelay: cfg.RedirectDelay,
		},
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		AlignSubnet:       cfg.AlignSubnet,
		RateLimitPerIP:    cfg.RateLimitPerIP,
		MaxRulesBytes:     cfg.MaxRulesBytes,
	})

	// initial snapshot
	if err := srvAPI.RebuildSnapshot(ctx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	snap := snapshot.Load()
	logger.WithFields(logrus.Fields{
		"rules":  snap.Rules.Len(),
		"errors": len(snap.Rules.Errors()),
		"etag":   snap.ETag,
	}).Info("blocking rules loaded")

	if cfg.IsProduction() && cfg.AdminAPIKeyHash == "" {
		logger.Warn("ADMIN_API_KEY is stored in plain text; prefer ADMIN_API_KEY_HASH")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0, // the rules stream is long-lived
		IdleTimeout:  60 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case runErr = <-errCh:
	}

	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	return runErr
}

func webhookEndpoints(cfg *config.Config) []webhook.Endpoint {
	endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
	for _, u := range cfg.WebhookURLs {
		endpoints = append(endpoints, webhook.Endpoint{
			URL:        u,
			Secret:     cfg.WebhookSecret,
			Events:     cfg.WebhookEvents,
			MaxRetries: cfg.WebhookMaxRetries,
			Timeout:    cfg.WebhookTimeout,
		})
	}
	return endpoints
}

// seedRules stores text as the rule list when none is configured yet.
// Commas are accepted as separators so a list fits in one variable.
func seedRules(ctx context.Context, st store.Store, text string, logger logrus.FieldLogger) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	settings, err := st.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if strings.TrimSpace(settings.BlockedIPs) != "" {
		return nil
	}

	text = strings.ReplaceAll(text, ",", "\n")
	if _, err := st.UpdateBlockedIPs(ctx, text); err != nil {
		return fmt.Errorf("seed blocked IPs: %w", err)
	}
	logger.WithField("lines", strings.Count(text, "\n")+1).Info("seeded blocked IP rules from BLOCKED_IPS")
	return nil
}
