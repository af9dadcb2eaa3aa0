package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/wayfarerhq/gandalf/internal"
	"github.com/wayfarerhq/gandalf/internal/analytics"
	"github.com/wayfarerhq/gandalf/internal/app"
	"github.com/wayfarerhq/gandalf/internal/auth"
	"github.com/wayfarerhq/gandalf/internal/circuitbreaker"
	"github.com/wayfarerhq/gandalf/internal/cloudauth"
	"github.com/wayfarerhq/gandalf/internal/config"
	"github.com/wayfarerhq/gandalf/internal/costcap"
	"github.com/wayfarerhq/gandalf/internal/images"
	"github.com/wayfarerhq/gandalf/internal/pricing"
	"github.com/wayfarerhq/gandalf/internal/provider"
	"github.com/wayfarerhq/gandalf/internal/provider/anthropic"
	"github.com/wayfarerhq/gandalf/internal/provider/elevenlabs"
	"github.com/wayfarerhq/gandalf/internal/provider/openai"
	"github.com/wayfarerhq/gandalf/internal/provider/replicate"
	"github.com/wayfarerhq/gandalf/internal/provider/xai"
	"github.com/wayfarerhq/gandalf/internal/ratelimit"
	"github.com/wayfarerhq/gandalf/internal/server"
	"github.com/wayfarerhq/gandalf/internal/session"
	"github.com/wayfarerhq/gandalf/internal/storage/sqlite"
	"github.com/wayfarerhq/gandalf/internal/telemetry"
	"github.com/wayfarerhq/gandalf/internal/tower"
	"github.com/wayfarerhq/gandalf/internal/usagelog"
	"github.com/wayfarerhq/gandalf/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("starting gandalf", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("database opened", "dsn", cfg.Database.DSN)

	ctx := context.Background()

	// Shared DNS cache for every provider HTTP client.
	dnsResolver := &dnscache.Resolver{}
	dnsCtx, dnsCancel := context.WithCancel(ctx)
	defer dnsCancel()
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				dnsResolver.Refresh(true)
			case <-dnsCtx.Done():
				return
			}
		}
	}()

	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		prov, err := buildProvider(ctx, p, dnsResolver)
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
		if prov == nil {
			slog.Warn("unknown provider type, skipping", "name", p.Name, "type", p.ResolvedType())
			continue
		}
		reg.Register(p.Name, prov)
		slog.Info("provider registered", "name", p.Name, "type", p.ResolvedType(), "hosting", p.Hosting, "auth", p.ResolvedAuthType())
	}

	cat := cfg.BuildCatalog()
	priceTable := pricing.New(nil)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	usageLogger := usagelog.New(store)

	pipeline := app.NewPipeline(cat, reg, priceTable, usageLogger, breakers, nil, cfg.DefaultProviderKeys())

	sessions, err := session.New(cfg.Session.MaxHotEntries)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	platformIssuers := cfg.BuildPlatformIssuers()
	authenticator := auth.New(cfg.Auth.OperatorKey, []byte(cfg.Auth.SigningSecret), platformIssuers, sessions, store)

	analyticsSvc := analytics.New(store, store)

	ceilings := cfg.BuildCeilings()
	costCap := costcap.New(store, ceilings)

	rateLimiter := ratelimit.NewRegistry()

	var towerSandbox *tower.Sandbox
	if len(cfg.Tower.Agents) > 0 {
		towerSandbox = tower.New(cfg.BuildTowerProfiles(), cat, reg, priceTable)
	}

	var imageRegistry *images.Registry
	if cfg.Images.Enabled {
		imageRegistry = images.New(store, http.DefaultClient, cfg.Images.BaseDir, cfg.Images.URLPrefix)
		imageRegistry.MaxPerUser = cfg.Images.MaxPerUser
	}

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("gandalf/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	handler := server.New(server.Deps{
		Pipeline:            pipeline,
		Auth:                authenticator,
		Sessions:            sessions,
		Catalog:             cat,
		Users:               store,
		Tower:               towerSandbox,
		Analytics:           analyticsSvc,
		Images:              imageRegistry,
		RateLimiter:         rateLimiter,
		CostCap:             costCap,
		Ceilings:            ceilings,
		Metrics:             metrics,
		MetricsHandler:      metricsHandler,
		Tracer:              tracer,
		ReadyCheck:          store.Ping,
		DefaultProviderKeys: cfg.DefaultProviderKeys(),
		EnableAppleAuth:     len(platformIssuers) > 0,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	var agentTracker worker.AgentTracker
	if towerSandbox != nil {
		agentTracker = towerSandbox
	}
	var imageCuller worker.ImageCuller
	if imageRegistry != nil {
		imageCuller = imageRegistry
	}
	reaper := worker.NewReaperWorker(sessions, rateLimiter, agentTracker, imageCuller, cfg.Images.MaxAge)
	runner := worker.NewRunner(usageLogger, reaper)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("gandalf ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("gandalf stopped")
	return nil
}

// buildProvider constructs the gateway.Provider adapter for one config
// entry, choosing the auth transport chain per ResolvedAuthType and the
// adapter family per ResolvedType.
func buildProvider(ctx context.Context, p config.ProviderEntry, resolver *dnscache.Resolver) (gateway.Provider, error) {
	switch p.ResolvedType() {
	case "anthropic":
		client, err := anthropicHTTPClient(ctx, p, resolver)
		if err != nil {
			return nil, err
		}
		if p.Hosting != "" {
			return anthropic.NewWithHosting(p.BaseURL, client, p.Hosting, p.Region, p.Project), nil
		}
		return anthropic.New(p.BaseURL, client), nil
	case "openai":
		return openai.New(p.ResolvedAPIKey(), p.BaseURL, resolver), nil
	case "xai":
		return xai.New(p.ResolvedAPIKey(), p.BaseURL, resolver), nil
	case "replicate":
		return replicate.New(p.ResolvedAPIKey(), p.BaseURL, resolver), nil
	case "elevenlabs":
		return elevenlabs.New(p.ResolvedAPIKey(), p.BaseURL, resolver), nil
	default:
		return nil, nil
	}
}

// anthropicHTTPClient builds the *http.Client the Anthropic adapter needs,
// with its auth transport chosen by ResolvedAuthType: a direct API key
// header, or Vertex OAuth2 for gcp_oauth. The aws_sigv4 (Bedrock) auth
// type returns an error; no SigV4 transport is built from config.
func anthropicHTTPClient(ctx context.Context, p config.ProviderEntry, resolver *dnscache.Resolver) (*http.Client, error) {
	base := provider.NewTransport(resolver, true)

	var transport http.RoundTripper
	switch p.ResolvedAuthType() {
	case "gcp_oauth":
		t, err := cloudauth.NewGCPOAuthTransport(ctx, base, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, fmt.Errorf("gcp oauth: %w", err)
		}
		transport = t
	case "aws_sigv4":
		return nil, fmt.Errorf("bedrock hosting requires an aws.CredentialsProvider, not yet wired from config")
	default:
		key := p.ResolvedAPIKey()
		if key == "" {
			transport = base
		} else {
			transport = &cloudauth.APIKeyTransport{Key: key, HeaderName: "x-api-key", Base: base}
		}
	}
	client := &http.Client{Transport: transport}
	if p.TimeoutMs > 0 {
		client.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	} else {
		client.Timeout = 30 * time.Second
	}
	return client, nil
}
