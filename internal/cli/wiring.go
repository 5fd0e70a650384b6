package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/ppiankov/patfam/internal/aggregate"
	"github.com/ppiankov/patfam/internal/cache"
	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/metrics"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/pubchem"
	"github.com/ppiankov/patfam/internal/source"
	"github.com/ppiankov/patfam/internal/source/epo"
	"github.com/ppiankov/patfam/internal/source/inpi"
	"github.com/ppiankov/patfam/internal/source/serpapi"
	"github.com/ppiankov/patfam/internal/worker"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// loadConfig overlays the viper settings on the defaults and applies the
// credential environment variables
func loadConfig(v *viper.Viper, getenv func(string) string) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applySecrets(cfg, getenv)
	if v.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// applySecrets reads API credentials from the environment; they win over the file
func applySecrets(cfg *model.Config, getenv func(string) string) {
	if keys := getenv("SERPAPI_KEYS"); keys != "" {
		cfg.Sources.SerpAPI.Keys = nil
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Sources.SerpAPI.Keys = append(cfg.Sources.SerpAPI.Keys, k)
			}
		}
	} else if key := getenv("SERPAPI_KEY"); key != "" {
		cfg.Sources.SerpAPI.Keys = []string{key}
	}
	if key := getenv("EPO_OPS_KEY"); key != "" {
		cfg.Sources.EPO.Key = key
	}
	if secret := getenv("EPO_OPS_SECRET"); secret != "" {
		cfg.Sources.EPO.Secret = secret
	}
}

// runtime is everything a command needs to run aggregations
type runtime struct {
	cfg          *model.Config
	log          logging.Logger
	orchestrator *aggregate.Orchestrator
	server       *http.Server
}

// buildRuntime wires logger, metrics, governor, sources, cache and orchestrator
func buildRuntime(ctx context.Context, cfg *model.Config) (*runtime, error) {
	log, err := logging.NewLogger(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	rt := &runtime{cfg: cfg, log: log}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		rt.server = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", logging.Err(err))
			}
		}()
		log.Info("serving metrics", logging.String("addr", cfg.Metrics.Addr))
	}

	budgets := make(map[string]worker.Budget, len(cfg.Rates))
	for name, r := range cfg.Rates {
		budgets[name] = worker.Budget{MaxConcurrent: r.MaxConcurrent, MinInterval: r.MinInterval}
	}
	governor := worker.NewGovernor(budgets, worker.WithWaitObserver(m.ObserveWait))

	fetcher := source.NewFetcher(cfg.HTTP)
	clients, err := buildClients(cfg, fetcher, log)
	if err != nil {
		rt.close()
		return nil, err
	}

	lookupCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	for i, c := range clients {
		clients[i] = source.NewCached(c, lookupCache, cfg.Cache.TTL, source.WithCallTimeout(cfg.Run.CallTimeout))
	}

	opts := []aggregate.Option{
		aggregate.WithGovernor(governor),
		aggregate.WithLogger(log),
		aggregate.WithMetrics(m),
	}
	if cfg.Sources.PubChem.Enabled {
		opts = append(opts, aggregate.WithResolver(pubchem.NewResolver(cfg.Sources.PubChem.BaseURL, fetcher, log)))
	}

	o, err := aggregate.New(cfg, clients, opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.orchestrator = o
	return rt, nil
}

// buildClients creates the enabled source adapters. Adapters without
// credentials are skipped with a warning.
func buildClients(cfg *model.Config, fetcher *source.Fetcher, log logging.Logger) ([]source.Client, error) {
	var clients []source.Client

	if cfg.Sources.SerpAPI.Enabled {
		serpCfg := cfg.Sources.SerpAPI
		if serpCfg.RelatedJurisdiction == "" {
			serpCfg.RelatedJurisdiction = cfg.Subset.Jurisdiction
		}
		c, err := serpapi.New(serpCfg, fetcher, log)
		switch {
		case errors.Is(err, serpapi.ErrNoKeys):
			log.Warn("serpapi disabled: set SERPAPI_KEYS")
		case err != nil:
			return nil, err
		default:
			clients = append(clients, c)
		}
	}

	if cfg.Sources.EPO.Enabled {
		c, err := epo.New(cfg.Sources.EPO, fetcher, log)
		switch {
		case errors.Is(err, epo.ErrNoCredentials):
			log.Warn("epo disabled: set EPO_OPS_KEY and EPO_OPS_SECRET")
		case err != nil:
			return nil, err
		default:
			clients = append(clients, c)
		}
	}

	if cfg.Sources.INPI.Enabled {
		robots := source.NewRobotsChecker(fetcher.HTTPClient(), cfg.HTTP.UserAgent)
		opts := []inpi.Option{inpi.WithRobots(robots)}
		if r, ok := cfg.Rates[inpi.Name]; ok {
			opts = append(opts, inpi.WithPacing(r.MinInterval))
		}
		clients = append(clients, inpi.New(cfg.Sources.INPI, fetcher, log, opts...))
	}

	if len(clients) == 0 {
		return nil, errors.New("no source is enabled")
	}
	hasEngine := false
	for _, c := range clients {
		if c.Kind() == source.KindSearchEngine {
			hasEngine = true
		}
	}
	if !hasEngine {
		log.Warn("no search engine configured; seeding will find no roots")
	}
	return clients, nil
}

func (rt *runtime) close() {
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.server.Shutdown(ctx)
	}
	_ = rt.log.Sync()
}

// setupRuntime loads the config from viper and the environment and applies overrides
func setupRuntime(ctx context.Context, override func(*model.Config)) (*runtime, error) {
	cfg, err := loadConfig(viper.GetViper(), os.Getenv)
	if err != nil {
		return nil, err
	}
	applyGlobalFlags(cfg)
	if override != nil {
		override(cfg)
	}
	return buildRuntime(ctx, cfg)
}

// applyGlobalFlags copies the persistent flags that were set into cfg
func applyGlobalFlags(cfg *model.Config) {
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
}
