// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/speechquota/adapters/clock"
	apihttp "github.com/artpar/speechquota/adapters/http"
	"github.com/artpar/speechquota/adapters/idgen"
	"github.com/artpar/speechquota/adapters/metrics"
	"github.com/artpar/speechquota/app"
	"github.com/artpar/speechquota/config"
	"github.com/artpar/speechquota/ports"
)

// shutdownTimeout bounds graceful shutdown; in-flight waits are cut short.
const shutdownTimeout = 30 * time.Second

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Store      *Store
	Quota      *app.QuotaService
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	holder *config.Holder
}

// Options provides optional dependencies for application initialization.
type Options struct {
	// Holder enables hot reload of the plan catalog and quota settings.
	Holder *config.Holder
	// Clock defaults to the system clock.
	Clock ports.Clock
	// Logger defaults to one built from the logging section.
	Logger *zerolog.Logger
	// Build is reported by /version.
	Build apihttp.BuildInfo
}

// New creates and initializes the application.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = SetupLogger(cfg.Logging, os.Stdout)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	logger.Info().Str("version", opts.Build.Version).Msg("initializing speechquota")

	a := &App{Logger: logger, Config: cfg, holder: opts.Holder}

	store, err := OpenStore(ctx, cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.Store = store

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		logger.Info().Msg("prometheus metrics enabled")
	}

	svc, err := NewQuotaService(cfg, store, clk, a.Metrics, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init quota service: %w", err)
	}
	a.Quota = svc

	if opts.Holder != nil {
		a.watchConfig(opts.Holder)
	}

	router := apihttp.NewRouter(
		apihttp.NewQuotaHandler(svc, clk, logger),
		apihttp.NewWaitStreamHandler(svc.Waits(), clk, idgen.UUID{Prefix: "ws_"}, a.Metrics, logger),
		apihttp.NewHealthHandler(store),
		logger,
		apihttp.RouterConfig{
			Metrics:        a.Metrics,
			MetricsHandler: metricsHandler,
			Build:          opts.Build,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
	)

	a.HTTPServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// NewQuotaService builds the quota service over an opened store.
// m may be nil.
func NewQuotaService(cfg *config.Config, store *Store, clk ports.Clock, m *metrics.Collector, logger zerolog.Logger) (*app.QuotaService, error) {
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return nil, err
	}

	deps := app.QuotaDeps{
		Ledger:        store.Ledger,
		Subscriptions: store.Subscriptions,
		Clock:         clk,
		IDGen:         idgen.UUID{Prefix: "adm_"},
		Logger:        logger,
	}
	if m != nil {
		deps.Metrics = m
	}

	return app.NewQuotaService(deps, app.QuotaConfig{
		Catalog:      catalog,
		Enforcement:  cfg.EnforceMode(),
		NearLimitPct: cfg.Quota.NearLimitPct,
	})
}

// watchConfig swaps the catalog and quota settings whenever the holder
// reloads. A config the service rejects keeps the old one in place.
func (a *App) watchConfig(h *config.Holder) {
	h.OnChange(func(cfg *config.Config) error {
		catalog, err := cfg.BuildCatalog()
		if err != nil {
			return err
		}
		if err := a.Quota.UpdateConfig(app.QuotaConfig{
			Catalog:      catalog,
			Enforcement:  cfg.EnforceMode(),
			NearLimitPct: cfg.Quota.NearLimitPct,
		}); err != nil {
			return err
		}
		a.Logger.Info().Int("plans", catalog.Len()).Str("enforcement", string(cfg.EnforceMode())).Msg("plan catalog swapped")
		return nil
	})
	if a.Metrics != nil {
		h.OnReload(a.Metrics.RecordConfigReload)
	}
}

// Run starts the HTTP server and config watchers, and blocks until ctx is
// cancelled, SIGINT/SIGTERM arrives, or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.HTTPServer.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the application on ln until ctx is done.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Str("addr", ln.Addr().String()).Msg("starting http server")
		if err := a.HTTPServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops the application. It is safe to call more than once.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("storage close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// SetupLogger builds the process logger from the logging section.
func SetupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "speechquota").Logger()
}
