// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"amplify/internal/ads"
	"amplify/internal/api"
	"amplify/internal/config"
	"amplify/internal/engagement"
	"amplify/internal/lock"
	"amplify/internal/logging"
	"amplify/internal/metrics"
	"amplify/internal/model"
	"amplify/internal/platform"
	"amplify/internal/resilience"
	"amplify/internal/scheduler"
	"amplify/internal/store/sqlitestore"
)

// App holds the wired components. Close releases the database.
type App struct {
	Config    config.Config
	DB        *sqlitestore.DB
	Adapters  *platform.Registry
	Breakers  *resilience.Breakers
	Scheduler *scheduler.Scheduler
	Syncer    *engagement.Syncer
	Ads       *ads.Engine
}

// New opens storage and builds every component from cfg. Adapters may be
// nil, in which case the four HTTP platform adapters are used.
func New(cfg config.Config, adapters *platform.Registry) (*App, error) {
	db, err := sqlitestore.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	if adapters == nil {
		adapters = Adapters(cfg.Platforms)
	}
	breakers := resilience.NewBreakers(cfg.Resilience.Default)
	for target, bc := range cfg.Resilience.Targets {
		breakers.Configure(target, bc)
	}
	creds := Credentials(cfg.Credentials)
	locks := lock.NewKeyed()

	sched := scheduler.New(db, adapters, creds, breakers, locks, scheduler.Options{
		Workers:      cfg.Scheduler.Workers,
		PollInterval: cfg.Scheduler.PollInterval,
		BaseBackoff:  cfg.Scheduler.BaseBackoff,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		Retention:    cfg.Scheduler.Retention,
	})
	syncer := engagement.New(db, adapters, creds, locks, engagement.Options{
		Lookback:   cfg.Sync.Lookback,
		Interval:   cfg.Sync.Interval,
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
	})
	campaigner := ads.NewHTTPCampaigner(cfg.Ads.GatewayURL, cfg.Ads.GatewayToken, nil)
	engine := ads.NewEngine(db, ads.StaticBrands(cfg.BrandMap()), campaigner, breakers, locks, ads.Options{
		MaxRetries: cfg.Ads.MaxRetries,
		RetryDelay: cfg.Ads.RetryDelay,
	})
	if cfg.Ads.AutoEscalate {
		syncer.SetEscalator(engine)
	}
	return &App{
		Config:    cfg,
		DB:        db,
		Adapters:  adapters,
		Breakers:  breakers,
		Scheduler: sched,
		Syncer:    syncer,
		Ads:       engine,
	}, nil
}

func (a *App) Close() error { return a.DB.Close() }

// Adapters builds the HTTP adapters for the four platforms.
func Adapters(p config.PlatformsConfig) *platform.Registry {
	opts := func(c config.PlatformConfig) platform.Options {
		return platform.Options{BaseURL: c.BaseURL, Timeout: c.Timeout, RPS: c.RPS, Burst: c.Burst}
	}
	return platform.NewRegistry(
		platform.NewTwitter(opts(p.Twitter)),
		platform.NewLinkedIn(opts(p.LinkedIn)),
		platform.NewFacebook(opts(p.Facebook)),
		platform.NewInstagram(opts(p.Instagram), p.InstagramSettle),
	)
}

// Credentials serves the configured tokens to every owner.
func Credentials(c config.CredentialsConfig) platform.StaticCredentials {
	out := platform.StaticCredentials{}
	add := func(name string, a config.AccountCredentials) {
		if a.Token != "" {
			out[name] = platform.Credentials{AccessToken: a.Token, AccountID: a.AccountID}
		}
	}
	add(model.PlatformTwitter, c.Twitter)
	add(model.PlatformLinkedIn, c.LinkedIn)
	add(model.PlatformFacebook, c.Facebook)
	add(model.PlatformInstagram, c.Instagram)
	return out
}

// Handler returns the HTTP handler set backed by the app.
func (a *App) Handler() *api.Handler {
	return &api.Handler{Posts: a.DB, Publisher: a.Scheduler, Syncer: a.Syncer, Ads: a.Ads, Breakers: a.Breakers}
}

// Serve runs the publish workers, the sync loop and the HTTP API until ctx
// is cancelled or one of them fails. It returns once all three stopped.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	metrics.StartServer(a.Config.Server.MetricsAddr)
	srv := &http.Server{Addr: a.Config.Server.Addr, Handler: api.NewRouter(a.Handler()), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 3)
	go func() { errc <- a.Scheduler.Run(ctx) }()
	go func() { errc <- a.Syncer.RunLoop(ctx, a.Config.Sync.Interval) }()
	go func() {
		logging.Info("http_listen", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	var first error
	pending := 3
	select {
	case <-ctx.Done():
	case first = <-errc:
		pending--
	}
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	for ; pending > 0; pending-- {
		<-errc
	}
	if first != nil && !errors.Is(first, context.Canceled) && !errors.Is(first, context.DeadlineExceeded) {
		return first
	}
	return nil
}
