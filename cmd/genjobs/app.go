package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/jdziat/campaign-genjobs/internal/config"
	"github.com/jdziat/campaign-genjobs/pkg/controller"
	"github.com/jdziat/campaign-genjobs/pkg/poller"
	"github.com/jdziat/campaign-genjobs/pkg/repository"
	"github.com/jdziat/campaign-genjobs/pkg/stats"
	"github.com/jdziat/campaign-genjobs/pkg/transport"
)

// tokenFile receives rotated tokens so the next run can reuse them.
const tokenFile = ".env.local"

// app wires the controller to the platform API and the local database.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer

	sqlDB   *sql.DB
	repo    *repository.GormRepository
	stats   *stats.GormStorage
	ctrl    *controller.Controller
	cancel  context.CancelFunc
	statsWG sync.WaitGroup
}

func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newAppWithConfig(ctx, cfg, out, nil)
}

// newAppWithConfig builds the app. A nil httpClient uses one with the
// configured request timeout.
func newAppWithConfig(ctx context.Context, cfg config.Config, out io.Writer, httpClient *http.Client) (*app, error) {
	logger := cfg.Logger()

	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}

	repo := repository.NewGormRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	statsStore := stats.NewGormStorage(db)
	if err := statsStore.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	topts := []transport.Option{
		transport.WithHTTPClient(httpClient),
		transport.WithLogger(logger),
	}
	if ts := tokenSource(cfg, httpClient, logger); ts != nil {
		topts = append(topts, transport.WithTokenSource(ts))
	}
	client := transport.New(cfg.APIURL, topts...)

	ctrl := controller.New(client,
		controller.WithRepository(repo),
		controller.WithPollInterval(cfg.PollInterval),
		controller.WithRetry(poller.RetryConfig{MaxConsecutiveFailures: cfg.MaxPollFailures}),
		controller.WithLogger(logger),
	)

	a := &app{
		cfg:    cfg,
		logger: logger,
		out:    out,
		sqlDB:  sqlDB,
		repo:   repo,
		stats:  statsStore,
		ctrl:   ctrl,
	}

	collector := stats.NewCollector(ctrl, statsStore,
		stats.WithSchedule(cfg.StatsSchedule),
		stats.WithRepository(repo),
		stats.WithLogger(logger),
	)
	statsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	errCh := make(chan error, 1)
	a.statsWG.Add(1)
	go func() {
		defer a.statsWG.Done()
		errCh <- collector.Start(statsCtx)
	}()
	select {
	case <-collector.Ready():
	case err := <-errCh:
		ctrl.Close()
		cancel()
		sqlDB.Close()
		return nil, err
	}
	return a, nil
}

// tokenSource returns nil when no credentials are configured.
func tokenSource(cfg config.Config, httpClient *http.Client, logger *slog.Logger) oauth2.TokenSource {
	switch {
	case cfg.RefreshToken != "":
		return transport.NewRefreshingTokenSource(cfg.APIURL,
			transport.Credentials{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken},
			transport.WithRefreshHTTPClient(httpClient),
			transport.OnRefresh(func(c transport.Credentials) {
				if err := config.SaveTokens(tokenFile, c.AccessToken, c.RefreshToken); err != nil {
					logger.Warn("failed to save refreshed tokens", "error", err)
				}
			}),
		)
	case cfg.AccessToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "bearer"})
	default:
		return nil
	}
}

// Close stops polling, flushes stats and closes the database.
func (a *app) Close() {
	a.ctrl.Close()
	a.cancel()
	a.statsWG.Wait()
	if err := a.sqlDB.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}
