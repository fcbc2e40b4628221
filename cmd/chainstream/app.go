package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/chainstream/internal/config"
	"github.com/rickgao/chainstream/internal/connection"
	"github.com/rickgao/chainstream/internal/database"
	"github.com/rickgao/chainstream/internal/metrics"
	"github.com/rickgao/chainstream/internal/router"
	"github.com/rickgao/chainstream/internal/stream"
	"github.com/rickgao/chainstream/internal/subscription"
	"github.com/rickgao/chainstream/internal/transport"
	"github.com/rickgao/chainstream/internal/version"
	"github.com/rickgao/chainstream/internal/writer"
)

const shutdownTimeout = 10 * time.Second

// app owns every long-lived component of one CLI invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	conn *connection.Manager
	subs *subscription.Manager

	pool   *pgxpool.Pool
	gaps   *writer.GapWriter
	nc     *nats.Conn
	relay  *router.Router
	server *http.Server

	shutdownOnce sync.Once
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	// Notifications go to stdout, so logs go to stderr.
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	mt, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	wsCfg := transport.DefaultWebSocketConfig()
	wsCfg.ReadLimit = cfg.Client.ReadLimit
	wsCfg.HandshakeTimeout = cfg.Client.ConnectionTimeout
	wsCfg.Header = handshakeHeader(cfg.Client.Headers)

	a.conn = connection.NewManager(
		cfg.Client.ConnectionConfig(),
		transport.WebSocketFactory(wsCfg, logger),
		logger,
		connection.WithMetrics(mt),
	)

	subOpts := []subscription.Option{subscription.WithMetrics(mt)}

	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		a.pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, a.pool); err != nil {
			a.pool.Close()
			return nil, err
		}
		a.gaps = writer.NewGapWriter(writer.DefaultWriterConfig(), a.pool, a.conn.ClientID(), logger)
		subOpts = append(subOpts, subscription.WithGapHandler(a.gaps.Handle))
	}

	if cfg.NATS.Enabled {
		a.nc, err = router.Dial(cfg.NATS.URL, "chainstream-"+a.conn.ClientID().String(), logger)
		if err != nil {
			a.closeStores()
			return nil, err
		}
		a.relay = router.NewRouter(router.RouterConfig{SubjectPrefix: cfg.NATS.SubjectPrefix}, a.nc, logger)
		subOpts = append(subOpts, subscription.WithGapHandler(a.relay.RouteGap))
	}

	mc, err := cfg.Subscriptions.ManagerConfig()
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.subs = subscription.NewManager(a.conn, mc, logger, subOpts...)

	if cfg.Metrics.Enabled {
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           newHTTPHandler(a, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// run connects, hands a Source to consume and tears everything down when
// consume returns or ctx is cancelled.
func (a *app) run(ctx context.Context, consume func(context.Context, stream.Source) error) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("starting metrics server", "addr", a.server.Addr, "path", a.cfg.Metrics.Path)
			if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if a.gaps != nil {
		if err := a.gaps.Start(gctx); err != nil {
			a.shutdown()
			return errors.Join(err, g.Wait())
		}
	}
	if a.relay != nil {
		if err := a.relay.Start(gctx); err != nil {
			a.shutdown()
			return errors.Join(err, g.Wait())
		}
	}

	a.logger.Info("connecting", "url", a.cfg.Client.URL, "client_id", a.conn.ClientID())
	if err := a.conn.Connect(gctx); err != nil {
		a.shutdown()
		return errors.Join(fmt.Errorf("connect: %w", err), g.Wait())
	}

	g.Go(func() error {
		defer a.shutdown()
		return consume(gctx, stream.FromManager(a.subs))
	})

	return g.Wait()
}

// shutdown releases subscriptions, closes the connection and stops the
// optional components. It runs once.
func (a *app) shutdown() {
	a.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.logger.Info("shutting down")

		if err := a.subs.UnsubscribeAll(ctx); err != nil {
			a.logger.Debug("unsubscribe on shutdown", "error", err)
		}
		if err := a.conn.Disconnect(); err != nil {
			a.logger.Debug("disconnect", "error", err)
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Warn("metrics server shutdown", "error", err)
			}
		}
		if a.relay != nil {
			_ = a.relay.Stop(ctx)
		}
		if a.gaps != nil {
			_ = a.gaps.Stop(ctx)
		}
		a.closeStores()

		a.logger.Info("stopped")
	})
}

func (a *app) closeStores() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// handshakeHeader merges configured headers over the default User-Agent.
func handshakeHeader(extra map[string]string) http.Header {
	h := make(http.Header, len(extra)+1)
	h.Set("User-Agent", version.UserAgent())
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}
