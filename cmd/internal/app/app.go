// Package app wires the vidtube server runtime: config, logging, metrics,
// persistence, and the HTTP user API.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vidtube/cmd/identity"
	authapi "vidtube/cmd/internal/auth/api"
	"vidtube/cmd/internal/auth/session"
	"vidtube/cmd/internal/auth/token"
	"vidtube/cmd/internal/media"
	"vidtube/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the server runtime: it owns the HTTP server and its dependencies.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *Metrics
	users   *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	store, dbPool, dbEnabled, err := newIdentityStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	tokenCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	issuer, err := token.NewIssuer(tokenCfg)
	if err != nil {
		return nil, err
	}

	passwordCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	sessions, err := session.NewService(store, passwordCfg, issuer, log, metrics)
	if err != nil {
		return nil, err
	}

	uploads, err := newUploader(context.Background(), log)
	if err != nil {
		return nil, err
	}

	users, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), sessions, store, issuer, uploads)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		users:     users,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.users)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log, a.metrics),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newIdentityStore decides between Postgres-backed persistence and the
// in-memory dev store.
func newIdentityStore(ctx context.Context, cfg Config, log Logger) (identity.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled", "max_conns", cfg.DBMaxConns)
	return store, pool, true, nil
}

// newUploader decides between S3-backed object storage and the in-memory dev
// fallback: no bucket configured means assets stay in process memory.
func newUploader(ctx context.Context, log Logger) (media.Uploader, error) {
	mediaCfg, err := media.LoadConfigFromEnv()
	if err != nil {
		if errors.Is(err, media.ErrConfig) && EnvString("VIDTUBE_S3_BUCKET", "") == "" {
			log.Info("media.disabled.inmemory_uploader")
			return media.NewMemoryUploader(media.Config{}), nil
		}
		return nil, err
	}

	uploader, err := media.NewS3Uploader(ctx, mediaCfg)
	if err != nil {
		return nil, err
	}

	log.Info("media.enabled", "bucket", mediaCfg.Bucket)
	return uploader, nil
}
