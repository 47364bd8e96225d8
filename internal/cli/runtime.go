package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"scriptorium/internal/app"
	"scriptorium/internal/compare"
	"scriptorium/internal/config"
	"scriptorium/internal/content"
	"scriptorium/internal/gitrepo"
	"scriptorium/internal/lock"
	"scriptorium/internal/search"
	"scriptorium/internal/store"
)

// runtime holds every collaborator a command needs, opened from one Config.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *sql.DB
	content content.Store
	git     *gitrepo.Service
	search  *search.Service
	service *app.Service
	closers []func()
}

func openRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger, migrate bool) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	fail := func(err error) (*runtime, error) {
		rt.Close()
		return nil, err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("database connection failed: %w", err))
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	if migrate {
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			return fail(fmt.Errorf("migrations failed: %w", err))
		}
	}

	contentStore, gitService, err := newContentStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	rt.content, rt.git = contentStore, gitService

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		rt.closers = append(rt.closers, meiliClient.Close)
	}
	rt.search = search.NewService(meiliClient, search.NewPgFTS(db), logger)

	locker, err := newLocker(cfg, logger)
	if err != nil {
		return fail(err)
	}
	if redisLocker, ok := locker.(*lock.RedisLocker); ok {
		rt.closers = append(rt.closers, func() { _ = redisLocker.Close() })
	}

	dataStore := store.NewPostgresStore(db)
	executor := compare.NewExecutor(dataStore, contentStore, rt.search, logger)
	rt.service = app.New(cfg, dataStore, contentStore, executor, locker, rt.search, logger)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// newContentStore selects the content backend. The git service is also returned when it is
// the backend, for revision history.
func newContentStore(ctx context.Context, cfg config.Config) (content.Store, *gitrepo.Service, error) {
	switch cfg.ContentBackend {
	case config.ContentBackendFS, "":
		if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data root: %w", err)
		}
		return content.NewFSStore(cfg.DataRoot), nil, nil
	case config.ContentBackendGit:
		if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data root: %w", err)
		}
		gitService := gitrepo.New(cfg.DataRoot)
		return gitService, gitService, nil
	case config.ContentBackendS3:
		s3Store, err := content.NewS3Store(ctx, content.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3Store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown content backend %q", cfg.ContentBackend)
	}
}

// newLocker uses Redis when configured so merges are serialized across instances.
func newLocker(cfg config.Config, logger *zap.Logger) (lock.Locker, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("using in-process merge lock")
		return lock.NewLocalLocker(), nil
	}
	locker, err := lock.NewRedisLocker(cfg.RedisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("using redis merge lock")
	return locker, nil
}
