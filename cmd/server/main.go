package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/franckalain/nutriratio/internal/alternatives"
	"github.com/franckalain/nutriratio/internal/config"
	"github.com/franckalain/nutriratio/internal/database"
	"github.com/franckalain/nutriratio/internal/imagestore"
	"github.com/franckalain/nutriratio/internal/lock"
	"github.com/franckalain/nutriratio/internal/logger"
	"github.com/franckalain/nutriratio/internal/ml"
	"github.com/franckalain/nutriratio/internal/scan"
	"github.com/franckalain/nutriratio/internal/server"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	db, err := database.NewSQLiteDB(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	model, err := ml.NewModel(cfg.ML)
	if err != nil {
		return err
	}
	if err := model.Load(ctx); err != nil {
		return err
	}
	defer model.Close()

	images, closeImages, err := newImageStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeImages()

	locker, closeLocker := newLocker(cfg, log)
	defer closeLocker()

	policy := cfg.RetryPolicy()

	var finder alternatives.Finder
	if cfg.Analytics.BaseURL != "" {
		finder = alternatives.NewClient(cfg.Analytics.BaseURL, cfg.AnalyticsTimeout(), policy, log)
	}

	svc := scan.NewService(db, model, images, finder, locker, scan.Options{
		Rules:           cfg.Validation,
		Retry:           policy,
		AnalysisTimeout: cfg.AnalysisTimeout(),
	}, log)

	log.WithFields(logrus.Fields{
		"ml":      cfg.ML.Type,
		"storage": cfg.Storage.Type,
		"redis":   cfg.Redis.Address != "",
	}).Info("services ready")

	srv := server.New(svc, log, cfg.Server.StaticDir, cfg.Server.Debug)
	return srv.Start(ctx, cfg.Server.Port, cfg.ShutdownTimeout())
}

func newImageStore(ctx context.Context, cfg *config.Config) (imagestore.Store, func(), error) {
	if cfg.Storage.Type == "gcs" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return imagestore.NewGCSStore(client, cfg.Storage.Bucket), func() { client.Close() }, nil
	}
	store, err := imagestore.NewLocalStore(cfg.Storage.LocalDir)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func newLocker(cfg *config.Config, log logrus.FieldLogger) (lock.Locker, func()) {
	if cfg.Redis.Address == "" {
		return lock.NewLocalLocker(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return lock.NewRedisLocker(rdb, "nutriratio", cfg.LockTTL(), log), func() { rdb.Close() }
}
