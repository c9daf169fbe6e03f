package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"PPos/data/database/mgo/mongoutil"
	"PPos/global/config"
	"PPos/logger"
	midsec "PPos/middleware/security"
	"PPos/module/chat/api"
	"PPos/module/chat/message"
	"PPos/module/chat/pos"
	"PPos/service/natsx"
	"PPos/service/storage/redis"
	"PPos/tools/errs"
	"PPos/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Error("exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errs.ErrArgs.WrapMsg("auth.jwt_secret (JWT_SECRET) is required")
	}
	log := logger.Log
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) 缓存
	cache, err := redis.Open(ctx, redis.Config{URL: cfg.Redis.URL, PoolSize: cfg.Redis.PoolSize})
	if err != nil {
		return err
	}
	defer cache.Close()

	// 2) 持久层
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3) 事件广播
	pub, closePub, err := openPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePub()

	alloc := pos.NewAllocator(cache, store, log.Named("pos"))
	svc := message.NewService(store, alloc, pub, cfg.Pos.PreviewKeepSeconds(), log.Named("message"))

	// 4) HTTP
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	jwt := security.Options{Secret: []byte(cfg.Auth.JWTSecret), Alg: cfg.Auth.Alg}
	authOpts := midsec.DefaultOptions(jwt)
	router := api.NewRouter(api.NewHandler(svc, log.Named("http")),
		midsec.Middleware(authOpts), midsec.OptionalMiddleware(authOpts))
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (message.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		s, err := message.OpenPgStore(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns, cfg.Postgres.Migrate)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store: postgres")
		return s, s.Close, nil
	case config.StoreDriverMongo:
		cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
			Uri:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		s := message.NewMongoStore(cli.GetDB())
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = cli.Close(context.Background())
			return nil, nil, err
		}
		log.Info("store: mongo", zap.String("database", cfg.Mongo.Database))
		return s, func() { _ = cli.Close(context.Background()) }, nil
	default:
		log.Warn("store: memory, data is lost on restart")
		return message.NewMemStore(), func() {}, nil
	}
}

func openPublisher(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (message.Publisher, func(), error) {
	if len(cfg.NATS.Servers) == 0 {
		log.Warn("nats servers not configured, events are not broadcast")
		return message.DiscardPublisher{}, func() {}, nil
	}
	nc := natsx.Config{
		Servers:       cfg.NATS.Servers,
		Name:          cfg.NATS.Name,
		User:          cfg.NATS.User,
		Password:      cfg.NATS.Password,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	}
	if cfg.NATS.JetStream {
		nc.Mode = natsx.JetStream
		nc.Stream = "PPOS_EVENTS"
		nc.Subjects = natsx.EventSubjects(cfg.NATS.SubjectPrefix)
	}
	client, err := natsx.NewClient(ctx, nc, log.Named("nats"))
	if err != nil {
		return nil, nil, err
	}
	bus := natsx.NewEventBus(client, cfg.NATS.SubjectPrefix, cfg.NATS.Retries, cfg.NATS.RetryBackoff)
	return bus, func() { _ = client.Close() }, nil
}
