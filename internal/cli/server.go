package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nova-battle-service/internal/app"
	"nova-battle-service/internal/config"
	"nova-battle-service/internal/infra/kafka"
	"nova-battle-service/internal/infra/memory"
	"nova-battle-service/internal/infra/mongo"
	"nova-battle-service/internal/infra/postgres"
	redisstore "nova-battle-service/internal/infra/redis"
	"nova-battle-service/internal/metrics"
	transport "nova-battle-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
	cmd.Flags().StringVar(port, "port", os.Getenv("PORT"), "port to listen on (overrides server.port)")
	return cmd
}

// deps holds everything the server opened, so it can be closed in reverse order.
type deps struct {
	battles   app.BattleStore
	users     app.UserStore
	bank      app.QuestionBank
	sessions  app.SessionRepository
	publisher app.EventPublisher
	closers   []func() error
}

func (d *deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func (d *deps) close(log *zap.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn("close dependency", zap.Error(err))
		}
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := openDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close(log)

	opts := []app.Option{
		app.WithSettings(cfg.Settings()),
		app.WithLogger(log.Named("battle")),
	}
	if d.publisher != nil {
		opts = append(opts, app.WithPublisher(d.publisher))
	}
	var handlerOpts []transport.HandlerOption
	handlerOpts = append(handlerOpts, transport.WithLogger(log.Named("http")))
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, app.WithRecorder(metrics.NewRecorder(reg)))
		handlerOpts = append(handlerOpts, transport.WithMetrics(metrics.Handler(reg)))
	}

	service := app.NewBattleService(d.battles, d.users, d.bank, opts...)
	handler := transport.NewHandler(service, d.sessions, transport.Config{
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.Auth.SecureCookie,
		SessionTTL:   config.TTLDuration(cfg.Auth.SessionTTL, 24*time.Hour),
		DevLogin:     cfg.Auth.DevLogin,
	}, handlerOpts...)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting battle service",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openDeps(ctx context.Context, cfg config.Config, log *zap.Logger) (*deps, error) {
	d := &deps{}
	fail := func(err error) (*deps, error) {
		d.close(log)
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.onClose(redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
	}

	var db *bun.DB
	if cfg.Postgres.URL != "" {
		db = postgres.Open(cfg.Postgres.URL)
		d.onClose(db.Close)
		if err := runMigrations(ctx, db, log); err != nil {
			return fail(err)
		}
	}

	switch cfg.Store.Driver {
	case config.DriverRedis:
		d.battles = redisstore.NewBattleStore(redisClient)
		d.users = redisstore.NewUserStore(redisClient)
	case config.DriverPostgres:
		d.battles = postgres.NewBattleStore(db)
		d.users = postgres.NewUserStore(db)
	case config.DriverMongo:
		mdb, disconnect, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return fail(err)
		}
		d.onClose(func() error { return disconnect(context.Background()) })
		battles := mongo.NewBattleStore(mdb)
		if err := battles.EnsureIndexes(ctx); err != nil {
			return fail(fmt.Errorf("mongo indexes: %w", err))
		}
		d.battles = battles
		d.users = mongo.NewUserStore(mdb)
	default:
		d.battles = memory.NewBattleStore()
		d.users = memory.NewUserStore()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(fmt.Errorf("connect pgx pool: %w", err))
		}
		d.onClose(func() error {
			pool.Close()
			return nil
		})
		loader = postgres.NewQuestionLoader(pool)
	}
	questionTTL := config.TTLDuration(cfg.Battle.QuestionTTL, 10*time.Minute)
	if redisClient != nil {
		d.bank = redisstore.NewQuestionCache(redisClient, loader, questionTTL)
	} else {
		d.bank = memory.NewQuestionCache(loader, questionTTL)
	}

	sessionTTL := config.TTLDuration(cfg.Auth.SessionTTL, 24*time.Hour)
	if redisClient != nil {
		d.sessions = redisstore.NewSessionStore(redisClient, sessionTTL)
	} else {
		d.sessions = memory.NewSessionStore(sessionTTL)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
		if err != nil {
			return fail(err)
		}
		d.onClose(pub.Close)
		d.publisher = pub
	}
	return d, nil
}
