package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"fingate.org/internal/audit"
	"fingate.org/internal/auth"
	"fingate.org/internal/authz"
	"fingate.org/internal/config"
	"fingate.org/internal/httpapi"
	"fingate.org/internal/journal"
	"fingate.org/internal/obs"
	"fingate.org/internal/period"
	"fingate.org/internal/settings"
	"fingate.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Error("fatal", map[string]any{"error": err})
		os.Exit(1)
	}
}

// stores groups the persistence backends selected by configuration.
type stores struct {
	db       *sql.DB
	users    auth.UserStore
	rbac     auth.RBACStore
	periods  period.Store
	settings settings.Store
	journal  journal.Store
	audit    audit.Tee
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.Postgres.DSN == "" {
		obs.Warn("storage_in_memory", map[string]any{"detail": "FINGATE_PG_DSN not set; state is lost on restart"})
		mem := auth.NewInMemoryStore()
		return stores{
			users:    mem,
			rbac:     mem,
			periods:  period.NewInMemory(),
			settings: settings.NewInMemory(),
			journal:  journal.NewInMemory(),
			audit:    audit.Tee{audit.LogStore{}},
		}, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := pg.Open(openCtx, cfg.Postgres.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return stores{}, err
	}
	authStore := auth.NewPGStore(db)
	return stores{
		db:       db,
		users:    authStore,
		rbac:     authStore,
		periods:  period.NewPGStore(db),
		settings: settings.NewPGStore(db),
		journal:  journal.NewPGStore(db),
		audit:    audit.Tee{audit.LogStore{}, audit.NewPGStore(db)},
	}, nil
}

func openPermissionCache(ctx context.Context, cfg config.Config) (auth.PermissionCache, func(), error) {
	if cfg.Redis.URL == "" {
		return nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return auth.NewRedisPermissionCache(client, cfg.Redis.CacheTTL), func() { _ = client.Close() }, nil
}

func openKafka(cfg config.Config) (*kgo.Client, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	return audit.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.Profile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	kafka, err := openKafka(cfg)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	if kafka != nil {
		defer kafka.Close()
		st.audit = append(st.audit, audit.NewKafkaStore(kafka, cfg.Kafka.AuditTopic))
	}
	recorder := audit.NewRecorder(st.audit)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := recorder.Close(closeCtx); err != nil {
			obs.Warn("audit_drain_incomplete", map[string]any{"error": err})
		}
	}()

	cache, closeCache, err := openPermissionCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	codec, err := auth.NewTokenCodec(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithDefaultTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(st.users, codec,
		auth.WithAudit(recorder),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return err
	}
	var rbacOpts []auth.RBACOption
	if cache != nil {
		rbacOpts = append(rbacOpts, auth.WithPermissionCache(cache))
	}
	rbac, err := auth.NewRBACService(st.rbac, rbacOpts...)
	if err != nil {
		return err
	}
	if err := rbac.EnsureBuiltins(ctx); err != nil {
		return fmt.Errorf("ensure builtin permissions: %w", err)
	}
	periods, err := period.NewGate(st.periods)
	if err != nil {
		return err
	}
	settingsSvc, err := settings.NewService(st.settings, settings.WithAudit(recorder))
	if err != nil {
		return err
	}
	journalSvc, err := journal.NewService(st.journal, rbac, periods, journal.WithAudit(recorder))
	if err != nil {
		return err
	}
	pipeline, err := authz.New(authz.Config{
		PublicPrefixes: cfg.Routes.Public,
		ExemptPrefixes: cfg.Routes.Exempt,
	}, codec, periods, authz.WithSettings(settingsSvc))
	if err != nil {
		return err
	}

	if cfg.Auth.BootstrapEmail != "" {
		if err := bootstrapAdmin(ctx, authSvc, rbac, cfg.Auth); err != nil {
			return err
		}
	}

	ready := httpapi.ReadyProbe{DB: st.db}
	api := httpapi.New(httpapi.Deps{
		Ready:    ready,
		Version:  version,
		Pipeline: pipeline,
		Auth:     authSvc,
		RBAC:     rbac,
		Periods:  periods,
		Settings: settingsSvc,
		Journal:  journalSvc,
		Audit:    recorder,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCHealth(ready)
	health.Register(grpcSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Info("http_listen", map[string]any{"addr": httpSrv.Addr, "version": version, "profile": cfg.Profile})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if cfg.GRPC.Addr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			obs.Info("grpc_listen", map[string]any{"addr": cfg.GRPC.Addr})
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return health.Run(gctx, cfg.GRPC.ProbeInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		obs.Info("shutdown_started", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	obs.Info("stopped", nil)
	return err
}

// bootstrapAdmin creates the configured administrator with a forced
// password change. Outside production only; config enforces that.
func bootstrapAdmin(ctx context.Context, authSvc *auth.Service, rbac *auth.RBACService, cfg config.AuthConfig) error {
	u, err := authSvc.EnsureUser(ctx, cfg.BootstrapEmail, cfg.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("bootstrap user: %w", err)
	}
	if err := rbac.EnsureAdmin(ctx, u.ID); err != nil {
		return fmt.Errorf("bootstrap admin role: %w", err)
	}
	obs.Info("bootstrap_admin_ready", map[string]any{"user_id": u.ID, "must_change_pass": u.MustChangePass})
	return nil
}
