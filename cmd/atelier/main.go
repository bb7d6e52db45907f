// Command atelier runs the agent platform console: the web UI, the
// run worker and the schedule ticker in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/tessellate-ai/atelier/internal/config"
	"github.com/tessellate-ai/atelier/internal/runner"
	"github.com/tessellate-ai/atelier/internal/scheduler"
	"github.com/tessellate-ai/atelier/internal/service"
	"github.com/tessellate-ai/atelier/internal/store"
	"github.com/tessellate-ai/atelier/internal/web"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	worker := runner.New(st, log, runner.Options{
		Concurrency:  cfg.RunnerConcurrency,
		PollInterval: cfg.RunnerPollInterval,
	})
	svc := service.New(st, log, worker.Handles())
	ticker := scheduler.New(st, log, cfg.SchedulerInterval, worker)
	app := web.NewApp(st, svc, log, web.Options{
		Snapshot:        cfg.Snapshot(),
		RefreshInterval: cfg.RefreshInterval,
		PageSize:        cfg.PageSize,
		Trigger:         worker,
	})

	go worker.Run(ctx)
	go ticker.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	log.Info("listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("stopped")
	return nil
}

// openStore picks Postgres when DATABASE_URL is set, the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("no DATABASE_URL, using in-memory store")
		mem := store.NewMemoryStore()
		if cfg.DemoSeed {
			if err := seedDemo(ctx, mem, log); err != nil {
				return nil, nil, err
			}
		}
		return mem, func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	poolCfg.MaxConns = int32(cfg.DBPoolSize)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPGStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("connected to postgres", "pool_size", cfg.DBPoolSize)
	return pg, pool.Close, nil
}

// seedDemo populates the in-memory store with a usable starting point:
// an admin account and a provider/model pair the studio can run on.
func seedDemo(ctx context.Context, st *store.MemoryStore, log *slog.Logger) error {
	const password = "atelier-demo"
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin, err := st.CreateUser(ctx, &store.User{
		Email:        "admin@atelier.local",
		Name:         "Admin",
		PasswordHash: string(hash),
		IsAdmin:      true,
	})
	if err != nil {
		return err
	}

	provider, err := st.CreateProvider(ctx, &store.Provider{
		OwnerID:      admin.ID,
		Name:         "Anthropic",
		Kind:         store.ProviderAnthropic,
		APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		InstanceWide: true,
		Active:       true,
	})
	if err != nil {
		return err
	}
	model, err := st.CreateModel(ctx, &store.Model{
		ProviderID:    provider.ID,
		OwnerID:       admin.ID,
		Name:          "Claude Sonnet",
		UpstreamID:    "claude-sonnet-4-5",
		ContextWindow: 200000,
		InstanceWide:  true,
		Active:        true,
	})
	if err != nil {
		return err
	}
	if _, err := st.CreateAgent(ctx, &store.Agent{
		OwnerID:      admin.ID,
		Name:         "Assistant",
		Description:  "General purpose assistant",
		SystemPrompt: "You are a helpful assistant.",
		ModelID:      model.ID,
		ToolServers:  []store.Ref{store.BuiltinRef("file_store")},
	}); err != nil {
		return err
	}

	log.Info("demo data seeded", "email", admin.Email, "password", password)
	return nil
}
