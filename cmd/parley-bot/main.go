// parley-bot is a minimal deployment of the conversation pipeline: a
// Telegram transport long-polling into an Orchestrator, with optional
// Postgres persistence and OTEL observability, all driven by parley.toml.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	parley "github.com/parley-go/parley"
	"github.com/parley-go/parley/observer"
	"github.com/parley-go/parley/store/postgres"
	"github.com/parley-go/parley/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := parley.LoadConfig(os.Getenv("PARLEY_CONFIG"))

	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}

	// Store: Postgres when configured, in-memory otherwise.
	var store parley.Store = parley.NewMemoryStore()
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("postgres connect: %v", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("store init: %v", err)
	}

	opts := append(cfg.Options(),
		parley.WithLogger(logger),
		parley.WithIdentityResolver(parley.NewStoreIdentityResolver(store)),
	)

	// Observability (opt-in via config).
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(context.Background())
		opts = append(opts, parley.WithTracer(observer.NewTracer()))
		logger.Info("observability enabled", "endpoint", cfg.Observer.Endpoint)
	}

	orch := parley.New(store, opts...)
	defer orch.Close()

	tg := telegram.New("telegram-main", token, telegram.WithLogger(logger))
	if err := orch.RegisterChannel(tg); err != nil {
		log.Fatalf("register telegram: %v", err)
	}
	registerGuards(orch, logger)

	if inst != nil {
		detach := observer.Attach(orch, inst)
		defer detach()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Room timers (inactivity pause, auto close).
	ticker := parley.NewTimerTicker(orch,
		parley.WithTimerInterval(time.Duration(cfg.Timers.IntervalSeconds)*time.Second),
		parley.WithTimerLogger(logger))
	g.Go(func() error { return ticker.Start(gctx) })

	// Inbound long-poll loop.
	g.Go(func() error {
		return tg.Poll(gctx, func(ctx context.Context, msg parley.InboundMessage) error {
			out, err := orch.ProcessInbound(ctx, msg)
			if err != nil {
				return err
			}
			if out.Blocked {
				logger.Info("inbound blocked",
					"room_id", out.Event.RoomID, "reason", out.BlockedReason)
			}
			return nil
		})
	})

	logger.Info("parley-bot running")
	if err := g.Wait(); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// registerGuards wires the content hooks from PARLEY_BLOCKED_KEYWORDS, a
// comma-separated keyword list.
func registerGuards(orch *parley.Orchestrator, logger *slog.Logger) {
	raw := os.Getenv("PARLEY_BLOCKED_KEYWORDS")
	if raw == "" {
		return
	}
	var keywords []string
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return
	}
	if err := orch.Hooks().Register(parley.HookRegistration{
		Name:       "keyword-guard",
		Trigger:    parley.TriggerBeforeBroadcast,
		Directions: []parley.Direction{parley.DirectionInbound},
		Fn:         parley.NewKeywordBlocker(keywords...).WithLogger(logger).Hook(),
	}); err != nil {
		log.Fatalf("register hook: %v", err)
	}
}
