package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"otc-signal-bot/config"
	"otc-signal-bot/internal/adaptive"
	"otc-signal-bot/internal/api"
	"otc-signal-bot/internal/cache"
	"otc-signal-bot/internal/database"
	"otc-signal-bot/internal/events"
	"otc-signal-bot/internal/feed"
	"otc-signal-bot/internal/logging"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/ml"
	"otc-signal-bot/internal/session"
	"otc-signal-bot/internal/signal"
	"otc-signal-bot/internal/tracker"
	"otc-signal-bot/internal/volatility"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Failed to load configuration", "error", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     "stdout",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logging.SetDefault(logger)
	logger.Info("Starting signal bot")

	bus := events.NewEventBus()

	// Persistence is optional: without DATABASE_URL the bot runs purely
	// in memory.
	var repo *database.Repository
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		db, err = database.NewDB(ctx, cfg.DatabaseConfig.URL, logger)
		cancel()
		if err != nil {
			logger.Warn("Database unavailable, continuing without persistence", "error", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := db.RunMigrations(ctx); err != nil {
				logger.Warn("Migrations failed, continuing without persistence", "error", err)
				db.Close()
				db = nil
			} else {
				repo = database.NewRepository(db)
			}
			cancel()
		}
	}

	// Learners.
	ensemble := ml.NewEnsemble(time.Now().UnixNano(), logger)
	thresholds := adaptive.NewEngine(logger)

	// Redis mirrors learner state across restarts.
	var cacheService *cache.CacheService
	var mirror *cache.SnapshotMirror
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cache.RedisConfig{
			Enabled:  true,
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		}, logger)
		if err != nil {
			logger.Warn("Cache unavailable", "error", err)
		} else {
			mirror = cache.NewSnapshotMirror(cacheService, map[string]cache.Snapshotter{
				"ml:ensemble":         ensemble,
				"adaptive:thresholds": thresholds,
			}, cfg.SignalConfig.SnapshotInterval, logger)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			mirror.RestoreAll(ctx)
			cancel()
			mirror.Start()
		}
	}

	// Core pipeline.
	aggregator := market.NewAggregator(logger)
	vol := volatility.NewService(logger)
	engine := signal.NewEngine(ensemble, thresholds, logger)
	feedClient := feed.NewClient(cfg.FeedConfig.URL, cfg.FeedConfig.Token, bus, logger)
	manager := session.NewManager(feedClient, aggregator, engine, vol, thresholds, bus, logger)
	tr := tracker.NewTracker(ensemble, thresholds, manager, vol, bus, logger)

	mirrorPrice := priceMirror(cacheService)
	feedClient.SetTickHandler(func(t market.Tick) {
		manager.HandleTick(t)
		tr.UpdatePrice(t)
		mirrorPrice(t)
	})

	manager.SetSignalHandler(func(s session.Session, res signal.Result) {
		tr.Handle(s, res)
		if repo == nil {
			return
		}
		if res.Direction == signal.DirectionNoTrade && !res.VolatilityOverride && !res.IsLowConfidence {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			err := repo.LogSignal(ctx, &database.SignalLog{
				SessionID:          res.SessionID,
				Symbol:             res.Symbol,
				Timeframe:          res.Timeframe,
				Direction:          res.Direction,
				Confidence:         res.Confidence,
				PUp:                res.PUp,
				QualityScore:       res.QualityScore,
				EntryPrice:         res.EntryPrice,
				CandleCloseTime:    res.CandleCloseTime,
				VolatilityOverride: res.VolatilityOverride,
			})
			if err != nil {
				logger.Warn("Signal log write failed", "error", err)
			}
		}()
	})

	// Session lifecycle, resolved trades and volatility snapshots persist
	// off the bus, so the pipeline never blocks on the database.
	if repo != nil {
		bus.Subscribe(events.EventSessionStarted, func(e events.Event) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			err := repo.CreateSession(ctx, &database.SessionRecord{
				SessionID: asString(e.Data["session_id"]),
				ChatID:    asString(e.Data["chat_id"]),
				Symbol:    asString(e.Data["symbol"]),
				Timeframe: asInt64(e.Data["timeframe"]),
				Status:    "active",
			})
			if err != nil {
				logger.Warn("Session record write failed", "error", err)
			}
		})

		bus.Subscribe(events.EventSessionStopped, func(e events.Event) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			err := repo.CloseSession(ctx, asString(e.Data["session_id"]),
				asInt(e.Data["wins"]), asInt(e.Data["losses"]), asInt(e.Data["total_signals"]))
			if err != nil {
				logger.Warn("Session close write failed", "error", err)
			}
		})

		bus.Subscribe(events.EventTradeResult, func(e events.Event) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			key := asString(e.Data["signal_id"])
			err := repo.LogTradeResult(ctx, &database.TradeResultLog{
				SignalKey:  key,
				SessionID:  sessionIDFromKey(key),
				Symbol:     asString(e.Data["symbol"]),
				Direction:  asString(e.Data["direction"]),
				Outcome:    asString(e.Data["outcome"]),
				EntryPrice: asFloat(e.Data["entry_price"]),
				ExitPrice:  asFloat(e.Data["exit_price"]),
			})
			if err != nil {
				logger.Warn("Trade result write failed", "error", err)
			}
		})

		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				for _, a := range vol.All() {
					ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					err := repo.LogVolatility(ctx, &database.VolatilityRecord{
						Symbol:   a.Symbol,
						Score:    a.VolatilityScore,
						Severity: a.Severity,
						IsStable: a.IsStable,
					})
					cancel()
					if err != nil {
						logger.Warn("Volatility write failed", "error", err)
						break
					}
				}
			}
		}()
	}

	// Active sessions are re-hydrated on every (re)connect.
	bus.Subscribe(events.EventFeedConnected, func(events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		manager.OnFeedReconnect(ctx)
	})

	go connectFeed(feedClient, logger)
	tr.Start()

	var userStore api.UserStore
	if repo != nil {
		userStore = repo
	}
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, manager, vol, tr, userStore, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error", "error", err)
	}
	tr.Stop()
	feedClient.Close()
	if mirror != nil {
		mirror.Stop()
	}
	if cacheService != nil {
		_ = cacheService.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info("Shutdown complete")
}

// connectFeed retries the initial dial until it succeeds; later drops
// are handled by the client's own reconnect ladder.
func connectFeed(c *feed.Client, logger *logging.Logger) {
	for {
		err := c.Connect()
		if err == nil {
			return
		}
		logger.Warn("Feed connect failed, retrying", "error", err)
		time.Sleep(10 * time.Second)
	}
}

// priceMirror forwards at most one tick per symbol every 5 seconds to
// the cache, keeping the redis round-trip off the tick hot path.
func priceMirror(cs *cache.CacheService) func(market.Tick) {
	if cs == nil {
		return func(market.Tick) {}
	}
	var mu sync.Mutex
	last := make(map[string]int64)
	return func(t market.Tick) {
		mu.Lock()
		if t.Epoch-last[t.Symbol] < 5 {
			mu.Unlock()
			return
		}
		last[t.Symbol] = t.Epoch
		mu.Unlock()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = cs.SetLatestPrice(ctx, t.Symbol, t.Price, t.Epoch)
		}()
	}
}

func sessionIDFromKey(key string) string {
	if i := strings.LastIndex(key, "_"); i > 0 {
		return key[:i]
	}
	return key
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
