package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/api"
	"github.com/sawdustofmind/livescore-fanout/internal/cache"
	"github.com/sawdustofmind/livescore-fanout/internal/config"
	"github.com/sawdustofmind/livescore-fanout/internal/consumer"
	"github.com/sawdustofmind/livescore-fanout/internal/fanout"
	"github.com/sawdustofmind/livescore-fanout/internal/ledger"
	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/metrics"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
	"github.com/sawdustofmind/livescore-fanout/internal/producer"
	"github.com/sawdustofmind/livescore-fanout/internal/session"
	"github.com/sawdustofmind/livescore-fanout/internal/snapshot"
	"github.com/sawdustofmind/livescore-fanout/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func openCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Driver {
	case "redis":
		return cache.NewRedis(cfg.RedisAddr)
	default:
		return cache.OpenSQLite(cfg.SQLitePath)
	}
}

func openSessionSink(cfg config.SessionConfig) (session.Sink, func() error, error) {
	if cfg.Sink != "redis" {
		return session.LogSink{}, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return session.Multi{session.LogSink{}, session.NewRedisSink(client)}, client.Close, nil
}

func openSubscriber(cfg config.StreamConfig) (stream.Subscriber, error) {
	if cfg.Source == "replay" {
		updates, err := producer.ParseFile(cfg.ReplayFile)
		if err != nil {
			return nil, err
		}
		return producer.NewReplayer(updates, cfg.ReplaySpeed), nil
	}
	return stream.NewWebsocketSubscriber(cfg.URL), nil
}

func run() int {
	configPath := flag.String("config", "", "Path to the config file")
	port := flag.String("port", "", "Port to listen on, overrides http.addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *port != "" {
		cfg.HTTP.Addr = ":" + *port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := log.Init(cfg.Log.Development, cfg.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log.Info("Starting Consumer Service",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("stream_source", cfg.Stream.Source),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("snapshot_path", cfg.Snapshot.Path),
	)

	m := metrics.New()

	fixtureCache, err := openCache(cfg.Cache)
	if err != nil {
		log.Error("Failed to open fixture cache", zap.Error(err))
		return 1
	}
	defer func() {
		if err := fixtureCache.Close(); err != nil {
			log.Error("Failed to close fixture cache", zap.Error(err))
		}
	}()

	sink, closeSink, err := openSessionSink(cfg.Session)
	if err != nil {
		log.Error("Failed to open session sink", zap.Error(err))
		return 1
	}
	defer func() {
		if err := closeSink(); err != nil {
			log.Error("Failed to close session sink", zap.Error(err))
		}
	}()

	subscriber, err := openSubscriber(cfg.Stream)
	if err != nil {
		log.Error("Failed to open update source", zap.Error(err))
		return 1
	}

	registry := session.NewRegistry(sink)
	registry.OnChange(m.SetActiveSessions)
	store := snapshot.NewStore(cfg.Snapshot.Path, cfg.Snapshot.Limit)
	events := ledger.New()
	fan := fanout.New(fixtureCache, store, registry, events, fanout.NewQueue(cfg.Fanout.Workers, m), m, fanout.Options{
		GoalLines:  cfg.Snapshot.GoalLines,
		Interested: fanout.FavoriteTeams(cfg.Session.FavoriteTeams),
	})
	handler := consumer.NewHandler(events, fan, m, consumer.Options{
		KickoffLead:  cfg.Stream.KickoffLead,
		KickoffGrace: cfg.Stream.KickoffGrace,
	})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loop := consumer.NewLoop(64)
	go loop.Run(loopCtx)

	var (
		warmed  int
		warmErr error
	)
	if err := loop.Do(loopCtx, func() {
		warmed, warmErr = handler.Warm(loopCtx, fixtureCache)
	}); err != nil {
		warmErr = err
	}
	if warmErr != nil {
		log.Warn("Starting without cached fixture state", zap.Error(warmErr))
	}

	supervisor := stream.NewSupervisor(subscriber, loop, func(ctx context.Context, u models.RawUpdate) {
		_, _ = handler.ProcessUpdate(ctx, u)
	}, stream.Config{
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		PollInterval:   cfg.Stream.PollInterval,
	}, m)

	// The liveness predicate holds while no fixture is known, so a cold
	// start keeps the stream wanted (and retrying) until the first fixture
	// set arrives. Replays always run once.
	if cfg.Stream.Source == "replay" {
		_ = loop.Do(loopCtx, supervisor.Start)
	}
	log.Info("Fixture state ready", zap.Int("warmed", warmed))

	pollCtx, stopPoll := context.WithCancel(loopCtx)
	defer stopPoll()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		supervisor.RunPoll(pollCtx, handler.HasLive)
	}()

	server := api.NewServer(api.Deps{
		Exec:         loop,
		Updates:      handler,
		Stream:       supervisor,
		Store:        store,
		Registry:     registry,
		Metrics:      m,
		RefreshRate:  cfg.HTTP.RateRPS,
		RefreshBurst: cfg.HTTP.RateBurst,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info("Consumer service listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	code := 0
	select {
	case <-sigChan:
		log.Info("Shutdown signal received, stopping service")
	case <-errChan:
		code = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Error closing server", zap.Error(err))
	}
	stopPoll()
	<-pollDone
	if err := supervisor.Shutdown(ctx); err != nil {
		log.Error("Stream did not stop in time", zap.Error(err))
	}
	if err := fan.Close(ctx); err != nil {
		log.Error("Fan-out writes did not finish in time", zap.Error(err))
	}
	stopLoop()

	log.Info("Consumer service stopped")
	return code
}

func main() {
	code := run()
	_ = log.Sync()
	os.Exit(code)
}
