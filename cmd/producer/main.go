package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/producer"
)

func serveFeed(ctx context.Context, addr string, feed *producer.Feed) error {
	r := mux.NewRouter()
	r.Handle("/feed", feed).Methods(http.MethodGet)
	r.HandleFunc("/heartbeat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost, http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errChan := make(chan error, 1)
	go func() {
		log.Info("Feed listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func run() int {
	filePath := flag.String("file", "testdata/euro2024.ndjson", "Path to the recorded update file")
	mode := flag.String("mode", "ws", "ws serves a websocket feed, http posts to a consumer")
	addr := flag.String("addr", ":8090", "Listen address for the websocket feed")
	consumerURL := flag.String("consumer", "http://localhost:8080", "Consumer service URL")
	speed := flag.Duration("speed", 100*time.Millisecond, "Delay between updates")
	dev := flag.Bool("dev", true, "Development logging")
	flag.Parse()

	if err := log.Init(*dev, "info"); err != nil {
		return 1
	}

	log.Info("Starting Producer Service",
		zap.String("file", *filePath),
		zap.String("mode", *mode),
		zap.Duration("speed", *speed),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutdown signal received, stopping")
		cancel()
	}()

	updates, err := producer.ParseFile(*filePath)
	if err != nil {
		log.Error("Error parsing file", zap.Error(err))
		return 1
	}
	if len(updates) == 0 {
		log.Error("No updates found in file")
		return 1
	}
	log.Info("File parsed successfully",
		zap.Int("update_count", len(updates)),
		zap.Time("first_timestamp", updates[0].OriginalTimestamp),
		zap.Time("last_timestamp", updates[len(updates)-1].OriginalTimestamp),
	)

	switch *mode {
	case "ws":
		if err := serveFeed(ctx, *addr, producer.NewFeed(updates, *speed)); err != nil {
			log.Error("Feed server error", zap.Error(err))
			return 1
		}
	case "http":
		sender := producer.NewSender(*consumerURL)
		if err := sender.Replay(ctx, updates, *speed); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Error replaying updates", zap.Error(err))
			return 1
		}
	default:
		log.Error("Unknown mode", zap.String("mode", *mode))
		return 1
	}

	log.Info("Producer finished successfully")
	return 0
}

func main() {
	code := run()
	_ = log.Sync()
	os.Exit(code)
}
