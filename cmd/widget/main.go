package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/snapshot"
)

func render(w io.Writer, entries []snapshot.Presentation) {
	fmt.Fprintf(w, "--- %d fixture(s) ---\n", len(entries))
	for _, p := range entries {
		clock := p.Status
		if p.Elapsed > 0 && p.Status != "FT" {
			clock = fmt.Sprintf("%s %d'", p.Status, p.Elapsed)
			if p.Extra > 0 {
				clock = fmt.Sprintf("%s %d+%d'", p.Status, p.Elapsed, p.Extra)
			}
		}
		fmt.Fprintf(w, "%-8s %s %d-%d %s\n", clock, p.HomeTeam, p.HomeGoals, p.AwayGoals, p.AwayTeam)
		if len(p.HomeScorers) > 0 {
			fmt.Fprintf(w, "         %s\n", strings.Join(p.HomeScorers, ", "))
		}
		if len(p.AwayScorers) > 0 {
			fmt.Fprintf(w, "         %s\n", strings.Join(p.AwayScorers, ", "))
		}
	}
}

func run() int {
	path := flag.String("path", "./data/snapshots.json", "Snapshot Store file")
	once := flag.Bool("once", false, "Print the current snapshots and exit")
	flag.Parse()

	if err := log.Init(true, "warn"); err != nil {
		return 1
	}

	if *once {
		render(os.Stdout, snapshot.Read(*path))
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := snapshot.Watch(ctx, *path, func(entries []snapshot.Presentation) {
		render(os.Stdout, entries)
	}); err != nil && ctx.Err() == nil {
		log.Error("Failed to watch snapshot store", zap.String("path", *path), zap.Error(err))
		return 1
	}
	return 0
}

func main() {
	code := run()
	_ = log.Sync()
	os.Exit(code)
}
