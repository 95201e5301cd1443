package producer

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
)

const writeTimeout = 5 * time.Second

// Feed serves recorded updates over websocket. Every connection gets its own
// paced replay followed by a normal closure.
type Feed struct {
	updates []ParsedUpdate
	pace    time.Duration
	clients atomic.Int64
}

func NewFeed(updates []ParsedUpdate, pace time.Duration) *Feed {
	return &Feed{updates: updates, pace: pace}
}

func (f *Feed) Clients() int64 {
	return f.clients.Load()
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("Failed to accept feed connection", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	f.clients.Add(1)
	defer f.clients.Add(-1)
	log.Info("Feed client connected", zap.String("remote", r.RemoteAddr))

	ctx := conn.CloseRead(r.Context())
	for i, p := range f.updates {
		if i > 0 && !sleepContext(ctx, f.pace) {
			return
		}
		if err := f.write(ctx, conn, p); err != nil {
			log.Warn("Failed to write to feed client",
				zap.String("remote", r.RemoteAddr),
				zap.Int("line_number", p.LineNumber),
				zap.Error(err),
			)
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "replay complete")
	log.Info("Feed replay complete", zap.String("remote", r.RemoteAddr))
}

func (f *Feed) write(ctx context.Context, conn *websocket.Conn, p ParsedUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, restamp(p.Update))
}
