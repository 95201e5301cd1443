package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

const maxFrameBytes = 4 << 20

// WebsocketSubscriber reads one JSON RawUpdate per text frame from url.
type WebsocketSubscriber struct {
	URL    string
	Header http.Header
}

func NewWebsocketSubscriber(url string) *WebsocketSubscriber {
	return &WebsocketSubscriber{URL: url}
}

func (w *WebsocketSubscriber) Subscribe(ctx context.Context, deliver func(models.RawUpdate)) error {
	conn, _, err := websocket.Dial(ctx, w.URL, &websocket.DialOptions{HTTPHeader: w.Header})
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", w.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxFrameBytes)

	log.Info("Subscribed to update stream", zap.String("url", w.URL))
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("failed to read update: %w", err)
		}
		if typ != websocket.MessageText {
			log.Debug("Skipping non-text frame")
			continue
		}

		var u models.RawUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			log.Warn("Skipping malformed update frame", zap.Error(err))
			continue
		}
		if u.FixtureID == 0 {
			log.Warn("Skipping update without fixture id", zap.String("message_guid", u.Header.MessageGuid))
			continue
		}
		deliver(u)
	}
}
