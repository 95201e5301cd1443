package producer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawdustofmind/livescore-fanout/internal/models"
	"github.com/sawdustofmind/livescore-fanout/internal/stream"
)

const recording = `"extracted_data"
{"Header":{"MessageGuid":"b","TimeStampUtc":"2024-06-14T19:10:00Z"},"FixtureId":1,"Type":"score","Fixture":{"Status":"1H","Elapsed":10}}
"{""Header"":{""MessageGuid"":""a"",""TimeStampUtc"":""2024-06-14T19:00:00Z""},""FixtureId"":1,""Type"":""fixture"",""Fixture"":{""Status"":""NS""}}"

{this is not json}
{"Header":{"MessageGuid":"x","TimeStampUtc":"2024-06-14T19:05:00Z"},"Type":"heartbeat"}
{"Header":{"MessageGuid":"c","TimeStampUtc":"2024-06-14T21:00:00Z"},"FixtureId":1,"Type":"status","Fixture":{"Status":"FT","Elapsed":90}}
`

func parsed(t *testing.T) []ParsedUpdate {
	t.Helper()
	updates, err := Parse(strings.NewReader(recording))
	require.NoError(t, err)
	return updates
}

func guids(updates []ParsedUpdate) []string {
	var out []string
	for _, u := range updates {
		out = append(out, u.Update.Header.MessageGuid)
	}
	return out
}

func TestParse(t *testing.T) {
	updates := parsed(t)

	require.Equal(t, []string{"a", "b", "c"}, guids(updates))
	assert.Equal(t, 3, updates[0].LineNumber)
	assert.Equal(t, "NS", updates[0].Update.Fixture.Status)
	assert.Equal(t, 10, updates[1].Update.Fixture.Elapsed)
	assert.True(t, updates[2].OriginalTimestamp.Equal(time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC)))
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.txt")
	require.NoError(t, os.WriteFile(path, []byte(recording), 0o644))

	updates, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, updates, 3)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestReplayerDeliversInOrderWithPace(t *testing.T) {
	r := NewReplayer(parsed(t), time.Second)
	var waits []time.Duration
	r.wait = func(_ context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}

	var got []string
	before := time.Now()
	err := r.Subscribe(context.Background(), func(u models.RawUpdate) {
		got = append(got, u.Header.MessageGuid)
		assert.False(t, u.Header.TimeStampUtc.Before(before.UTC().Add(-time.Second)), "replayed updates are restamped")
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, waits)
}

func TestReplayerStopsOnCancel(t *testing.T) {
	r := NewReplayer(parsed(t), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	var got int
	done := make(chan error)
	go func() {
		done <- r.Subscribe(ctx, func(models.RawUpdate) { got++ })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, got)
}

func TestFeedServesReplayOverWebsocket(t *testing.T) {
	feed := NewFeed(parsed(t), 0)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	sub := stream.NewWebsocketSubscriber("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []models.RawUpdate
	require.NoError(t, sub.Subscribe(ctx, func(u models.RawUpdate) { got = append(got, u) }))

	require.Len(t, got, 3)
	assert.Equal(t, "FT", got[2].Fixture.Status)
	assert.Equal(t, 1, got[2].FixtureID)
}

type recordedRequest struct {
	path string
	body []byte
}

func consumerStub(t *testing.T) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{path: r.URL.Path, body: body})
		mu.Unlock()
		if r.URL.Path == "/process-msg" && strings.Contains(string(body), `"Status":"FT"`) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestSenderReplay(t *testing.T) {
	srv, requests := consumerStub(t)
	s := NewSender(srv.URL)

	require.NoError(t, s.Replay(context.Background(), parsed(t), 0))

	reqs := requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, "/heartbeat", reqs[0].path)
	for _, r := range reqs[1:] {
		assert.Equal(t, "/process-msg", r.path)
	}
	var u models.RawUpdate
	require.NoError(t, json.Unmarshal(reqs[1].body, &u))
	assert.Equal(t, "a", u.Header.MessageGuid)
}

func TestSenderErrors(t *testing.T) {
	srv, _ := consumerStub(t)
	s := NewSender(srv.URL)

	err := s.SendUpdate(context.Background(), models.RawUpdate{FixtureID: 1, Fixture: models.Fixture{Status: "FT"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	require.NoError(t, s.SendResync(context.Background(), []models.RawUpdate{{FixtureID: 1}}))
}
