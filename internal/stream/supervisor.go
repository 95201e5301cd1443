// Package stream owns the lifecycle of the single remote update
// subscription: start, stop, fixed-delay reconnect and the liveness poll.
package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/metrics"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultPollInterval   = 30 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) active() bool {
	return s == StateConnecting || s == StateStreaming || s == StateReconnecting
}

// Subscriber opens the remote subscription and blocks until it ends,
// calling deliver for every update in arrival order. A nil return means the
// stream terminated normally.
type Subscriber interface {
	Subscribe(ctx context.Context, deliver func(models.RawUpdate)) error
}

// Executor runs fn on the single-owner execution context and waits for it.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// Handler processes one update. It always runs on the Executor.
type Handler func(ctx context.Context, u models.RawUpdate)

type Config struct {
	ReconnectDelay time.Duration
	PollInterval   time.Duration
}

type Status struct {
	State        string    `json:"state"`
	Generation   uint64    `json:"generation"`
	ShouldStream bool      `json:"shouldStream"`
	LastError    string    `json:"lastError,omitempty"`
	LastErrorAt  time.Time `json:"lastErrorAt,omitempty"`
	Reconnects   int       `json:"reconnects"`
	Delivered    int64     `json:"delivered"`
}

type Supervisor struct {
	sub     Subscriber
	exec    Executor
	handle  Handler
	metrics *metrics.Metrics

	delay        time.Duration
	pollInterval time.Duration
	wait         func(ctx context.Context, d time.Duration) bool

	mu           sync.Mutex
	state        State
	gen          uint64
	shouldStream bool
	cancel       context.CancelFunc
	lastErr      string
	lastErrAt    time.Time
	reconnects   int
	delivered    int64
	closed       bool

	// deliverMu is held while a delivery runs the handler; Stop takes it
	// after bumping the generation so it returns only once no stale
	// delivery is in progress.
	deliverMu sync.Mutex
	workers   sync.WaitGroup
}

func NewSupervisor(sub Subscriber, exec Executor, handle Handler, cfg Config, m *metrics.Metrics) *Supervisor {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Supervisor{
		sub:          sub,
		exec:         exec,
		handle:       handle,
		metrics:      m,
		delay:        cfg.ReconnectDelay,
		pollInterval: cfg.PollInterval,
		wait:         sleepContext,
	}
}

// Start opens a new subscription generation. It is a no-op while a
// subscription is connecting, streaming or waiting to reconnect, and after
// Shutdown.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.active() {
		return
	}
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setState(StateConnecting)

	gen := s.gen
	s.workers.Add(1)
	go s.run(ctx, gen)
	log.Info("Stream started", zap.Uint64("generation", gen))
}

// Stop cancels the in-flight subscription and any pending reconnect wait.
// Once it returns the handler will not be called again for the stopped
// generation. Stop must not be called from inside the handler.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.state.active() {
		s.mu.Unlock()
		return
	}
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	s.setState(StateStopped)
	gen := s.gen
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Wait out a delivery that is already past its generation check.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
	log.Info("Stream stopped", zap.Uint64("generation", gen))
}

// UpdateShouldStream records the external liveness signal. A false to true
// flip while idle or stopped starts the stream; a true to false flip while
// a subscription is active stops it.
func (s *Supervisor) UpdateShouldStream(flag bool) {
	s.mu.Lock()
	prev := s.shouldStream
	s.shouldStream = flag
	state := s.state
	s.mu.Unlock()

	switch {
	case flag && !prev && (state == StateIdle || state == StateStopped):
		log.Info("Live fixtures detected, starting stream")
		s.Start()
	case !flag && prev && state.active():
		log.Info("No live fixtures left, stopping stream")
		s.Stop()
	}
}

// RunPoll evaluates live immediately and then every poll interval until ctx
// is done. The predicate and the resulting UpdateShouldStream both run on
// the executor.
func (s *Supervisor) RunPoll(ctx context.Context, live func(ctx context.Context) (bool, error)) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.poll(ctx, live)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, live)
		}
	}
}

func (s *Supervisor) poll(ctx context.Context, live func(ctx context.Context) (bool, error)) {
	err := s.exec.Do(ctx, func() {
		ok, err := live(ctx)
		if err != nil {
			log.Warn("Liveness predicate failed", zap.Error(err))
			return
		}
		s.UpdateShouldStream(ok)
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("Failed to run liveness poll", zap.Error(err))
	}
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:        s.state.String(),
		Generation:   s.gen,
		ShouldStream: s.shouldStream,
		LastError:    s.lastErr,
		LastErrorAt:  s.lastErrAt,
		Reconnects:   s.reconnects,
		Delivered:    s.delivered,
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Shutdown stops the stream and waits for every worker to exit. Later
// Start calls are ignored.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Stop()
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) run(ctx context.Context, gen uint64) {
	defer s.workers.Done()

	for {
		err := s.sub.Subscribe(ctx, func(u models.RawUpdate) {
			s.deliver(ctx, gen, u)
		})
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.lastErr = err.Error()
			s.lastErrAt = time.Now()
			s.metrics.IncStreamErrors()
			log.Warn("Stream subscription failed", zap.Uint64("generation", gen), zap.Error(err))
		} else {
			log.Info("Stream ended", zap.Uint64("generation", gen))
		}
		if !s.shouldStream {
			s.setState(StateIdle)
			cancel := s.cancel
			s.cancel = nil
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return
		}
		s.setState(StateReconnecting)
		s.reconnects++
		s.mu.Unlock()

		s.metrics.IncReconnects()
		log.Info("Reconnecting stream", zap.Duration("delay", s.delay))
		if !s.wait(ctx, s.delay) {
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.setState(StateConnecting)
		s.mu.Unlock()
	}
}

func (s *Supervisor) deliver(ctx context.Context, gen uint64, u models.RawUpdate) {
	err := s.exec.Do(ctx, func() {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if s.state == StateConnecting {
			s.setState(StateStreaming)
		}
		s.delivered++
		s.mu.Unlock()

		s.handle(context.WithoutCancel(ctx), u)
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("Failed to deliver update", zap.Int("fixture_id", u.FixtureID), zap.Error(err))
	}
}

// setState must be called with mu held.
func (s *Supervisor) setState(state State) {
	s.state = state
	s.metrics.SetStreamState(int(state))
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
