package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MaxAttempts is the default per-shard attempt ceiling before a shard
// transitions to StateFailed and waits for a manual restart.
const MaxAttempts = 10

// Shard owns one long-lived bidirectional streaming subscription and
// its reconnect state machine (spec §4.F). A FAILED shard never
// poisons its siblings, each shard's run loop is independent.
type Shard struct {
	ID        int
	addresses []string

	client  GeyserClient
	backoff BackoffPolicy
	onEvent func(*RawUpdate)
	logger  *zap.Logger

	state   atomic.Int32 // ShardState
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	stream  UpdateStream
	attempt int
}

// NewShard constructs a shard for the given address slice. Nothing
// runs until Start is called.
func NewShard(id int, addresses []string, client GeyserClient, onEvent func(*RawUpdate), logger *zap.Logger) *Shard {
	return &Shard{
		ID:        id,
		addresses: append([]string(nil), addresses...),
		client:    client,
		backoff:   DefaultBackoffPolicy(),
		onEvent:   onEvent,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// State returns the shard's current reconnect state.
func (s *Shard) State() ShardState { return ShardState(s.state.Load()) }

// Addresses returns the shard's address slice (read-only snapshot).
func (s *Shard) Addresses() []string { return append([]string(nil), s.addresses...) }

// Start launches the shard's run loop in a new goroutine.
func (s *Shard) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Restart clears a FAILED shard's attempt counter and relaunches its
// run loop; it is a no-op if the shard isn't currently FAILED. This is
// the "manual restart only" escape hatch from spec §4.F's state
// diagram, exposed to operators via Manager.RestartFailedShards.
func (s *Shard) Restart(ctx context.Context) {
	if s.State() != StateFailed {
		return
	}
	s.attempt = 0
	s.done = make(chan struct{})
	s.Start(ctx)
}

// Stop ends the shard's stream best-effort and waits for the run loop
// to exit.
func (s *Shard) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		_ = stream.CloseSend()
	}
	<-s.done
}

func (s *Shard) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.state.Store(int32(StateConnecting))
		stream, err := s.client.SubscribeTransactions(ctx, Filter{
			Commitment:     "confirmed",
			Vote:           false,
			Failed:         false,
			AccountInclude: s.addresses,
		})
		if err != nil {
			if !s.backoffOrFail(ctx) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.stream = stream
		s.mu.Unlock()
		s.state.Store(int32(StateStreaming))
		s.attempt = 0

		s.streamLoop(ctx, stream)

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !s.backoffOrFail(ctx) {
			return
		}
	}
}

// streamLoop pumps messages until the stream ends or errors. A stream
// end/error does not cancel in-flight work already handed to onEvent
// (spec §5), it simply returns so run() can reconnect.
func (s *Shard) streamLoop(ctx context.Context, stream UpdateStream) {
	for {
		update, err := stream.Recv()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("shard stream ended", zap.Int("shard", s.ID), zap.Error(err))
			}
			return
		}
		s.attempt = 0 // any successful message resets the backoff counter
		select {
		case <-ctx.Done():
			return
		default:
			s.onEvent(update)
		}
	}
}

// backoffOrFail waits out the next backoff interval, or transitions to
// StateFailed and returns false once the attempt count reaches
// MaxAttempts.
func (s *Shard) backoffOrFail(ctx context.Context) bool {
	s.attempt++
	if s.attempt >= MaxAttempts {
		s.state.Store(int32(StateFailed))
		if s.logger != nil {
			s.logger.Error("shard exhausted reconnect attempts, manual restart required", zap.Int("shard", s.ID))
		}
		return false
	}
	s.state.Store(int32(StateBackoff))
	delay := s.backoff.Next(s.attempt - 1)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
