package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// SubscriptionState is the lifecycle state of a live subscription.
type SubscriptionState int

const (
	// StateConnecting is the state before the first stream is open.
	StateConnecting SubscriptionState = iota
	// StateLive means a stream is open and delivering.
	StateLive
	// StateReconnecting means the stream dropped and a redial is pending.
	StateReconnecting
	// StateClosed is terminal.
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers receive subscription callbacks. Callbacks run on the subscription
// goroutine, one at a time, and must not call Close.
type Handlers struct {
	// OnMessage is called for every pushed message in arrival order.
	OnMessage func(Message)
	// OnError receives *ConnectionLost on transport failures and ErrNotFound
	// when the conversation disappears.
	OnError func(error)
	// OnLive is called each time a stream opens; reconnected is false only for
	// the first one.
	OnLive func(reconnected bool)
}

// SubscribeOption tunes a subscription.
type SubscribeOption func(*Subscription)

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) SubscribeOption {
	return func(s *Subscription) { s.backoff = b }
}

// WithSubscriptionLogger sets the logger.
func WithSubscriptionLogger(logger zerolog.Logger) SubscribeOption {
	return func(s *Subscription) { s.log = logger }
}

// Subscription keeps a live stream open for one conversation, redialing with
// backoff when it drops.
type Subscription struct {
	channel        Channel
	conversationID string
	handlers       Handlers
	backoff        Backoff
	log            zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  SubscriptionState
	closed bool
	stream Stream
}

// Subscribe starts a subscription and returns immediately.
func Subscribe(channel Channel, conversationID string, h Handlers, opts ...SubscribeOption) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		channel:        channel,
		conversationID: conversationID,
		handlers:       h,
		backoff:        DefaultBackoff(),
		log:            zerolog.Nop(),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run(ctx)
	return s
}

// State returns the current state.
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close releases the channel. No callback runs after Close returns.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.state = StateClosed
	stream := s.stream
	s.mu.Unlock()

	s.cancel()
	var err error
	if stream != nil {
		err = stream.Close()
	}

	// A callback that is already running finishes before the goroutine exits.
	<-s.done
	return err
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	attempt := 0
	connected := false
	for {
		stream, err := s.channel.Dial(ctx, s.conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrNotFound) {
				s.log.Warn().Str("conversation_id", s.conversationID).Msg("live channel rejected: conversation not found")
				s.emitError(err)
				s.setState(StateClosed)
				return
			}
			s.setState(StateReconnecting)
			s.log.Debug().Err(err).Int("attempt", attempt).Msg("live dial failed")
			s.emitError(&ConnectionLost{Attempt: attempt, Err: err})
			if s.backoff.Wait(ctx, attempt) != nil {
				return
			}
			attempt++
			continue
		}

		if !s.attach(stream) {
			_ = stream.Close()
			return
		}
		s.setState(StateLive)
		s.emitLive(connected)
		connected = true
		attempt = 0

		err = s.pump(ctx, stream)
		s.detach()
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}

		s.setState(StateReconnecting)
		s.log.Info().Err(err).Str("conversation_id", s.conversationID).Msg("live stream dropped, reconnecting")
		s.emitError(&ConnectionLost{Attempt: attempt, Err: err})
		if s.backoff.Wait(ctx, attempt) != nil {
			return
		}
		attempt++
	}
}

func (s *Subscription) pump(ctx context.Context, stream Stream) error {
	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		if !s.emit(func() {
			if s.handlers.OnMessage != nil {
				s.handlers.OnMessage(msg)
			}
		}) {
			return ErrClosed
		}
	}
}

func (s *Subscription) attach(stream Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.stream = stream
	return true
}

func (s *Subscription) detach() {
	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = state
}

func (s *Subscription) emitError(err error) {
	s.emit(func() {
		if s.handlers.OnError != nil {
			s.handlers.OnError(err)
		}
	})
}

func (s *Subscription) emitLive(reconnected bool) {
	s.emit(func() {
		if s.handlers.OnLive != nil {
			s.handlers.OnLive(reconnected)
		}
	})
}

// emit runs fn unless the subscription is closed.
func (s *Subscription) emit(fn func()) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	fn()
	return true
}
