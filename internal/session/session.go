// Package session is the client side of the event router: one logical
// connection that authenticates, dispatches incoming events to listeners and
// reconnects with exponential backoff.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-restaurant/internal/events"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
)

var (
	ErrNotAuthenticated = errors.New("session is not authenticated")
	ErrAuthTimeout      = errors.New("authentication timed out")
	ErrAuthRejected     = errors.New("authentication rejected")
)

// Notifier is the user-facing side of connection trouble.
type Notifier interface {
	// ConnectionError is called for failed attempts from Policy.NotifyAfter on.
	ConnectionError(attempt int, err error)
	// ConnectionFailed is called once the attempt ceiling is passed.
	ConnectionFailed(attempts int)
}

type logNotifier struct{ log *logger.Logger }

func (n logNotifier) ConnectionError(attempt int, err error) {
	n.log.Warn("SESSION", fmt.Sprintf("Connection problem (attempt %d): %v", attempt, err))
}

func (n logNotifier) ConnectionFailed(attempts int) {
	n.log.Error("SESSION", fmt.Sprintf("Giving up after %d attempts", attempts))
}

type Options struct {
	Dialer      Dialer
	Credentials CredentialStore
	Notifier    Notifier
	Clock       Clock
	Policy      Policy
	AuthTimeout time.Duration
	DialTimeout time.Duration
	Logger      *logger.Logger
}

// Session owns at most one transport at a time. Every phase change goes
// through State; the timers are the only asynchronous inputs.
type Session struct {
	opts      Options
	listeners *registry

	mu             sync.Mutex
	state          State
	gen            uint64
	transport      Transport
	reconnectTimer Timer
	authTimer      Timer
	identity       *models.Actor
}

func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{log: opts.Logger}
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Session{
		opts:      opts,
		listeners: newRegistry(),
		state:     State{Phase: PhaseDisconnected},
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity is the actor confirmed by the last authenticated frame.
func (s *Session) Identity() (models.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return models.Actor{}, false
	}
	return *s.identity, true
}

// On registers fn for event. Listeners run synchronously in registration
// order and must not call Connect, Disconnect or ForceReconnect.
func (s *Session) On(event string, fn Listener) ListenerID {
	return s.listeners.on(event, fn)
}

func (s *Session) Off(event string, id ListenerID) bool {
	return s.listeners.off(event, id)
}

// Connect dials unless a transport is already connecting or open.
func (s *Session) Connect() {
	s.mu.Lock()
	next, eff := s.state.Connect()
	if !eff.Dial {
		s.mu.Unlock()
		return
	}
	s.state = next
	if eff.CancelTimer {
		s.stopReconnectLocked()
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.dial(gen)
}

// Disconnect is a manual logout: no reconnect follows and all listeners are
// removed.
func (s *Session) Disconnect() {
	s.mu.Lock()
	next, _ := s.state.Disconnect()
	s.state = next
	tr := s.teardownLocked()
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	s.listeners.clear()
	s.opts.Logger.Info("SESSION", "Disconnected by user")
}

// ForceReconnect drops the current transport and dials at once with a fresh
// attempt counter.
func (s *Session) ForceReconnect() {
	s.mu.Lock()
	next, _ := s.state.ForceReconnect()
	s.state = next
	tr := s.teardownLocked()
	gen := s.gen
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	s.opts.Logger.Info("SESSION", "Forced reconnect")
	s.dial(gen)
}

// teardownLocked invalidates the current generation and returns the
// transport to close outside the lock.
func (s *Session) teardownLocked() Transport {
	s.gen++
	s.stopReconnectLocked()
	s.stopAuthTimerLocked()
	s.identity = nil
	tr := s.transport
	s.transport = nil
	return tr
}

func (s *Session) stopReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) stopAuthTimerLocked() {
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
}

func (s *Session) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	defer cancel()

	creds, err := s.opts.Credentials.Load(ctx)
	if err != nil {
		s.fail(gen, events.SystemConnectError, err)
		return
	}
	tr, err := s.opts.Dialer.Dial(ctx)
	if err != nil {
		s.fail(gen, events.SystemConnectError, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		tr.Close()
		return
	}
	s.transport = tr
	s.state = s.state.TransportUp()
	s.authTimer = s.opts.Clock.AfterFunc(s.opts.AuthTimeout, func() { s.authTimedOut(gen) })
	s.mu.Unlock()

	go s.readLoop(gen, tr)

	if err := tr.Send(ctx, events.SystemAuthenticate, creds); err != nil {
		s.fail(gen, events.SystemConnectError, err)
	}
}

func (s *Session) readLoop(gen uint64, tr Transport) {
	for {
		env, err := tr.Receive()
		if err != nil {
			s.fail(gen, events.SystemDisconnect, fmt.Errorf("transport closed: %w", err))
			return
		}

		if !s.current(gen) {
			return
		}
		switch env.Event {
		case events.SystemAuthenticated:
			s.authenticated(gen, env.Data)
			s.listeners.dispatch(env.Event, env.Data, s.opts.Logger)
		case events.SystemAuthError:
			s.listeners.dispatch(env.Event, env.Data, s.opts.Logger)
			s.fail(gen, "", fmt.Errorf("%w: %s", ErrAuthRejected, env.Data))
			return
		default:
			s.listeners.dispatch(env.Event, env.Data, s.opts.Logger)
		}
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *Session) authenticated(gen uint64, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.state = s.state.Authenticated()
	s.stopAuthTimerLocked()
	var actor models.Actor
	if err := json.Unmarshal(data, &actor); err == nil && actor.UserID != "" {
		s.identity = &actor
	}
	s.opts.Logger.Info("SESSION", "Authenticated")
}

func (s *Session) authTimedOut(gen uint64) {
	s.mu.Lock()
	waiting := gen == s.gen && s.state.Phase == PhaseConnected
	s.mu.Unlock()
	if waiting {
		s.fail(gen, events.SystemConnectError, ErrAuthTimeout)
	}
}

// fail takes the failure branch of the state machine for generation gen.
// Reports for an older generation are ignored. systemEvent, when set, is
// dispatched to listeners with the cause.
func (s *Session) fail(gen uint64, systemEvent string, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	next, eff := s.state.Failed(s.opts.Policy)
	if eff == (Effects{}) {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.gen++
	s.stopAuthTimerLocked()
	s.identity = nil
	tr := s.transport
	s.transport = nil
	if eff.Schedule {
		s.reconnectTimer = s.opts.Clock.AfterFunc(eff.Delay, s.reconnectFired)
	}
	attempt := next.Attempt
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	if eff.ClearListeners {
		s.listeners.clear()
	}

	s.opts.Logger.Warn("SESSION", fmt.Sprintf("Connection lost (attempt %d): %v", attempt, cause))
	if eff.Schedule {
		s.opts.Logger.Info("SESSION", fmt.Sprintf("Reconnecting in %s", eff.Delay))
	}

	switch systemEvent {
	case events.SystemDisconnect:
		s.listeners.dispatch(systemEvent, mustJSON(map[string]string{"reason": cause.Error()}), s.opts.Logger)
	case events.SystemConnectError:
		s.listeners.dispatch(systemEvent, mustJSON(map[string]string{"error": cause.Error()}), s.opts.Logger)
	}

	if eff.NotifyError {
		s.opts.Notifier.ConnectionError(attempt, cause)
	}
	if eff.NotifyFailed {
		s.opts.Notifier.ConnectionFailed(attempt - 1)
	}
}

func (s *Session) reconnectFired() {
	s.mu.Lock()
	s.reconnectTimer = nil
	next, eff := s.state.ReconnectFired()
	s.state = next
	if !eff.Dial {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.dial(gen)
}

// EmitOrderCreate announces a new order to the kitchen and admins.
func (s *Session) EmitOrderCreate(ctx context.Context, data any) error {
	return s.emit(ctx, events.ClientOrderCreate, data)
}

func (s *Session) EmitOrderStatusChange(ctx context.Context, orderID string, newStatus, previousStatus models.Status) error {
	return s.emit(ctx, events.ClientOrderStatusChange, map[string]any{
		"orderId":        orderID,
		"status":         newStatus,
		"previousStatus": previousStatus,
	})
}

func (s *Session) emit(ctx context.Context, msgType string, data any) error {
	s.mu.Lock()
	tr := s.transport
	authenticated := s.state.Phase == PhaseAuthenticated
	s.mu.Unlock()

	if !authenticated || tr == nil {
		return ErrNotAuthenticated
	}
	if err := tr.Send(ctx, msgType, data); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
