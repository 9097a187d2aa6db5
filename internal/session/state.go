package session

import "time"

type Phase string

const (
	PhaseDisconnected  Phase = "disconnected"
	PhaseConnecting    Phase = "connecting"
	PhaseConnected     Phase = "connected"
	PhaseAuthenticated Phase = "authenticated"
)

// State is the whole reconnection state. It is only changed through the
// methods below, which return the next state and the side effects the
// session has to carry out.
type State struct {
	Phase              Phase
	Attempt            int
	ReconnectScheduled bool
	Manual             bool
}

// Policy is the exponential backoff policy.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	// NotifyAfter is the first attempt that is reported to the user.
	NotifyAfter int
}

func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 10, NotifyAfter: 3}
}

// Delay returns min(Base * 2^(attempt-1), Cap). A zero Cap means the
// default cap.
func (p Policy) Delay(attempt int) time.Duration {
	limit := p.Cap
	if limit <= 0 {
		limit = DefaultPolicy().Cap
	}
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Effects lists what a transition asks the session to do.
type Effects struct {
	Dial           bool
	CloseTransport bool
	CancelTimer    bool
	Schedule       bool
	Delay          time.Duration
	ClearListeners bool
	NotifyError    bool
	NotifyFailed   bool
}

// Connect starts a dial unless a transport is already in flight or open.
func (s State) Connect() (State, Effects) {
	if s.Phase != PhaseDisconnected {
		return s, Effects{}
	}
	eff := Effects{Dial: true, CancelTimer: s.ReconnectScheduled}
	s.Phase = PhaseConnecting
	s.Manual = false
	s.ReconnectScheduled = false
	return s, eff
}

func (s State) TransportUp() State {
	if s.Phase == PhaseConnecting {
		s.Phase = PhaseConnected
	}
	return s
}

func (s State) Authenticated() State {
	if s.Phase == PhaseConnected || s.Phase == PhaseAuthenticated {
		s.Phase = PhaseAuthenticated
		s.Attempt = 0
	}
	return s
}

// Failed covers transport errors, transport loss, auth_error and the auth
// timeout. Each one counts as a failed attempt.
func (s State) Failed(p Policy) (State, Effects) {
	if s.Phase == PhaseDisconnected {
		return s, Effects{}
	}
	s.Phase = PhaseDisconnected
	eff := Effects{CloseTransport: true}

	if s.Manual {
		eff.ClearListeners = true
		return s, eff
	}

	s.Attempt++
	if p.MaxAttempts > 0 && s.Attempt > p.MaxAttempts {
		eff.NotifyFailed = true
		return s, eff
	}
	if p.NotifyAfter > 0 && s.Attempt >= p.NotifyAfter {
		eff.NotifyError = true
	}
	if !s.ReconnectScheduled {
		s.ReconnectScheduled = true
		eff.Schedule = true
		eff.Delay = p.Delay(s.Attempt)
	}
	return s, eff
}

// Disconnect is the local actor logging out.
func (s State) Disconnect() (State, Effects) {
	eff := Effects{CloseTransport: true, CancelTimer: s.ReconnectScheduled, ClearListeners: true}
	return State{Phase: PhaseDisconnected, Manual: true}, eff
}

// ReconnectFired runs when the backoff timer expires.
func (s State) ReconnectFired() (State, Effects) {
	if !s.ReconnectScheduled {
		return s, Effects{}
	}
	s.ReconnectScheduled = false
	if s.Manual || s.Phase != PhaseDisconnected {
		return s, Effects{}
	}
	s.Phase = PhaseConnecting
	return s, Effects{Dial: true}
}

// ForceReconnect tears everything down and dials again with a fresh
// attempt counter, ignoring any pending backoff. Listeners are kept.
func (s State) ForceReconnect() (State, Effects) {
	eff := Effects{CloseTransport: true, CancelTimer: s.ReconnectScheduled, Dial: true}
	return State{Phase: PhaseConnecting}, eff
}
