// Package router delivers domain events to live connections grouped by role
// and by user. Delivery is at-most-once: a connection that is not registered
// at emit time never sees the event. A connection whose outbox is full is
// closed rather than skipped, so its client reconnects and re-fetches.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"ms-restaurant/internal/auth"
	"ms-restaurant/internal/config"
	"ms-restaurant/internal/events"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
	"ms-restaurant/internal/users"
)

var (
	ErrUnknownUser      = errors.New("unknown user")
	ErrInactiveUser     = errors.New("user is inactive")
	ErrRoleMismatch     = errors.New("role does not match user")
	ErrTokenRequired    = errors.New("token required")
	ErrTokenSubject     = errors.New("token subject does not match user")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// AuthRequest is the payload of the authenticate message.
type AuthRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Token  string `json:"token,omitempty"`
}

type client struct {
	id    string
	send  chan []byte
	actor *models.Actor
}

// Hub tracks every live connection and the groups it belongs to.
type Hub struct {
	Directory users.Directory
	// Verifier is optional. When set, authenticate must carry a token for the
	// same user.
	Verifier auth.Verifier
	Config   config.RouterConfig
	Logger   *logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	roles   map[models.Role]map[*client]struct{}
	users   map[string]map[*client]struct{}
}

func NewHub(dir users.Directory, verifier auth.Verifier, cfg config.RouterConfig, log *logger.Logger) *Hub {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 32
	}
	return &Hub{
		Directory: dir,
		Verifier:  verifier,
		Config:    cfg,
		Logger:    log,
		clients:   make(map[*client]struct{}),
		roles:     make(map[models.Role]map[*client]struct{}),
		users:     make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) register() *client {
	c := &client{
		id:   uuid.NewString(),
		send: make(chan []byte, h.Config.OutboxSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// join admits a registered client into its role group and user channel.
func (h *Hub) join(c *client, actor models.Actor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if c.actor != nil {
		h.leaveLocked(c)
	}
	c.actor = &actor

	group := actor.Role.Group()
	if h.roles[group] == nil {
		h.roles[group] = make(map[*client]struct{})
	}
	h.roles[group][c] = struct{}{}
	if h.users[actor.UserID] == nil {
		h.users[actor.UserID] = make(map[*client]struct{})
	}
	h.users[actor.UserID][c] = struct{}{}
}

func (h *Hub) leaveLocked(c *client) {
	if c.actor == nil {
		return
	}
	group := c.actor.Role.Group()
	delete(h.roles[group], c)
	if len(h.roles[group]) == 0 {
		delete(h.roles, group)
	}
	delete(h.users[c.actor.UserID], c)
	if len(h.users[c.actor.UserID]) == 0 {
		delete(h.users, c.actor.UserID)
	}
}

// unregister drops the client from every group and closes its outbox.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.leaveLocked(c)
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) actorOf(c *client) (models.Actor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.actor == nil {
		return models.Actor{}, false
	}
	return *c.actor, true
}

// Authenticate checks a handshake against the user directory and, when a
// verifier is configured, against the presented token.
func (h *Hub) Authenticate(ctx context.Context, req AuthRequest) (models.Actor, error) {
	role, ok := models.ParseRole(req.Role)
	if req.UserID == "" || !ok {
		return models.Actor{}, ErrUnknownUser
	}

	user, err := h.Directory.FindByID(ctx, req.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		return models.Actor{}, ErrUnknownUser
	}
	if err != nil {
		return models.Actor{}, fmt.Errorf("lookup user %s: %w", req.UserID, err)
	}
	if !user.Active {
		return models.Actor{}, ErrInactiveUser
	}
	if user.Role.Group() != role.Group() {
		return models.Actor{}, ErrRoleMismatch
	}

	if h.Verifier != nil {
		if req.Token == "" {
			return models.Actor{}, ErrTokenRequired
		}
		id, err := h.Verifier.Verify(ctx, req.Token)
		if err != nil {
			return models.Actor{}, err
		}
		if id.UserID != user.ID {
			return models.Actor{}, ErrTokenSubject
		}
	}

	return models.Actor{UserID: user.ID, Role: user.Role}, nil
}

// Emit delivers e to every connection matched by its targets, once per
// connection even when several targets match it.
func (h *Hub) Emit(ctx context.Context, e events.Event) error {
	if e.Payload == nil {
		return events.ErrUnknownKind
	}
	frame, err := events.Encode(e.Payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	seen := make(map[*client]struct{})
	var slow []*client
	deliver := func(c *client) {
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		if !trySend(c, frame) {
			slow = append(slow, c)
		}
	}

	for _, t := range e.Targets {
		switch t.Type {
		case events.TargetUser:
			for c := range h.users[t.UserID] {
				deliver(c)
			}
		case events.TargetRole:
			for c := range h.roles[t.Role.Group()] {
				deliver(c)
			}
		case events.TargetAll:
			for c := range h.clients {
				if c.actor != nil {
					deliver(c)
				}
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.evict(c)
	}
	if len(slow) > 0 {
		h.Logger.Warn("ROUTER", fmt.Sprintf("%s for order %s closed %d slow connection(s)", e.Kind(), e.Payload.OrderRef(), len(slow)))
	}
	h.Logger.Debug("ROUTER", fmt.Sprintf("%s for order %s delivered to %d connection(s)", e.Kind(), e.Payload.OrderRef(), len(seen)-len(slow)))
	return nil
}

// Publish makes the hub an events.Sink.
func (h *Hub) Publish(ctx context.Context, e events.Event) error {
	return h.Emit(ctx, e)
}

// sendTo queues a frame for one connection if it is still registered.
func (h *Hub) sendTo(c *client, frame []byte) bool {
	h.mu.RLock()
	_, ok := h.clients[c]
	sent := ok && trySend(c, frame)
	h.mu.RUnlock()
	if ok && !sent {
		h.evict(c)
	}
	return sent
}

// evict unregisters a connection that cannot keep up. Closing its outbox
// makes the writer send a close frame once the queued frames are out.
func (h *Hub) evict(c *client) {
	h.unregister(c)
	h.Logger.LogRouter("EVICT", c.id, "outbox full")
}

// trySend never blocks. The caller holds the hub lock so the outbox cannot be
// closed underneath it.
func trySend(c *client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Stats is a snapshot of the hub's membership.
type Stats struct {
	Connections   int                 `json:"connections"`
	Authenticated int                 `json:"authenticated"`
	Roles         map[models.Role]int `json:"roles"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Connections: len(h.clients), Roles: make(map[models.Role]int, len(h.roles))}
	for role, members := range h.roles {
		s.Roles[role] = len(members)
		s.Authenticated += len(members)
	}
	return s
}

func systemFrame(name string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	frame, _ := json.Marshal(events.Envelope{Event: name, Data: raw})
	return frame
}

func authenticatedFrame(a models.Actor) []byte {
	return systemFrame(events.SystemAuthenticated, a)
}

func authErrorFrame(err error) []byte {
	return systemFrame(events.SystemAuthError, map[string]string{"message": err.Error()})
}
