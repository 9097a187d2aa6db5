package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-restaurant/internal/auth"
	"ms-restaurant/internal/config"
	"ms-restaurant/internal/events"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
	"ms-restaurant/internal/users"
)

type fakeDirectory map[string]models.User

func (d fakeDirectory) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return &u, nil
}

func testDirectory() fakeDirectory {
	return fakeDirectory{
		"waiter-1":   {ID: "waiter-1", Role: models.RoleWaiter, Active: true},
		"waiter-2":   {ID: "waiter-2", Role: models.RoleWaiter, Active: true},
		"cook-1":     {ID: "cook-1", Role: models.RoleCook, Active: true},
		"admin-1":    {ID: "admin-1", Role: models.RoleAdmin, Active: true},
		"director-1": {ID: "director-1", Role: models.RoleDirector, Active: true},
		"gone-1":     {ID: "gone-1", Role: models.RoleWaiter, Active: false},
	}
}

func newTestHub(outbox int) *Hub {
	return NewHub(testDirectory(), nil, config.RouterConfig{OutboxSize: outbox}, logger.NewNopLogger())
}

func connect(h *Hub, userID string, role models.Role) *client {
	c := h.register()
	h.join(c, models.Actor{UserID: userID, Role: role})
	return c
}

// drain returns the event names queued for c without blocking.
func drain(t *testing.T, c *client) []string {
	t.Helper()
	var names []string
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return names
			}
			var env events.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			names = append(names, env.Event)
		default:
			return names
		}
	}
}

func TestEmitRoutesByTarget(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	waiter := connect(h, "waiter-1", models.RoleWaiter)
	otherWaiter := connect(h, "waiter-2", models.RoleWaiter)
	cook := connect(h, "cook-1", models.RoleCook)
	director := connect(h, "director-1", models.RoleDirector)
	anonymous := h.register()

	require.NoError(t, h.Emit(ctx, events.New(events.OrderReady{OrderID: "o-1"}, events.ToUser("waiter-1"))))
	assert.Equal(t, []string{"order.ready"}, drain(t, waiter))
	assert.Empty(t, drain(t, otherWaiter))
	assert.Empty(t, drain(t, cook))
	assert.Empty(t, drain(t, director))

	require.NoError(t, h.Emit(ctx, events.New(events.OrderNew{OrderID: "o-2"}, events.ToRole(models.RoleCook), events.ToRole(models.RoleAdmin))))
	assert.Equal(t, []string{"order.new"}, drain(t, cook))
	assert.Equal(t, []string{"order.new"}, drain(t, director), "directors sit in the admin room")
	assert.Empty(t, drain(t, waiter))

	require.NoError(t, h.Emit(ctx, events.New(events.OrderUpdated{OrderID: "o-3"}, events.ToAll())))
	for _, c := range []*client{waiter, otherWaiter, cook, director} {
		assert.Equal(t, []string{"order.updated"}, drain(t, c))
	}
	assert.Empty(t, drain(t, anonymous), "unauthenticated connections are in no group")
}

func TestEmitDeliversOncePerConnection(t *testing.T) {
	h := newTestHub(8)
	waiter := connect(h, "waiter-1", models.RoleWaiter)

	e := events.New(events.OrderCancelled{OrderID: "o-1"}, events.ToUser("waiter-1"), events.ToRole(models.RoleWaiter), events.ToAll())
	require.NoError(t, h.Emit(context.Background(), e))

	assert.Equal(t, []string{"order.cancelled"}, drain(t, waiter))
}

func TestEmitKeepsOrderPerConnection(t *testing.T) {
	h := newTestHub(16)
	cook := connect(h, "cook-1", models.RoleCook)

	for i := 0; i < 5; i++ {
		p := events.OrderUpdated{OrderID: "o-1", TableNumber: i}
		require.NoError(t, h.Emit(context.Background(), events.New(p, events.ToRole(models.RoleCook))))
	}

	for i := 0; i < 5; i++ {
		frame := <-cook.send
		var env events.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		p, err := events.Decode(events.Kind(env.Event), env.Data)
		require.NoError(t, err)
		assert.Equal(t, i, p.(events.OrderUpdated).TableNumber)
	}
}

func TestEmitClosesConnectionWithFullOutbox(t *testing.T) {
	h := newTestHub(1)
	ctx := context.Background()
	slow := connect(h, "cook-1", models.RoleCook)
	other := connect(h, "cook-2", models.RoleCook)

	require.NoError(t, h.Emit(ctx, events.New(events.OrderNew{OrderID: "o-1"}, events.ToRole(models.RoleCook))))
	assert.Equal(t, []string{string(events.KindOrderNew)}, drain(t, other))

	done := make(chan error, 1)
	go func() {
		done <- h.Emit(ctx, events.New(events.OrderCancelled{OrderID: "o-1"}, events.ToRole(models.RoleCook)))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full outbox")
	}

	s := h.Stats()
	assert.Equal(t, 1, s.Connections)
	assert.Equal(t, 1, s.Roles[models.RoleCook], "slow connection leaves the cook group")

	// the queued frame is still flushed before the outbox reports closed
	assert.Equal(t, []string{string(events.KindOrderNew)}, drain(t, slow))
	_, open := <-slow.send
	assert.False(t, open)

	assert.Equal(t, []string{string(events.KindOrderCancelled)}, drain(t, other))
}

func TestSendToClosesSlowConnection(t *testing.T) {
	h := newTestHub(1)
	c := connect(h, "waiter-1", models.RoleWaiter)

	assert.True(t, h.sendTo(c, authenticatedFrame(models.Actor{UserID: "waiter-1", Role: models.RoleWaiter})))
	assert.False(t, h.sendTo(c, authErrorFrame(ErrNotAuthenticated)))
	assert.Equal(t, 0, h.Stats().Connections)
	assert.False(t, h.sendTo(c, authErrorFrame(ErrNotAuthenticated)), "no send after eviction")
}

func TestUnregisterLeavesEveryGroup(t *testing.T) {
	h := newTestHub(4)
	waiter := connect(h, "waiter-1", models.RoleWaiter)
	connect(h, "cook-1", models.RoleCook)
	h.register()

	s := h.Stats()
	assert.Equal(t, 3, s.Connections)
	assert.Equal(t, 2, s.Authenticated)

	h.unregister(waiter)
	h.unregister(waiter)

	s = h.Stats()
	assert.Equal(t, 2, s.Connections)
	assert.Equal(t, 1, s.Authenticated)
	assert.NotContains(t, s.Roles, models.RoleWaiter)

	_, open := <-waiter.send
	assert.False(t, open, "outbox is closed on unregister")

	require.NoError(t, h.Emit(context.Background(), events.New(events.OrderReady{OrderID: "o-1"}, events.ToUser("waiter-1"))))
}

func TestAuthenticate(t *testing.T) {
	h := newTestHub(4)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     AuthRequest
		wantErr error
		want    models.Actor
	}{
		{name: "waiter", req: AuthRequest{UserID: "waiter-1", Role: "waiter"}, want: models.Actor{UserID: "waiter-1", Role: models.RoleWaiter}},
		{name: "director as admin", req: AuthRequest{UserID: "director-1", Role: "admin"}, want: models.Actor{UserID: "director-1", Role: models.RoleDirector}},
		{name: "case insensitive role", req: AuthRequest{UserID: "cook-1", Role: "COOK"}, want: models.Actor{UserID: "cook-1", Role: models.RoleCook}},
		{name: "unknown user", req: AuthRequest{UserID: "ghost", Role: "waiter"}, wantErr: ErrUnknownUser},
		{name: "missing id", req: AuthRequest{Role: "waiter"}, wantErr: ErrUnknownUser},
		{name: "unknown role", req: AuthRequest{UserID: "waiter-1", Role: "chef"}, wantErr: ErrUnknownUser},
		{name: "inactive", req: AuthRequest{UserID: "gone-1", Role: "waiter"}, wantErr: ErrInactiveUser},
		{name: "role mismatch", req: AuthRequest{UserID: "waiter-1", Role: "cook"}, wantErr: ErrRoleMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Authenticate(ctx, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticateWithVerifier(t *testing.T) {
	const secret = "router-secret"
	h := newTestHub(4)
	h.Verifier = auth.NewHMACVerifier(secret)
	ctx := context.Background()

	_, err := h.Authenticate(ctx, AuthRequest{UserID: "waiter-1", Role: "waiter"})
	assert.ErrorIs(t, err, ErrTokenRequired)

	other, err := auth.IssueToken(secret, "waiter-2", models.RoleWaiter, time.Minute)
	require.NoError(t, err)
	_, err = h.Authenticate(ctx, AuthRequest{UserID: "waiter-1", Role: "waiter", Token: other})
	assert.ErrorIs(t, err, ErrTokenSubject)

	_, err = h.Authenticate(ctx, AuthRequest{UserID: "waiter-1", Role: "waiter", Token: "garbage"})
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	own, err := auth.IssueToken(secret, "waiter-1", models.RoleWaiter, time.Minute)
	require.NoError(t, err)
	actor, err := h.Authenticate(ctx, AuthRequest{UserID: "waiter-1", Role: "waiter", Token: own})
	require.NoError(t, err)
	assert.Equal(t, "waiter-1", actor.UserID)
}
