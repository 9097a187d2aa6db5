package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"ms-restaurant/internal/logger"
)

// Listener receives the raw data of one event.
type Listener func(data json.RawMessage)

type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// registry keeps callbacks per event name in registration order.
type registry struct {
	mu      sync.Mutex
	nextID  ListenerID
	byEvent map[string][]listenerEntry
}

func newRegistry() *registry {
	return &registry{byEvent: make(map[string][]listenerEntry)}
}

func (r *registry) on(event string, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.byEvent[event] = append(r.byEvent[event], listenerEntry{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *registry) off(event string, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byEvent[event]
	for i, e := range entries {
		if e.id == id {
			r.byEvent[event] = append(entries[:i:i], entries[i+1:]...)
			if len(r.byEvent[event]) == 0 {
				delete(r.byEvent, event)
			}
			return true
		}
	}
	return false
}

func (r *registry) clear() {
	r.mu.Lock()
	r.byEvent = make(map[string][]listenerEntry)
	r.mu.Unlock()
}

func (r *registry) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byEvent[event])
}

// dispatch calls every listener of event in order. A panicking listener is
// logged and the rest still run.
func (r *registry) dispatch(event string, data json.RawMessage, log *logger.Logger) {
	r.mu.Lock()
	entries := append([]listenerEntry(nil), r.byEvent[event]...)
	r.mu.Unlock()

	for _, e := range entries {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("SESSION", fmt.Sprintf("listener %d for %s panicked: %v", e.id, event, rec))
				}
			}()
			e.fn(data)
		}()
	}
}
