package bridge

import (
	"context"
	"log"
	"net/url"
	"sync"
)

// Manager keeps at most one live Bridge. Every Connect builds a fresh Bridge
// after tearing down the previous one.
type Manager struct {
	pageURL string
	build   func(sessionTitle string) *Bridge

	mu      sync.Mutex
	current *Bridge
}

// NewManager returns a Manager that connects relative to pageURL. build is
// called once per Connect and must return a new Idle Bridge.
func NewManager(pageURL string, build func(sessionTitle string) *Bridge) *Manager {
	return &Manager{pageURL: pageURL, build: build}
}

// Connect closes the live Bridge, if any, waits for its teardown, then
// connects a new one.
func (m *Manager) Connect(ctx context.Context, query url.Values, sessionTitle string) error {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		log.Printf("bridge: replacing live session %s", prev.ID())
		prev.Close()
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b := m.build(sessionTitle)
	m.mu.Lock()
	m.current = b
	m.mu.Unlock()

	return b.Connect(ctx, m.pageURL, query)
}

// Current returns the most recently connected Bridge, or nil.
func (m *Manager) Current() *Bridge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close tears down the live Bridge, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	b := m.current
	m.current = nil
	m.mu.Unlock()

	if b == nil {
		return nil
	}
	return b.Close()
}
