// Package surface adapts a terminal rendering widget to the session bridge.
//
// The Surface owns the widget's lifecycle and translates its events into
// outbound messages: keystrokes become message.Data and geometry changes
// become message.Resize. It only emits after Initialize, and Initialize only
// runs once the transport is open, so nothing is sent on a closed channel.
package surface

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pseudocoder/wssh/internal/geometry"
	"github.com/pseudocoder/wssh/internal/message"
)

// DefaultGrace is how long the widget reference outlives Dispose.
const DefaultGrace = time.Second

// Widget is the rendering component: cursor, scrollback, and escape-sequence
// interpretation all live behind it.
type Widget interface {
	geometry.Source

	// Open attaches the widget to its mount point.
	Open() error

	// Focus gives the widget input focus.
	Focus()

	// Write renders text.
	Write(text string) error

	// Cols and Rows report the widget's current grid.
	Cols() int
	Rows() int

	// Resize changes the widget's grid.
	Resize(cols, rows int) error

	// OnData registers the handler for user input.
	OnData(handler func(data string))

	// Dispose releases the widget. Writes after Dispose are ignored.
	Dispose() error
}

// Sender delivers outbound messages to the transport.
type Sender interface {
	Send(msg message.Outbound) error
}

// Options configure a Surface.
type Options struct {
	// Resolver converts viewport pixels to cells. Share one per process.
	Resolver *geometry.Resolver

	// Sender receives every outbound message.
	Sender Sender

	// Grace delays dropping the widget reference after Dispose.
	// Zero means DefaultGrace.
	Grace time.Duration
}

// Surface wraps a Widget. The zero value is not usable; use New.
type Surface struct {
	mu          sync.Mutex
	widget      Widget
	resolver    *geometry.Resolver
	sender      Sender
	grace       time.Duration
	initialized bool
	resized     bool
	disposed    bool

	// unavailable throttles "geometry unavailable" log lines, which would
	// otherwise repeat on every resize callback.
	unavailable rate.Sometimes
}

// New wraps w.
func New(w Widget, opts Options) *Surface {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = geometry.NewResolver()
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Surface{
		widget:      w,
		resolver:    resolver,
		sender:      opts.Sender,
		grace:       grace,
		unavailable: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Initialize opens the widget, focuses it, and registers the input handler.
// Calling it again is a no-op.
func (s *Surface) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized || s.widget == nil || s.disposed {
		return nil
	}

	if err := s.widget.Open(); err != nil {
		return err
	}
	s.widget.Focus()
	s.widget.OnData(s.handleData)
	s.initialized = true
	return nil
}

// Initialized reports whether Initialize has run.
func (s *Surface) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Resized reports whether the first-write resize has happened.
func (s *Surface) Resized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resized
}

// Write renders text. The first write also negotiates the geometry, since
// the widget can only be measured once something has been rendered.
func (s *Surface) Write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The owner may already be gone when a late chunk arrives.
	if s.widget == nil {
		return
	}

	if err := s.widget.Write(text); err != nil {
		log.Printf("surface: write failed: %v", err)
	}

	if !s.resized && s.initialized && !s.disposed {
		s.resizeLocked()
		s.resized = true
	}
}

// Resize recomputes the geometry and, if it changed, resizes the widget and
// tells the peer. Call it on every window-resize trigger.
func (s *Surface) Resize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.widget == nil || s.disposed || !s.initialized {
		return
	}
	s.resizeLocked()
}

// resizeLocked only runs once initialized, so every grid change it makes
// reaches the peer.
func (s *Surface) resizeLocked() {
	g, err := s.resolver.Current(s.widget)
	if err != nil {
		s.unavailable.Do(func() {
			log.Printf("surface: skipping resize: %v", err)
		})
		return
	}

	if g.Cols == s.widget.Cols() && g.Rows == s.widget.Rows() {
		return
	}

	log.Printf("surface: resizing terminal to geometry %s", g)
	if err := s.widget.Resize(g.Cols, g.Rows); err != nil {
		log.Printf("surface: widget resize failed: %v", err)
		return
	}
	s.emit(message.Resize{Cols: g.Cols, Rows: g.Rows})
}

func (s *Surface) handleData(data string) {
	s.mu.Lock()
	live := s.initialized && !s.disposed
	s.mu.Unlock()

	if !live {
		return
	}
	s.emit(message.Data{Text: data})
}

func (s *Surface) emit(msg message.Outbound) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(msg); err != nil {
		log.Printf("surface: send %v failed: %v", msg, err)
	}
}

// Dispose releases the widget now and drops the reference after the grace
// delay, so writes already in flight still find a (disposed) widget instead
// of a half-torn-down one. Calling it again is a no-op.
func (s *Surface) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || s.widget == nil {
		return
	}
	s.disposed = true

	if err := s.widget.Dispose(); err != nil {
		log.Printf("surface: dispose failed: %v", err)
	}

	time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		s.widget = nil
		s.mu.Unlock()
	})
}

// Attached reports whether the widget reference is still held.
func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.widget != nil
}
