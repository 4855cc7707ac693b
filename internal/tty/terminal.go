// Package tty adapts the local terminal to the surface widget contract.
//
// The terminal is put into raw mode on Open so keystrokes reach the remote
// side untranslated, and restored on Dispose. Pixel dimensions come from
// the window size the terminal reports; many terminals leave them zero, in
// which case the cell size is taken from configured style text.
package tty

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/muesli/cancelreader"
	"golang.org/x/term"

	"github.com/pseudocoder/wssh/internal/geometry"
)

// Default grid before the first negotiation, matching xterm.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// UnitStyle describes a one-pixel cell. It is used when the terminal reports
// no pixel sizes and no cell style is configured, so that the viewport is
// measured in cells.
const UnitStyle = geometry.WidthMarker + "1px}" + geometry.HeightMarker + "1px}"

// Options configure a Terminal.
type Options struct {
	// CellStyle overrides the style text used to measure the cell.
	CellStyle string
}

// Terminal is a surface.Widget backed by the process's terminal.
type Terminal struct {
	in        *os.File
	out       *os.File
	cellStyle string

	mu       sync.Mutex
	cols     int
	rows     int
	state    *term.State
	reader   cancelreader.CancelReader
	handlers []func(string)
	opened   bool
	disposed bool
	done     chan struct{}
}

// New returns a Terminal reading keystrokes from in and writing output to
// out, usually os.Stdin and os.Stdout.
func New(in, out *os.File, opts Options) *Terminal {
	return &Terminal{
		in:        in,
		out:       out,
		cellStyle: opts.CellStyle,
		cols:      DefaultCols,
		rows:      DefaultRows,
		done:      make(chan struct{}),
	}
}

// Viewport returns the terminal's size in pixels. When the terminal does
// not report pixels, the size is the cell grid times the cell size from the
// style text.
func (t *Terminal) Viewport() geometry.Viewport {
	ws, err := pty.GetsizeFull(t.out)
	if err != nil {
		return geometry.Viewport{}
	}
	if ws.X > 0 && ws.Y > 0 {
		return geometry.Viewport{Width: float64(ws.X), Height: float64(ws.Y)}
	}

	style, _ := t.StyleText()
	cell, err := geometry.ParseStyle(style)
	if err != nil {
		return geometry.Viewport{}
	}
	return geometry.Viewport{
		Width:  float64(ws.Cols) * cell.Width,
		Height: float64(ws.Rows) * cell.Height,
	}
}

// CellSize divides the pixel size by the grid size. It fails when the
// terminal does not report pixels.
func (t *Terminal) CellSize() (geometry.CellMetrics, error) {
	ws, err := pty.GetsizeFull(t.out)
	if err != nil {
		return geometry.CellMetrics{}, fmt.Errorf("get window size: %w", err)
	}
	if ws.X == 0 || ws.Y == 0 || ws.Cols == 0 || ws.Rows == 0 {
		return geometry.CellMetrics{}, errors.New("terminal does not report pixel size")
	}
	return geometry.CellMetrics{
		Width:  float64(ws.X) / float64(ws.Cols),
		Height: float64(ws.Y) / float64(ws.Rows),
	}, nil
}

// StyleText returns the configured cell style, or UnitStyle.
func (t *Terminal) StyleText() (string, error) {
	if t.cellStyle != "" {
		return t.cellStyle, nil
	}
	return UnitStyle, nil
}

// Open switches the terminal to raw mode, if it is one, and starts
// delivering keystrokes to the OnData handlers.
func (t *Terminal) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opened || t.disposed {
		return nil
	}

	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		t.state = state
	}

	reader, err := cancelreader.NewReader(t.in)
	if err != nil {
		t.restoreLocked()
		return fmt.Errorf("open input reader: %w", err)
	}
	t.reader = reader
	t.opened = true

	go t.readLoop(reader)
	return nil
}

func (t *Terminal) readLoop(r cancelreader.CancelReader) {
	defer close(t.done)
	defer r.Close()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.dispatch(string(buf[:n]))
		}
		if err != nil {
			if !errors.Is(err, cancelreader.ErrCanceled) && !errors.Is(err, io.EOF) {
				log.Printf("tty: input read failed: %v", err)
			}
			return
		}
	}
}

func (t *Terminal) dispatch(data string) {
	t.mu.Lock()
	handlers := make([]func(string), len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

// Focus shows the cursor. The local terminal already has keyboard focus.
func (t *Terminal) Focus() {
	t.Write("\x1b[?25h")
}

// Write sends text to the terminal verbatim. Writes after Dispose are
// ignored.
func (t *Terminal) Write(text string) error {
	t.mu.Lock()
	disposed := t.disposed
	t.mu.Unlock()
	if disposed {
		return nil
	}
	_, err := io.WriteString(t.out, text)
	return err
}

// Cols returns the last negotiated column count.
func (t *Terminal) Cols() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols
}

// Rows returns the last negotiated row count.
func (t *Terminal) Rows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows
}

// Resize records the negotiated grid. The local window is not changed.
func (t *Terminal) Resize(cols, rows int) error {
	if cols < 1 || rows < 1 {
		return fmt.Errorf("invalid grid %dx%d", cols, rows)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cols, t.rows = cols, rows
	return nil
}

// OnData registers a keystroke handler.
func (t *Terminal) OnData(h func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// SetTitle sets the window title with an OSC 0 sequence.
// It keeps working after Dispose so the title can be reset on close.
func (t *Terminal) SetTitle(title string) {
	if _, err := io.WriteString(t.out, "\x1b]0;"+title+"\x07"); err != nil {
		log.Printf("tty: set title failed: %v", err)
	}
}

// Done is closed when keystroke delivery has stopped, either because input
// reached EOF or because the Terminal was disposed.
func (t *Terminal) Done() <-chan struct{} { return t.done }

// Dispose stops reading input and restores the terminal mode. Safe to call
// more than once.
func (t *Terminal) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return nil
	}
	t.disposed = true

	if t.reader != nil {
		t.reader.Cancel()
	} else {
		close(t.done)
	}
	return t.restoreLocked()
}

func (t *Terminal) restoreLocked() error {
	if t.state == nil {
		return nil
	}
	err := term.Restore(int(t.in.Fd()), t.state)
	t.state = nil
	if err != nil {
		return fmt.Errorf("restore terminal: %w", err)
	}
	return nil
}
