// Package geometry converts the pixel size of a terminal viewport into the
// row/column counts the remote pseudo-terminal needs.
//
// The per-cell pixel size is measured once and cached by the Resolver. The
// primary measurement asks the widget for its cell size directly; if that
// fails the widget's generated style text is parsed for two markers:
//
//	xterm-normal-char{width:<w>   the per-character width
//	div{height:<h>                the row height
//
// If neither strategy yields usable numbers the Resolver reports a
// geometry.unavailable error and the caller skips the resize until the next
// trigger.
package geometry

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	wssherrors "github.com/pseudocoder/wssh/internal/errors"
)

// Style markers searched for by the fallback strategy.
const (
	WidthMarker  = "xterm-normal-char{width:"
	HeightMarker = "div{height:"
)

// IsUnavailable reports whether err means no geometry could be computed this
// cycle: no strategy produced cell metrics, or the viewport is too small to
// hold a single cell.
func IsUnavailable(err error) bool {
	return wssherrors.IsCode(err, wssherrors.CodeGeometryUnavailable)
}

// Geometry is a terminal size in character cells.
type Geometry struct {
	Cols int
	Rows int
}

// String formats the geometry as "COLSxROWS".
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Cols, g.Rows)
}

// CellMetrics is the pixel size of one monospaced character cell.
type CellMetrics struct {
	Width  float64
	Height float64
}

func (m CellMetrics) usable() bool {
	return m.Width > 0 && m.Height > 0 &&
		!math.IsInf(m.Width, 0) && !math.IsInf(m.Height, 0)
}

// Viewport is the pixel area available to the terminal.
type Viewport struct {
	Width  float64
	Height float64
}

// Source is what the Resolver measures. Terminal widgets implement it.
type Source interface {
	// Viewport returns the current drawable area in pixels.
	Viewport() Viewport

	// CellSize is the primary strategy: direct introspection of the
	// renderer's per-character dimensions.
	CellSize() (CellMetrics, error)

	// StyleText is the fallback strategy: the widget's generated style sheet.
	StyleText() (string, error)
}

// Resolver turns viewport pixels into a Geometry.
//
// The cell metrics are measured lazily on first use and then kept for the
// lifetime of the Resolver. A single Resolver is meant to be shared by every
// session in the process.
type Resolver struct {
	mu      sync.Mutex
	metrics CellMetrics
	known   bool
}

// NewResolver returns a Resolver with no cached metrics.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Metrics returns the cached cell metrics, if measured.
func (r *Resolver) Metrics() (CellMetrics, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics, r.known
}

// Current computes the geometry for src's viewport.
//
// cols carries a one-column safety margin so the rightmost cell never
// overflows into the scrollbar or border; rows has none.
func (r *Resolver) Current(src Source) (Geometry, error) {
	metrics, err := r.measure(src)
	if err != nil {
		return Geometry{}, err
	}

	vp := src.Viewport()
	g := Geometry{
		Cols: fit(vp.Width, metrics.Width) - 1,
		Rows: fit(vp.Height, metrics.Height),
	}
	if g.Cols < 1 || g.Rows < 1 {
		return Geometry{}, wssherrors.GeometryUnavailable(
			fmt.Sprintf("viewport %.0fx%.0f too small for cell %.2fx%.2f", vp.Width, vp.Height, metrics.Width, metrics.Height))
	}
	return g, nil
}

// divisionSlack absorbs the rounding error of a cell size that was itself
// derived by dividing the viewport, so extent/(extent/n) floors to n.
const divisionSlack = 1e-6

// fit returns how many whole cells fit in extent.
func fit(extent, cell float64) int {
	return int(math.Floor(extent/cell + divisionSlack))
}

// measure fills the cache on first use. Failed attempts leave it unset so the
// next call tries again.
func (r *Resolver) measure(src Source) (CellMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.known {
		return r.metrics, nil
	}

	m, err := src.CellSize()
	if err != nil || !m.usable() {
		text, styleErr := src.StyleText()
		if styleErr != nil {
			return CellMetrics{}, wssherrors.GeometryUnavailable(styleErr.Error())
		}
		m, err = ParseStyle(text)
		if err != nil {
			return CellMetrics{}, err
		}
	}

	r.metrics = m
	r.known = true
	return m, nil
}

// leadingFloat matches what a lenient float parser accepts at the start of a
// string: digits with an optional fraction and exponent.
var leadingFloat = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

// ParseStyle extracts cell metrics from generated style text. The first
// numeric token after each marker is used; trailing units such as "px" are
// ignored.
func ParseStyle(text string) (CellMetrics, error) {
	w, ok := numberAfter(text, WidthMarker)
	if !ok {
		return CellMetrics{}, wssherrors.GeometryUnavailable("no " + WidthMarker + " declaration")
	}
	h, ok := numberAfter(text, HeightMarker)
	if !ok {
		return CellMetrics{}, wssherrors.GeometryUnavailable("no " + HeightMarker + " declaration")
	}

	m := CellMetrics{Width: w, Height: h}
	if !m.usable() {
		return CellMetrics{}, wssherrors.GeometryUnavailable(fmt.Sprintf("unusable cell size %gx%g", w, h))
	}
	return m, nil
}

func numberAfter(text, marker string) (float64, bool) {
	_, rest, found := strings.Cut(text, marker)
	if !found {
		return 0, false
	}
	tok := leadingFloat.FindString(strings.TrimLeft(rest, " \t\r\n"))
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
