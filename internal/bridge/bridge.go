// Package bridge connects a terminal surface to a remote session over a
// WebSocket.
//
// A Bridge runs the lifecycle
//
//	Idle --Connect--> Connecting --open--> Open --close/error--> Closed
//
// exactly once. Closed is terminal: reconnecting means building a new
// Bridge, never rebinding handlers on a live one. Manager enforces that only
// one Bridge is live at a time.
//
// Inbound frames are decoded and written to the surface in arrival order by
// a single reader goroutine. Outbound messages from the surface are encoded
// as one JSON text frame each and dropped silently unless the Bridge is Open.
package bridge

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pseudocoder/wssh/internal/decode"
	wssherrors "github.com/pseudocoder/wssh/internal/errors"
	"github.com/pseudocoder/wssh/internal/message"
	"github.com/pseudocoder/wssh/internal/surface"
)

// DefaultTitle is displayed whenever no session is open.
const DefaultTitle = "WebSSH"

// State is a Bridge lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Surface is the terminal side of the bridge. *surface.Surface satisfies it.
type Surface interface {
	Initialize() error
	Write(text string)
	Dispose()
}

// SurfaceFactory builds the surface for a new Bridge. The sender it receives
// is the Bridge itself.
type SurfaceFactory func(sender surface.Sender) Surface

// TitleSink displays the session title.
type TitleSink interface {
	SetTitle(title string)
}

// Options configure a Bridge.
type Options struct {
	// Dialer opens the transport. Defaults to NewDialer(nil).
	Dialer Dialer

	// Decoder turns inbound payloads into text. Defaults to decode.Select("").
	Decoder decode.Decoder

	// NewSurface builds the terminal surface. Required.
	NewSurface SurfaceFactory

	// Title receives the session title on open and DefaultTitle on close.
	// May be nil.
	Title TitleSink

	// SessionTitle is shown while the session is open, e.g. "alice@host:22".
	// Empty means DefaultTitle.
	SessionTitle string

	// Header is sent with the handshake (cookies, origin).
	Header http.Header

	// OnClose runs once after teardown with the close reason.
	OnClose func(reason string)
}

// Bridge owns one transport connection and its surface.
type Bridge struct {
	id           string
	dialer       Dialer
	decoder      decode.Decoder
	surface      Surface
	title        TitleSink
	sessionTitle string
	header       http.Header
	onClose      func(reason string)

	mu          sync.Mutex
	state       State
	conn        Conn
	cancel      context.CancelFunc
	notice      string // reason from the peer's close notice, if any
	localReason string // set when the client initiated the close
	reason      string

	// writeMu serializes frames; the socket allows one writer at a time.
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// New returns an Idle Bridge.
func New(opts Options) *Bridge {
	b := &Bridge{
		id:           uuid.New().String(),
		dialer:       opts.Dialer,
		decoder:      opts.Decoder,
		title:        opts.Title,
		sessionTitle: opts.SessionTitle,
		header:       opts.Header,
		onClose:      opts.OnClose,
		done:         make(chan struct{}),
	}
	if b.dialer == nil {
		b.dialer = NewDialer(nil)
	}
	if b.decoder == nil {
		b.decoder = decode.Select("")
	}
	if opts.NewSurface != nil {
		b.surface = opts.NewSurface(b)
	}
	return b
}

// ID identifies the Bridge in log lines.
func (b *Bridge) ID() string { return b.id }

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done is closed once teardown has finished.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Reason returns the close reason, or "" while the Bridge is not closed.
func (b *Bridge) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Connect opens the transport at the socket URL derived from pageURL, with
// query as the handshake parameters. It only works on an Idle Bridge.
//
// Connect returns once the transport is open (or failed to open); inbound
// frames are then handled in the background until the transport closes.
func (b *Bridge) Connect(ctx context.Context, pageURL string, query url.Values) error {
	b.mu.Lock()
	if b.state != StateIdle {
		state := b.state
		b.mu.Unlock()
		return wssherrors.SessionAlreadyUsed(state.String())
	}
	b.state = StateConnecting
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	target, err := BuildURL(pageURL)
	if err != nil {
		cancel()
		b.handleError(err)
		b.handleClose(err.Error())
		return err
	}
	endpoint := target.String()
	target.RawQuery = query.Encode()

	log.Printf("bridge[%s]: connecting to %s", b.id, endpoint)
	conn, err := b.dialer.DialContext(ctx, target.String(), b.header)
	if err != nil {
		cancel()
		dialErr := wssherrors.DialFailed(endpoint, err)
		b.handleError(dialErr)
		b.handleClose(dialErr.Error())
		return dialErr
	}

	b.mu.Lock()
	if b.localReason != "" {
		// Closed while the handshake was in flight.
		b.mu.Unlock()
		conn.Close()
		b.handleClose("closed during handshake")
		return wssherrors.TransportClosed("closed during handshake")
	}
	b.conn = conn
	b.state = StateOpen
	b.mu.Unlock()

	b.handleOpen()
	go b.readLoop(conn)
	return nil
}

// Send writes msg as one text frame. Messages sent while the Bridge is not
// Open are dropped without error.
func (b *Bridge) Send(msg message.Outbound) error {
	b.mu.Lock()
	conn := b.conn
	open := b.state == StateOpen
	b.mu.Unlock()

	if !open || conn == nil {
		return nil
	}

	data, err := msg.Encode()
	if err != nil {
		return wssherrors.Internal("encode outbound message", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return wssherrors.Wrap(wssherrors.CodeTransportSendFail, "send "+describe(msg), err)
	}
	return nil
}

func describe(msg message.Outbound) string {
	if s, ok := msg.(interface{ String() string }); ok {
		return s.String()
	}
	return "message"
}

// Close ends the session from the client side. It is safe to call in any
// state and more than once; teardown runs exactly once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	state := b.state
	conn := b.conn
	cancel := b.cancel
	if state == StateOpen || state == StateConnecting {
		b.localReason = "closed by client"
	}
	b.mu.Unlock()

	switch state {
	case StateIdle:
		b.handleClose("closed before connect")
	case StateConnecting:
		// The failing handshake runs the close handler.
		if cancel != nil {
			cancel()
		}
	case StateOpen:
		b.writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMu.Unlock()
		if err != nil {
			log.Printf("bridge[%s]: close frame not sent: %v", b.id, err)
		}
		// Unblocks the reader, which runs the close handler.
		return conn.Close()
	}
	return nil
}

func (b *Bridge) handleOpen() {
	log.Printf("bridge[%s]: open", b.id)
	if b.surface != nil {
		if err := b.surface.Initialize(); err != nil {
			log.Printf("bridge[%s]: surface initialize failed: %v", b.id, err)
		}
	}
	title := b.sessionTitle
	if title == "" {
		title = DefaultTitle
	}
	b.setTitle(title)
}

func (b *Bridge) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			local := b.localReason != ""
			b.mu.Unlock()

			var ce *websocket.CloseError
			if !local && (!errors.As(err, &ce) || websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway)) {
				b.handleError(wssherrors.TransportError(err))
			}
			b.handleClose(closeReason(err))
			return
		}
		b.handleMessage(data)
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return closeCodeText(ce.Code)
	}
	return err.Error()
}

func closeCodeText(code int) string {
	switch code {
	case websocket.CloseNormalClosure:
		return "normal closure"
	case websocket.CloseGoingAway:
		return "going away"
	case websocket.CloseAbnormalClosure:
		return "abnormal closure"
	default:
		return "close code " + strconv.Itoa(code)
	}
}

func (b *Bridge) handleMessage(data []byte) {
	if reason, ok := message.ParseCloseNotice(data); ok {
		log.Printf("bridge[%s]: peer is closing: %s", b.id, reason)
		b.mu.Lock()
		b.notice = reason
		b.mu.Unlock()
		return
	}

	text, err := b.decoder.Decode(data)
	if err != nil {
		log.Printf("bridge[%s]: dropping chunk: %v", b.id, err)
		return
	}
	if b.surface != nil {
		b.surface.Write(text)
	}
}

func (b *Bridge) handleError(err error) {
	log.Printf("bridge[%s]: %v", b.id, err)
}

func (b *Bridge) handleClose(reason string) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		conn := b.conn
		cancel := b.cancel
		b.conn = nil
		b.state = StateClosed
		switch {
		case b.localReason != "":
			reason = b.localReason
		case b.notice != "":
			reason = b.notice
		}
		b.reason = reason
		b.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		if cancel != nil {
			cancel()
		}
		if b.surface != nil {
			b.surface.Dispose()
		}
		b.setTitle(DefaultTitle)

		log.Printf("bridge[%s]: closed: %s", b.id, wssherrors.GetMessage(wssherrors.TransportClosed(reason)))
		if b.onClose != nil {
			b.onClose(reason)
		}
		close(b.done)
	})
}

func (b *Bridge) setTitle(title string) {
	if b.title != nil {
		b.title.SetTitle(title)
	}
}
