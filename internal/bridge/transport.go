package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	wssherrors "github.com/pseudocoder/wssh/internal/errors"
)

// EndpointSegment is the path segment of the socket endpoint, relative to
// the page the session is started from.
const EndpointSegment = "ws"

// Conn is the duplex channel a Bridge drives. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// NewDialer returns a WebsocketDialer. tlsConfig may be nil.
func NewDialer(tlsConfig *tls.Config) *WebsocketDialer {
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			TLSClientConfig:  tlsConfig,
		},
	}
}

// DialContext performs the WebSocket handshake.
func (d *WebsocketDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// BuildURL derives the socket URL from the page URL: the query and fragment
// are dropped, the scheme is upgraded (http -> ws, https -> wss), and the
// endpoint segment is appended to the path.
func BuildURL(pageURL string) (*url.URL, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, wssherrors.BadURL(pageURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, wssherrors.BadURL(pageURL, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, wssherrors.BadURL(pageURL, fmt.Errorf("missing host"))
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.Path += EndpointSegment
	u.RawPath = ""
	return u, nil
}

// XSRFCookie is the cookie carrying the anti-forgery token.
const XSRFCookie = "_xsrf"

// FetchXSRF loads the page and returns the anti-forgery token from its
// cookie, plus every cookie the page set so they can be replayed on the
// handshake. An empty token with a nil error means the server sets none.
func FetchXSRF(ctx context.Context, client *http.Client, pageURL string) (string, []*http.Cookie, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build page request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("fetch page: HTTP %d", resp.StatusCode)
	}

	cookies := resp.Cookies()
	for _, c := range cookies {
		if c.Name == XSRFCookie {
			return c.Value, cookies, nil
		}
	}
	return "", cookies, nil
}

// CookieHeader turns cookies into a handshake header.
func CookieHeader(cookies []*http.Cookie) http.Header {
	if len(cookies) == 0 {
		return nil
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	h := http.Header{}
	h.Set("Cookie", strings.Join(parts, "; "))
	return h
}
