package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/pseudocoder/wssh/internal/bridge"
	"github.com/pseudocoder/wssh/internal/config"
	"github.com/pseudocoder/wssh/internal/decode"
	wssherrors "github.com/pseudocoder/wssh/internal/errors"
	"github.com/pseudocoder/wssh/internal/form"
	"github.com/pseudocoder/wssh/internal/geometry"
	"github.com/pseudocoder/wssh/internal/storage"
	"github.com/pseudocoder/wssh/internal/surface"
	wsshtls "github.com/pseudocoder/wssh/internal/tls"
	"github.com/pseudocoder/wssh/internal/tty"
)

// Secrets are read from the environment so they stay out of shell history.
const (
	passwordEnvVar   = "WSSH_PASSWORD"
	passphraseEnvVar = "WSSH_PASSPHRASE"
)

// pageFetchTimeout bounds the request that collects the anti-forgery cookie.
const pageFetchTimeout = 10 * time.Second

// console is the terminal sessions run on.
var console = struct{ in, out *os.File }{os.Stdin, os.Stdout}

// ConnectConfig holds the options of "wssh connect" before they are merged
// with the config file.
type ConnectConfig struct {
	config.Config
	ConfigPath  string
	AskPassword bool
	TOTP        string
}

func runConnect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ConnectConfig{}

	fs.StringVar(&cfg.ConfigPath, "config", "", "Path to config file (default: ~/.wssh/config.toml)")
	fs.StringVar(&cfg.URL, "url", "", "Page URL of the webssh server (default: http://127.0.0.1:8888/)")
	fs.StringVar(&cfg.Hostname, "hostname", "", "SSH host to reach through the server (default: last used)")
	fs.StringVar(&cfg.Port, "port", "", "SSH port (default: last used, else 22)")
	fs.StringVar(&cfg.Username, "username", "", "SSH username (default: last used)")
	fs.StringVar(&cfg.KeyFile, "key-file", "", "Private key to send with the handshake")
	fs.StringVar(&cfg.Term, "term", "", "Terminal type reported to the server (default: xterm-256color)")
	fs.StringVar(&cfg.Encoding, "encoding", "", "Encoding of server output (default: utf-8)")
	fs.StringVar(&cfg.CellStyle, "cell-style", "", "Style text giving the cell size when the terminal reports no pixel sizes")
	fs.IntVar(&cfg.GraceMs, "grace-ms", 0, "Delay before a closed session's surface is released, in ms (default: 1000)")
	fs.BoolVar(&cfg.Permissive, "permissive", false, "Connect even when the form has validation errors")
	fs.StringVar(&cfg.TLSFingerprint, "tls-fingerprint", "", "Pin the server certificate by SHA-256 fingerprint")
	fs.StringVar(&cfg.Store, "store", "", "Path to the field and history store (default: ~/.wssh/wssh.db)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Log file path (default: ~/.wssh/wssh.log)")
	fs.BoolVar(&cfg.AskPassword, "ask-password", false, "Prompt for the SSH password (or set "+passwordEnvVar+")")
	fs.StringVar(&cfg.TOTP, "totp", "", "One-time code for two-factor servers")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh connect [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	fileCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	merged := mergeConfig(&cfg.Config, fileCfg, explicitFlags)
	merged.ApplyDefaults()

	if _, err := bridge.BuildURL(merged.URL); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Log output would corrupt the raw-mode screen, so it goes to a file.
	logFile, err := openLogFile(merged.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	defer log.SetOutput(os.Stderr)

	in := form.Input{
		Hostname:   merged.Hostname,
		Port:       merged.Port,
		Username:   merged.Username,
		Passphrase: os.Getenv(passphraseEnvVar),
		TOTP:       cfg.TOTP,
	}

	if merged.KeyFile != "" {
		key, err := os.ReadFile(merged.KeyFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to read key file: %v\n", err)
			return 1
		}
		in.PrivateKey = key
		in.KeyName = filepath.Base(merged.KeyFile)
	}

	in.Password = os.Getenv(passwordEnvVar)
	if cfg.AskPassword && in.Password == "" {
		pw, err := readPassword(stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		in.Password = pw
	}

	tlsConfig, err := wsshtls.PinnedConfig(merged.TLSFingerprint)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store := openStore(merged.Store)
	if store != nil {
		defer store.Close()
	}

	s := newSession(merged, tlsConfig, store)
	manager := bridge.NewManager(merged.URL, s.build)

	opts := form.Options{
		Connector:  manager,
		Permissive: merged.Permissive,
		TermType:   merged.Term,
		XSRF:       s.fetchXSRF,
	}
	if store != nil {
		opts.Store = store
	}
	controller := form.NewController(opts)

	saved, err := controller.Restore()
	if err != nil {
		log.Printf("connect: could not restore remembered fields: %v", err)
	}
	in = in.Fill(saved)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := controller.Submit(ctx, in)
	if err != nil {
		var verr *wssherrors.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(stderr, "Error: invalid connection details:")
			for _, v := range verr.Violations {
				fmt.Fprintf(stderr, "  %s\n", v)
			}
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, v := range result.Errors {
		fmt.Fprintf(stderr, "Warning: %s\n", v)
	}

	b := manager.Current()
	tty.WatchResize(ctx, s.resize)

	select {
	case <-b.Done():
	case <-s.inputDone():
		manager.Close()
		<-b.Done()
	case <-ctx.Done():
		manager.Close()
		<-b.Done()
	}

	fmt.Fprintf(stdout, "\r\nConnection closed: %s\r\n", b.Reason())
	return 0
}

// mergeConfig applies file values wherever the command line left a field
// unset. Booleans use the explicit flag set.
func mergeConfig(flags, file *config.Config, explicitFlags map[string]bool) *config.Config {
	merged := *flags
	if merged.URL == "" {
		merged.URL = file.URL
	}
	if merged.Hostname == "" {
		merged.Hostname = file.Hostname
	}
	if merged.Port == "" {
		merged.Port = file.Port
	}
	if merged.Username == "" {
		merged.Username = file.Username
	}
	if merged.KeyFile == "" {
		merged.KeyFile = file.KeyFile
	}
	if merged.Term == "" {
		merged.Term = file.Term
	}
	if merged.Encoding == "" {
		merged.Encoding = file.Encoding
	}
	if merged.CellStyle == "" {
		merged.CellStyle = file.CellStyle
	}
	if merged.GraceMs == 0 {
		merged.GraceMs = file.GraceMs
	}
	if merged.TLSFingerprint == "" {
		merged.TLSFingerprint = file.TLSFingerprint
	}
	if merged.Store == "" {
		merged.Store = file.Store
	}
	if merged.LogFile == "" {
		merged.LogFile = file.LogFile
	}
	if merged.DiscoverTimeoutMs == 0 {
		merged.DiscoverTimeoutMs = file.DiscoverTimeoutMs
	}
	if !explicitFlags["permissive"] {
		merged.Permissive = file.Permissive
	}
	return &merged
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// openStore opens the field store. A store that cannot be opened only
// disables remembering fields and history.
func openStore(path string) *storage.SQLiteStore {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		log.Printf("connect: store unavailable: %v", err)
		return nil
	}
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		log.Printf("connect: store unavailable: %v", err)
		return nil
	}
	return store
}

func readPassword(prompt io.Writer) (string, error) {
	fd := int(console.in.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--ask-password needs a terminal; set " + passwordEnvVar + " instead")
	}
	fmt.Fprint(prompt, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(string(pw), "\r\n"), nil
}

// session builds one Bridge per connection attempt and tracks the live
// surface for resize events.
type session struct {
	cfg      *config.Config
	resolver *geometry.Resolver
	dialer   bridge.Dialer
	client   *http.Client
	store    *storage.SQLiteStore

	mu      sync.Mutex
	header  http.Header
	surface *surface.Surface
	term    *tty.Terminal
}

func newSession(cfg *config.Config, tlsConfig *tls.Config, store *storage.SQLiteStore) *session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &session{
		cfg:      cfg,
		resolver: geometry.NewResolver(),
		dialer:   bridge.NewDialer(tlsConfig),
		client:   &http.Client{Transport: transport, Timeout: pageFetchTimeout},
		store:    store,
	}
}

// fetchXSRF loads the server page for its anti-forgery cookie. Every cookie
// it sets is replayed on the handshake.
func (s *session) fetchXSRF(ctx context.Context) string {
	token, cookies, err := bridge.FetchXSRF(ctx, s.client, s.cfg.URL)
	if err != nil {
		log.Printf("connect: no anti-forgery token: %v", err)
		return ""
	}
	s.mu.Lock()
	s.header = bridge.CookieHeader(cookies)
	s.mu.Unlock()
	return token
}

func (s *session) build(sessionTitle string) *bridge.Bridge {
	t := tty.New(console.in, console.out, tty.Options{CellStyle: s.cfg.CellStyle})

	s.mu.Lock()
	header := s.header
	s.term = t
	s.mu.Unlock()

	var b *bridge.Bridge
	b = bridge.New(bridge.Options{
		Dialer:  s.dialer,
		Decoder: decode.Select(s.cfg.Encoding),
		NewSurface: func(sender surface.Sender) bridge.Surface {
			surf := surface.New(t, surface.Options{
				Resolver: s.resolver,
				Sender:   sender,
				Grace:    time.Duration(s.cfg.GraceMs) * time.Millisecond,
			})
			s.mu.Lock()
			s.surface = surf
			s.mu.Unlock()
			return surf
		},
		Title:        t,
		SessionTitle: sessionTitle,
		Header:       header,
		OnClose: func(reason string) {
			s.ended(b.ID(), reason)
		},
	})
	s.started(b.ID(), sessionTitle)
	return b
}

func (s *session) started(id, title string) {
	if s.store == nil {
		return
	}
	endpoint := s.cfg.URL
	if u, err := bridge.BuildURL(s.cfg.URL); err == nil {
		endpoint = u.String()
	}
	err := s.store.SaveSession(&storage.Session{
		ID:        id,
		Title:     title,
		Endpoint:  endpoint,
		StartedAt: time.Now(),
	})
	if err != nil {
		log.Printf("connect: failed to record session: %v", err)
	}
}

func (s *session) ended(id, reason string) {
	if s.store == nil {
		return
	}
	if err := s.store.EndSession(id, reason, time.Now()); err != nil {
		log.Printf("connect: failed to record session end: %v", err)
	}
}

func (s *session) resize() {
	s.mu.Lock()
	surf := s.surface
	s.mu.Unlock()
	if surf != nil {
		surf.Resize()
	}
}

// inputDone is closed when the local terminal input ends.
func (s *session) inputDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.term == nil {
		return nil
	}
	return s.term.Done()
}
