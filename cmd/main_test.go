package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pseudocoder/wssh/internal/config"
	"github.com/pseudocoder/wssh/internal/mdns"
	"github.com/pseudocoder/wssh/internal/storage"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"wssh"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"wssh", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", out)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"wssh", "--version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if out != "wssh dev\n" {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestRunFieldsMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"wssh", "fields"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: wssh fields") {
		t.Fatalf("expected fields usage, got %q", out)
	}
}

func TestConnectHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runConnect([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: wssh connect") {
		t.Fatalf("expected connect usage, got %q", stderr.String())
	}
}

func TestConnectInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runConnect([]string{"--grace-ms=bad"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestConnectBadURL(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	code, _, errOut := runWithArgs([]string{"wssh", "connect", "--url", "ftp://host/"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "ftp") {
		t.Fatalf("expected scheme error, got %q", errOut)
	}
}

func TestConnectValidationErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	code, _, errOut := runWithArgs([]string{"wssh", "connect",
		"--url", "http://127.0.0.1:1/", "--port", "70000"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	for _, want := range []string{
		"Value of hostname is required.",
		"Invalid port: 70000",
		"Value of username is required.",
	} {
		if !strings.Contains(errOut, want) {
			t.Errorf("expected %q in %q", want, errOut)
		}
	}
}

func TestConnectMissingKeyFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	code, _, errOut := runWithArgs([]string{"wssh", "connect",
		"--hostname", "10.0.0.1", "--username", "alice", "--key-file", "/nonexistent/id_rsa"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "key file") {
		t.Fatalf("expected key file error, got %q", errOut)
	}
}

func TestMergeConfig(t *testing.T) {
	file := &config.Config{
		URL:        "http://file/",
		Hostname:   "file-host",
		Username:   "bob",
		GraceMs:    300,
		Permissive: true,
	}
	flags := &config.Config{Hostname: "flag-host", Permissive: false}

	merged := mergeConfig(flags, file, map[string]bool{"hostname": true, "permissive": true})
	if merged.Hostname != "flag-host" {
		t.Errorf("Hostname = %q, flag should win", merged.Hostname)
	}
	if merged.URL != "http://file/" || merged.Username != "bob" || merged.GraceMs != 300 {
		t.Errorf("file values not applied: %+v", merged)
	}
	if merged.Permissive {
		t.Error("explicit --permissive=false should override the file")
	}

	merged = mergeConfig(&config.Config{}, file, map[string]bool{})
	if !merged.Permissive {
		t.Error("file permissive should apply when the flag is not set")
	}
}

// webssh is a minimal server: the page sets the anti-forgery cookie and the
// socket greets, sends a close notice, then closes.
type webssh struct {
	server  *httptest.Server
	queries chan url.Values
	cookies chan string
}

func newWebssh(t *testing.T) *webssh {
	t.Helper()
	w := &webssh{
		queries: make(chan url.Values, 1),
		cookies: make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		http.SetCookie(rw, &http.Cookie{Name: "_xsrf", Value: "tok123"})
		io.WriteString(rw, "<html></html>")
	})
	mux.HandleFunc("/ws", func(rw http.ResponseWriter, r *http.Request) {
		w.queries <- r.URL.Query()
		w.cookies <- r.Header.Get("Cookie")
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("Welcome\r\n"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"CLOSE","reason":"bye"}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	w.server = httptest.NewServer(mux)
	t.Cleanup(w.server.Close)
	return w
}

// useConsole swaps the session terminal for pipes and returns a function
// reporting everything written to it.
func useConsole(t *testing.T) func() string {
	t.Helper()
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		chunk := make([]byte, 4096)
		for {
			n, err := outR.Read(chunk)
			mu.Lock()
			buf.Write(chunk[:n])
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	prev := console
	console.in, console.out = inR, outW
	t.Cleanup(func() {
		console = prev
		inW.Close()
		inR.Close()
		outW.Close()
		<-drained
		outR.Close()
	})

	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}
}

func TestConnectSession(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(passwordEnvVar, "secret")

	srv := newWebssh(t)
	screen := useConsole(t)

	code, out, errOut := runWithArgs([]string{"wssh", "connect",
		"--url", srv.server.URL + "/",
		"--hostname", "10.0.0.1",
		"--username", "alice",
		"--grace-ms", "10",
	})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr %q)", code, errOut)
	}
	if !strings.Contains(out, "Connection closed: bye") {
		t.Errorf("expected close reason in %q", out)
	}

	query := <-srv.queries
	for k, want := range map[string]string{
		"hostname": "10.0.0.1",
		"port":     "22",
		"username": "alice",
		"password": "secret",
		"term":     config.DefaultTerm,
		"_xsrf":    "tok123",
	} {
		if got := query.Get(k); got != want {
			t.Errorf("handshake %s = %q, want %q", k, got, want)
		}
	}
	if cookie := <-srv.cookies; !strings.Contains(cookie, "_xsrf=tok123") {
		t.Errorf("handshake cookie = %q", cookie)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(screen(), "Welcome") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s := screen(); !strings.Contains(s, "Welcome\r\n") || !strings.Contains(s, "\x1b]0;alice@10.0.0.1:22\x07") {
		t.Errorf("terminal output = %q", s)
	}

	// Fields and history survive for the next run.
	store, err := storage.NewSQLiteStore(filepath.Join(home, config.DirName, "wssh.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	defer store.Close()

	if v, ok, _ := store.GetItem("hostname"); !ok || v != "10.0.0.1" {
		t.Errorf("remembered hostname = %q, %v", v, ok)
	}
	if _, ok, _ := store.GetItem("password"); ok {
		t.Error("password must never be remembered")
	}
	sessions, err := store.ListSessions(0)
	if err != nil {
		t.Fatalf("ListSessions() error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "alice@10.0.0.1:22" || sessions[0].Reason != "bye" || sessions[0].Open() {
		t.Errorf("history = %+v", sessions)
	}
}

func TestConnectUsesRememberedFields(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, config.DirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "wssh.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	store.SetItem("hostname", "10.0.0.9")
	store.SetItem("port", "2222")
	store.SetItem("username", "carol")
	store.Close()

	srv := newWebssh(t)
	useConsole(t)

	code, _, errOut := runWithArgs([]string{"wssh", "connect", "--url", srv.server.URL + "/", "--grace-ms", "10"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr %q)", code, errOut)
	}
	query := <-srv.queries
	if query.Get("hostname") != "10.0.0.9" || query.Get("port") != "2222" || query.Get("username") != "carol" {
		t.Errorf("handshake query = %v", query)
	}
}

func TestConnectDialFailure(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		io.WriteString(rw, "ok")
	}))
	defer srv.Close()
	useConsole(t)

	code, _, errOut := runWithArgs([]string{"wssh", "connect",
		"--url", srv.URL + "/", "--hostname", "10.0.0.1", "--username", "alice"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "transport.dial") {
		t.Errorf("expected dial error, got %q", errOut)
	}
}

func TestFieldsListAndClear(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	code, out, _ := runWithArgs([]string{"wssh", "fields", "list"})
	if code != 0 || !strings.Contains(out, "No remembered fields") {
		t.Fatalf("empty list: code %d, output %q", code, out)
	}
	if _, err := os.Stat(filepath.Join(home, config.DirName, "wssh.db")); !errors.Is(err, os.ErrNotExist) {
		t.Error("listing should not create a store")
	}

	storePath := filepath.Join(t.TempDir(), "fields.db")
	store, err := storage.NewSQLiteStore(storePath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	store.SetItem("hostname", "10.0.0.1")
	store.SetItem("username", "alice")
	store.Close()

	code, out, _ = runWithArgs([]string{"wssh", "fields", "list", "--store", storePath})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "hostname") || !strings.Contains(out, "10.0.0.1") || !strings.Contains(out, "alice") {
		t.Errorf("fields list output = %q", out)
	}

	code, out, _ = runWithArgs([]string{"wssh", "fields", "clear", "--store", storePath})
	if code != 0 || !strings.Contains(out, "cleared") {
		t.Fatalf("clear: code %d, output %q", code, out)
	}
	code, out, _ = runWithArgs([]string{"wssh", "fields", "list", "--store", storePath})
	if code != 0 || !strings.Contains(out, "No remembered fields") {
		t.Errorf("after clear: code %d, output %q", code, out)
	}
}

func TestHistory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	storePath := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.NewSQLiteStore(storePath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SaveSession(&storage.Session{ID: "a", Title: "alice@10.0.0.1:22", Endpoint: "ws://h/ws", StartedAt: start})
	store.EndSession("a", "bye", start.Add(90*time.Second))
	store.SaveSession(&storage.Session{ID: "b", Title: "bob@10.0.0.2:22", Endpoint: "ws://h/ws", StartedAt: start.Add(time.Hour)})
	store.Close()

	code, out, _ := runWithArgs([]string{"wssh", "history", "--store", storePath})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	for _, want := range []string{"alice@10.0.0.1:22", "1m30s", "bye", "bob@10.0.0.2:22", "open"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in history output %q", want, out)
		}
	}
	if strings.Index(out, "bob@") > strings.Index(out, "alice@") {
		t.Error("history should list the newest session first")
	}
}

func TestInit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	code, out, _ := runWithArgs([]string{"wssh", "init", "--url", "https://bastion:4433/"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	path := filepath.Join(home, config.DirName, "config.toml")
	if !strings.Contains(out, path) {
		t.Errorf("expected path in %q", out)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.URL != "https://bastion:4433/" {
		t.Errorf("URL = %q", cfg.URL)
	}

	code, out, _ = runWithArgs([]string{"wssh", "init"})
	if code != 0 || !strings.Contains(out, "already exists") {
		t.Errorf("second init: code %d, output %q", code, out)
	}

	code, _, _ = runWithArgs([]string{"wssh", "init", "--url", "gopher://x/"})
	if code != 1 {
		t.Errorf("bad url: expected exit code 1, got %d", code)
	}
}

func TestDiscover(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	prev := discoverServers
	t.Cleanup(func() { discoverServers = prev })

	discoverServers = func(ctx context.Context) ([]mdns.DiscoveredServer, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("discovery should be bounded")
		}
		return []mdns.DiscoveredServer{
			{Name: "bastion", Host: "192.168.1.5", Port: 4433, Path: "/", TLS: true, Fingerprint: "AB:CD"},
			{Name: "lab", Host: "192.168.1.6", Port: 8888, Path: "/"},
		}, nil
	}

	code, out, _ := runWithArgs([]string{"wssh", "discover", "--timeout-ms", "50"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	for _, want := range []string{"https://192.168.1.5:4433/", "AB:CD", "http://192.168.1.6:8888/"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}

	discoverServers = func(context.Context) ([]mdns.DiscoveredServer, error) { return nil, nil }
	code, out, _ = runWithArgs([]string{"wssh", "discover"})
	if code != 0 || !strings.Contains(out, "No webssh servers found") {
		t.Errorf("empty discovery: code %d, output %q", code, out)
	}
}

func TestAnnounceInvalidPort(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runAnnounce([]string{"--port", "0"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestFingerprint(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "https://")
	code, out, errOut := runWithArgs([]string{"wssh", "fingerprint", addr})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr %q)", code, errOut)
	}
	fp := strings.TrimSpace(out)
	if len(fp) != 95 || strings.Count(fp, ":") != 31 {
		t.Errorf("fingerprint = %q", fp)
	}

	code, _, _ = runWithArgs([]string{"wssh", "fingerprint"})
	if code != 1 {
		t.Errorf("missing address: expected exit code 1, got %d", code)
	}
}
