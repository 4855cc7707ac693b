// Package mdns finds webssh servers on the local network and announces
// them.
//
// Servers are published under DNS-SD with:
//   - Service type: _webssh._tcp
//   - TXT records with version, page path, TLS flag and certificate fingerprint
//
// Discovery only reveals presence; SSH credentials are still required.
package mdns

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type for webssh servers.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_webssh._tcp"

// ProtocolVersion identifies the TXT record layout.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the server port to advertise (e.g., 8888).
	Port int

	// Path is the page path on the server. Defaults to "/".
	Path string

	// TLS marks the server as serving https.
	TLS bool

	// Fingerprint is the TLS certificate fingerprint, so clients can pin it.
	Fingerprint string

	// Name is a human-readable name for this server.
	// Defaults to the system hostname if empty.
	Name string
}

// txtRecords builds the TXT records for cfg. name is the resolved
// instance name.
func (cfg Config) txtRecords(name string) []string {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	// DNS TXT strings hold up to 255 bytes; a colon-separated SHA-256
	// fingerprint is 95.
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"path=" + path,
	}
	if cfg.TLS {
		records = append(records, "tls=1")
	}
	if cfg.Fingerprint != "" {
		records = append(records, "fp="+cfg.Fingerprint)
	}
	return records
}

// Advertiser manages mDNS/DNS-SD service registration for a server that
// does not announce itself.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{
		config: cfg,
	}
}

// Start begins advertising the service via mDNS.
//
// Start is safe to call multiple times; subsequent calls are no-ops
// if already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "webssh"
		} else {
			name = hostname
		}
	}

	server, err := zeroconf.Register(
		name,        // Instance name (e.g., "bastion")
		ServiceType, // Service type
		"local.",    // Domain
		a.config.Port,
		a.config.txtRecords(name),
		nil, // Network interfaces (nil = all)
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop stops the mDNS advertisement and unregisters the service.
// It is safe to call Stop multiple times or on an advertiser that
// was never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredServer is a webssh server found via mDNS discovery.
type DiscoveredServer struct {
	// Name is the human-readable name of the server.
	Name string

	// Host is the IP address or hostname.
	Host string

	// Port is the server port.
	Port int

	// Path is the page path, "/" when not advertised.
	Path string

	// TLS is true when the server serves https.
	TLS bool

	// Fingerprint is the TLS certificate fingerprint (if provided).
	Fingerprint string

	// Version is the TXT record layout version.
	Version string
}

// URL returns the page URL a session can be started from.
func (s DiscoveredServer) URL() string {
	scheme := "http"
	if s.TLS {
		scheme = "https"
	}
	path := s.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   path,
	}
	return u.String()
}

// fromEntry converts a resolved service entry.
func fromEntry(entry *zeroconf.ServiceEntry) DiscoveredServer {
	s := DiscoveredServer{
		Name: entry.Instance,
		Port: entry.Port,
		Path: "/",
	}

	// Prefer IPv4 address
	if len(entry.AddrIPv4) > 0 {
		s.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		s.Host = entry.AddrIPv6[0].String()
	} else {
		s.Host = strings.TrimSuffix(entry.HostName, ".")
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "fp":
			s.Fingerprint = value
		case "version":
			s.Version = value
		case "name":
			if value != "" {
				s.Name = value
			}
		case "path":
			if value != "" {
				s.Path = value
			}
		case "tls":
			s.TLS = value == "1" || value == "true"
		}
	}
	return s
}

// Discover searches for webssh servers on the local network until ctx is
// done, and returns what it found.
func Discover(ctx context.Context) ([]DiscoveredServer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		servers []DiscoveredServer
		wg      sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			servers = append(servers, fromEntry(entry))
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return servers, nil
}
