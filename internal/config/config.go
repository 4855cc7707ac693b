// Package config provides TOML configuration file loading and parsing for wssh.
// The configuration file lives at ~/.wssh/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the wssh configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// URL is the server page the session is started from. The socket
	// endpoint is derived from it.
	// Default: http://127.0.0.1:8888/
	URL string `toml:"url"`

	// Hostname, Port and Username prefill the connection form. Values
	// remembered from the last successful submission are used when these
	// are empty.
	Hostname string `toml:"hostname"`
	Port     string `toml:"port"`
	Username string `toml:"username"`

	// KeyFile is the path of a private key to send with the handshake.
	KeyFile string `toml:"key_file"`

	// Term is the terminal type reported to the server.
	// Default: xterm-256color
	Term string `toml:"term"`

	// Encoding names the character encoding of server output, e.g. "utf-8"
	// or "latin1". Unknown names fall back to a byte-per-character decoder.
	// Default: utf-8
	Encoding string `toml:"encoding"`

	// CellStyle is style text used to measure the character cell when the
	// terminal does not report pixel sizes, e.g.
	// "xterm-normal-char{width:9px} div{height:17px}".
	CellStyle string `toml:"cell_style"`

	// GraceMs is how long a closed session's surface keeps absorbing late
	// output before it is released, in milliseconds.
	// Default: 1000
	GraceMs int `toml:"grace_ms"`

	// Permissive lets connections proceed when the form has validation
	// errors. The errors are still reported.
	// Default: false
	Permissive bool `toml:"permissive"`

	// TLSFingerprint pins the server certificate by SHA-256 fingerprint
	// (hex, colons optional) for https/wss URLs.
	TLSFingerprint string `toml:"tls_fingerprint"`

	// Store is the path to the SQLite database for remembered fields and
	// session history.
	// Default: ~/.wssh/wssh.db
	Store string `toml:"store"`

	// LogFile is where log output goes while the terminal is in raw mode.
	// Default: ~/.wssh/wssh.log
	LogFile string `toml:"log_file"`

	// DiscoverTimeoutMs bounds mDNS discovery, in milliseconds.
	// Default: 3000
	DiscoverTimeoutMs int `toml:"discover_timeout_ms"`
}

// DefaultDir returns ~/.wssh.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// DefaultConfigPath returns the default config file location: ~/.wssh/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ApplyDefaults fills every empty field that has a default.
// Path defaults are skipped when the home directory is unknown.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Term == "" {
		c.Term = DefaultTerm
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.GraceMs <= 0 {
		c.GraceMs = DefaultGraceMs
	}
	if c.DiscoverTimeoutMs <= 0 {
		c.DiscoverTimeoutMs = DefaultDiscoverTimeoutMs
	}
	dir, err := DefaultDir()
	if err != nil {
		return
	}
	if c.Store == "" {
		c.Store = filepath.Join(dir, "wssh.db")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(dir, "wssh.log")
	}
}

// WriteDefault creates a commented config file at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if url == "" {
		url = DefaultURL
	}
	content := fmt.Sprintf(`# wssh configuration

# Server page the session is started from
url = %q

# Terminal type reported to the server
term = %q

# Character encoding of server output
encoding = %q

# Pin the server certificate (https only)
# tls_fingerprint = "AB:CD:..."
`, url, DefaultTerm, DefaultEncoding)

	// Owner read/write only; the file may hold a pinned fingerprint.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.wssh/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
//
// Defaults are not applied; call ApplyDefaults after merging CLI flags.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in config file %s", undecoded[0].String(), path)
	}

	return cfg, nil
}
