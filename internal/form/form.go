// Package form validates and normalizes connection parameters before a
// session is started.
//
// Validation accumulates every violation instead of stopping at the first,
// so the caller can report all problems at once. A permissive mode lets a
// submission proceed despite violations; the violations are still returned.
package form

import (
	"bytes"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultPort is used when the port field is empty.
	DefaultPort = 22

	// KeyMaxSize bounds the private key payload in bytes.
	KeyMaxSize = 16384
)

// Field names, shared by the handshake query and durable storage.
const (
	FieldHostname   = "hostname"
	FieldPort       = "port"
	FieldUsername   = "username"
	FieldPassword   = "password"
	FieldPrivateKey = "privatekey"
	FieldPassphrase = "passphrase"
	FieldTOTP       = "totp"
	FieldTerm       = "term"
	FieldXSRF       = "_xsrf"
)

// PersistedFields are the only fields ever written to durable storage.
var PersistedFields = []string{FieldHostname, FieldPort, FieldUsername}

// Input is a raw form submission. Every field may be empty.
type Input struct {
	Hostname   string
	Port       string
	Username   string
	Password   string
	PrivateKey []byte
	KeyName    string // declared filename of the key, for messages
	Passphrase string
	TOTP       string
}

// Fill returns in with its empty hostname, port and username taken from
// saved. Fields already set in in win.
func (in Input) Fill(saved Input) Input {
	if in.Hostname == "" {
		in.Hostname = saved.Hostname
	}
	if in.Port == "" {
		in.Port = saved.Port
	}
	if in.Username == "" {
		in.Username = saved.Username
	}
	return in
}

// Params are normalized connection parameters.
type Params struct {
	Hostname   string
	Port       int // 0 only when an invalid port was let through in permissive mode
	Username   string
	Password   string
	PrivateKey []byte
	KeyName    string
	Passphrase string
	TOTP       string
	TermType   string
	XSRF       string
}

// Query returns the handshake parameters for p.
func (p Params) Query() url.Values {
	q := url.Values{}
	q.Set(FieldHostname, p.Hostname)
	if p.Port > 0 {
		q.Set(FieldPort, strconv.Itoa(p.Port))
	}
	q.Set(FieldUsername, p.Username)
	q.Set(FieldPassword, p.Password)
	q.Set(FieldPrivateKey, string(p.PrivateKey))
	q.Set(FieldPassphrase, p.Passphrase)
	q.Set(FieldTOTP, p.TOTP)
	q.Set(FieldTerm, p.TermType)
	q.Set(FieldXSRF, p.XSRF)
	return q
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool
	Params Params
	Errors []string
	Title  string // username@hostname:port, set when Valid
}

// Validate trims every field, checks it, and accumulates violations.
// The result is Valid when there are no violations or permissive is set.
func Validate(in Input, permissive bool) Result {
	p := Params{
		Hostname:   strings.TrimSpace(in.Hostname),
		Username:   strings.TrimSpace(in.Username),
		Password:   strings.TrimSpace(in.Password),
		PrivateKey: bytes.TrimSpace(in.PrivateKey),
		KeyName:    strings.TrimSpace(in.KeyName),
		Passphrase: strings.TrimSpace(in.Passphrase),
		TOTP:       strings.TrimSpace(in.TOTP),
	}
	port := strings.TrimSpace(in.Port)

	var errs []string

	if p.Hostname == "" {
		errs = append(errs, "Value of hostname is required.")
	} else if !ValidHostname(p.Hostname) {
		errs = append(errs, "Invalid hostname: "+p.Hostname)
	}

	if port == "" {
		p.Port = DefaultPort
		port = strconv.Itoa(DefaultPort)
	} else if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		errs = append(errs, "Invalid port: "+port)
	} else {
		p.Port = n
		port = strconv.Itoa(n)
	}

	if p.Username == "" {
		errs = append(errs, "Value of username is required.")
	}

	if len(p.PrivateKey) > KeyMaxSize {
		errs = append(errs, "Invalid private key: "+p.KeyName)
	}

	r := Result{Params: p, Errors: errs}
	if len(errs) == 0 || permissive {
		r.Valid = true
		r.Title = p.Username + "@" + p.Hostname + ":" + port
	}
	return r
}

// dnsName matches dot-separated labels of letters and digits, with hyphens
// allowed inside a label.
var dnsName = regexp.MustCompile(`^[0-9A-Za-z](?:[0-9A-Za-z-]{0,61}[0-9A-Za-z])?(?:\.[0-9A-Za-z](?:[0-9A-Za-z-]{0,61}[0-9A-Za-z])?)*$`)

// ValidHostname reports whether host is an IPv4 literal, an IPv6 literal
// with an optional zone, or a DNS name of at most 255 characters containing
// at least one letter.
func ValidHostname(host string) bool {
	if host == "" {
		return false
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		// A zone is only meaningful on IPv6.
		return addr.Is6() || addr.Zone() == ""
	}
	if len(host) > 255 || strings.Contains(host, "--") {
		return false
	}
	if !strings.ContainsFunc(host, isLetter) {
		return false
	}
	return dnsName.MatchString(host)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
