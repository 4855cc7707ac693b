// Package tls pins server certificates for wss:// sessions.
// Servers in this space commonly run with self-signed certificates, so
// instead of a CA chain the client checks the SHA-256 fingerprint of the
// leaf certificate against a value the user configured.
package tls

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"strings"

	wssherrors "github.com/pseudocoder/wssh/internal/errors"
)

// ComputeFingerprint computes the SHA-256 fingerprint of a certificate.
// Returns the fingerprint as colon-separated uppercase hex bytes.
// Example: "AA:BB:CC:DD:EE:FF:..."
func ComputeFingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	hexStr := hex.EncodeToString(hash[:])

	var parts []string
	for i := 0; i < len(hexStr); i += 2 {
		parts = append(parts, strings.ToUpper(hexStr[i:i+2]))
	}
	return strings.Join(parts, ":")
}

// ComputeFingerprintFromPEM computes the SHA-256 fingerprint from PEM-encoded certificate data.
func ComputeFingerprintFromPEM(pemData []byte) (string, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	return ComputeFingerprint(cert), nil
}

// NormalizeFingerprint converts a user-supplied fingerprint to the
// ComputeFingerprint form. Colons, spaces and case are ignored.
func NormalizeFingerprint(fp string) (string, error) {
	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(strings.TrimSpace(fp))
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return "", fmt.Errorf("fingerprint is not hex: %w", err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("fingerprint has %d bytes, want %d", len(raw), sha256.Size)
	}

	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// PinnedConfig returns a client TLS config that accepts exactly the leaf
// certificate with the given fingerprint. An empty fingerprint returns nil,
// meaning ordinary CA verification.
func PinnedConfig(fingerprint string) (*tls.Config, error) {
	if fingerprint == "" {
		return nil, nil
	}
	want, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// The chain is not verified; VerifyPeerCertificate pins the leaf.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return wssherrors.PinMismatch(want, "")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("parse peer certificate: %w", err)
			}
			got := ComputeFingerprint(leaf)
			if got != want {
				log.Printf("tls: certificate fingerprint mismatch: got %s", got)
				return wssherrors.PinMismatch(want, got)
			}
			return nil
		},
	}, nil
}

// ProbeFingerprint connects to addr (host:port) and returns the fingerprint
// of the certificate the server presents, without verifying it. It is meant
// for showing the user a value to pin.
func ProbeFingerprint(ctx context.Context, addr string) (string, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("tls dial %s: %w", addr, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("server at %s presented no certificate", addr)
	}
	return ComputeFingerprint(state.PeerCertificates[0]), nil
}
