// Package decode turns inbound payload bytes into text for the terminal.
//
// Two strategies share the Decoder interface. TextDecoder decodes with a
// named character encoding and is preferred. BinaryString maps every byte to
// the code point of the same value and is used when the configured encoding
// has no decoder. Select picks one at startup; the choice is not re-checked
// per message.
package decode

import (
	"log"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	wssherrors "github.com/pseudocoder/wssh/internal/errors"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "utf-8"

// Decoder converts one inbound chunk to text.
type Decoder interface {
	Decode(p []byte) (string, error)
	Name() string
}

// TextDecoder decodes with a named character encoding.
type TextDecoder struct {
	name string
	enc  encoding.Encoding
}

// NewTextDecoder looks up the encoding by its WHATWG label ("utf-8",
// "latin1", "shift_jis", ...).
func NewTextDecoder(label string) (*TextDecoder, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, err
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = strings.ToLower(label)
	}
	return &TextDecoder{name: name, enc: enc}, nil
}

// Decode decodes p. Invalid sequences become U+FFFD for encodings that
// define a replacement; other failures are reported as decode.failed.
func (d *TextDecoder) Decode(p []byte) (string, error) {
	out, err := d.enc.NewDecoder().Bytes(p)
	if err != nil {
		return "", wssherrors.DecodeFailed(err)
	}
	return string(out), nil
}

// Name returns the canonical encoding name.
func (d *TextDecoder) Name() string { return d.name }

// BinaryString maps each byte to the code point with the same value.
type BinaryString struct{}

// Decode never fails; every byte has a code point.
func (BinaryString) Decode(p []byte) (string, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(p)
	if err != nil {
		return "", wssherrors.DecodeFailed(err)
	}
	return string(out), nil
}

// Name identifies the strategy in log lines.
func (BinaryString) Name() string { return "binary-string" }

// Select returns a TextDecoder for label when one is available and falls
// back to BinaryString otherwise. An empty label means DefaultEncoding.
func Select(label string) Decoder {
	if label == "" {
		label = DefaultEncoding
	}
	d, err := NewTextDecoder(label)
	if err != nil {
		log.Printf("decode: no text decoder for %q (%v), using binary-string reads", label, err)
		return BinaryString{}
	}
	return d
}
