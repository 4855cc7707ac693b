package decode

import (
	"testing"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		label    string
		wantName string
	}{
		{"", "utf-8"},
		{"utf-8", "utf-8"},
		{"UTF8", "utf-8"},
		{"latin1", "windows-1252"},
		{"no-such-charset", "binary-string"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := Select(tt.label).Name(); got != tt.wantName {
				t.Errorf("Select(%q).Name() = %q, want %q", tt.label, got, tt.wantName)
			}
		})
	}
}

func TestTextDecoder_UTF8(t *testing.T) {
	d, err := NewTextDecoder("utf-8")
	if err != nil {
		t.Fatalf("NewTextDecoder() error: %v", err)
	}

	got, err := d.Decode([]byte("héllo \x1b[1mworld\x1b[0m"))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got != "héllo \x1b[1mworld\x1b[0m" {
		t.Errorf("Decode() = %q", got)
	}
}

func TestTextDecoder_InvalidUTF8Replaced(t *testing.T) {
	d, err := NewTextDecoder("utf-8")
	if err != nil {
		t.Fatalf("NewTextDecoder() error: %v", err)
	}

	got, err := d.Decode([]byte{'a', 0xff, 'b'})
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got != "a�b" {
		t.Errorf("Decode() = %q, want replacement character", got)
	}
}

func TestNewTextDecoder_Unknown(t *testing.T) {
	if _, err := NewTextDecoder("klingon"); err == nil {
		t.Error("NewTextDecoder() should fail for an unknown label")
	}
}

func TestBinaryString(t *testing.T) {
	got, err := BinaryString{}.Decode([]byte{0x41, 0xc3, 0xa9, 0xff})
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	want := "AÃ©ÿ"
	if got != want {
		t.Errorf("Decode() = %q, want %q", got, want)
	}
}
