package imgutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectHeader(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		want   Kind
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0, 0, 0}, KindJPEG},
		{"png", []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}, KindPNG},
		{"tiff le", []byte{0x49, 0x49, 0x2a, 0x00, 8, 0, 0, 0}, KindTIFF},
		{"tiff be", []byte{0x4d, 0x4d, 0x00, 0x2a, 0, 0, 0, 8}, KindTIFF},
		{"gif", []byte("GIF89a\x00\x00"), KindUnknown},
	}
	for _, tc := range cases {
		got, err := DetectHeader(tc.header)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestSniffShortInput(t *testing.T) {
	if _, err := SniffReader(bytes.NewReader([]byte{0xff, 0xd8})); err != ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	if _, err := DetectHeader(nil); err != ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestSniffFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page")
	if err := os.WriteFile(path, []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	kind, err := SniffFile(path)
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if kind != KindPNG || kind.Ext() != ".png" {
		t.Fatalf("expected png, got %s (%s)", kind, kind.Ext())
	}
}
