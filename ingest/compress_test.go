package ingest

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestProbe(t *testing.T) {
	tcs := []struct {
		name string
		b    []byte
		want codec
	}{
		{"gzip", []byte{0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00}, codecGzip},
		{"bzip2", []byte{0x42, 0x5A, 0x68, 0x39, 0x31, 0x41}, codecBzip2},
		{"xz", []byte{0xFD, 0x37, 0x7A, 0x58, 0x00, 0x00}, codecXz},
		{"zstd", []byte{0x28, 0xB5, 0x2F, 0xFD, 0x00, 0x00}, codecZstd},
		{"none", []byte("@info"), codecNone},
		{"short", []byte{0x1F}, codecNone},
		{"empty", nil, codecNone},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := probe(tc.b); got != tc.want {
				t.Errorf("got: %v, want: %v", got, tc.want)
			}
		})
	}
}

func TestReaderGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	const want = "@info name 0 1.0 1 noarch 0\n"
	if _, err := gw.Write([]byte(want)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Reader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

func TestReaderUncompressed(t *testing.T) {
	const want = "@info name 0 1.0 1 noarch 0\n"
	r, err := Reader(bytes.NewReader([]byte(want)))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

func TestReaderEmpty(t *testing.T) {
	r, err := Reader(bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes, want 0", len(got))
	}
}
