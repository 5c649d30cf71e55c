// Package ingest turns opaque compressed repository metadata (synthesis
// text, binary hdlist headers, files.xml) into catalog rows.
package ingest

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/urpm-project/urpm"
)

// Codec is a closed sum type over the compression formats a media's
// metadata files may arrive in. File extension is untrusted; selection is a
// pure function of the first few bytes (spec.md §4.1).
type codec int

const (
	codecNone codec = iota
	codecGzip
	codecBzip2
	codecXz
	codecZstd
)

// String implements [fmt.Stringer].
func (c codec) String() string {
	switch c {
	case codecGzip:
		return "gzip"
	case codecBzip2:
		return "bzip2"
	case codecXz:
		return "xz"
	case codecZstd:
		return "zstd"
	default:
		return "none"
	}
}

// Magic prefixes, longest first so a shared prefix never masks a more
// specific match.
var magic = []struct {
	codec codec
	bytes []byte
}{
	{codecXz, []byte{0xFD, 0x37, 0x7A, 0x58, 0x00}},
	{codecZstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
	{codecGzip, []byte{0x1F, 0x8B}},
	{codecBzip2, []byte{0x42, 0x5A}},
}

// Probe inspects the leading bytes of a metadata blob and reports which
// [codec] produced it. An unrecognized or too-short prefix is [codecNone]:
// the blob is assumed to be uncompressed, matching spec.md §4.1's "otherwise
// uncompressed" rule.
func probe(b []byte) codec {
	for _, m := range magic {
		if len(b) >= len(m.bytes) && bytes.Equal(b[:len(m.bytes)], m.bytes) {
			return m.codec
		}
	}
	return codecNone
}

// Reader wraps r in a decompressing [io.Reader] for the codec, probing the
// first few bytes of r to select it.
//
// The returned reader starts at the beginning of the (possibly compressed)
// stream; Reader buffers the probed bytes internally rather than consuming
// them from r.
func Reader(r io.Reader) (io.Reader, error) {
	br := newPeeker(r)
	head, err := br.peek(6)
	if err != nil {
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrMetadataCorrupt, Op: "ingest.Reader", Message: "reading magic bytes"}
	}

	switch c := probe(head); c {
	case codecGzip:
		return gzip.NewReader(br)
	case codecBzip2:
		return bzip2.NewReader(br), nil
	case codecXz:
		return xz.NewReader(br)
	case codecZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case codecNone:
		return br, nil
	default:
		return nil, fmt.Errorf("ingest: unhandled codec %v", c)
	}
}

// Peeker lets [Reader] look at the first bytes of an [io.Reader] without
// consuming them, without requiring the caller to hand in a [*bufio.Reader].
type peeker struct {
	r   io.Reader
	buf []byte
}

func newPeeker(r io.Reader) *peeker {
	return &peeker{r: r}
}

// Peek reads up to n bytes without consuming them. A short read because the
// underlying reader is exhausted is not an error: a blob shorter than the
// longest magic prefix is, by definition, uncompressed (spec.md §9's
// "zero-package synthesis parses to empty set without error").
func (p *peeker) peek(n int) ([]byte, error) {
	if len(p.buf) >= n {
		return p.buf[:n], nil
	}
	grow := make([]byte, n-len(p.buf))
	nr, err := io.ReadFull(p.r, grow)
	p.buf = append(p.buf, grow[:nr]...)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return p.buf, err
}

func (p *peeker) Read(b []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	return p.r.Read(b)
}
