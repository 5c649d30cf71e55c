package ingest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/urpm-project/urpm"
)

// Magic bytes that open each concatenated header in an hdlist stream
// (spec.md §4.1).
var hdlistMagic = [3]byte{0x8E, 0xAD, 0xE8}

// tag is an RPM header tag number. The numeric values match the teacher's
// rpmdb package (and upstream rpm's rpmtag.h); only the subset this package
// reads is named here.
type tag int32

const (
	tagName    tag = 1000
	tagVersion tag = 1001
	tagRelease tag = 1002
	tagEpoch   tag = 1003
	tagSummary tag = 1004
	tagArch    tag = 1022
	tagSize    tag = 1009

	tagProvideName    tag = 1047
	tagRequireName    tag = 1049
	tagRequireVersion tag = 1050
	tagConflictName   tag = 1054
	tagConflictVers   tag = 1055
	tagObsoleteName   tag = 1090
	tagProvideVersion tag = 1113
	tagObsoleteVers   tag = 1115
	tagRequireFlags   tag = 1048
	tagConflictFlags  tag = 1053
	tagObsoleteFlags  tag = 1114
	tagProvideFlags   tag = 1112

	tagSourceRPM tag = 1044
)

// kind is a header entry's data type.
type kind uint32

const (
	kindNull kind = iota
	kindChar
	kindInt8
	kindInt16
	kindInt32
	kindInt64
	kindString
	kindBin
	kindStringArray
	kindI18nString
)

// entryInfo is one index row: 4 big-endian int32 fields, 16 bytes total,
// the same on-disk layout as every RPM header (spec.md §4.1).
type entryInfo struct {
	tag    tag
	typ    kind
	offset int32
	count  uint32
}

func (e *entryInfo) unmarshal(b []byte) {
	e.tag = tag(int32(binary.BigEndian.Uint32(b[0:4])))
	e.typ = kind(binary.BigEndian.Uint32(b[4:8]))
	e.offset = int32(binary.BigEndian.Uint32(b[8:12]))
	e.count = binary.BigEndian.Uint32(b[12:16])
}

// header is one parsed binary package header: an index plus the data store
// the index's offsets point into.
type header struct {
	index []entryInfo
	data  []byte
}

// ReadHeaders reads a concatenated stream of magic-prefixed binary headers
// and yields one [urpm.NEVRA] plus its capability lists per header.
//
// Per spec.md §4.1, a header that fails to parse causes a resync: the reader
// scans forward for the next magic prefix and resumes there, rather than
// aborting the whole stream, since hdlist files are known to occasionally
// carry one corrupt entry mid-stream.
func ReadHeaders(r io.Reader) func(yield func(Record, error) bool) {
	return func(yield func(Record, error) bool) {
		br := bufio.NewReader(r)
		for {
			if err := syncToMagic(br); err != nil {
				if err != io.EOF {
					yield(Record{}, fmt.Errorf("ingest: hdlist resync: %w", err))
				}
				return
			}
			h, err := readHeader(br)
			if err != nil {
				if err == io.EOF {
					return
				}
				if !yield(Record{}, fmt.Errorf("ingest: malformed hdlist header: %w", err)) {
					return
				}
				continue
			}
			rec, err := h.record()
			if err != nil {
				if !yield(Record{}, fmt.Errorf("ingest: hdlist header missing required fields: %w", err)) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// syncToMagic consumes bytes from br up to and including the next
// occurrence of [hdlistMagic], leaving the reader positioned just after it.
func syncToMagic(br *bufio.Reader) error {
	var window [3]byte
	n, err := io.ReadFull(br, window[:])
	if err != nil {
		if n == 0 {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	}
	for window != hdlistMagic {
		b, err := br.ReadByte()
		if err != nil {
			return io.EOF
		}
		window[0], window[1], window[2] = window[1], window[2], b
	}
	return nil
}

// readHeader reads the version/reserved/nindex/hsize preamble, the index,
// and the data store that follow a consumed magic prefix.
func readHeader(br *bufio.Reader) (*header, error) {
	var pre [9]byte // 1 version + 4 reserved + 4 nindex
	if _, err := io.ReadFull(br, pre[:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	nindex := binary.BigEndian.Uint32(pre[5:9])

	var hsizeBuf [4]byte
	if _, err := io.ReadFull(br, hsizeBuf[:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	hsize := binary.BigEndian.Uint32(hsizeBuf[:])

	const (
		maxIndex = 1 << 16
		maxData  = 256 << 20
	)
	if nindex == 0 || nindex > maxIndex {
		return nil, fmt.Errorf("index count %d out of range", nindex)
	}
	if hsize > maxData {
		return nil, fmt.Errorf("data size %d out of range", hsize)
	}

	idxBuf := make([]byte, int(nindex)*16)
	if _, err := io.ReadFull(br, idxBuf); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	data := make([]byte, hsize)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	h := &header{index: make([]entryInfo, nindex), data: data}
	for i := range h.index {
		h.index[i].unmarshal(idxBuf[i*16:])
	}
	return h, nil
}

// find returns the first entry with the given tag, if any.
func (h *header) find(t tag) (entryInfo, bool) {
	for _, e := range h.index {
		if e.tag == t {
			return e, true
		}
	}
	return entryInfo{}, false
}

func (h *header) string(t tag) string {
	e, ok := h.find(t)
	if !ok || int(e.offset) >= len(h.data) {
		return ""
	}
	rest := h.data[e.offset:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}

func (h *header) int32s(t tag) []int32 {
	e, ok := h.find(t)
	if !ok {
		return nil
	}
	out := make([]int32, 0, e.count)
	off := int(e.offset)
	for i := 0; i < int(e.count) && off+4 <= len(h.data); i++ {
		out = append(out, int32(binary.BigEndian.Uint32(h.data[off:off+4])))
		off += 4
	}
	return out
}

func (h *header) stringArray(t tag) []string {
	e, ok := h.find(t)
	if !ok || int(e.offset) >= len(h.data) {
		return nil
	}
	out := make([]string, 0, e.count)
	rest := h.data[e.offset:]
	for i := 0; i < int(e.count); i++ {
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			break
		}
		out = append(out, string(rest[:nul]))
		rest = rest[nul+1:]
	}
	return out
}

// record builds a [Record] from a parsed header's tags.
func (h *header) record() (Record, error) {
	name := h.string(tagName)
	version := h.string(tagVersion)
	release := h.string(tagRelease)
	if name == "" || version == "" || release == "" {
		return Record{}, fmt.Errorf("missing name/version/release")
	}
	nevra := urpm.NEVRA{Name: name, Version: version, Release: release, Arch: h.string(tagArch)}
	if epoch := h.int32s(tagEpoch); len(epoch) == 1 {
		nevra.Epoch = int(epoch[0])
	}

	var size int64
	if sz := h.int32s(tagSize); len(sz) == 1 {
		size = int64(sz[0])
	}

	return Record{
		NEVRA:      nevra,
		Size:       size,
		Summary:    h.string(tagSummary),
		Provides:   h.capabilities(tagProvideName, tagProvideFlags, tagProvideVersion),
		Requires:   h.capabilities(tagRequireName, tagRequireFlags, tagRequireVersion),
		Conflicts:  h.capabilities(tagConflictName, tagConflictFlags, tagConflictVers),
		Obsoletes:  h.capabilities(tagObsoleteName, tagObsoleteFlags, tagObsoleteVers),
	}, nil
}

// Capabilities zips a names array with a parallel flags/version pair into
// [urpm.Capability] values. A capability with no recorded flags or version
// is unversioned.
func (h *header) capabilities(name, flags, version tag) []urpm.Capability {
	names := h.stringArray(name)
	if len(names) == 0 {
		return nil
	}
	fs := h.int32s(flags)
	vs := h.stringArray(version)
	out := make([]urpm.Capability, len(names))
	for i, n := range names {
		c := urpm.Capability{Name: n}
		if i < len(fs) && i < len(vs) && vs[i] != "" {
			c.Op = flagOp(fs[i])
			c.EVR = vs[i]
		}
		out[i] = c
	}
	return out
}

// Sense flag bits, as laid out in rpm's header sense flags (RPMSENSE_*):
// bits 1 to 3 carry the comparison operator.
const (
	senseLess    = 1 << 1
	senseGreater = 1 << 2
	senseEqual   = 1 << 3
)

func flagOp(f int32) urpm.CapOp {
	switch f & (senseLess | senseGreater | senseEqual) {
	case senseEqual:
		return urpm.OpEQ
	case senseLess:
		return urpm.OpLT
	case senseLess | senseEqual:
		return urpm.OpLE
	case senseGreater:
		return urpm.OpGT
	case senseGreater | senseEqual:
		return urpm.OpGE
	default:
		return urpm.OpNone
	}
}
