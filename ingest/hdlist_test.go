package ingest

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/urpm-project/urpm"
)

// buildHeader assembles one magic-prefixed binary header with the given
// tag/data pairs, mirroring the on-disk layout readHeader expects.
func buildHeader(entries []entryInfo, data []byte) []byte {
	var buf bytes.Buffer
	buf.Write(hdlistMagic[:])
	buf.WriteByte(1) // version
	buf.Write(make([]byte, 4)) // reserved
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(entries)))
	buf.Write(n[:])
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(len(data)))
	buf.Write(sz[:])
	for _, e := range entries {
		var row [16]byte
		binary.BigEndian.PutUint32(row[0:4], uint32(int32(e.tag)))
		binary.BigEndian.PutUint32(row[4:8], uint32(e.typ))
		binary.BigEndian.PutUint32(row[8:12], uint32(e.offset))
		binary.BigEndian.PutUint32(row[12:16], e.count)
		buf.Write(row[:])
	}
	buf.Write(data)
	return buf.Bytes()
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func TestReadHeadersSingle(t *testing.T) {
	var data bytes.Buffer
	nameOff := data.Len()
	data.Write(cstr("bash"))
	verOff := data.Len()
	data.Write(cstr("5.2"))
	relOff := data.Len()
	data.Write(cstr("1"))
	archOff := data.Len()
	data.Write(cstr("x86_64"))

	entries := []entryInfo{
		{tag: tagName, typ: kindString, offset: int32(nameOff), count: 1},
		{tag: tagVersion, typ: kindString, offset: int32(verOff), count: 1},
		{tag: tagRelease, typ: kindString, offset: int32(relOff), count: 1},
		{tag: tagArch, typ: kindString, offset: int32(archOff), count: 1},
	}
	blob := buildHeader(entries, data.Bytes())

	var recs []Record
	for rec, err := range ReadHeaders(bytes.NewReader(blob)) {
		if err != nil {
			t.Fatal(err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	want := urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"}
	if recs[0].NEVRA != want {
		t.Errorf("got %+v, want %+v", recs[0].NEVRA, want)
	}
}

func TestReadHeadersResync(t *testing.T) {
	var data bytes.Buffer
	data.Write(cstr("foo"))
	data.Write(cstr("1.0"))
	data.Write(cstr("1"))
	entries := []entryInfo{
		{tag: tagName, typ: kindString, offset: 0, count: 1},
		{tag: tagVersion, typ: kindString, offset: 4, count: 1},
		{tag: tagRelease, typ: kindString, offset: 8, count: 1},
	}
	good := buildHeader(entries, data.Bytes())

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01, 0x02}) // junk before any header
	stream.Write(good)

	var recs []Record
	var errs int
	for rec, err := range ReadHeaders(&stream) {
		if err != nil {
			errs++
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) != 1 || recs[0].NEVRA.Name != "foo" {
		t.Fatalf("got recs %+v", recs)
	}
}

func TestFlagOp(t *testing.T) {
	tcs := []struct {
		f    int32
		want urpm.CapOp
	}{
		{senseEqual, urpm.OpEQ},
		{senseLess, urpm.OpLT},
		{senseLess | senseEqual, urpm.OpLE},
		{senseGreater, urpm.OpGT},
		{senseGreater | senseEqual, urpm.OpGE},
		{0, urpm.OpNone},
	}
	for _, tc := range tcs {
		if got := flagOp(tc.f); got != tc.want {
			t.Errorf("flagOp(%d) = %v, want %v", tc.f, got, tc.want)
		}
	}
}
