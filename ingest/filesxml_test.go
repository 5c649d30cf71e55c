package ingest

import (
	"strings"
	"testing"
)

func TestParseFilesXML(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<filelists>
<files fn="bash-5.2-1.x86_64">
/usr/bin/bash
/usr/share/doc/bash
</files>
<files fn="glibc-2.38-1.x86_64">
/usr/lib/libc.so.6
</files>
</filelists>`

	var lists []FileList
	for fl, err := range ParseFilesXML(strings.NewReader(doc)) {
		if err != nil {
			t.Fatal(err)
		}
		lists = append(lists, fl)
	}
	if len(lists) != 2 {
		t.Fatalf("got %d file lists, want 2", len(lists))
	}
	if lists[0].NEVRA.Name != "bash" || len(lists[0].Paths) != 2 {
		t.Errorf("got %+v", lists[0])
	}
	if lists[1].NEVRA.Name != "glibc" || len(lists[1].Paths) != 1 {
		t.Errorf("got %+v", lists[1])
	}
}

func TestParseFilesXMLEmpty(t *testing.T) {
	var n int
	for range ParseFilesXML(strings.NewReader("")) {
		n++
	}
	if n != 0 {
		t.Errorf("got %d, want 0", n)
	}
}
