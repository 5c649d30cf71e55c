package ingest

import (
	"strings"
	"testing"

	"github.com/urpm-project/urpm"
)

func TestParseSynthesis(t *testing.T) {
	const blob = `@summary@A sample package
@provides@foo[>= 1.0]@bar
@requires@perl(Foo::Bar)[== 2.3]@baz
@info@sample-1.0-1.x86_64@0@1024@Development/Tools
@info@other-2.0-3.noarch@2@2048@System
`
	var recs []Record
	for rec, err := range ParseSynthesis(strings.NewReader(blob)) {
		if err != nil {
			t.Fatal(err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	first := recs[0]
	wantNEVRA := urpm.NEVRA{Name: "sample", Version: "1.0", Release: "1", Arch: "x86_64"}
	if first.NEVRA != wantNEVRA {
		t.Errorf("got NEVRA %+v, want %+v", first.NEVRA, wantNEVRA)
	}
	if first.Size != 1024 || first.Group != "Development/Tools" {
		t.Errorf("got size=%d group=%q", first.Size, first.Group)
	}
	if first.Summary != "A sample package" {
		t.Errorf("got summary %q", first.Summary)
	}
	if len(first.Provides) != 1 || first.Provides[0].Name != "foo" || first.Provides[0].Op != urpm.OpGE || first.Provides[0].EVR != "1.0" {
		t.Errorf("got provides %+v", first.Provides)
	}
	if len(first.Requires) != 2 {
		t.Fatalf("got %d requires, want 2", len(first.Requires))
	}
	if first.Requires[0].Name != "perl(Foo::Bar)" || first.Requires[0].Op != urpm.OpEQ || first.Requires[0].EVR != "2.3" {
		t.Errorf("got requires[0] %+v", first.Requires[0])
	}
	if first.Requires[1].Name != "baz" {
		t.Errorf("got requires[1] %+v", first.Requires[1])
	}

	second := recs[1]
	if second.NEVRA.Epoch != 2 {
		t.Errorf("got epoch %d, want 2", second.NEVRA.Epoch)
	}
}

func TestParseSynthesisEmpty(t *testing.T) {
	var n int
	for rec, err := range ParseSynthesis(strings.NewReader("")) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		_ = rec
	}
	if n != 0 {
		t.Errorf("got %d records, want 0", n)
	}
}
