package config

import (
	"strings"
	"testing"
)

func TestParseLegacy(t *testing.T) {
	const input = `
# global options
global {
	downloader curl;
	verify-rpm;
}

# a contrib media
Contrib http://mirror.example/contrib/release/i586 {
	media_info_dir true;
	noauto;
}
`
	l, err := ParseLegacy(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	if got, want := l.Global.Options["downloader"], "curl"; got != want {
		t.Errorf("global downloader: got %q, want %q", got, want)
	}
	if len(l.Global.Flags) != 1 || l.Global.Flags[0] != "verify-rpm" {
		t.Errorf("global flags: got %v", l.Global.Flags)
	}

	if len(l.Media) != 1 {
		t.Fatalf("got %d media blocks, want 1", len(l.Media))
	}
	m := l.Media[0]
	if got, want := m.Name, "Contrib"; got != want {
		t.Errorf("name: got %q, want %q", got, want)
	}
	if got, want := m.URL, "http://mirror.example/contrib/release/i586"; got != want {
		t.Errorf("url: got %q, want %q", got, want)
	}
}

func TestParseLegacyUnterminated(t *testing.T) {
	const input = `global {
	downloader curl;
`
	if _, err := ParseLegacy(strings.NewReader(input)); err == nil {
		t.Fatal("expected an error for an unterminated stanza")
	}
}
