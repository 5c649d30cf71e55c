package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urpm-project/urpm"
)

// Legacy is the parsed form of /etc/urpmi/urpmi.cfg: a global stanza
// followed by zero or more named media stanzas. See [LoadLegacy].
type Legacy struct {
	Global LegacyStanza
	Media  []LegacyMedia
}

// LegacyStanza is the "key value;" / "flag;" body of a urpmi.cfg block.
type LegacyStanza struct {
	Options map[string]string
	Flags   []string
}

// LegacyMedia is a "<name> <url> { ... }" media block.
type LegacyMedia struct {
	Name string
	URL  string
	LegacyStanza
}

// LoadLegacy reads and parses the legacy urpmi.cfg file at path.
//
// A missing file is reported as an *urpm.Error with [urpm.ErrEnvironment];
// the caller decides whether that's fatal (legacy import is always opt-in,
// spec.md §6).
func LoadLegacy(path string) (*Legacy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrEnvironment, Op: "config.LoadLegacy", Message: "opening urpmi.cfg"}
	}
	defer f.Close()
	return ParseLegacy(f)
}

// ParseLegacy parses the urpmi.cfg stanza format: a "global { ... }" stanza
// followed by "<name> <url> { key value; flag; }" media blocks. Comments
// start with '#' and run to end of line; blank lines are ignored.
func ParseLegacy(r io.Reader) (*Legacy, error) {
	sc := bufio.NewScanner(r)
	l := &Legacy{Global: LegacyStanza{Options: make(map[string]string)}}

	for {
		header, ok, err := nextHeader(sc)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		stanza, err := readStanzaBody(sc)
		if err != nil {
			return nil, err
		}

		fields := strings.Fields(header)
		switch len(fields) {
		case 1:
			if fields[0] != "global" {
				return nil, &urpm.Error{Kind: urpm.ErrUser, Op: "config.ParseLegacy", Message: fmt.Sprintf("unexpected single-token stanza header %q", header)}
			}
			l.Global = stanza
		case 2:
			l.Media = append(l.Media, LegacyMedia{Name: fields[0], URL: fields[1], LegacyStanza: stanza})
		default:
			return nil, &urpm.Error{Kind: urpm.ErrUser, Op: "config.ParseLegacy", Message: fmt.Sprintf("malformed stanza header %q", header)}
		}
	}
	return l, sc.Err()
}

// NextHeader scans forward past blank/comment lines and returns the text
// before the next stanza-opening "{", or ok=false at EOF.
func nextHeader(sc *bufio.Scanner) (header string, ok bool, err error) {
	var b strings.Builder
	for sc.Scan() {
		line := stripComment(sc.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, '{'); idx >= 0 {
			b.WriteString(line[:idx])
			return strings.TrimSpace(b.String()), true, nil
		}
		b.WriteString(line)
		b.WriteByte(' ')
	}
	return "", false, sc.Err()
}

// ReadStanzaBody reads semicolon-terminated "key value;" and "flag;"
// entries up to the closing "}".
func readStanzaBody(sc *bufio.Scanner) (LegacyStanza, error) {
	s := LegacyStanza{Options: make(map[string]string)}
	var buf strings.Builder

	flush := func(entry string) error {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil
		}
		if key, value, ok := strings.Cut(entry, " "); ok {
			s.Options[key] = strings.TrimSpace(value)
		} else {
			s.Flags = append(s.Flags, entry)
		}
		return nil
	}

	for sc.Scan() {
		line := stripComment(sc.Text())
		for {
			end := strings.IndexByte(line, '}')
			semi := strings.IndexByte(line, ';')
			switch {
			case end >= 0 && (semi < 0 || end < semi):
				buf.WriteString(line[:end])
				if err := flush(buf.String()); err != nil {
					return s, err
				}
				return s, nil
			case semi >= 0:
				buf.WriteString(line[:semi])
				if err := flush(buf.String()); err != nil {
					return s, err
				}
				buf.Reset()
				line = line[semi+1:]
			default:
				buf.WriteString(line)
				buf.WriteByte(' ')
				line = ""
			}
			if line == "" {
				break
			}
		}
	}
	if err := sc.Err(); err != nil {
		return s, err
	}
	return s, &urpm.Error{Kind: urpm.ErrUser, Op: "config.readStanzaBody", Message: "unterminated stanza: missing \"}\""}
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}
