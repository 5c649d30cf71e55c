package ingest

import (
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/urpm-project/urpm"
)

// FileList is one package's installed file paths, as recorded by a media's
// files.xml (spec.md §4.1).
type FileList struct {
	NEVRA urpm.NEVRA
	Paths []string
}

// ParseFilesXML streams a "<files fn=\"NEVRA\">path\npath...</files>"
// document and yields one [FileList] per "files" element.
//
// files.xml can run to hundreds of megabytes for a full media snapshot, so
// this decodes token-by-token instead of unmarshaling the whole document,
// the way the teacher's metadata parsers decode update-feed XML in one
// shot only because those feeds are small by comparison.
func ParseFilesXML(r io.Reader) iter.Seq2[FileList, error] {
	return func(yield func(FileList, error) bool) {
		dec := xml.NewDecoder(r)

		var cur *FileList
		var body strings.Builder
		for {
			tok, err := dec.Token()
			switch {
			case err == io.EOF:
				return
			case err != nil:
				yield(FileList{}, fmt.Errorf("ingest: error decoding files.xml: %w", err))
				return
			}

			switch t := tok.(type) {
			case xml.StartElement:
				if t.Name.Local != "files" {
					continue
				}
				nevraStr := attr(t, "fn")
				nevra, err := urpm.ParseNEVRA(nevraStr)
				if err != nil {
					if !yield(FileList{}, fmt.Errorf("ingest: files.xml element with malformed fn=%q: %w", nevraStr, err)) {
						return
					}
					cur = nil
					continue
				}
				cur = &FileList{NEVRA: nevra}
				body.Reset()
			case xml.CharData:
				if cur != nil {
					body.Write(t)
				}
			case xml.EndElement:
				if t.Name.Local != "files" || cur == nil {
					continue
				}
				cur.Paths = splitLines(body.String())
				if !yield(*cur, nil) {
					return
				}
				cur = nil
			}
		}
	}
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// SplitLines splits the text content of a "files" element into individual
// paths, dropping blank lines produced by leading/trailing newlines.
func splitLines(body string) []string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}
