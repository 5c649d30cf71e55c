package ingest

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/urpm-project/urpm"
)

// Record is one package's worth of accumulated synthesis fields, emitted
// when an "@info" line closes the staging record (spec.md §4.1).
type Record struct {
	NEVRA   urpm.NEVRA
	Size    int64
	Group   string
	Summary string

	Provides   []urpm.Capability
	Requires   []urpm.Capability
	Conflicts  []urpm.Capability
	Obsoletes  []urpm.Capability
	Suggests   []urpm.Capability
	Recommends []urpm.Capability
}

// ParseSynthesis streams a "@"-delimited synthesis blob, yielding one
// [Record] per closed "@info" line.
//
// A malformed line is reported through the yielded error; per spec.md §4.1's
// failure semantics, the caller should abort the whole import (not skip the
// bad record) on the first error.
func ParseSynthesis(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

		var rec Record
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			if line[0] != '@' {
				continue
			}
			fields := strings.Split(line, "@")
			// fields[0] is "" (text before the leading "@").
			if len(fields) < 2 {
				continue
			}
			tag, rest := fields[1], fields[2:]

			switch tag {
			case "info":
				closed, err := closeInfo(rec, rest)
				if err != nil {
					if !yield(Record{}, fmt.Errorf("ingest: malformed @info line %q: %w", line, err)) {
						return
					}
					rec = Record{}
					continue
				}
				if !yield(closed, nil) {
					return
				}
				rec = Record{}
			case "summary":
				rec.Summary = strings.Join(rest, "@")
			case "provides":
				rec.Provides = append(rec.Provides, parseCapabilities(rest)...)
			case "requires":
				rec.Requires = append(rec.Requires, parseCapabilities(rest)...)
			case "conflicts":
				rec.Conflicts = append(rec.Conflicts, parseCapabilities(rest)...)
			case "obsoletes":
				rec.Obsoletes = append(rec.Obsoletes, parseCapabilities(rest)...)
			case "suggests":
				rec.Suggests = append(rec.Suggests, parseCapabilities(rest)...)
			case "recommends":
				rec.Recommends = append(rec.Recommends, parseCapabilities(rest)...)
			default:
				// Unknown tag: ignored, not fatal (spec.md §9 boundary behavior).
			}
		}
		if err := sc.Err(); err != nil {
			yield(Record{}, fmt.Errorf("ingest: error scanning synthesis stream: %w", err))
		}
	}
}

// CloseInfo parses the NEVRA/epoch/size/group fields that follow "@info" and
// returns the accumulated record with those fields set.
//
// rest is ["name-version-release.arch", "epoch", "size", "group"]; missing
// trailing fields default to epoch=0, size=0, and an empty group, per
// spec.md §9's "missing fields after @info use documented defaults".
func closeInfo(rec Record, rest []string) (Record, error) {
	if len(rest) < 1 || rest[0] == "" {
		return Record{}, fmt.Errorf("missing NEVRA field")
	}
	nevra, err := urpm.ParseNEVRA(rest[0])
	if err != nil {
		return Record{}, err
	}
	if len(rest) > 1 && rest[1] != "" {
		epoch, err := strconv.Atoi(rest[1])
		if err != nil {
			return Record{}, fmt.Errorf("malformed epoch %q: %w", rest[1], err)
		}
		nevra.Epoch = epoch
	}
	rec.NEVRA = nevra
	if len(rest) > 2 && rest[2] != "" {
		size, err := strconv.ParseInt(rest[2], 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("malformed size %q: %w", rest[2], err)
		}
		rec.Size = size
	}
	if len(rest) > 3 {
		rec.Group = rest[3]
	}
	return rec, nil
}

// ParseCapabilities turns a list of "@"-joined capability tokens into
// [urpm.Capability] values. Each token may carry a trailing "[op version]"
// suffix, e.g. "perl(Foo::Bar)[>= 1.0]".
func parseCapabilities(tokens []string) []urpm.Capability {
	out := make([]urpm.Capability, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		out = append(out, parseCapability(tok))
	}
	return out
}

func parseCapability(tok string) urpm.Capability {
	open := strings.IndexByte(tok, '[')
	if open < 0 || !strings.HasSuffix(tok, "]") {
		return urpm.Capability{Name: tok}
	}
	name := tok[:open]
	inner := tok[open+1 : len(tok)-1]
	op, evr, ok := strings.Cut(inner, " ")
	if !ok {
		return urpm.Capability{Name: name}
	}
	if op == "==" {
		op = string(urpm.OpEQ)
	}
	return urpm.Capability{Name: name, Op: urpm.CapOp(op), EVR: evr}
}
