package rpmtest

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/internal/rpm"
)

// Manifest is the JSON shape used by test fixtures describing an installed
// package set, independent of any particular rpm database backend.
type Manifest struct {
	RPM []ManifestRPM `json:"rpms"`
}

type ManifestRPM struct {
	Name    string `json:"name"`
	Epoch   int    `json:"epoch"`
	Version string `json:"version"`
	Release string `json:"release"`
	Arch    string `json:"architecture"`
	Source  string `json:"srpm_nevra"`
	GPG     string `json:"gpg"`
	Module  string `json:"module"`
}

// PackagesFromManifest decodes a [Manifest] into [rpm.Package] values,
// resolving each binary package's source NEVRA.
func PackagesFromManifest(t *testing.T, r io.Reader) []*rpm.Package {
	t.Helper()
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		t.Fatal(err)
	}
	out := make([]*rpm.Package, 0, len(m.RPM))
	srcs := make([]urpm.NEVRA, 0, len(m.RPM))
	src := make(map[string]*urpm.NEVRA)

	for _, p := range m.RPM {
		pkg := rpm.Package{
			Kind: rpm.KindBinary,
			NEVRA: urpm.NEVRA{
				Name:    p.Name,
				Epoch:   p.Epoch,
				Version: p.Version,
				Release: p.Release,
				Arch:    p.Arch,
			},
			RepositoryHint: "key:" + p.GPG,
			Module:         p.Module,
		}
		if s, ok := src[p.Source]; ok {
			pkg.Source = s
		} else {
			s := strings.TrimSuffix(p.Source, ".src")
			pos := len(s)
			for i := 0; i < 2; i++ {
				pos = strings.LastIndexByte(s[:pos], '-')
				if pos == -1 {
					t.Fatalf("malformed NEVRA: %q", p.Source)
				}
			}
			name := s[:pos]
			evr := strings.TrimPrefix(s[pos+1:], "0:")
			epoch := 0
			if ei := strings.IndexByte(evr, ':'); ei != -1 {
				epoch, _ = strconv.Atoi(evr[:ei])
				evr = evr[ei+1:]
			}
			idx := len(srcs)
			srcs = append(srcs, urpm.NEVRA{
				Name:    name,
				Epoch:   epoch,
				Version: evr,
			})
			src[p.Source] = &srcs[idx]
			pkg.Source = &srcs[idx]
		}
		out = append(out, &pkg)
	}
	return out
}
