package rpm

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/urpm-project/urpm"
)

// SignerInfo is an installed package's NEVRA and the GPG key id its
// header claims to be signed with (empty if unsigned), backing the
// "key list" verb. The signature itself is never cryptographically
// re-verified here (spec.md §1 keeps that library out of scope); this
// only reports what the header says.
type SignerInfo struct {
	NEVRA urpm.NEVRA
	KeyID string
}

// Installed reads the installed-package set off the on-disk RPM database
// rooted at Root (SPEC_FULL.md §3's "projection of the system RPM
// database, reloaded on demand"). It satisfies both catalog.InstalledLister
// and transaction.InstalledLister, which declare the same method
// independently since transaction cannot import catalog.
type Installed struct {
	Root string
}

func (r Installed) Installed(ctx context.Context) ([]urpm.NEVRA, error) {
	sys := os.DirFS(r.Root)
	found, err := FindDBs(ctx, sys)
	if err != nil {
		return nil, fmt.Errorf("internal/rpm: locating installed-package database under %s: %w", r.Root, err)
	}

	var out []urpm.NEVRA
	for _, f := range found {
		db, err := OpenDB(ctx, sys, f)
		if err != nil {
			return nil, fmt.Errorf("internal/rpm: opening %s: %w", f, err)
		}
		for pkg, err := range db.Packages(ctx) {
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("internal/rpm: reading packages from %s: %w", f, err)
			}
			if pkg.Kind == KindBinary {
				out = append(out, pkg.NEVRA)
			}
		}
		db.Close()
	}
	return out, nil
}

// Signers reports every installed binary package's NEVRA and claimed
// signing key id, read from the same RPM database walk as [Installed.Installed].
func (r Installed) Signers(ctx context.Context) ([]SignerInfo, error) {
	sys := os.DirFS(r.Root)
	found, err := FindDBs(ctx, sys)
	if err != nil {
		return nil, fmt.Errorf("internal/rpm: locating installed-package database under %s: %w", r.Root, err)
	}

	var out []SignerInfo
	for _, f := range found {
		db, err := OpenDB(ctx, sys, f)
		if err != nil {
			return nil, fmt.Errorf("internal/rpm: opening %s: %w", f, err)
		}
		for pkg, err := range db.Packages(ctx) {
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("internal/rpm: reading packages from %s: %w", f, err)
			}
			if pkg.Kind != KindBinary {
				continue
			}
			v, _ := url.ParseQuery(pkg.RepositoryHint)
			out = append(out, SignerInfo{NEVRA: pkg.NEVRA, KeyID: v.Get("key")})
		}
		db.Close()
	}
	return out, nil
}
