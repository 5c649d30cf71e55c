package rpm

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"runtime/trace"
	"strconv"
	"strings"
	"sync"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/internal/rpm/rpmdb"
	"github.com/urpm-project/urpm/internal/rpmver"
)

// Database is a handle to an RPM database.
type Database struct {
	pkgdb   string
	cleanup io.Closer
	headers HeaderReader
}

// OpenDB opens the rpm database described by found, rooted at sys, and
// returns a [Database] ready to enumerate packages or populate a [PathSet].
//
// The caller is responsible for calling [Database.Close].
func OpenDB(ctx context.Context, sys fs.FS, found FoundDB) (*Database, error) {
	nat, err := found.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("internal/rpm: unable to open %s: %w", found.String(), err)
	}
	return &Database{
		pkgdb:   found.path,
		cleanup: nat,
		headers: nativeHeaders{NativeDB: nat},
	}, nil
}

// NativeHeaders adapts a [NativeDB] to the [HeaderReader] interface.
type nativeHeaders struct {
	NativeDB
}

func (n nativeHeaders) Headers(ctx context.Context) iter.Seq2[io.ReaderAt, error] {
	blobs, errFunc := n.All(ctx)
	return func(yield func(io.ReaderAt, error) bool) {
		for b := range blobs {
			if !yield(b, nil) {
				return
			}
		}
		if err := errFunc(); err != nil {
			yield(nil, err)
		}
	}
}

// Packages creates an iterator over the packages in the RPM database,
// translated to [Package]s.
//
// Continuing the sequence after an error is reported skips the current package
// and processes the next one.
//
// The returned iterator is single-use.
func (db *Database) Packages(ctx context.Context) iter.Seq2[Package, error] {
	ctx, task := trace.NewTask(ctx, "internal/rpm.Database.PackagesIter")

	seq := func(yield func(Package, error) bool) {
		defer task.End()

		srcs := map[string]*urpm.NEVRA{
			"(none)": nil,
			"":       nil,
		}
		headers := db.headers.Headers(ctx)
		seq := loadPackageInfo(ctx, headers)
		var ok bool
		ct := 0
		defer func() {
			slog.DebugContext(ctx, "processed rpm db", "packages", ct)
		}()
		retErr := func(err error) (cont bool) {
			trace.WithRegion(ctx, "internal/rpm.Database.PackagesYield", func() { cont = yield(Package{}, err) })
			return cont
		}
		retPkg := func(pkg Package) (cont bool) {
			trace.WithRegion(ctx, "internal/rpm.Database.PackagesYield", func() { cont = yield(pkg, nil) })
			return cont
		}

		for info, err := range seq {
			if err != nil {
				if !retErr(err) {
					return
				}
				continue
			}

			pkg := Package{
				Kind:           KindBinary,
				Module:         info.ModuleStream(),
				RepositoryHint: info.Hint(),
				PackageDB:      db.pkgdb,
			}
			pkg.NEVRA = urpm.NEVRA{
				Name:    info.Name,
				Epoch:   info.Epoch,
				Version: info.Version,
				Release: info.Release,
				Arch:    info.Arch,
			}
			printSourceVersionWarning(ctx)

			srcRPM := info.SourceRPM
			// Remove `.(no)src.rpm`
			srcRPM = strings.TrimSuffix(srcRPM, ".rpm")
			srcRPM = strings.TrimSuffix(srcRPM, ".src")
			srcRPM = strings.TrimSuffix(srcRPM, ".nosrc")
			pkg.Source, ok = srcs[srcRPM]
			for !ok {
				v, err := rpmver.Parse(srcRPM)
				if err != nil {
					slog.InfoContext(ctx, "unable to parse SOURCERPM tag, skipping", "error", err)
					break
				}
				if v.Name == nil {
					slog.InfoContext(ctx, "no name parsed out of SOURCERPM tag, skipping")
					break
				}
				epoch, _ := strconv.Atoi(v.Epoch)
				src := urpm.NEVRA{
					Name:    *v.Name,
					Epoch:   epoch,
					Version: v.Version,
					Release: v.Release,
				}

				pkg.Source = &src
				srcs[srcRPM] = &src
				ok = true
			}

			ct++
			if !retPkg(pkg) {
				return
			}
		}
	}

	return seq
}

// SourceVersionWarning is a [sync.Once] for controlling the "invalid source
// version" warning log.
//
// BUG(hank) Can't reliably populate the source: there's no NEVR information,
// just a filename that (by convention) is the NVRA. There's an in-flight [PR]
// to rpm to add this information. This package should be updated when that's
// merged.
//
// [PR]: https://github.com/rpm-software-management/rpm/pull/3755
var sourceVersionWarning sync.Once

func printSourceVersionWarning(ctx context.Context) {
	sourceVersionWarning.Do(func() {
		slog.WarnContext(ctx, "rpm source packages always record 0 epoch; this may cause incorrect matching",
			"see-also", []string{
				`https://github.com/rpm-software-management/rpm/issues/2796`,
				`https://github.com/rpm-software-management/rpm/discussions/3703`,
				`https://github.com/rpm-software-management/rpm/pull/3755`,
			})
	})
}

// PopulatePathSet adds relevant paths from the RPM database to the provided
// [PathSet].
func (db *Database) populatePathSet(ctx context.Context, s *PathSet) error {
	ctx, task := trace.NewTask(ctx, "internal/rpm.Database.populatePathSet")
	defer task.End()

	seq := loadPackageInfo(ctx, db.headers.Headers(ctx))
	ct := 0
	defer func() {
		slog.DebugContext(ctx, "processed rpm db", "packages", ct, "files", s.len())
	}()

	for info, err := range seq {
		if err != nil {
			return err
		}
		ct++
		info.InsertIntoSet(s)
	}
	return nil
}

func (db *Database) Close() error {
	if db.cleanup != nil {
		return db.cleanup.Close()
	}
	return nil
}

func (db *Database) String() string {
	return db.pkgdb
}

// LoadPackageInfo maps a sequence yielding package header bytes to a sequence
// yielding package [Info] values.
//
// Any errors from the underlying sequence are passed through, and any errors
// encountered are reported. Continuing after an error is reported starts
// processing the next package header.
func loadPackageInfo(ctx context.Context, headers iter.Seq2[io.ReaderAt, error]) iter.Seq2[Info, error] {
	return func(yield func(Info, error) bool) {
		var h rpmdb.Header

		for r, err := range headers {
			if err != nil {
				if !yield(Info{}, fmt.Errorf("internal/rpm: unable to read header: %w", err)) {
					return
				}
				continue
			}

			h = rpmdb.Header{}
			if err := h.Parse(ctx, r); err != nil {
				if !yield(Info{}, fmt.Errorf("internal/rpm: unable to parse header: %w", err)) {
					return
				}
				continue
			}

			var i Info
			if err := i.Load(ctx, &h); err != nil {
				if !yield(Info{}, fmt.Errorf("internal/rpm: unable to load package information: %w", err)) {
					return
				}
				continue
			}

			// This is *not* an rpm package, it's just a public key stored in the rpm database.
			if i.Name == "gpg-pubkey" {
				continue
			}

			if !yield(i, nil) {
				return
			}
		}
	}
}
