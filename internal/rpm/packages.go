package rpm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"runtime/trace"
	"strconv"
	"strings"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/internal/rpm/rpmdb"
	"github.com/urpm-project/urpm/internal/rpmver"
)

// InnerDB is the interface that adapters must implement.
type innerDB interface {
	All(context.Context) (iter.Seq[io.ReaderAt], func() error)
	Validate(context.Context) error
}

// NativeAdpater implements [NativeDB].
type nativeAdapter struct {
	innerDB
	cleanup func() error
}

// Close implements [io.Closer].
func (a *nativeAdapter) Close() error {
	errs := make([]error, 0, 2)
	if closer, ok := a.innerDB.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if f := a.cleanup; f != nil {
		errs = append(errs, f())
	}
	return errors.Join(errs...)
}

// NativeDB is an interface for doing in-process examination of rpm an database.
type NativeDB interface {
	io.Closer
	All(context.Context) (iter.Seq[io.ReaderAt], func() error)
}

// PackagesFromDB extracts the packages from the rpm headers provided by
// the database.
//
// "Pkgdb" is used to populate "PackageDB" in the returned [Package]
// instances.
func PackagesFromDB(ctx context.Context, pkgdb string, db NativeDB) (iter.Seq[Package], func() error) {
	defer trace.StartRegion(ctx, "PackagesFromDB").End()
	var final error

	seq := func(yield func(Package) bool) {
		var err error
		blobs, dbErr := db.All(ctx)
		seq, parseErr := parseBlob(ctx, blobs)
		defer func() {
			final = errors.Join(err, parseErr(), dbErr(), db.Close())
		}()

		src := make(map[string]*urpm.NEVRA)
		src["(none)"] = nil
		src[""] = nil
		ct := 0

		for info := range seq {
			p := Package{
				Kind: KindBinary,
				NEVRA: urpm.NEVRA{
					Name:    info.Name,
					Epoch:   info.Epoch,
					Version: info.Version,
					Release: info.Release,
					Arch:    info.Arch,
				},
				PackageDB:      pkgdb,
				Module:         info.ModuleStream(),
				RepositoryHint: info.Hint(),
			}

			srcRPM := info.SourceRPM
			srcRPM = strings.TrimSuffix(srcRPM, ".rpm")
			srcRPM = strings.TrimSuffix(srcRPM, ".src")
			srcRPM = strings.TrimSuffix(srcRPM, ".nosrc")
			if s, ok := src[srcRPM]; ok {
				p.Source = s
			} else if v, perr := rpmver.Parse(srcRPM); perr == nil && v.Name != nil {
				epoch, _ := strconv.Atoi(v.Epoch)
				srcNEVRA := urpm.NEVRA{
					Name:    *v.Name,
					Epoch:   epoch,
					Version: v.Version,
					Release: v.Release,
				}
				src[srcRPM] = &srcNEVRA
				p.Source = &srcNEVRA
			} else {
				err = fmt.Errorf("malformed source rpm name: %q", info.SourceRPM)
				return
			}

			ct++
			if !yield(p) {
				break
			}
		}
		slog.DebugContext(ctx, "processed rpm db", "packages", ct, "sources", len(src))
	}

	return seq, func() error { return final }
}

// ParseBlob maps every [io.ReaderAt] blob into an [Info] instance.
func parseBlob(ctx context.Context, seq iter.Seq[io.ReaderAt]) (iter.Seq[Info], func() error) {
	var final error
	wrapped := func(yield func(Info) bool) {
		var h rpmdb.Header
		for rd := range seq {
			if err := h.Parse(ctx, rd); err != nil {
				final = fmt.Errorf("internal/rpm: error parsing header: %w", err)
				return
			}

			var info Info
			if err := info.Load(ctx, &h); err != nil {
				final = fmt.Errorf("internal/rpm: error loading header: %w", err)
				return
			}

			if info.Name == "gpg-pubkey" {
				// This is *not* an rpm package. It is just a public key stored in the rpm database.
				// Ignore this "package".
				continue
			}

			if !yield(info) {
				return
			}
		}
	}
	return wrapped, func() error { return final }
}
