package daemon

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/catalog"
	"github.com/urpm-project/urpm/ingest"
	"github.com/urpm-project/urpm/transaction"
)

// Scheduler drives the daemon's periodic tasks (spec.md §4.5): media
// refresh, stale-peer and cache-quota sweeps, running independently of the
// HTTP API and of each other until ctx is canceled.
type Scheduler struct {
	d *Daemon
}

// NewScheduler builds a Scheduler for d, ready to have Start called.
func NewScheduler(d *Daemon) *Scheduler { return &Scheduler{d: d} }

// Start runs the refresh loop and the sweep loop concurrently, each
// performing an initial pass before settling into its configured interval
// (libvuln/updates/manager.go's Start idiom). Both loops stop together on
// the first error or on cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.refreshLoop(gctx) })
	g.Go(func() error { return s.sweepLoop(gctx) })
	return g.Wait()
}

func (s *Scheduler) refreshLoop(ctx context.Context) error {
	interval := s.d.Config.Schedule.RefreshInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	if err := RefreshMedia(ctx, s.d); err != nil {
		slog.ErrorContext(ctx, "initial media refresh encountered errors", "error", err)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := RefreshMedia(ctx, s.d); err != nil {
				slog.ErrorContext(ctx, "media refresh encountered errors", "error", err)
			}
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) error {
	interval := s.d.Config.Schedule.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s.sweepOnce(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce drops stale discovered peers, expires their persisted rows, and
// enforces every media's cache quota (spec.md §4.4's two-phase eviction).
func (s *Scheduler) sweepOnce(ctx context.Context) {
	s.d.Discovery.Sweep()

	cutoff := time.Now().Add(-s.d.Config.Peer.StaleAfter)
	if _, err := s.d.Store.ExpirePeers(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "expiring stale peers", "error", err)
	}

	cache := catalog.CacheAdapter{Store: s.d.Store}
	if err := transaction.Evict(ctx, packagesDir(s.d.Config), cache, s.d.Installed); err != nil {
		slog.ErrorContext(ctx, "cache eviction failed", "error", err)
	}
}

// RefreshMedia resyncs every enabled, update-eligible media concurrently,
// bounded by Schedule.MaxConcurrentRefresh. One media's failure is logged
// and does not abort the others (mirrors libvuln/updates/manager.go's
// per-updater isolation).
func RefreshMedia(ctx context.Context, d *Daemon) error {
	medias, err := d.Store.Media(ctx)
	if err != nil {
		return fmt.Errorf("daemon: listing media to refresh: %w", err)
	}

	max := d.Config.Schedule.MaxConcurrentRefresh
	if max <= 0 {
		max = 4
	}
	sem := semaphore.NewWeighted(int64(max))
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range medias {
		if !m.Enabled || !m.Update {
			continue
		}
		m := m
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := refreshOne(gctx, d, m); err != nil {
				slog.ErrorContext(gctx, "media refresh failed", "media", m.Name, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// refreshOne fetches media's synthesis (and, if enabled, files.xml) blob
// from its first available server and diff-imports it.
func refreshOne(ctx context.Context, d *Daemon, m catalog.Media) error {
	servers, err := d.Store.ServersForMedia(ctx, m.Name)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return fmt.Errorf("no enabled server configured for media %s", m.Name)
	}
	srv := servers[0]

	synth, err := fetchBlob(ctx, srv.BaseURL+"/media_info/synthesis.hdlist.cz")
	if err != nil {
		return fmt.Errorf("fetching synthesis for %s: %w", m.Name, err)
	}
	sum := md5.Sum(synth)
	state := ingest.MediaState{MD5: hex.EncodeToString(sum[:]), CompressedSize: int64(len(synth))}
	if err := ingest.DiffSynthesis(ctx, d.Store, m.Name, state, openBytes(synth)); err != nil {
		return fmt.Errorf("diff-importing synthesis for %s: %w", m.Name, err)
	}

	if !m.SyncFiles {
		return nil
	}
	files, err := fetchBlob(ctx, srv.BaseURL+"/media_info/files.xml.lzma")
	if err != nil {
		slog.WarnContext(ctx, "file index unavailable, skipping", "media", m.Name, "error", err)
		return nil
	}
	if err := ingest.DiffFiles(ctx, d.Store, m.Name, state, openBytes(files)); err != nil {
		return fmt.Errorf("diff-importing files for %s: %w", m.Name, err)
	}
	return nil
}

// fetchBlob retrieves and fully buffers url's body, so the caller can reopen
// a fresh decompressed reader over the same bytes twice (DiffSynthesis and
// DiffFiles each stream their input once to scan, once to import).
func fetchBlob(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func openBytes(b []byte) func() (io.Reader, error) {
	return func() (io.Reader, error) { return ingest.Reader(bytes.NewReader(b)) }
}

// cacheHasFile reports whether filename is already present in any media's
// cache subdirectory.
func (d *Daemon) cacheHasFile(filename string) bool {
	matches, err := filepath.Glob(filepath.Join(packagesDir(d.Config), "*", filename))
	if err != nil {
		return false
	}
	return len(matches) > 0
}

// predownload best-effort pre-fetches each filename into the local cache, so
// a peer racing /api/have later finds it here. Failures are logged, not
// surfaced: this runs fire-and-forget from the /api/request-download
// handler.
func (d *Daemon) predownload(filenames []string) {
	ctx := context.Background()
	for _, filename := range filenames {
		nevra, err := urpm.ParseNEVRA(strings.TrimSuffix(filename, ".rpm"))
		if err != nil {
			slog.WarnContext(ctx, "pre-download request: unparseable filename", "filename", filename, "error", err)
			continue
		}
		art, err := d.Index.Artifact(ctx, nevra)
		if err != nil {
			slog.WarnContext(ctx, "pre-download request: artifact lookup failed", "filename", filename, "error", err)
			continue
		}
		if _, err := d.Pool.FetchAll(ctx, []transaction.Artifact{art}); err != nil {
			slog.WarnContext(ctx, "pre-download failed", "filename", filename, "error", err)
		}
	}
}
