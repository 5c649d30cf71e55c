// Package daemon wires the catalog, resolver, transaction engine, and peer
// coordination into the long-running urpmd process: the HTTP API of
// spec.md §6 and the scheduler of §4.5.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urpm-project/urpm/catalog"
	"github.com/urpm-project/urpm/config"
	"github.com/urpm-project/urpm/locksource"
	"github.com/urpm-project/urpm/peer"
	"github.com/urpm-project/urpm/resolver"
	"github.com/urpm-project/urpm/transaction"
)

// Daemon holds every long-lived collaborator the HTTP handlers and
// scheduler tasks share.
type Daemon struct {
	Config *config.Config

	Store      *catalog.Store
	Index      *catalog.Index
	Installed  catalog.InstalledLister
	Pool       *transaction.Pool
	Engine     *transaction.Engine
	History    *transaction.History
	Discovery  *peer.Discovery
	PeerClient *peer.Client

	self      peer.Announcement
	startedAt time.Time
}

// New assembles a Daemon ready to have its HTTP handler mounted and its
// scheduler started.
//
// installed is the live RPM-database reader backing both the resolver's
// installed-set projection and cache-quota enforcement's "never evict an
// installed package" rule; exec is the opaque RPM handoff collaborator
// (spec.md §1). distroRelease and arch identify this machine in discovery
// announcements.
func New(cfg *config.Config, store *catalog.Store, installed catalog.InstalledLister, exec transaction.Executor, distroRelease, arch string) *Daemon {
	idx := catalog.NewIndex(store, installed)

	self := peer.Announcement{
		MachineID:     peer.NewMachineID(),
		Port:          daemonPort(cfg),
		DistroRelease: distroRelease,
		Arch:          arch,
		Development:   cfg.Daemon.Development,
	}
	discovery := peer.NewDiscovery(cfg.DiscoveryPort(), self, cfg.Peer.StaleAfter, func(ctx context.Context, s peer.Seen) {
		err := store.UpsertPeer(ctx, catalog.Peer{
			Host:            s.Host,
			Port:            s.Port,
			MachineID:       s.MachineID,
			DistroRelease:   s.DistroRelease,
			Arch:            s.Arch,
			LastSeen:        s.LastSeen,
			DevelopmentMode: s.Development,
		})
		if err != nil {
			slog.ErrorContext(ctx, "recording discovered peer", "peer", s.MachineID, "error", err)
		}
	})
	peerClient := peer.NewClient(http.DefaultClient, discovery.Peers, cfg.Peer.QueryTimeout)

	cache := transaction.NewFileCache(packagesDir(cfg), catalog.CacheAdapter{Store: store})
	upstream := catalog.UpstreamAdapter{Store: store}
	pool := transaction.NewPool(cache, peerClient, upstream, transaction.Options{
		PoolSize:    int64(cfg.Pool.Downloads),
		PeerTimeout: cfg.Peer.QueryTimeout,
	})

	hist := catalog.HistoryAdapter{Store: store}
	// The RPM database lock must hold across separate OS processes — the
	// daemon and a transient urpm CLI invocation both call New against the
	// same cfg (spec.md §5) — so it's backed by a real flock, not Local's
	// in-process sync.Map.
	engine := transaction.NewEngine(pool, idx, exec, hist, locksource.NewFlock(lockDir(cfg)))

	return &Daemon{
		Config:     cfg,
		Store:      store,
		Index:      idx,
		Installed:  installed,
		Pool:       pool,
		Engine:     engine,
		History:    transaction.NewHistory(hist, engine),
		Discovery:  discovery,
		PeerClient: peerClient,
		self:       self,
		startedAt:  time.Now(),
	}
}

// packagesDir is the on-disk package cache root (spec.md §6:
// "<base>/cache/packages/<media-shortid>/<NEVRA>.rpm"), rooted under the
// configured cache root.
func packagesDir(cfg *config.Config) string {
	return filepath.Join(cfg.CacheRoot, "cache", "packages")
}

// lockDir is where the cross-process RPM database flock files live,
// alongside the rest of this machine's urpm state.
func lockDir(cfg *config.Config) string {
	return filepath.Join(cfg.CacheRoot, "lock")
}

// daemonPort parses the numeric port out of cfg.Daemon.Addr (":9876" or
// "host:9876"), defaulting to 0 (let the OS pick) if unparseable — matching
// config.Default's ":%d"-formatted Addr.
func daemonPort(cfg *config.Config) int {
	_, portStr, err := net.SplitHostPort(cfg.Daemon.Addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// Resolve runs the resolver against the current catalog/installed-set
// projection — the shared step behind both the HTTP API's /api/updates and
// cmd/urpm's verbs.
func (d *Daemon) Resolve(ctx context.Context, jobs []resolver.Job, opts resolver.Options) (*resolver.Transaction, error) {
	return resolver.Solve(ctx, d.Index, jobs, opts)
}
