// Package config holds the process-wide configuration record shared by the
// CLI front-end and the daemon.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/urpm-project/urpm"
)

// Config is the merged, validated configuration used for the lifetime of a
// process. It is built once at startup from a YAML file plus, on demand, the
// legacy urpmi.cfg stanza format (see [LoadLegacy]).
type Config struct {
	// CatalogPath is the sqlite database file backing the catalog.
	CatalogPath string `yaml:"catalog_path"`
	// CacheRoot is the root of the downloaded-package and metadata cache.
	CacheRoot string `yaml:"cache_root"`
	// Root is the installation root rpm operates against (normally "/").
	Root string `yaml:"root"`

	Daemon   Daemon   `yaml:"daemon"`
	Peer     Peer     `yaml:"peer"`
	Pool     Pool     `yaml:"pool"`
	Schedule Schedule `yaml:"schedule"`
	Resolver Resolver `yaml:"resolver"`
}

// Daemon holds the HTTP API listen configuration.
type Daemon struct {
	// Addr is the HTTP API listen address, e.g. ":9876".
	Addr string `yaml:"addr"`
	// Development switches discovery to the development port pair and
	// restricts peering to other development-mode peers.
	Development bool `yaml:"development"`
}

// Peer holds LAN-discovery tuning.
type Peer struct {
	// StaleAfter is how long a peer may go unseen before it's dropped from
	// the peer table.
	StaleAfter time.Duration `yaml:"stale_after"`
	// QueryTimeout bounds a single /api/have race across peers.
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// AnnounceInterval is how often this machine rebroadcasts its own
	// discovery announcement.
	AnnounceInterval time.Duration `yaml:"announce_interval"`
}

// Pool holds worker-pool sizing.
type Pool struct {
	// Downloads is the number of concurrent package downloads.
	Downloads int `yaml:"downloads"`
}

// Schedule holds the daemon's periodic-task tuning (spec.md §4.5).
type Schedule struct {
	// RefreshInterval is how often every enabled media is resynced.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// SweepInterval is how often stale peers and expired cache entries
	// are swept.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// MaxConcurrentRefresh bounds how many media sync the refresh task
	// runs at once.
	MaxConcurrentRefresh int `yaml:"max_concurrent_refresh"`
}

// Resolver holds the system-identity values spec.md §4.3's candidate
// ranking tie-break needs: same-arch-as-system and locale match.
type Resolver struct {
	// Arch is this machine's RPM package arch (e.g. "x86_64"), distinct
	// from Go's GOARCH ("amd64") naming.
	Arch string `yaml:"arch"`
	// Locale is the short locale tag (e.g. "fr") a locale-suffixed
	// package name is compared against.
	Locale string `yaml:"locale"`
}

const (
	portProd = 9876
	portDev  = 9877

	discoveryPortProd = 9878
	discoveryPortDev  = 9879
)

// goarchToRPM maps Go's GOARCH naming to the RPM arch strings NEVRA.Arch
// uses; architectures absent here pass through unchanged (e.g. "noarch"
// candidates never need this mapping, and same-named arches like
// "riscv64" already agree).
var goarchToRPM = map[string]string{
	"amd64": "x86_64",
	"386":   "i586",
	"arm64": "aarch64",
	"arm":   "armv7hl",
}

// defaultArch reports the local machine's RPM package arch.
func defaultArch() string {
	if a, ok := goarchToRPM[runtime.GOARCH]; ok {
		return a
	}
	return runtime.GOARCH
}

// defaultLocale reports the short locale tag taken from $LANG (e.g.
// "fr_FR.UTF-8" -> "fr"), empty when unset or "C"/"POSIX".
func defaultLocale() string {
	lang := os.Getenv("LANG")
	lang, _, _ = strings.Cut(lang, ".")
	lang, _, _ = strings.Cut(lang, "_")
	if lang == "" || lang == "C" || lang == "POSIX" {
		return ""
	}
	return lang
}

// Default returns a [Config] with the defaults described in spec.md §4.5 and
// §5: a 4-worker download pool, a 2s peer query timeout, and production
// discovery ports.
func Default() *Config {
	return &Config{
		CatalogPath: "/var/lib/urpm/catalog.db",
		CacheRoot:   "/var/cache/urpm",
		Root:        "/",
		Daemon: Daemon{
			Addr: fmt.Sprintf(":%d", portProd),
		},
		Peer: Peer{
			StaleAfter:       5 * time.Minute,
			QueryTimeout:     2 * time.Second,
			AnnounceInterval: 30 * time.Second,
		},
		Pool: Pool{
			Downloads: 4,
		},
		Schedule: Schedule{
			RefreshInterval:      6 * time.Hour,
			SweepInterval:        time.Minute,
			MaxConcurrentRefresh: 4,
		},
		Resolver: Resolver{
			Arch:   defaultArch(),
			Locale: defaultLocale(),
		},
	}
}

// DiscoveryPort reports the UDP broadcast port to use, switching to the
// development pair when [Daemon.Development] is set.
func (c *Config) DiscoveryPort() int {
	if c.Daemon.Development {
		return discoveryPortDev
	}
	return discoveryPortProd
}

// Load reads a YAML configuration file, merging it onto [Default].
//
// A missing file is not an error: [Default] is returned as-is, matching the
// teacher's convention of a working zero-config default for local use.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return cfg, nil
	case err != nil:
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrEnvironment, Op: "config.Load", Message: "reading config file"}
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrUser, Op: "config.Load", Message: "parsing config file"}
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the file with 0644 permissions.
func Save(cfg *Config, path string) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return &urpm.Error{Inner: err, Kind: urpm.ErrInternal, Op: "config.Save", Message: "encoding config"}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return &urpm.Error{Inner: err, Kind: urpm.ErrEnvironment, Op: "config.Save", Message: "writing config file"}
	}
	return nil
}
