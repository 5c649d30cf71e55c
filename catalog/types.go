// Package catalog is the SQLite-backed local store: media/server
// configuration, the package metadata ingested from each media, and the
// operational state (holds, peers, history) the daemon and CLI read and
// write (spec.md §3, §4.2).
package catalog

import (
	"time"

	"github.com/urpm-project/urpm"
)

// IPMode constrains which address families a [Server] is contacted over.
type IPMode string

// Defined IP modes.
const (
	IPAuto IPMode = "auto"
	IPv4   IPMode = "v4"
	IPv6   IPMode = "v6"
	IPDual IPMode = "dual"
)

// Server is a reachable mirror endpoint. Name is unique; a server may serve
// many media (spec.md §3).
type Server struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	Enabled    bool   `json:"enabled"`
	Priority   int    `json:"priority"`
	IPMode     IPMode `json:"ip_mode"`
	LastStatus string `json:"last_status"`
}

// ReplicationPolicy controls how much of a media's artifacts are mirrored
// locally ahead of demand.
type ReplicationPolicy string

// Defined replication policies.
const (
	ReplicateNone     ReplicationPolicy = "none"
	ReplicateOnDemand ReplicationPolicy = "on-demand"
	ReplicateSeed     ReplicationPolicy = "seed"
	ReplicateFull     ReplicationPolicy = "full"
)

// Media is a logical repository, e.g. "Core Release" (spec.md §3). Name is
// unique; each enabled media must have at least one enabled server capable
// of serving it (enforced by the resolver/transaction packages, not the
// schema).
type Media struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	ShortID          string            `json:"short_id"`
	Enabled          bool              `json:"enabled"`
	Update           bool              `json:"update"`
	Priority         int               `json:"priority"`
	Replication      ReplicationPolicy `json:"replication"`
	SeedSections     []string          `json:"seed_sections,omitempty"`
	QuotaBytes       int64             `json:"quota_bytes"`
	RetentionDays    int               `json:"retention_days"`
	SyncFiles        bool              `json:"sync_files"`
	SharedWithPeers  bool              `json:"shared_with_peers"`
}

// Package is one NEVRA-identified package record cataloged for a media.
//
// This replaces the teacher's container-scanning Package (which carried a
// CPE field) with NEVRA-native fields plus the six capability-list fields a
// resolver needs.
type Package struct {
	MediaID     int64  `json:"media_id"`
	urpm.NEVRA  `json:"nevra"`
	Group       string `json:"group,omitempty"`
	Size        int64  `json:"size"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Changelog   string `json:"changelog,omitempty"`
	License     string `json:"license,omitempty"`
	URL         string `json:"url,omitempty"`

	Provides   []urpm.Capability `json:"provides,omitempty"`
	Requires   []urpm.Capability `json:"requires,omitempty"`
	Conflicts  []urpm.Capability `json:"conflicts,omitempty"`
	Obsoletes  []urpm.Capability `json:"obsoletes,omitempty"`
	Recommends []urpm.Capability `json:"recommends,omitempty"`
	Suggests   []urpm.Capability `json:"suggests,omitempty"`
}

// PackageFile is one installed path belonging to a [Package], the row the
// files_fts index is defined as external content against (spec.md §4.2).
type PackageFile struct {
	ID        int64  `json:"id"`
	MediaID   int64  `json:"media_id"`
	NEVRA     string `json:"nevra"`
	Directory string `json:"directory"`
	Basename  string `json:"basename"`
}

// HistoryState is a [HistoryEntry]'s terminal or in-progress state.
type HistoryState string

// Defined history states.
const (
	HistoryInProgress HistoryState = "in-progress"
	HistoryComplete   HistoryState = "complete"
	HistoryFailed     HistoryState = "failed"
)

// HistoryEntry records one user-initiated transaction from start to its
// single terminal transition (spec.md §3, §4.4).
type HistoryEntry struct {
	ID        int64        `json:"id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at,omitempty"`
	State     HistoryState `json:"state"`
	Installed []string     `json:"installed,omitempty"` // NEVRA strings
	Upgraded  []string     `json:"upgraded,omitempty"`
	Erased    []string     `json:"erased,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Hold excludes a package name from upgrade and obsoletion until removed
// (spec.md §3).
type Hold struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// Peer is an ephemeral row describing another machine discovered on the
// LAN; recreated on each daemon run, expired after a stale window (spec.md
// §3, §4.5).
type Peer struct {
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	MachineID       string    `json:"machine_id"`
	DistroRelease   string    `json:"distro_release"`
	Arch            string    `json:"arch"`
	LastSeen        time.Time `json:"last_seen"`
	Blacklisted     bool      `json:"blacklisted"`
	DevelopmentMode bool      `json:"development_mode"`
}

// IndexState is a media's file-index snapshot state, used to decide
// full-rebuild vs. differential import on the next sync (spec.md §3).
type IndexState struct {
	MediaID        int64     `json:"media_id"`
	MD5            string    `json:"md5"`
	FileCount      int       `json:"file_count"`
	PackageCount   int       `json:"package_count"`
	CompressedSize int64     `json:"compressed_size"`
	LastSync       time.Time `json:"last_sync"`
}
