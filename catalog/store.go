package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/ingest"
)

var dialect = goqu.Dialect("sqlite3")

// ExistingNEVRAs implements [ingest.Store]: it reports the NEVRAs currently
// cataloged for media, read from the packages table.
func (s *Store) ExistingNEVRAs(ctx context.Context, media string) (ingest.NEVRASet, error) {
	mediaID, err := s.mediaID(ctx, media)
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := dialect.From("packages").
		Select("name", "epoch", "version", "release", "arch").
		Where(goqu.Ex{"media_id": mediaID}).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying packages: %w", err)
	}
	defer rows.Close()

	out := make(ingest.NEVRASet)
	for rows.Next() {
		var n urpm.NEVRA
		if err := rows.Scan(&n.Name, &n.Epoch, &n.Version, &n.Release, &n.Arch); err != nil {
			return nil, fmt.Errorf("catalog: scanning package row: %w", err)
		}
		out[n.String()] = struct{}{}
	}
	return out, rows.Err()
}

// Media lists every configured media, in no particular order.
func (s *Store) Media(ctx context.Context) ([]Media, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, short_id, enabled, "update", priority, replication, seed_sections,
		        quota_bytes, retention_days, sync_files, shared_with_peers FROM media`)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying media: %w", err)
	}
	defer rows.Close()

	var out []Media
	for rows.Next() {
		var m Media
		var seedSections string
		if err := rows.Scan(&m.ID, &m.Name, &m.ShortID, &m.Enabled, &m.Update, &m.Priority, &m.Replication,
			&seedSections, &m.QuotaBytes, &m.RetentionDays, &m.SyncFiles, &m.SharedWithPeers); err != nil {
			return nil, fmt.Errorf("catalog: scanning media row: %w", err)
		}
		if seedSections != "" {
			m.SeedSections = strings.Split(seedSections, ",")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ServersForMedia lists media's enabled servers, highest priority first
// (spec.md §4.4 point 3: "failover among that media's enabled servers by
// priority then recent success rate"). Recent success rate isn't tracked
// numerically; among servers of equal priority, one whose LastStatus is
// still empty (never marked unhealthy by MarkServerStatus) sorts ahead of
// one that has been, as a tie-break, not a hard exclusion.
func (s *Store) ServersForMedia(ctx context.Context, media string) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.base_url, s.enabled, s.priority, s.ip_mode, s.last_status
		 FROM servers s
		 JOIN media_servers ms ON ms.server_id = s.id
		 JOIN media m ON m.id = ms.media_id
		 WHERE m.name = ? AND s.enabled = 1
		 ORDER BY s.priority DESC, (s.last_status = '') DESC`,
		media)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying servers for media %s: %w", media, err)
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		var srv Server
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.BaseURL, &srv.Enabled, &srv.Priority, &srv.IPMode, &srv.LastStatus); err != nil {
			return nil, fmt.Errorf("catalog: scanning server row: %w", err)
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// MarkServerStatus records a server's most recently observed health,
// surfaced through /api/status and used to de-prioritize (not exclude) a
// server in the next ServersForMedia call.
func (s *Store) MarkServerStatus(ctx context.Context, name, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE servers SET last_status = ? WHERE name = ?`, status, name)
	return err
}

func (s *Store) mediaID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM media WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("catalog: looking up media %q: %w", name, err)
	}
	return id, nil
}

// Begin implements [ingest.Store]: it opens a write transaction, switching
// to the bulk-import pragma set when bulk is true (spec.md §4.2's
// write-discipline paragraph).
func (s *Store) Begin(ctx context.Context, media string, bulk bool) (ingest.Tx, error) {
	mediaID, err := s.mediaID(ctx, media)
	if err != nil {
		return nil, err
	}
	if bulk {
		if err := s.enterBulkMode(ctx); err != nil {
			return nil, err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: beginning transaction: %w", err)
	}
	if bulk {
		if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS packages_name_idx`); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("catalog: dropping index for bulk import: %w", err)
		}
	}
	return &catalogTx{store: s, tx: tx, mediaID: mediaID, media: media, bulk: bulk}, nil
}

// enterBulkMode sets the aggressive, reduced-durability pragmas used only
// while a first-ever ingestion is in flight.
func (s *Store) enterBulkMode(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA synchronous = off; PRAGMA cache_size = -64000; PRAGMA mmap_size = 268435456;`)
	return err
}

// leaveBulkMode restores the conservative defaults [Open] established.
func (s *Store) leaveBulkMode(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA synchronous = normal; PRAGMA cache_size = -2000; PRAGMA mmap_size = 0;`)
	return err
}

// catalogTx implements [ingest.Tx] against one media's rows.
type catalogTx struct {
	store   *Store
	tx      *sql.Tx
	mediaID int64
	media   string
	bulk    bool
}

func (t *catalogTx) DeleteNEVRA(ctx context.Context, nevra string) error {
	n, err := urpm.ParseNEVRA(nevra)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `DELETE FROM packages WHERE media_id = ? AND name = ? AND epoch = ? AND version = ? AND release = ? AND arch = ?`,
		t.mediaID, n.Name, n.Epoch, n.Version, n.Release, n.Arch)
	if err != nil {
		return fmt.Errorf("catalog: deleting package row: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM capabilities WHERE media_id = ? AND nevra = ?`, t.mediaID, nevra); err != nil {
		return fmt.Errorf("catalog: deleting capability rows: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM package_files WHERE media_id = ? AND nevra = ?`, t.mediaID, nevra); err != nil {
		return fmt.Errorf("catalog: deleting file rows: %w", err)
	}
	return nil
}

func (t *catalogTx) InsertSynthesis(ctx context.Context, rec ingest.Record) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO packages (media_id, name, epoch, version, release, arch, group_name, size, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.mediaID, rec.NEVRA.Name, rec.NEVRA.Epoch, rec.NEVRA.Version, rec.NEVRA.Release, rec.NEVRA.Arch,
		rec.Group, rec.Size, rec.Summary)
	if err != nil {
		return fmt.Errorf("catalog: inserting package row: %w", err)
	}

	nevra := rec.NEVRA.String()
	sets := []struct {
		kind string
		caps []urpm.Capability
	}{
		{"provides", rec.Provides}, {"requires", rec.Requires},
		{"conflicts", rec.Conflicts}, {"obsoletes", rec.Obsoletes},
		{"suggests", rec.Suggests}, {"recommends", rec.Recommends},
	}
	for _, s := range sets {
		for _, c := range s.caps {
			_, err := t.tx.ExecContext(ctx,
				`INSERT INTO capabilities (media_id, nevra, kind, name, op, evr) VALUES (?, ?, ?, ?, ?, ?)`,
				t.mediaID, nevra, s.kind, c.Name, string(c.Op), c.EVR)
			if err != nil {
				return fmt.Errorf("catalog: inserting %s capability: %w", s.kind, err)
			}
		}
	}
	return nil
}

func (t *catalogTx) InsertFiles(ctx context.Context, fl ingest.FileList) error {
	nevra := fl.NEVRA.String()
	for _, p := range fl.Paths {
		dir, base := splitPath(p)
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO package_files (media_id, nevra, directory, basename) VALUES (?, ?, ?, ?)`,
			t.mediaID, nevra, dir, base)
		if err != nil {
			return fmt.Errorf("catalog: inserting file row: %w", err)
		}
	}
	return nil
}

func splitPath(p string) (dir, base string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func (t *catalogTx) Commit(ctx context.Context, state ingest.MediaState) error {
	if t.bulk {
		if _, err := t.tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS packages_name_idx ON packages(name)`); err != nil {
			return fmt.Errorf("catalog: rebuilding index: %w", err)
		}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO index_state (media_id, md5, file_count, package_count, compressed_size, last_sync)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(media_id) DO UPDATE SET md5=excluded.md5, file_count=excluded.file_count,
			package_count=excluded.package_count, compressed_size=excluded.compressed_size, last_sync=excluded.last_sync`,
		t.mediaID, state.MD5, state.FileCount, state.PackageCount, state.CompressedSize, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: updating index state: %w", err)
	}
	if err := t.tx.Commit(); err != nil {
		return err
	}
	if t.bulk {
		return t.store.leaveBulkMode(ctx)
	}
	return nil
}

func (t *catalogTx) Rollback() error {
	err := t.tx.Rollback()
	if t.bulk {
		if lerr := t.store.leaveBulkMode(context.Background()); err == nil {
			err = lerr
		}
	}
	return err
}

// PackagesByProvide returns every package whose provides list contains the
// given capability name (spec.md §4.2's "package lookup by ... provide
// capability name").
func (s *Store) PackagesByProvide(ctx context.Context, name string) ([]urpm.NEVRA, error) {
	sqlStr, args, err := dialect.From("capabilities").
		Select("media_id", "nevra").
		Where(goqu.Ex{"kind": "provides", "name": name}).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying provides: %w", err)
	}
	defer rows.Close()

	var out []urpm.NEVRA
	for rows.Next() {
		var mediaID int64
		var nevraStr string
		if err := rows.Scan(&mediaID, &nevraStr); err != nil {
			return nil, err
		}
		n, err := urpm.ParseNEVRA(nevraStr)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CapabilityConsumers returns every package whose capability list of the
// given kind ("requires", "recommends", or "suggests") contains name —
// the reverse of [Store.PackagesByProvide], backing the rdepends/
// whatrequires/whatrecommends/whatsuggests verbs (spec.md §4.2's
// "package lookup by ... capability name", read in the reverse direction).
func (s *Store) CapabilityConsumers(ctx context.Context, kind, name string) ([]urpm.NEVRA, error) {
	sqlStr, args, err := dialect.From("capabilities").
		Select("media_id", "nevra").
		Where(goqu.Ex{"kind": kind, "name": name}).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying %s consumers: %w", kind, err)
	}
	defer rows.Close()

	var out []urpm.NEVRA
	for rows.Next() {
		var mediaID int64
		var nevraStr string
		if err := rows.Scan(&mediaID, &nevraStr); err != nil {
			return nil, err
		}
		n, err := urpm.ParseNEVRA(nevraStr)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AddMedia registers a new media row. An empty ShortID defaults to the
// name and an empty Replication to on-demand; every other field, Enabled
// included, is stored as given.
func (s *Store) AddMedia(ctx context.Context, m Media) error {
	if m.ShortID == "" {
		m.ShortID = m.Name
	}
	if m.Replication == "" {
		m.Replication = ReplicateOnDemand
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (name, short_id, enabled, "update", priority, replication, quota_bytes, retention_days, sync_files, shared_with_peers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.ShortID, m.Enabled, m.Update, m.Priority, m.Replication, m.QuotaBytes, m.RetentionDays, m.SyncFiles, m.SharedWithPeers)
	if err != nil {
		return fmt.Errorf("catalog: adding media %s: %w", m.Name, err)
	}
	return nil
}

// RemoveMedia deletes a media row and, via ON DELETE CASCADE, every
// package/capability/file row cataloged under it.
func (s *Store) RemoveMedia(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("catalog: removing media %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "catalog.RemoveMedia", Message: fmt.Sprintf("no such media %q", name)}
	}
	return nil
}

// SetMediaEnabled flips a media's enabled bit (the "media enable"/"media
// disable" verbs).
func (s *Store) SetMediaEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET enabled = ? WHERE name = ?`, enabled, name)
	if err != nil {
		return fmt.Errorf("catalog: setting media %s enabled=%v: %w", name, enabled, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "catalog.SetMediaEnabled", Message: fmt.Sprintf("no such media %q", name)}
	}
	return nil
}

// SetMediaPriority updates a media's priority, the "media set" verb's
// backing write (spec.md §4.3's media priority tie-break term reads this
// same column).
func (s *Store) SetMediaPriority(ctx context.Context, name string, priority int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET priority = ? WHERE name = ?`, priority, name)
	if err != nil {
		return fmt.Errorf("catalog: setting media %s priority: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "catalog.SetMediaPriority", Message: fmt.Sprintf("no such media %q", name)}
	}
	return nil
}

// AddServer registers a new mirror server, the runtime counterpart to
// AddMedia (the "media link" verb's prerequisite: a server must exist
// before it can be linked to a media).
func (s *Store) AddServer(ctx context.Context, srv Server) error {
	if srv.IPMode == "" {
		srv.IPMode = IPAuto
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (name, base_url, enabled, priority, ip_mode) VALUES (?, ?, ?, ?, ?)`,
		srv.Name, srv.BaseURL, srv.Enabled, srv.Priority, srv.IPMode)
	if err != nil {
		return fmt.Errorf("catalog: adding server %s: %w", srv.Name, err)
	}
	return nil
}

// LinkServer associates an existing server with an existing media (the
// "media link" verb), so [Store.ServersForMedia] starts including it in
// that media's failover set.
func (s *Store) LinkServer(ctx context.Context, mediaName, serverName string) error {
	mediaID, err := s.mediaID(ctx, mediaName)
	if err != nil {
		return err
	}
	var serverID int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM servers WHERE name = ?`, serverName).Scan(&serverID); err != nil {
		if err == sql.ErrNoRows {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "catalog.LinkServer", Message: fmt.Sprintf("no such server %q", serverName)}
		}
		return fmt.Errorf("catalog: looking up server %q: %w", serverName, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO media_servers (media_id, server_id) VALUES (?, ?)`, mediaID, serverID); err != nil {
		return fmt.Errorf("catalog: linking server %s to media %s: %w", serverName, mediaName, err)
	}
	return nil
}

// InsertHistory records a new in-progress transaction and returns its id.
func (s *Store) InsertHistory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history (started_at, state) VALUES (?, ?)`, time.Now().UTC(), HistoryInProgress)
	if err != nil {
		return 0, fmt.Errorf("catalog: inserting history entry: %w", err)
	}
	return res.LastInsertId()
}

// FinishHistory transitions a history entry to a terminal state exactly
// once (spec.md §3's history-entry lifecycle).
func (s *Store) FinishHistory(ctx context.Context, id int64, state HistoryState, installed, upgraded, erased []string, errMsg string) error {
	inst, _ := json.Marshal(installed)
	up, _ := json.Marshal(upgraded)
	er, _ := json.Marshal(erased)
	_, err := s.db.ExecContext(ctx,
		`UPDATE history SET state = ?, ended_at = ?, installed = ?, upgraded = ?, erased = ?, error = ? WHERE id = ? AND state = ?`,
		state, time.Now().UTC(), string(inst), string(up), string(er), errMsg, id, HistoryInProgress)
	return err
}

// HistoryEntries lists history entries newest-first, at most limit of them
// (limit <= 0 means unbounded).
func (s *Store) HistoryEntries(ctx context.Context, limit int) ([]HistoryEntry, error) {
	q := `SELECT id, started_at, ended_at, state, installed, upgraded, erased, error
	      FROM history ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HistoryEntry loads a single history entry by id.
func (s *Store) HistoryEntry(ctx context.Context, id int64) (HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, state, installed, upgraded, erased, error
		 FROM history WHERE id = ?`, id)
	return scanHistoryEntry(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryEntry(row rowScanner) (HistoryEntry, error) {
	var e HistoryEntry
	var ended sql.NullTime
	var installed, upgraded, erased string
	if err := row.Scan(&e.ID, &e.StartedAt, &ended, &e.State, &installed, &upgraded, &erased, &e.Error); err != nil {
		return HistoryEntry{}, fmt.Errorf("catalog: scanning history entry: %w", err)
	}
	if ended.Valid {
		e.EndedAt = ended.Time
	}
	json.Unmarshal([]byte(installed), &e.Installed)
	json.Unmarshal([]byte(upgraded), &e.Upgraded)
	json.Unmarshal([]byte(erased), &e.Erased)
	return e, nil
}

// Holds lists every held package name and reason.
func (s *Store) Holds(ctx context.Context) ([]Hold, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, reason FROM holds ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Hold
	for rows.Next() {
		var h Hold
		if err := rows.Scan(&h.Name, &h.Reason); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SetHold adds or updates a hold.
func (s *Store) SetHold(ctx context.Context, h Hold) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO holds (name, reason) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET reason=excluded.reason`,
		h.Name, h.Reason)
	return err
}

// ClearHold removes a hold by name.
func (s *Store) ClearHold(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM holds WHERE name = ?`, name)
	return err
}

// UpsertPeer records or refreshes a discovered peer's row.
func (s *Store) UpsertPeer(ctx context.Context, p Peer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peers (machine_id, host, port, distro_release, arch, last_seen, blacklisted, development_mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(machine_id) DO UPDATE SET host=excluded.host, port=excluded.port,
			distro_release=excluded.distro_release, arch=excluded.arch, last_seen=excluded.last_seen,
			development_mode=excluded.development_mode`,
		p.MachineID, p.Host, p.Port, p.DistroRelease, p.Arch, p.LastSeen, p.Blacklisted, p.DevelopmentMode)
	return err
}

// Peers lists every peer row currently persisted (not yet expired), the
// "peer" verb's backing read, distinct from [Store.UpsertPeer]'s in-place
// upsert.
func (s *Store) Peers(ctx context.Context) ([]Peer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, port, machine_id, distro_release, arch, last_seen, blacklisted, development_mode FROM peers`)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying peers: %w", err)
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.Host, &p.Port, &p.MachineID, &p.DistroRelease, &p.Arch, &p.LastSeen, &p.Blacklisted, &p.DevelopmentMode); err != nil {
			return nil, fmt.Errorf("catalog: scanning peer row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExpirePeers removes peer rows not seen since before cutoff.
func (s *Store) ExpirePeers(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
