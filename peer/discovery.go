// Package peer implements LAN peer discovery and the cooperative-download
// client (spec.md §4.5, §6).
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/urpm-project/urpm/internal/logctx"
)

// Announcement is the UDP broadcast packet a machine sends to advertise
// itself, and the record kept for every peer discovered this way
// (spec.md §4.5's discovery payload).
type Announcement struct {
	MachineID     string `json:"machine_id"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	DistroRelease string `json:"distro_release"`
	Arch          string `json:"arch"`
	Development   bool   `json:"development"`
}

// Seen pairs an Announcement with when it was last received.
type Seen struct {
	Announcement
	LastSeen time.Time
}

// NewMachineID generates a stable-for-this-process machine identifier.
func NewMachineID() string { return uuid.NewString() }

// Discovery broadcasts this machine's Announcement on a fixed interval and
// keeps a table of the peers it has heard from, pruning entries older than
// staleAfter.
type Discovery struct {
	port       int
	self       Announcement
	staleAfter time.Duration
	onPeer     func(context.Context, Seen)

	peers sync.Map // machine_id -> Seen
}

// NewDiscovery builds a Discovery broadcasting self on port. onPeer, if
// non-nil, is called for every announcement received from a peer other
// than self — typically to upsert it into the catalog's peer table.
func NewDiscovery(port int, self Announcement, staleAfter time.Duration, onPeer func(context.Context, Seen)) *Discovery {
	return &Discovery{port: port, self: self, staleAfter: staleAfter, onPeer: onPeer}
}

// Peers returns every peer currently believed live (seen within
// staleAfter), sorted by no particular order.
func (d *Discovery) Peers() []Seen {
	var out []Seen
	cutoff := time.Now().Add(-d.staleAfter)
	d.peers.Range(func(_, v any) bool {
		s := v.(Seen)
		if s.LastSeen.After(cutoff) {
			out = append(out, s)
		}
		return true
	})
	return out
}

// Run broadcasts self every interval and listens for other machines' own
// broadcasts, until ctx is canceled. Both loops stop together on the first
// error or on cancellation.
func (d *Discovery) Run(ctx context.Context, interval time.Duration) error {
	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: d.port}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.port})
	if err != nil {
		return fmt.Errorf("peer: listening for discovery on port %d: %w", d.port, err)
	}
	defer conn.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.listen(gctx, conn) })
	g.Go(func() error { return d.announce(gctx, conn, addr, interval) })
	return g.Wait()
}

func (d *Discovery) listen(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("peer: reading discovery packet: %w", err)
		}
		var a Announcement
		if err := json.Unmarshal(buf[:n], &a); err != nil {
			slog.WarnContext(ctx, "discarding malformed discovery packet", "error", err)
			continue
		}
		if a.MachineID == "" || a.MachineID == d.self.MachineID {
			continue
		}
		if a.Host == "" && from != nil {
			// an announcement that carries no host falls back to the UDP
			// source address; a self-reported host is used as given.
			a.Host = from.IP.String()
		}
		if a.Development != d.self.Development {
			continue // production and development fleets never peer (spec.md §4.5)
		}
		seen := Seen{Announcement: a, LastSeen: time.Now()}
		d.peers.Store(a.MachineID, seen)
		if d.onPeer != nil {
			d.onPeer(logctx.With(ctx, "peer", a.MachineID), seen)
		}
	}
}

// Sweep removes peers unseen for longer than staleAfter from the peer
// table. Safe to call from a ticker goroutine concurrently with Run; wired
// into daemon/scheduler.go's periodic tasks (spec.md §4.5 "expired after a
// stale window").
func (d *Discovery) Sweep() {
	cutoff := time.Now().Add(-d.staleAfter)
	d.peers.Range(func(k, v any) bool {
		if v.(Seen).LastSeen.Before(cutoff) {
			d.peers.Delete(k)
		}
		return true
	})
}

func (d *Discovery) announce(ctx context.Context, conn *net.UDPConn, addr *net.UDPAddr, interval time.Duration) error {
	b, err := json.Marshal(d.self)
	if err != nil {
		return err
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	if _, err := conn.WriteToUDP(b, addr); err != nil {
		slog.WarnContext(ctx, "initial discovery announcement failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := conn.WriteToUDP(b, addr); err != nil {
				slog.WarnContext(ctx, "discovery announcement failed", "error", err)
			}
		}
	}
}
