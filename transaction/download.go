package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/pkg/poolstats"
	"github.com/urpm-project/urpm/pkg/tmp"
)

// Pool is the bounded download worker pool of spec.md §4.4: for each
// artifact it tries the local cache, then the peer set, then upstream, in
// that order, retrying a digest failure once before giving up on the
// current source.
type Pool struct {
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	cache    CacheSource
	peers    PeerSource
	upstream UpstreamSource
	tempDir  string

	inFlight  atomic.Int32
	queued    atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool builds a Pool bounded to opts.PoolSize concurrent downloads.
// peers may be nil, in which case the peer phase is skipped entirely
// (spec.md §4.4 point 2 is best-effort, never required).
func NewPool(cache CacheSource, peers PeerSource, upstream UpstreamSource, opts Options) *Pool {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	return &Pool{
		sem:      semaphore.NewWeighted(opts.PoolSize),
		limiter:  rate.NewLimiter(rate.Limit(opts.PoolSize*2), int(opts.PoolSize)),
		cache:    cache,
		peers:    peers,
		upstream: upstream,
		tempDir:  opts.TempDir,
	}
}

// FetchAll acquires every artifact, at most opts.PoolSize at a time,
// stopping at the first unrecoverable failure (a caller may cancel ctx to
// abort the rest; spec.md §5's "in-flight downloads abort at next
// suspension").
func (p *Pool) FetchAll(ctx context.Context, arts []Artifact) ([]string, error) {
	paths := make([]string, len(arts))
	g, gctx := errgroup.WithContext(ctx)
	p.queued.Add(int32(len(arts)))
	for i := range arts {
		i := i
		a := arts[i]
		if err := p.sem.Acquire(gctx, 1); err != nil {
			p.queued.Add(-1)
			return nil, err
		}
		p.queued.Add(-1)
		p.inFlight.Add(1)
		g.Go(func() error {
			defer p.sem.Release(1)
			defer p.inFlight.Add(-1)
			path, err := p.fetch(gctx, a)
			if err != nil {
				p.failed.Add(1)
				return fmt.Errorf("artifact %s: %w", a.Filename(), err)
			}
			p.completed.Add(1)
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// fetch acquires one artifact via cache, then peers, then upstream. A
// single temp file backs the whole fallback chain so a partial transfer
// from one source resumes, by byte offset, from the next instead of
// restarting at zero (spec.md §4.4/§8: "if P1 disconnects at 4 MB, engine
// resumes from M1 at byte 4 MB with no duplicated bytes").
func (p *Pool) fetch(ctx context.Context, a Artifact) (string, error) {
	if p.cache != nil {
		if path, ok, err := p.cache.Lookup(ctx, a); err == nil && ok {
			return path, nil
		}
	}

	f, err := tmp.NewFile(p.tempDir, "urpm-download-*.rpm")
	if err != nil {
		return "", err
	}
	defer f.Close()

	var resumeFrom int64
	if path, ok := p.tryPeers(ctx, a, f, &resumeFrom); ok {
		return path, nil
	}

	return p.fetchUpstream(ctx, a, f, &resumeFrom)
}

// tryPeers races the healthy peer set for a's filename, writing into f
// starting at *resumeFrom and advancing it by whatever it manages to
// write before any failure. Any failure here — no peer has it, the query
// times out, the download fails — falls through to upstream; it never
// fails the transaction (spec.md §4.4's "this is best-effort").
func (p *Pool) tryPeers(ctx context.Context, a Artifact, f *tmp.File, resumeFrom *int64) (string, bool) {
	if p.peers == nil {
		return "", false
	}
	holders, err := p.peers.Have(ctx, []string{a.Filename()})
	if err != nil {
		return "", false
	}
	addr, ok := holders[a.Filename()]
	if !ok {
		return "", false
	}

	n, err := p.peers.Fetch(ctx, addr, a.Filename(), f, *resumeFrom)
	*resumeFrom += n
	if err != nil || *resumeFrom == 0 {
		return "", false
	}
	if a.Digest.Algorithm() != "" {
		ok, err := verifyDigest(f.Name(), a.Digest)
		if err != nil || !ok {
			return "", false
		}
	}
	path, err := p.cache.Store(ctx, a, f.Name())
	if err != nil {
		return "", false
	}
	return path, true
}

// fetchUpstream fetches from the media's configured servers, retrying a
// digest failure exactly once before marking the source unhealthy
// (spec.md §4.4: "A download failing digest verification is deleted and
// retried once; a second failure marks the source unhealthy and
// reschedules on another"). A digest failure discards whatever is on disk
// and restarts the retry at byte zero, since the bytes written are the
// ones that failed to verify; a plain connection failure keeps
// *resumeFrom where it stands so the retry (or a subsequent source)
// continues from there instead.
func (p *Pool) fetchUpstream(ctx context.Context, a Artifact, f *tmp.File, resumeFrom *int64) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		path, err := p.downloadOnce(ctx, a, f, resumeFrom)
		if err == nil {
			return path, nil
		}
		lastErr = err
		// A first digest mismatch is retried against the same source; a
		// connection failure, or a second digest mismatch, marks it unhealthy.
		var uerr *urpm.Error
		digestFailure := errors.As(err, &uerr) && uerr.Kind == urpm.ErrMetadataCorrupt
		if (attempt == 0 && !digestFailure) || (attempt == 1 && digestFailure) {
			p.upstream.MarkUnhealthy(ctx, a.Media, "")
		}
	}
	return "", &urpm.Error{Kind: urpm.ErrEnvironment, Op: "transaction.Pool.fetchUpstream",
		Message: "artifact unavailable after retry", Inner: lastErr}
}

func (p *Pool) downloadOnce(ctx context.Context, a Artifact, f *tmp.File, resumeFrom *int64) (string, error) {
	n, err := p.upstream.Fetch(ctx, a.Media, a.Filename(), f, *resumeFrom)
	*resumeFrom += n
	if err != nil {
		return "", err
	}

	if a.Digest.Algorithm() != "" {
		ok, err := verifyDigest(f.Name(), a.Digest)
		if err != nil {
			return "", err
		}
		if !ok {
			*resumeFrom = 0
			return "", &urpm.Error{Kind: urpm.ErrMetadataCorrupt, Op: "transaction.Pool.downloadOnce",
				Message: "digest mismatch for " + a.Filename()}
		}
	}
	return p.cache.Store(ctx, a, f.Name())
}

// poolStat is the shape pkg/poolstats.Stat expects.
type poolStat struct {
	inFlight, queued  int32
	completed, failed int64
}

func (s poolStat) InFlight() int32  { return s.inFlight }
func (s poolStat) Queued() int32    { return s.queued }
func (s poolStat) Completed() int64 { return s.completed }
func (s poolStat) Failed() int64    { return s.failed }

var _ poolstats.Stater = (*Pool)(nil)

// Stat implements pkg/poolstats.Stater.
func (p *Pool) Stat() poolstats.Stat {
	return poolStat{
		inFlight:  p.inFlight.Load(),
		queued:    p.queued.Load(),
		completed: p.completed.Load(),
		failed:    p.failed.Load(),
	}
}
