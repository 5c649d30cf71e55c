package transaction

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"testing"

	"github.com/urpm-project/urpm"
)

type fakeCache struct {
	data map[string][]byte // filename -> contents, the "store"
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Lookup(ctx context.Context, a Artifact) (string, bool, error) {
	if _, ok := c.data[a.Filename()]; ok {
		return "cache:" + a.Filename(), true, nil
	}
	return "", false, nil
}

func (c *fakeCache) Store(ctx context.Context, a Artifact, tmpPath string) (string, error) {
	b, err := readAll(tmpPath)
	if err != nil {
		return "", err
	}
	c.data[a.Filename()] = b
	return "cache:" + a.Filename(), nil
}

type fakeUpstream struct {
	content         map[string][]byte // "media/filename" -> contents
	unhealthy       []string
	failOnce        map[string]bool
	partialThenFail map[string]int
}

var errBoom = errors.New("boom")

// partialThenFail, if set for a key, writes that many bytes starting at
// resumeFrom and then fails, simulating a source that disconnects
// mid-transfer; the entry is consumed so a retry of the same key
// succeeds normally.
func (u *fakeUpstream) Fetch(ctx context.Context, media, filename string, dst WriterAt, resumeFrom int64) (int64, error) {
	key := media + "/" + filename
	if u.failOnce != nil && u.failOnce[key] {
		delete(u.failOnce, key)
		return 0, errBoom
	}
	b := u.content[key]
	if resumeFrom > int64(len(b)) {
		resumeFrom = int64(len(b))
	}
	if n, ok := u.partialThenFail[key]; ok {
		delete(u.partialThenFail, key)
		end := resumeFrom + int64(n)
		if end > int64(len(b)) {
			end = int64(len(b))
		}
		wn, werr := dst.WriteAt(b[resumeFrom:end], resumeFrom)
		if werr != nil {
			return int64(wn), werr
		}
		return int64(wn), errBoom
	}
	n, err := dst.WriteAt(b[resumeFrom:], resumeFrom)
	return int64(n), err
}

func (u *fakeUpstream) MarkUnhealthy(ctx context.Context, media, server string) {
	u.unhealthy = append(u.unhealthy, media)
}

// fakePeer implements PeerSource with the same resumable/partial-write
// behavior as fakeUpstream, letting tests exercise the peer-to-upstream
// fallback's resume handoff.
type fakePeer struct {
	holders         map[string]string // filename -> peer addr
	content         map[string][]byte // "addr/filename" -> contents
	partialThenFail map[string]int
}

func (p *fakePeer) Have(ctx context.Context, filenames []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, f := range filenames {
		if addr, ok := p.holders[f]; ok {
			out[f] = addr
		}
	}
	return out, nil
}

func (p *fakePeer) Fetch(ctx context.Context, peerAddr, filename string, dst WriterAt, resumeFrom int64) (int64, error) {
	key := peerAddr + "/" + filename
	b := p.content[key]
	if resumeFrom > int64(len(b)) {
		resumeFrom = int64(len(b))
	}
	if n, ok := p.partialThenFail[key]; ok {
		delete(p.partialThenFail, key)
		end := resumeFrom + int64(n)
		if end > int64(len(b)) {
			end = int64(len(b))
		}
		wn, werr := dst.WriteAt(b[resumeFrom:end], resumeFrom)
		if werr != nil {
			return int64(wn), werr
		}
		return int64(wn), errBoom
	}
	n, err := dst.WriteAt(b[resumeFrom:], resumeFrom)
	return int64(n), err
}

func digestOf(b []byte) urpm.Digest {
	sum := sha256.Sum256(b)
	d, err := urpm.NewDigest(urpm.SHA256, sum[:])
	if err != nil {
		panic(err)
	}
	return d
}

func readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func TestFetchAllCacheHit(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	a := Artifact{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"}, Media: "core"}
	cache.data[a.Filename()] = []byte("rpm-bytes")

	p := NewPool(cache, nil, &fakeUpstream{}, DefaultOptions())
	paths, err := p.FetchAll(ctx, []Artifact{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "cache:"+a.Filename() {
		t.Fatalf("got %v", paths)
	}
	if p.Stat().Completed() != 1 {
		t.Fatalf("completed = %d, want 1", p.Stat().Completed())
	}
}

func TestFetchAllUpstreamWithDigest(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	content := []byte("rpm-bytes")
	a := Artifact{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"},
		Media: "core", Digest: digestOf(content)}
	up := &fakeUpstream{content: map[string][]byte{"core/" + a.Filename(): content}}

	p := NewPool(cache, nil, up, DefaultOptions())
	paths, err := p.FetchAll(ctx, []Artifact{a})
	if err != nil {
		t.Fatal(err)
	}
	if got := cache.data[a.Filename()]; !bytes.Equal(got, content) {
		t.Fatalf("stored content = %q, want %q", got, content)
	}
	if len(paths) != 1 {
		t.Fatalf("got %v", paths)
	}
}

func TestFetchUpstreamRetriesOnceAfterFailure(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	a := Artifact{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"}, Media: "core"}
	up := &fakeUpstream{failOnce: map[string]bool{"core/" + a.Filename(): true}, content: map[string][]byte{"core/" + a.Filename(): nil}}

	p := NewPool(cache, nil, up, DefaultOptions())
	_, err := p.FetchAll(ctx, []Artifact{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(up.unhealthy) != 1 {
		t.Fatalf("expected MarkUnhealthy to have been called once after the first failure, got %v", up.unhealthy)
	}
}

func TestFetchUpstreamRetryResumesFromPartialOffset(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	content := []byte("0123456789rpm-bytes")
	a := Artifact{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"},
		Media: "core", Digest: digestOf(content)}
	up := &fakeUpstream{
		content:         map[string][]byte{"core/" + a.Filename(): content},
		partialThenFail: map[string]int{"core/" + a.Filename(): 4},
	}

	p := NewPool(cache, nil, up, DefaultOptions())
	if _, err := p.FetchAll(ctx, []Artifact{a}); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if got := cache.data[a.Filename()]; !bytes.Equal(got, content) {
		t.Fatalf("stored content = %q, want %q (the 4 bytes written before the simulated disconnect must not be duplicated or lost)", got, content)
	}
	if len(up.unhealthy) != 1 {
		t.Fatalf("expected MarkUnhealthy after the first (partial) failure, got %v", up.unhealthy)
	}
}

func TestFetchPeerDisconnectResumesFromUpstream(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	content := []byte("0123456789rpm-bytes")
	a := Artifact{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"},
		Media: "core", Digest: digestOf(content)}

	peers := &fakePeer{
		holders:         map[string]string{a.Filename(): "peer1"},
		content:         map[string][]byte{"peer1/" + a.Filename(): content},
		partialThenFail: map[string]int{"peer1/" + a.Filename(): 4},
	}
	up := &fakeUpstream{content: map[string][]byte{"core/" + a.Filename(): content}}

	p := NewPool(cache, peers, up, DefaultOptions())
	if _, err := p.FetchAll(ctx, []Artifact{a}); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if got := cache.data[a.Filename()]; !bytes.Equal(got, content) {
		t.Fatalf("stored content = %q, want %q (upstream must pick up at byte 4, where the peer disconnected, not byte 0)", got, content)
	}
}

func TestFetchAllPropagatesFailure(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	content := []byte("rpm-bytes")
	bad := digestOf([]byte("different"))
	a := Artifact{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"},
		Media: "core", Digest: bad}
	up := &fakeUpstream{content: map[string][]byte{"core/" + a.Filename(): content}}

	p := NewPool(cache, nil, up, DefaultOptions())
	if _, err := p.FetchAll(ctx, []Artifact{a}); err == nil {
		t.Fatal("expected a digest-mismatch error")
	}
}
