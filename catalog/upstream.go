package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/transaction"
)

// UpstreamAdapter satisfies transaction.UpstreamSource by fetching from a
// media's configured servers, trying them in the order Store.ServersForMedia
// reports — priority, then whichever hasn't most recently been marked
// unhealthy (spec.md §4.4 point 3).
type UpstreamAdapter struct {
	Store *Store
	HTTP  *http.Client
}

var _ transaction.UpstreamSource = UpstreamAdapter{}

// Fetch tries media's enabled servers in order, returning the first one
// that answers with a readable body.
func (a UpstreamAdapter) Fetch(ctx context.Context, media, filename string, dst transaction.WriterAt, resumeFrom int64) (int64, error) {
	servers, err := a.Store.ServersForMedia(ctx, media)
	if err != nil {
		return 0, err
	}
	if len(servers) == 0 {
		return 0, &urpm.Error{Kind: urpm.ErrEnvironment, Op: "catalog.UpstreamAdapter.Fetch",
			Message: fmt.Sprintf("no enabled server configured for media %s", media)}
	}

	var lastErr error
	for _, srv := range servers {
		n, err := a.fetchFrom(ctx, srv, filename, dst, resumeFrom)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return 0, &urpm.Error{Kind: urpm.ErrEnvironment, Op: "catalog.UpstreamAdapter.Fetch", Inner: lastErr,
		Message: fmt.Sprintf("every server for media %s failed", media)}
}

func (a UpstreamAdapter) fetchFrom(ctx context.Context, srv Server, filename string, dst transaction.WriterAt, resumeFrom int64) (int64, error) {
	client := a.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.BaseURL+"/"+filename, nil)
	if err != nil {
		return 0, err
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	default:
		return 0, fmt.Errorf("server %s: unexpected status %s", srv.Name, resp.Status)
	}

	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], resumeFrom+total); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// MarkUnhealthy implements transaction.UpstreamSource.
func (a UpstreamAdapter) MarkUnhealthy(ctx context.Context, media, server string) {
	if server == "" {
		return
	}
	_ = a.Store.MarkServerStatus(ctx, server, "unhealthy")
}
