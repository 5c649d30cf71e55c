package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/pkg/fastesturl"
	"github.com/urpm-project/urpm/transaction"
)

// haveRequest/haveResponse are the JSON shapes of the §6 /api/have
// endpoint: a filename list in, the subset the peer actually holds out.
type haveRequest struct {
	Filenames []string `json:"filenames"`
}

type haveResponse struct {
	Filenames []string `json:"filenames"`
}

// Client implements transaction.PeerSource by racing the currently known
// peer set's /api/have endpoints and fetching from whichever peer answers
// first (spec.md §4.4 point 2, §4.5's discovery-fed peer table).
type Client struct {
	HTTP    *http.Client
	Peers   func() []Seen
	Timeout time.Duration

	limiter *rate.Limiter
}

var _ transaction.PeerSource = (*Client)(nil)

// NewClient builds a Client querying the peers reported by peerFunc (see
// [Discovery.Peers]), bounding each /api/have race to timeout.
func NewClient(httpClient *http.Client, peerFunc func() []Seen, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		HTTP:    httpClient,
		Peers:   peerFunc,
		Timeout: timeout,
		// a handful of have/fetch requests per peer per second is plenty;
		// this exists to keep a large peer set from being hammered on
		// every queued artifact (spec.md §4.5's peer-query pacing).
		limiter: rate.NewLimiter(rate.Limit(20), 20),
	}
}

// Have races every known peer's /api/have for filenames, returning the
// first peer to answer "I have X" for each X it claims (spec.md §4.4
// point 2: "the first peer to reply with an I have X serves X").
func (c *Client) Have(ctx context.Context, filenames []string) (map[string]string, error) {
	peers := c.Peers()
	if len(peers) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(haveRequest{Filenames: filenames})
	if err != nil {
		return nil, err
	}

	urls := make([]*url.URL, 0, len(peers))
	for _, p := range peers {
		addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
		urls = append(urls, &url.URL{Scheme: "http", Host: addr, Path: "/api/have"})
	}

	tctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequest(http.MethodPost, "", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	race := fastesturl.New(c.HTTP, req, func(resp *http.Response) bool {
		return resp.StatusCode == http.StatusOK
	}, urls)

	resp := race.Do(tctx)
	if resp == nil {
		return nil, nil
	}
	defer resp.Body.Close()

	var have haveResponse
	if err := json.NewDecoder(resp.Body).Decode(&have); err != nil {
		return nil, fmt.Errorf("peer: decoding /api/have response: %w", err)
	}

	out := make(map[string]string, len(have.Filenames))
	for _, f := range have.Filenames {
		out[f] = resp.Request.Host
	}
	return out, nil
}

// Fetch downloads filename from peerAddr, optionally resuming from
// resumeFrom via a Range request, writing sequentially into dst.
func (c *Client) Fetch(ctx context.Context, peerAddr, filename string, dst transaction.WriterAt, resumeFrom int64) (int64, error) {
	u := (&url.URL{Scheme: "http", Host: peerAddr, Path: "/cache/" + filename}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, &urpm.Error{Kind: urpm.ErrEnvironment, Op: "peer.Client.Fetch", Inner: err,
			Message: fmt.Sprintf("requesting %s from peer %s", filename, peerAddr)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	default:
		return 0, &urpm.Error{Kind: urpm.ErrEnvironment, Op: "peer.Client.Fetch",
			Message: fmt.Sprintf("peer %s returned %s for %s", peerAddr, resp.Status, filename)}
	}

	return copyAt(dst, resp.Body, resumeFrom)
}

// copyAt streams r into dst starting at off, in fixed-size chunks, and
// reports the total bytes written.
func copyAt(dst transaction.WriterAt, r io.Reader, off int64) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], off+total); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
