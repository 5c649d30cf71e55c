package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urpm-project/urpm/catalog"
	je "github.com/urpm-project/urpm/pkg/jsonerr"
	"github.com/urpm-project/urpm/resolver"
)

var _ http.Handler = (*HTTP)(nil)

// HTTP is the daemon's API surface (spec.md §6's endpoint table).
type HTTP struct {
	*http.ServeMux
	d *Daemon
}

// NewHandler mounts every §6 endpoint onto a fresh ServeMux.
func NewHandler(d *Daemon) *HTTP {
	h := &HTTP{d: d}
	m := http.NewServeMux()
	m.HandleFunc("/", h.Info)
	m.HandleFunc("/api/ping", h.Ping)
	m.HandleFunc("/api/status", h.Status)
	m.HandleFunc("/api/media", h.Media)
	m.HandleFunc("/api/available", h.Available)
	m.HandleFunc("/api/updates", h.Updates)
	m.HandleFunc("/api/peers", h.Peers)
	m.HandleFunc("/api/refresh", h.Refresh)
	m.HandleFunc("/api/announce", h.Announce)
	m.HandleFunc("/api/have", h.Have)
	m.HandleFunc("/api/request-download", h.RequestDownload)
	h.ServeMux = m
	return h
}

// Info reports the daemon's identity; a thin stand-in for the "/" landing
// page a browser would otherwise get a 404 from.
func (h *HTTP) Info(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"service":     "urpmd",
		"development": h.d.Config.Daemon.Development,
		"machine_id":  h.d.self.MachineID,
	})
}

// Ping is the liveness probe.
func (h *HTTP) Ping(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

// Status reports uptime and download-pool counters for operators.
func (h *HTTP) Status(w http.ResponseWriter, r *http.Request) {
	stat := h.d.Pool.Stat()
	json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds": time.Since(h.d.startedAt).Seconds(),
		"pool": map[string]any{
			"in_flight": stat.InFlight(),
			"queued":    stat.Queued(),
			"completed": stat.Completed(),
			"failed":    stat.Failed(),
		},
	})
}

// Media lists configured media.
func (h *HTTP) Media(w http.ResponseWriter, r *http.Request) {
	medias, err := h.d.Store.Media(r.Context())
	if err != nil {
		writeErr(w, "internal-error", err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(medias)
}

// availableRequest is /api/available's POST query body; a GET carries the
// same two fields as query-string parameters.
type availableRequest struct {
	Name     string `json:"name,omitempty"`
	Provides string `json:"provides,omitempty"`
}

// Available queries cataloged packages by provided capability or by name;
// one of the two is required, and a request with neither gets 400. It does
// not list the whole catalog.
func (h *HTTP) Available(w http.ResponseWriter, r *http.Request) {
	var req availableRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, "bad-request", err, http.StatusBadRequest)
			return
		}
	} else {
		req.Name = r.URL.Query().Get("name")
		req.Provides = r.URL.Query().Get("provides")
	}

	var (
		candidates []resolver.Candidate
		err        error
	)
	switch {
	case req.Provides != "":
		candidates, err = h.d.Index.Providers(r.Context(), req.Provides)
	case req.Name != "":
		candidates, err = h.d.Index.ByName(r.Context(), req.Name)
	default:
		writeErr(w, "bad-request", fmt.Errorf("name or provides is required"), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeErr(w, "internal-error", err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(candidates)
}

// Updates reports the transaction a dist-upgrade job would currently
// produce, without executing it.
func (h *HTTP) Updates(w http.ResponseWriter, r *http.Request) {
	tx, err := h.d.Resolve(r.Context(), []resolver.Job{{Kind: resolver.JobDistUpgrade}}, resolver.Options{})
	if err != nil {
		writeErr(w, "resolver-error", err, http.StatusConflict)
		return
	}
	json.NewEncoder(w).Encode(tx)
}

// Peers lists discovered peers from the catalog's persisted peer table
// (not just this process's in-memory Discovery.Peers, so a freshly
// restarted daemon still reports peers seen recently before restart).
func (h *HTTP) Peers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.d.Store.Peers(r.Context())
	if err != nil {
		writeErr(w, "internal-error", err, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(peers)
}

// Refresh runs a media sync; wired to the same code path the scheduler's
// periodic refresh task drives, exposed here for an on-demand trigger.
func (h *HTTP) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, "method-not-allowed", fmt.Errorf("POST only"), http.StatusMethodNotAllowed)
		return
	}
	if err := RefreshMedia(r.Context(), h.d); err != nil {
		writeErr(w, "refresh-error", err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Announce accepts a peer's self-announcement over HTTP, for peers behind
// a network that drops the UDP broadcast (spec.md §4.5's discovery is
// best-effort; this is the unicast fallback path).
func (h *HTTP) Announce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, "method-not-allowed", fmt.Errorf("POST only"), http.StatusMethodNotAllowed)
		return
	}
	var p catalog.Peer
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, "bad-request", err, http.StatusBadRequest)
		return
	}
	p.LastSeen = time.Now()
	if err := h.d.Store.UpsertPeer(r.Context(), p); err != nil {
		writeErr(w, "internal-error", err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// haveRequest/haveResponse mirror peer.Client's shapes; this is the server
// side of the same contract (spec.md §4.4 point 2).
type haveRequest struct {
	Filenames []string `json:"filenames"`
}

type haveResponse struct {
	Filenames []string `json:"filenames"`
}

// Have reports which of the requested filenames this daemon's cache
// currently holds.
func (h *HTTP) Have(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, "method-not-allowed", fmt.Errorf("POST only"), http.StatusMethodNotAllowed)
		return
	}
	var req haveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, "bad-request", err, http.StatusBadRequest)
		return
	}
	var have []string
	for _, f := range req.Filenames {
		if h.d.cacheHasFile(f) {
			have = append(have, f)
		}
	}
	json.NewEncoder(w).Encode(haveResponse{Filenames: have})
}

// RequestDownload asks this daemon to pre-fetch an artifact into its cache
// ahead of demand, so a peer racing /api/have later finds it here
// (spec.md §6 "ask this peer to pre-download").
func (h *HTTP) RequestDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, "method-not-allowed", fmt.Errorf("POST only"), http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Filenames []string `json:"filenames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, "bad-request", err, http.StatusBadRequest)
		return
	}
	slog.InfoContext(r.Context(), "queuing peer-requested pre-download", "count", len(req.Filenames))
	go h.d.predownload(req.Filenames)
	w.WriteHeader(http.StatusAccepted)
}

func writeErr(w http.ResponseWriter, code string, err error, status int) {
	je.Error(w, &je.Response{Code: code, Message: err.Error()}, status)
}
