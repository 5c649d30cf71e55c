package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/catalog"
	"github.com/urpm-project/urpm/config"
	"github.com/urpm-project/urpm/transaction"
)

type fakeInstalled struct{}

func (fakeInstalled) Installed(ctx context.Context) ([]urpm.NEVRA, error) { return nil, nil }

type fakeExecutor struct{}

func (fakeExecutor) Prepare(ctx context.Context, install, upgrade, erase []urpm.NEVRA) error {
	return nil
}
func (fakeExecutor) Execute(ctx context.Context, progress transaction.ProgressFunc) error {
	return nil
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	dir := t.TempDir()
	store, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.CacheRoot = dir
	cfg.Daemon.Addr = ":0"

	return New(cfg, store, fakeInstalled{}, fakeExecutor{}, "cooker", "x86_64")
}

func TestPingReturnsOK(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewHandler(d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestMediaListsEmptyCatalog(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewHandler(d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/media")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var medias []catalog.Media
	if err := json.NewDecoder(resp.Body).Decode(&medias); err != nil {
		t.Fatal(err)
	}
	if len(medias) != 0 {
		t.Fatalf("got %d media, want 0", len(medias))
	}
}

func TestAvailableRequiresNameOrProvides(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewHandler(d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/available")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
}

func TestHaveReportsNoFilesInEmptyCache(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewHandler(d))
	defer srv.Close()

	body := strings.NewReader(`{"filenames":["bash-5.2-1.x86_64.rpm"]}`)
	resp, err := http.Post(srv.URL+"/api/have", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var have struct {
		Filenames []string `json:"filenames"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&have); err != nil {
		t.Fatal(err)
	}
	if len(have.Filenames) != 0 {
		t.Fatalf("got %v, want none (cache is empty)", have.Filenames)
	}
}

func TestAnnounceRejectsGet(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewHandler(d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/announce")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("got status %d, want 405", resp.StatusCode)
	}
}

func TestAnnounceUpsertsPeer(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewHandler(d))
	defer srv.Close()

	body := strings.NewReader(`{"machine_id":"peer-1","host":"10.0.0.5","port":9876,"distro_release":"cooker","arch":"x86_64"}`)
	resp, err := http.Post(srv.URL+"/api/announce", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", resp.StatusCode)
	}
}
