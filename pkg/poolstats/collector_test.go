package poolstats

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStater struct{ s Stat }

func (m *mockStater) Stat() Stat { return m.s }

var _ Stat = (*mockStat)(nil)

type mockStat struct {
	inFlight  int32
	queued    int32
	completed int64
	failed    int64
}

func (m *mockStat) InFlight() int32  { return m.inFlight }
func (m *mockStat) Queued() int32    { return m.queued }
func (m *mockStat) Completed() int64 { return m.completed }
func (m *mockStat) Failed() int64    { return m.failed }

func TestDescribe(t *testing.T) {
	const want = 4
	stater := &mockStater{&mockStat{}}
	testObject := newCollector(stater.Stat, t.Name())

	ch := make(chan *prometheus.Desc, want+1)
	testObject.Describe(ch)
	close(ch)

	seen := make(map[string]struct{})
	for d := range ch {
		seen[d.String()] = struct{}{}
	}
	if len(seen) != want {
		t.Errorf("got %d distinct descriptors, want %d", len(seen), want)
	}
}

func TestCollect(t *testing.T) {
	mockStats := &mockStat{inFlight: 2, queued: 5, completed: 100, failed: 3}
	stater := &mockStater{mockStats}
	testObject := newCollector(stater.Stat, t.Name())

	want := strings.NewReader(`# HELP urpm_pool_completed_total Cumulative count of downloads that completed successfully.
# TYPE urpm_pool_completed_total counter
urpm_pool_completed_total{pool="TestCollect"} 100
# HELP urpm_pool_failed_total Cumulative count of downloads that failed after retry.
# TYPE urpm_pool_failed_total counter
urpm_pool_failed_total{pool="TestCollect"} 3
# HELP urpm_pool_inflight Number of downloads currently in flight.
# TYPE urpm_pool_inflight gauge
urpm_pool_inflight{pool="TestCollect"} 2
# HELP urpm_pool_queued Number of downloads waiting for a free worker slot.
# TYPE urpm_pool_queued gauge
urpm_pool_queued{pool="TestCollect"} 5
`)

	ls, err := testutil.CollectAndLint(testObject)
	if err != nil {
		t.Error(err)
	}
	for _, l := range ls {
		t.Log(l)
	}
	if err := testutil.CollectAndCompare(testObject, want); err != nil {
		t.Error(err)
	}
}
