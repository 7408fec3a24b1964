package metrics_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/artpar/speechquota/adapters/metrics"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.Admissions == nil || m.CharactersConsumed == nil || m.WaitsActive == nil {
		t.Error("quota metrics not initialized")
	}
	if m.RequestsTotal == nil || m.RequestDuration == nil {
		t.Error("request metrics not initialized")
	}
}

func TestRecordAdmission(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordAdmission("free", metrics.OutcomeAllowed, 300, 15)
	m.RecordAdmission("free", metrics.OutcomeAllowed, 200, 15)
	m.RecordAdmission("free", metrics.OutcomeDenied, 900, 0)

	if got := testutil.ToFloat64(m.Admissions.WithLabelValues("free", "allowed")); got != 2 {
		t.Errorf("allowed admissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Admissions.WithLabelValues("free", "denied")); got != 1 {
		t.Errorf("denied admissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CharactersConsumed.WithLabelValues("free")); got != 500 {
		t.Errorf("characters consumed = %v, want 500", got)
	}
	if n := testutil.CollectAndCount(m.WaitSeconds); n != 1 {
		t.Errorf("wait histogram series = %d, want 1", n)
	}
}

func TestWaitGauge(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.WaitStarted()
	m.WaitStarted()
	m.WaitFinished()

	if got := testutil.ToFloat64(m.WaitsActive); got != 1 {
		t.Errorf("waits active = %v, want 1", got)
	}
}

func TestRecordConfigReload(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.RecordConfigReload(nil)
	m.RecordConfigReload(errors.New("bad yaml"))

	if got := testutil.ToFloat64(m.ConfigReloads); got != 1 {
		t.Errorf("reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("reload errors = %v, want 1", got)
	}
	if testutil.ToFloat64(m.ConfigLastReload) == 0 {
		t.Error("last reload timestamp not set")
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var m *metrics.Collector
	m.RecordAdmission("free", metrics.OutcomeAllowed, 1, 0)
	m.RecordLedgerError("consume")
	m.WaitStarted()
	m.WaitFinished()
	m.RecordConfigReload(nil)
}

func TestMetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.RecordLedgerError("read")

	expected := `
# HELP speechquota_ledger_errors_total Usage ledger failures by operation
# TYPE speechquota_ledger_errors_total counter
speechquota_ledger_errors_total{op="read"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "speechquota_ledger_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestNormalizePath(t *testing.T) {
	if got := metrics.NormalizePath("/v1/usage/summary"); got != "/v1/usage/summary" {
		t.Errorf("NormalizePath short = %s", got)
	}
	long := "/" + strings.Repeat("a", 60)
	if got := metrics.NormalizePath(long); len(got) != 53 {
		t.Errorf("NormalizePath long length = %d, want 53", len(got))
	}
}
