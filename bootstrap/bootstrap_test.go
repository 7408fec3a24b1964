package bootstrap_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/artpar/speechquota/adapters/clock"
	apihttp "github.com/artpar/speechquota/adapters/http"
	"github.com/artpar/speechquota/app"
	"github.com/artpar/speechquota/bootstrap"
	"github.com/artpar/speechquota/config"
	"github.com/artpar/speechquota/domain/quota"
)

const noWaitConfig = `
storage:
  driver: %s
  dsn: %q

quota:
  default_plan: trial

plans:
  - id: trial
    period: daily
    period_character_cap: 100
    per_request_cap: 50
    audio_formats: [mp3]
`

func loadConfig(t *testing.T, driver, dsn string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(noWaitConfig, driver, dsn)))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, holder *config.Holder) *bootstrap.App {
	t.Helper()
	logger := zerolog.Nop()
	a, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{
		Holder: holder,
		Logger: &logger,
		Build:  apihttp.BuildInfo{Version: "test"},
	})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	t.Cleanup(func() { a.Shutdown() })
	return a
}

func TestBootstrap_ServeAndShutdown(t *testing.T) {
	a := newApp(t, loadConfig(t, "memory", ""), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()

	resp, err := http.Get(base + "/health/ready")
	if err != nil {
		t.Fatalf("GET /health/ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest("POST", base+"/v1/usage/consume", bytes.NewBufferString(`{"characters": 40}`))
	req.Header.Set("X-Account-ID", "acct-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST consume: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("consume status = %d, body: %s", resp.StatusCode, body)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `speechquota_admissions_total{outcome="allowed",plan_id="trial"} 1`) {
		t.Errorf("metrics missing admission counter")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics missing runtime collectors")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestBootstrap_SQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quota.db")
	a := newApp(t, loadConfig(t, "sqlite", dbPath), nil)

	if a.Store.Subscriptions == nil {
		t.Error("sqlite store should provide subscriptions")
	}
	if err := a.Store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	adm, err := a.Quota.AdmitAndConsume(context.Background(), app.AdmitRequest{AccountID: "acct-1", Characters: 30})
	if err != nil || !adm.Allowed {
		t.Fatalf("admit: %+v, %v", adm, err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestBootstrap_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := loadConfig(t, "redis", "")
	cfg.Redis.Addr = mr.Addr()
	cfg.Quota.Enforcement = "strict"

	a := newApp(t, cfg, nil)

	if a.Store.Subscriptions != nil {
		t.Error("redis store has no subscription table")
	}
	for i := 0; i < 3; i++ {
		a.Quota.AdmitAndConsume(context.Background(), app.AdmitRequest{AccountID: "acct-1", Characters: 40})
	}
	sum, err := a.Quota.UsageSummary(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if sum.Used != 80 {
		t.Errorf("Used = %d, want 80 (third request rejected)", sum.Used)
	}
}

func TestBootstrap_RedisUnreachable(t *testing.T) {
	cfg := loadConfig(t, "redis", "")
	cfg.Redis.Addr = "127.0.0.1:1"

	logger := zerolog.Nop()
	if _, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Logger: &logger}); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestBootstrap_HotReloadSwapsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speechquota.yaml")
	content := fmt.Sprintf(noWaitConfig, "memory", "")
	os.WriteFile(path, []byte(content), 0644)

	holder, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	a := newApp(t, holder.Get(), holder)

	if got := a.Quota.Catalog().Default().Limits.PeriodCharacterCap; got != 100 {
		t.Fatalf("initial cap = %d, want 100", got)
	}

	os.WriteFile(path, []byte(strings.Replace(content, "period_character_cap: 100", "period_character_cap: 300", 1)), 0644)
	if err := holder.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := a.Quota.Catalog().Default().Limits.PeriodCharacterCap; got != 300 {
		t.Errorf("reloaded cap = %d, want 300", got)
	}
}

func TestSetupLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger := bootstrap.SetupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("account_id", "acct-1").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["message"] != "visible" || entry["service"] != "speechquota" || entry["level"] != "warn" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewQuotaService_StrictOverMemoryLedger(t *testing.T) {
	cfg := loadConfig(t, "memory", "")
	cfg.Quota.Enforcement = string(quota.EnforceStrict)

	store, err := bootstrap.OpenStore(context.Background(), cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	svc, err := bootstrap.NewQuotaService(cfg, store, clock.Real{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewQuotaService: %v", err)
	}
	if svc.Catalog().Default().ID != "trial" {
		t.Errorf("default plan = %s", svc.Catalog().Default().ID)
	}
}
