package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/speechquota/adapters/sqlite"
)

func writeTestConfig(t *testing.T, dbPath string) string {
	t.Helper()
	content := `
storage:
  driver: sqlite
  dsn: "` + dbPath + `"
plans:
  - id: free
    name: Free
    period: daily
    period_character_cap: 1000
    per_request_cap: 500
    wait_seconds: 15
    audio_formats: [mp3]
  - id: basic
    name: Basic
    period: monthly
    period_character_cap: 100000
    per_request_cap: 2000
    audio_formats: [mp3, wav]
`
	path := filepath.Join(t.TempDir(), "speechquota.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "speechquota dev") {
		t.Errorf("output = %q", out)
	}
}

func TestCLI_Validate(t *testing.T) {
	cfg := writeTestConfig(t, filepath.Join(t.TempDir(), "q.db"))

	out, err := runCLI(t, "validate", "-c", cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") || !strings.Contains(out, "Plans:        2 (default: free)") {
		t.Errorf("output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("quota: {enforcement: hard}"), 0644)
	if _, err := runCLI(t, "validate", "-c", bad); err == nil {
		t.Error("expected validate to fail for bad enforcement")
	}
}

func TestCLI_PlansList(t *testing.T) {
	cfg := writeTestConfig(t, filepath.Join(t.TempDir(), "q.db"))

	out, err := runCLI(t, "plans", "list", "-c", cfg)
	if err != nil {
		t.Fatalf("plans list: %v", err)
	}
	for _, want := range []string{"free", "basic", "mp3,wav", "15s", "yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "plans", "get", "enterprise", "-c", cfg); err == nil {
		t.Error("expected error for unknown plan")
	}
}

func TestCLI_UsageSummaryAndPrune(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "q.db")
	cfg := writeTestConfig(t, dbPath)

	db, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ledger := sqlite.NewLedger(db, nil)
	ctx := context.Background()
	if _, err := ledger.TryConsume(ctx, "acct-1", "2020-01-01", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	db.Close()

	out, err := runCLI(t, "usage", "summary", "--account", "acct-1", "-c", cfg)
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if !strings.Contains(out, "Plan:       free (daily)") || !strings.Contains(out, "Used:       0 / 1000") {
		t.Errorf("output = %q", out)
	}

	out, err = runCLI(t, "ledger", "prune", "--before", "2024-01-01", "-c", cfg)
	if err != nil {
		t.Fatalf("ledger prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 1 records") {
		t.Errorf("output = %q", out)
	}

	if _, err := runCLI(t, "ledger", "prune", "--before", "yesterday", "-c", cfg); err == nil {
		t.Error("expected error for bad date")
	}
}
