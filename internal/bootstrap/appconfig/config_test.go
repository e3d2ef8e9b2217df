package appconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func strPtr(v string) *string {
	return &v
}

func TestDefaultsReproduceLegacyLayout(t *testing.T) {
	cfg := Resolve(Default())
	if cfg.KeyPath != filepath.Join("files", "beacon", "beacon.key") {
		t.Fatalf("unexpected key path: %s", cfg.KeyPath)
	}
	if cfg.PublicationPath != filepath.Join("files", "beacon", "beacon.json") {
		t.Fatalf("unexpected publication path: %s", cfg.PublicationPath)
	}
	if cfg.MessagesDir != filepath.Join("files", "messages") {
		t.Fatalf("unexpected messages dir: %s", cfg.MessagesDir)
	}
	if cfg.FailuresPerMinute != 30 || cfg.FailureBurst != 10 {
		t.Fatalf("unexpected limits: %v/%d", cfg.FailuresPerMinute, cfg.FailureBurst)
	}
}

func TestMergeKeepsDefaultsWhenUnset(t *testing.T) {
	dst := Default()
	Merge(&dst, FileConfig{Staging: StagingFileConfig{MessagesDir: "out"}})
	if dst.Identity.KeyPath != "files/beacon/beacon.key" {
		t.Fatalf("key path should be untouched, got %s", dst.Identity.KeyPath)
	}
	if dst.Staging.MessagesDir != "out" {
		t.Fatalf("expected messages dir override, got %s", dst.Staging.MessagesDir)
	}
	if dst.Store.Path == nil || *dst.Store.Path == "" {
		t.Fatal("store path should keep its default")
	}

	Merge(&dst, FileConfig{Store: StoreFileConfig{Path: strPtr("")}})
	if got := Resolve(dst).StorePath; got != "" {
		t.Fatalf("explicit empty store path should disable the store, got %q", got)
	}
}

func TestLoadFromPathResolvesAgainstDataDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qrpass.yaml")
	yaml := `
dataDir: ` + dir + `
identity:
  keyPath: keys/beacon.key
  passphraseEnv: TEST_QRPASS_PASS
metrics:
  textfile: /var/lib/node_exporter/qrpass.prom
limits:
  burst: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv("TEST_QRPASS_PASS", "s3cret")
	t.Setenv("QRPASS_DATA_DIR", "")
	t.Setenv("QRPASS_KEY_PATH", "")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.KeyPath != filepath.Join(dir, "keys", "beacon.key") {
		t.Fatalf("unexpected key path: %s", cfg.KeyPath)
	}
	if cfg.IdentityPassphrase != "s3cret" {
		t.Fatal("passphrase should be read from the configured env var")
	}
	if cfg.MetricsTextfile != "/var/lib/node_exporter/qrpass.prom" {
		t.Fatalf("absolute paths must be kept, got %s", cfg.MetricsTextfile)
	}
	if cfg.FailureBurst != 3 || cfg.FailuresPerMinute != 30 {
		t.Fatalf("unexpected limits: %v/%d", cfg.FailuresPerMinute, cfg.FailureBurst)
	}

	t.Setenv("QRPASS_KEY_PATH", "/secure/beacon.key")
	cfg, err = LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.KeyPath != "/secure/beacon.key" {
		t.Fatalf("env override not applied: %s", cfg.KeyPath)
	}
}

func TestLoadFromPathReportsMissingOrInvalidFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("identity: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := LoadFromPath(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := Resolve(Default())
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cfg.StoreDriver = StoreDriverBolt
	cfg.StorePassphrase = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("bolt without passphrase must validate: %v", err)
	}
	cfg.StorePassphrase = "x"
	if err := Validate(cfg); err == nil {
		t.Fatal("bolt with a passphrase must be rejected")
	}
	cfg.StoreDriver = "redis"
	cfg.StorePassphrase = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("unknown driver must be rejected")
	}
}
