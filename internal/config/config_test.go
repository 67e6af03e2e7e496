package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validConfig is Defaults plus the credentials Validate insists on.
func validConfig() *Config {
	cfg := Defaults()
	cfg.Platform.WhatsApp.PhoneNumberID = "12345"
	cfg.Platform.WhatsApp.AccessToken = "token"
	return cfg
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_WorkersBounds(t *testing.T) {
	cfg := validConfig()
	cfg.General.Workers = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for workers=0")
	}

	cfg.General.Workers = 100
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for workers=100")
	}

	cfg.General.Workers = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("workers=1 should be valid: %v", err)
	}
	cfg.General.Workers = 64
	if err := Validate(cfg); err != nil {
		t.Fatalf("workers=64 should be valid: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Webhook.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Webhook.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_PlatformKind(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Kind = "carrier-pigeon"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown platform kind")
	}

	cfg = Defaults()
	cfg.Platform.Kind = "whatsapp"
	if err := Validate(cfg); err == nil {
		t.Fatal("whatsapp without phoneNumberId should fail")
	}

	cfg = Defaults()
	cfg.Platform.Kind = "telegram"
	if err := Validate(cfg); err == nil {
		t.Fatal("telegram without token should fail")
	}
	cfg.Platform.Telegram.Token = "123:abc"
	if err := Validate(cfg); err != nil {
		t.Fatalf("telegram with token should be valid: %v", err)
	}
}

func TestValidate_TTLBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Dedup.InboundTTLMinutes = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for inboundTtlMinutes=0")
	}

	cfg = validConfig()
	cfg.Dedup.ReplyTTLMinutes = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for replyTtlMinutes=0")
	}

	cfg = validConfig()
	cfg.Dedup.SweepMinutes = 0 // a zero interval would blow up the sweep ticker
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sweepMinutes=0")
	}

	cfg = validConfig()
	cfg.Jobs.LeaseMinutes = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for leaseMinutes=0")
	}

	cfg = validConfig()
	cfg.Jobs.RetentionDays = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for retentionDays=0")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	original := validConfig()
	original.General.Workers = 8
	original.Storage.Root = filepath.Join(t.TempDir(), "docs")

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.General.Workers != 8 {
		t.Fatalf("workers = %d", loaded.General.Workers)
	}
	if loaded.Platform.WhatsApp.PhoneNumberID != "12345" {
		t.Fatalf("phoneNumberId = %q", loaded.Platform.WhatsApp.PhoneNumberID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"platform": {"kind": "whatsapp", "whatsapp": {"phoneNumberId": "999", "accessToken": "t"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.Workers != Defaults().General.Workers {
		t.Fatalf("workers = %d", cfg.General.Workers)
	}
	if cfg.Webhook.Path != "/webhook" {
		t.Fatalf("path = %q", cfg.Webhook.Path)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"general": {"workers": 0}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

// --- Env var expansion ---

func TestExpandEnvVars_Set(t *testing.T) {
	t.Setenv("DOCVERSE_TEST_TOKEN", "secret-token")
	out := ExpandEnvVars(`{"accessToken": "${DOCVERSE_TEST_TOKEN}"}`)
	if !strings.Contains(out, "secret-token") {
		t.Fatalf("out = %q", out)
	}
}

func TestExpandEnvVars_DefaultUsedWhenUnset(t *testing.T) {
	os.Unsetenv("DOCVERSE_TEST_UNSET")
	out := ExpandEnvVars(`${DOCVERSE_TEST_UNSET:-fallback}`)
	if out != "fallback" {
		t.Fatalf("out = %q", out)
	}
}

func TestExpandEnvVars_UnsetWithoutDefaultKept(t *testing.T) {
	os.Unsetenv("DOCVERSE_TEST_UNSET")
	out := ExpandEnvVars(`${DOCVERSE_TEST_UNSET}`)
	if out != "${DOCVERSE_TEST_UNSET}" {
		t.Fatalf("out = %q", out)
	}
}

func TestLoad_ExpandsEnvVarsInFile(t *testing.T) {
	t.Setenv("DOCVERSE_TEST_PHONE", "555000")
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"platform": {"kind": "whatsapp", "whatsapp": {"phoneNumberId": "${DOCVERSE_TEST_PHONE}", "accessToken": "t"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Platform.WhatsApp.PhoneNumberID != "555000" {
		t.Fatalf("phoneNumberId = %q", cfg.Platform.WhatsApp.PhoneNumberID)
	}
}
