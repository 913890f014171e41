package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Defaults() should validate cleanly: %v", err)
	}
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	cfg.Bocpd.HazardRate = 1.5
	cfg.Scheduler.Gamma = -1

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"schema_version", "bocpd.hazard_rate", "scheduler.gamma"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error message to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidateRejectsUnknownSegmentModel(t *testing.T) {
	cfg := Defaults()
	cfg.Bocpd.SegmentModel = "exponential"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for unknown segment model")
	}
}

func TestValidateRejectsCtwOutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.Ctw.Alphabet = 5
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for alphabet out of [2,4]")
	}
	cfg = Defaults()
	cfg.Ctw.Depth = 13
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for depth out of [1,12]")
	}
}

func TestValidateRequiresCVaRAlphaOnlyWhenRiskSensitive(t *testing.T) {
	cfg := Defaults()
	cfg.Decision.RiskSensitive = false
	cfg.Decision.CVaRAlpha = 0
	if err := Validate(&cfg); err != nil {
		t.Fatalf("cvar_alpha should be ignored when risk_sensitive is false: %v", err)
	}
	cfg.Decision.RiskSensitive = true
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error: cvar_alpha=0 invalid once risk_sensitive is true")
	}
}

func TestValidateRejectsEmptyOperatorSocketWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Operator.Enabled = true
	cfg.Operator.SocketPath = ""
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for empty operator socket path")
	}
	cfg.Operator.Enabled = false
	if err := Validate(&cfg); err != nil {
		t.Fatalf("empty socket path should be fine when operator disabled: %v", err)
	}
}

func TestValidateRejectsIncompletePlanExportWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.PlanExport.Enabled = true
	cfg.PlanExport.TLSCertFile = ""
	cfg.PlanExport.TLSKeyFile = ""
	cfg.PlanExport.TLSCAFile = ""
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for plan_export enabled without TLS material")
	}

	cfg.PlanExport.TLSCertFile = "/etc/triaged/cert.pem"
	cfg.PlanExport.TLSKeyFile = "/etc/triaged/key.pem"
	cfg.PlanExport.TLSCAFile = "/etc/triaged/ca.pem"
	if err := Validate(&cfg); err != nil {
		t.Fatalf("fully configured plan_export should validate: %v", err)
	}

	cfg.PlanExport.EnvelopeTTL = 0
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for non-positive envelope_ttl")
	}

	cfg.PlanExport.Enabled = false
	cfg.PlanExport.TLSCertFile = ""
	if err := Validate(&cfg); err != nil {
		t.Fatalf("empty plan_export fields should be fine when disabled: %v", err)
	}
}

func TestValidateRejectsBadDeltaGrid(t *testing.T) {
	cfg := Defaults()
	cfg.Calibration.DeltaGrid = []float64{0.05, 1.5}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for delta_grid entry outside (0,1)")
	}
}

func TestLoadReadsAndMergesOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "schema_version: \"1\"\nnode_id: test-node\nbocpd:\n  hazard_rate: 0.2\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != "test-node" {
		t.Fatalf("NodeID = %q, want test-node", cfg.NodeID)
	}
	if cfg.Bocpd.HazardRate != 0.2 {
		t.Fatalf("Bocpd.HazardRate = %v, want 0.2 (override)", cfg.Bocpd.HazardRate)
	}
	if cfg.Scheduler.Horizon != Defaults().Scheduler.Horizon {
		t.Fatalf("Scheduler.Horizon should fall back to default, got %v", cfg.Scheduler.Horizon)
	}
}

func TestLoadFailsOnInvalidMergedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "schema_version: \"99\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
