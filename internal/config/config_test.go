package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/scheduler"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Role != "receiver" {
		t.Errorf("Device.Role = %s, want receiver", cfg.Device.Role)
	}
	if cfg.Device.DataDir != "./data" {
		t.Errorf("Device.DataDir = %s, want ./data", cfg.Device.DataDir)
	}
	if cfg.Protocol.DefaultAlgorithm != "tag-64" {
		t.Errorf("Protocol.DefaultAlgorithm = %s, want tag-64", cfg.Protocol.DefaultAlgorithm)
	}
	if cfg.Protocol.SessionCapacity != 8 {
		t.Errorf("Protocol.SessionCapacity = %d, want 8", cfg.Protocol.SessionCapacity)
	}
	if cfg.Timeouts.ConfiguringWindow != 30*time.Second {
		t.Errorf("Timeouts.ConfiguringWindow = %v, want 30s", cfg.Timeouts.ConfiguringWindow)
	}
	if cfg.Timeouts.ActRearmWindow != 10*time.Second {
		t.Errorf("Timeouts.ActRearmWindow = %v, want 10s", cfg.Timeouts.ActRearmWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config fails Validate: %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
device:
  role: "transmitter"
  data_dir: "/var/lib/openepo"
  log_level: "debug"
  log_format: "json"

protocol:
  default_algorithm: "tag-128"
  session_capacity: 4
  interfaces: ["BUTTON_ACT"]

governor:
  preamble_duration: 1ms
  startup_delay: 100ms
  admission_rates:
    ACT: 10
    BIND: 5

timeouts:
  pairing_timeout: 10s
  configuring_window: 30s
  act_rearm_window: 10s
  unpairing_timeout: 10s
  hello_interval: 400ms

transport:
  public_address: "0.0.0.0:4433"
  private_address: "0.0.0.0:8088"
  alpn: "openepo/1"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Device.Role != "transmitter" {
		t.Errorf("Device.Role = %s, want transmitter", cfg.Device.Role)
	}
	if cfg.Protocol.SessionCapacity != 4 {
		t.Errorf("Protocol.SessionCapacity = %d, want 4", cfg.Protocol.SessionCapacity)
	}
	alg, err := cfg.Algorithm()
	if err != nil {
		t.Fatalf("Algorithm: %v", err)
	}
	if alg != codec.AlgorithmOCBTag128 {
		t.Errorf("Algorithm = %v, want AlgorithmOCBTag128", alg)
	}
}

func TestParse_InvalidRole(t *testing.T) {
	yamlConfig := `
device:
  role: "toaster"
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("Parse succeeded with invalid role, want error")
	}
	if !strings.Contains(err.Error(), "device.role") {
		t.Errorf("error = %v, want mention of device.role", err)
	}
}

func TestParse_InvalidAlgorithm(t *testing.T) {
	yamlConfig := `
protocol:
  default_algorithm: "tag-32"
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("Parse succeeded with invalid algorithm, want error")
	}
}

func TestParse_InvalidAdmissionRateMessageType(t *testing.T) {
	yamlConfig := `
governor:
  admission_rates:
    FROBNICATE: 10
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("Parse succeeded with unknown message type, want error")
	}
}

func TestParse_EnvVarExpansion(t *testing.T) {
	t.Setenv("OPENEPO_DATA_DIR", "/tmp/openepo-test")

	yamlConfig := `
device:
  role: "receiver"
  data_dir: "${OPENEPO_DATA_DIR}"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Device.DataDir != "/tmp/openepo-test" {
		t.Errorf("Device.DataDir = %s, want /tmp/openepo-test", cfg.Device.DataDir)
	}
}

func TestParse_EnvVarDefault(t *testing.T) {
	yamlConfig := `
device:
  role: "receiver"
  data_dir: "${OPENEPO_UNSET_VAR:-/tmp/fallback}"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Device.DataDir != "/tmp/fallback" {
		t.Errorf("Device.DataDir = %s, want /tmp/fallback", cfg.Device.DataDir)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openepo.yaml")
	if err := os.WriteFile(path, []byte("device:\n  role: receiver\n  data_dir: ./data\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Role != "receiver" {
		t.Errorf("Device.Role = %s, want receiver", cfg.Device.Role)
	}
}

func TestGovernorConfigFor(t *testing.T) {
	cfg := Default()
	sch := scheduler.NewFake()

	gc, err := cfg.GovernorConfigFor(sch)
	if err != nil {
		t.Fatalf("GovernorConfigFor: %v", err)
	}
	if gc.PreambleDuration != cfg.Governor.PreambleDuration {
		t.Errorf("PreambleDuration = %v, want %v", gc.PreambleDuration, cfg.Governor.PreambleDuration)
	}
	if _, ok := gc.AdmissionRates[codec.MessageAct]; !ok {
		t.Error("AdmissionRates missing ACT entry")
	}
}
