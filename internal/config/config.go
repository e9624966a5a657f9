// Package config provides configuration parsing and validation for
// Openepo deployments.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/governor"
	"github.com/tommie/openepo/internal/scheduler"
)

// Config represents the complete device configuration: either a
// transmitter or a receiver, selected by Device.Role.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Governor  GovernorConfig  `yaml:"governor"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Transport TransportConfig `yaml:"transport"`
}

// DeviceConfig contains identity and logging settings common to both
// roles.
type DeviceConfig struct {
	Role      string `yaml:"role"`       // "transmitter" or "receiver"
	DataDir   string `yaml:"data_dir"`   // directory for persisted session/key state
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// ProtocolConfig selects the wire-level parameters a deployment uses.
type ProtocolConfig struct {
	// DefaultAlgorithm is the protection algorithm a receiver offers in
	// HELLO. The transmitter does not read it; it adopts the first
	// algorithm HELLO offers that it can decode. One of "tag-64", "tag-128".
	DefaultAlgorithm string `yaml:"default_algorithm"`

	// SessionCapacity is N_MAX, the maximum number of paired transmitters
	// a single receiver's session table holds.
	SessionCapacity int `yaml:"session_capacity"`

	// Interfaces lists the interface types this device drives or emits,
	// by name (currently only "BUTTON_ACT" is defined).
	Interfaces []string `yaml:"interfaces"`
}

// GovernorConfig tunes the rate/error governor (C6).
type GovernorConfig struct {
	// PreambleDuration is the wall-clock duration of one preamble; the
	// governor's hold-off, burst-spacing, and spacing windows are all
	// fixed multiples of it.
	PreambleDuration time.Duration `yaml:"preamble_duration"`

	// StartupDelay holds the governor not-ready at boot.
	StartupDelay time.Duration `yaml:"startup_delay"`

	// AdmissionRates caps the per-message-type admission rate, in
	// messages per second, keyed by message type name (e.g. "ACT",
	// "BIND"). A type not listed is unlimited.
	AdmissionRates map[string]float64 `yaml:"admission_rates"`
}

// TimeoutsConfig holds FSM timer durations, parsed and validated with the
// rest of the file; the defaults reproduce the spec's literal values. The
// transmitter and receiver do not read these fields: they use their own
// package constants (PairingTimeout, HelloInterval, ...).
type TimeoutsConfig struct {
	PairingTimeout    time.Duration `yaml:"pairing_timeout"`
	ConfiguringWindow time.Duration `yaml:"configuring_window"`
	ActRearmWindow    time.Duration `yaml:"act_rearm_window"`
	UnpairingTimeout  time.Duration `yaml:"unpairing_timeout"`
	HelloInterval     time.Duration `yaml:"hello_interval"`
}

// TransportConfig configures the demo public (radio) and private (light)
// bus transports.
type TransportConfig struct {
	// PublicAddress is the QUIC datagram address the public bus demo
	// listens on or dials.
	PublicAddress string `yaml:"public_address"`

	// PrivateAddress is the WebSocket address the private bus demo
	// listens on or dials.
	PrivateAddress string `yaml:"private_address"`

	// ALPN is the Application-Layer Protocol Negotiation identifier used
	// for the QUIC public bus demo.
	ALPN string `yaml:"alpn"`
}

// Default returns a Config with default values, matching the spec's
// literal timeout and governor figures.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Role:      "receiver",
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Protocol: ProtocolConfig{
			DefaultAlgorithm: "tag-64",
			SessionCapacity:  8,
			Interfaces:       []string{"BUTTON_ACT"},
		},
		Governor: GovernorConfig{
			PreambleDuration: time.Millisecond,
			StartupDelay:     100 * time.Millisecond,
			AdmissionRates: map[string]float64{
				"BIND":      5,
				"UNBIND":    5,
				"CONFIGURE": 5,
				"ACT":       10,
			},
		},
		Timeouts: TimeoutsConfig{
			PairingTimeout:    10 * time.Second,
			ConfiguringWindow: 30 * time.Second,
			ActRearmWindow:    10 * time.Second,
			UnpairingTimeout:  10 * time.Second,
			HelloInterval:     400 * time.Millisecond,
		},
		Transport: TransportConfig{
			PublicAddress:  "127.0.0.1:4433",
			PrivateAddress: "127.0.0.1:8088",
			ALPN:           "openepo/1",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from Default and
// expanding ${VAR}/$VAR references against the process environment before
// unmarshaling.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Role != "transmitter" && c.Device.Role != "receiver" {
		errs = append(errs, fmt.Sprintf("device.role must be transmitter or receiver, got %q", c.Device.Role))
	}
	if c.Device.DataDir == "" {
		errs = append(errs, "device.data_dir is required")
	}
	if !isValidLogLevel(c.Device.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Device.LogLevel))
	}
	if !isValidLogFormat(c.Device.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Device.LogFormat))
	}

	if _, err := c.Algorithm(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Protocol.SessionCapacity < 1 {
		errs = append(errs, "protocol.session_capacity must be at least 1")
	}
	if len(c.Protocol.Interfaces) == 0 {
		errs = append(errs, "protocol.interfaces must list at least one interface")
	}
	if _, err := c.Interfaces(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Governor.PreambleDuration <= 0 {
		errs = append(errs, "governor.preamble_duration must be positive")
	}
	if _, err := c.AdmissionRates(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Timeouts.PairingTimeout <= 0 {
		errs = append(errs, "timeouts.pairing_timeout must be positive")
	}
	if c.Timeouts.ConfiguringWindow <= 0 {
		errs = append(errs, "timeouts.configuring_window must be positive")
	}
	if c.Timeouts.ActRearmWindow <= 0 {
		errs = append(errs, "timeouts.act_rearm_window must be positive")
	}
	if c.Timeouts.UnpairingTimeout <= 0 {
		errs = append(errs, "timeouts.unpairing_timeout must be positive")
	}
	if c.Timeouts.HelloInterval <= 0 {
		errs = append(errs, "timeouts.hello_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Algorithm resolves Protocol.DefaultAlgorithm to a codec.ProtectionAlgorithm.
func (c *Config) Algorithm() (codec.ProtectionAlgorithm, error) {
	switch c.Protocol.DefaultAlgorithm {
	case "tag-64":
		return codec.AlgorithmOCBTag64, nil
	case "tag-128":
		return codec.AlgorithmOCBTag128, nil
	default:
		return 0, fmt.Errorf("protocol.default_algorithm must be tag-64 or tag-128, got %q", c.Protocol.DefaultAlgorithm)
	}
}

// Interfaces resolves Protocol.Interfaces to codec.InterfaceType values.
func (c *Config) Interfaces() ([]codec.InterfaceType, error) {
	out := make([]codec.InterfaceType, 0, len(c.Protocol.Interfaces))
	for _, name := range c.Protocol.Interfaces {
		t, err := parseInterfaceType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseInterfaceType(name string) (codec.InterfaceType, error) {
	switch name {
	case "BUTTON_ACT":
		return codec.InterfaceButtonAct, nil
	default:
		return 0, fmt.Errorf("protocol.interfaces: unknown interface %q", name)
	}
}

// AdmissionRates resolves Governor.AdmissionRates to the
// codec.MessageType-keyed rate.Limit map governor.Config expects.
func (c *Config) AdmissionRates() (map[codec.MessageType]rate.Limit, error) {
	out := make(map[codec.MessageType]rate.Limit, len(c.Governor.AdmissionRates))
	for name, hz := range c.Governor.AdmissionRates {
		t, err := parseMessageType(name)
		if err != nil {
			return nil, err
		}
		out[t] = rate.Limit(hz)
	}
	return out, nil
}

func parseMessageType(name string) (codec.MessageType, error) {
	switch strings.ToUpper(name) {
	case "HELLO":
		return codec.MessageHello, nil
	case "BOUND":
		return codec.MessageBound, nil
	case "BIND":
		return codec.MessageBind, nil
	case "UNBIND":
		return codec.MessageUnbind, nil
	case "CONFIGURE":
		return codec.MessageConfigure, nil
	case "ACT":
		return codec.MessageAct, nil
	default:
		return 0, fmt.Errorf("governor.admission_rates: unknown message type %q", name)
	}
}

// GovernorConfigFor builds a governor.Config from the parsed settings,
// paired with sch.
func (c *Config) GovernorConfigFor(sch scheduler.Scheduler) (governor.Config, error) {
	rates, err := c.AdmissionRates()
	if err != nil {
		return governor.Config{}, err
	}
	return governor.Config{
		PreambleDuration: c.Governor.PreambleDuration,
		StartupDelay:     c.Governor.StartupDelay,
		AdmissionRates:   rates,
		Scheduler:        sch,
	}, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
