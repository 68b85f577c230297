package model

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the root structure loaded from configs/config.yml.
type Config struct {
	Platform         string         `yaml:"platform" validate:"required"`
	Algorithm        string         `yaml:"algorithm" validate:"required"`
	StrictContracts  bool           `yaml:"strict_contracts"`
	UseGPS           bool           `yaml:"use_gps"` // fuse GPS fixes when the platform has them
	Threads          ThreadsConfig  `yaml:"threads"`
	Teleop           TeleopConfig   `yaml:"teleop"`
	Controls         ControlsConfig `yaml:"controls"`
	Mapping          MappingConfig  `yaml:"mapping"`
	PlatformOptions  Options        `yaml:"platform_options"`
	AlgorithmOptions Options        `yaml:"algorithm_options"`
	Link             LinkConfig     `yaml:"link"`
	Filters          FiltersConfig  `yaml:"filters"`
	Recorder         RecorderConfig `yaml:"recorder"`
	API              APIConfig      `yaml:"api"`
	Log              LogConfig      `yaml:"log"`
}

// ThreadsConfig holds per-thread rates and failure thresholds.
type ThreadsConfig struct {
	StateEstimationHz float64 `yaml:"state_estimation_hz" validate:"gt=0,lte=1000"`
	MappingHz         float64 `yaml:"mapping_hz" validate:"gt=0,lte=1000"`
	ControlsHz        float64 `yaml:"controls_hz" validate:"gt=0,lte=1000"`
	TeleopHz          float64 `yaml:"teleop_hz" validate:"gt=0,lte=1000"`
	TelemetryHz       float64 `yaml:"telemetry_hz" validate:"gte=0,lte=1000"` // 0 disables telemetry, unset follows link.enabled
	MaxDeadlineMisses int     `yaml:"max_deadline_misses" validate:"gte=1"`
	RetryBudget       int     `yaml:"retry_budget" validate:"gte=0"`
}

// TeleopConfig configures the operator override input.
type TeleopConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Source     string `yaml:"source" validate:"omitempty,oneof=serial link none"`
	Device     string `yaml:"device" validate:"required_if=Source serial"`
	Baud       int    `yaml:"baud" validate:"gte=0"`
	WireFormat string `yaml:"wire_format" validate:"omitempty,oneof=csv json"`
	TimeoutMs  int    `yaml:"timeout_ms" validate:"gt=0"`
}

// ControlsConfig holds the reference-tracking gains.
type ControlsConfig struct {
	Kp         float64 `yaml:"kp" validate:"gte=0"`
	Ki         float64 `yaml:"ki" validate:"gte=0"`
	Kd         float64 `yaml:"kd" validate:"gte=0"`
	YawKp      float64 `yaml:"yaw_kp" validate:"gte=0"`
	MaxSpeed   float64 `yaml:"max_speed" validate:"gt=0"`
	MaxYawRate float64 `yaml:"max_yaw_rate" validate:"gt=0"`

	// TakeoffAltitude is climbed to when the runtime starts.
	TakeoffAltitude float64 `yaml:"takeoff_altitude" validate:"gte=0"`
}

// MappingConfig sizes the occupancy grid.
type MappingConfig struct {
	WidthCells   int     `yaml:"width_cells" validate:"gt=0,lte=4096"`
	HeightCells  int     `yaml:"height_cells" validate:"gt=0,lte=4096"`
	ResolutionM  float64 `yaml:"resolution_m" validate:"gt=0"`
	MaxPoseAgeMs int     `yaml:"max_pose_age_ms" validate:"gt=0"`
}

// LinkConfig configures the telemetry link endpoint.
type LinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Domain  string `yaml:"domain"`
	AgentID string `yaml:"agent_id" validate:"omitempty,len=16,hexadecimal"` // LoRaWAN EUI64
}

// FiltersConfig holds the send/receive filter thresholds.
type FiltersConfig struct {
	Send    SendFilterConfig    `yaml:"send"`
	Receive ReceiveFilterConfig `yaml:"receive"`
}

// SendFilterConfig thresholds for the outbound filter.
type SendFilterConfig struct {
	CongestionBytesPerSec float64 `yaml:"congestion_bytes_per_sec" validate:"gt=0"`
	TelemetryRateHz       float64 `yaml:"telemetry_rate_hz" validate:"gte=0"`
	DedupeWindow          int     `yaml:"dedupe_window" validate:"gte=1"`
}

// ReceiveFilterConfig thresholds for the inbound filter.
type ReceiveFilterConfig struct {
	MaxBandwidthBytesPerSec float64 `yaml:"max_bandwidth_bytes_per_sec" validate:"gt=0"`
	MaxAgeMs                int     `yaml:"max_age_ms" validate:"gt=0"`
}

// RecorderConfig configures the flight recorder. Empty path disables it.
type RecorderConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the operator HTTP API. Empty address disables it.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Period converts a rate in hertz into a ticker period.
func Period(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// LoadConfig reads the YAML configuration at path, applies defaults and
// validates it. Every failure wraps ErrConfiguration.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return ParseConfig(b)
}

// telemetryUnset marks telemetry_hz as absent from the document.
const telemetryUnset = -1

// newConfig presets the options where an explicit zero is meaningful, so
// decoding over it keeps a configured 0.
func newConfig() Config {
	return Config{Threads: ThreadsConfig{TelemetryHz: telemetryUnset, RetryBudget: 3}}
}

// ParseConfig decodes, defaults and validates a YAML document.
func ParseConfig(b []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a fully defaulted configuration for the simulated
// quadcopter running GPS-denied exploration.
func DefaultConfig() *Config {
	cfg := newConfig()
	cfg.Platform, cfg.Algorithm = "quadcopter_sim", "explore_gps_denied"
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset options with their documented defaults. Zero
// means unset only where zero is not a valid value.
func (c *Config) ApplyDefaults() {
	t := &c.Threads
	if t.StateEstimationHz == 0 {
		t.StateEstimationHz = 50
	}
	if t.MappingHz == 0 {
		t.MappingHz = 5
	}
	if t.ControlsHz == 0 {
		t.ControlsHz = 50
	}
	if t.TeleopHz == 0 {
		t.TeleopHz = 50
	}
	if t.TelemetryHz == telemetryUnset {
		t.TelemetryHz = 0
		if c.Link.Enabled {
			t.TelemetryHz = 2
		}
	}
	if t.MaxDeadlineMisses == 0 {
		t.MaxDeadlineMisses = 5
	}

	if c.Teleop.Source == "" {
		c.Teleop.Source = "none"
	}
	if c.Teleop.Baud == 0 {
		c.Teleop.Baud = 57600
	}
	if c.Teleop.WireFormat == "" {
		c.Teleop.WireFormat = "csv"
	}
	if c.Teleop.TimeoutMs == 0 {
		c.Teleop.TimeoutMs = 500
	}

	ct := &c.Controls
	if ct.Kp == 0 && ct.Ki == 0 && ct.Kd == 0 {
		ct.Kp, ct.Ki, ct.Kd = 1.2, 0.05, 0.1
	}
	if ct.YawKp == 0 {
		ct.YawKp = 1.5
	}
	if ct.MaxSpeed == 0 {
		ct.MaxSpeed = 1.5
	}
	if ct.MaxYawRate == 0 {
		ct.MaxYawRate = 1.0
	}
	if ct.TakeoffAltitude == 0 {
		ct.TakeoffAltitude = 1.5
	}

	m := &c.Mapping
	if m.WidthCells == 0 {
		m.WidthCells = 200
	}
	if m.HeightCells == 0 {
		m.HeightCells = 200
	}
	if m.ResolutionM == 0 {
		m.ResolutionM = 0.25
	}
	if m.MaxPoseAgeMs == 0 {
		m.MaxPoseAgeMs = 250
	}

	if c.Link.Addr == "" {
		c.Link.Addr = ":10000"
	}
	if c.Link.Domain == "" {
		c.Link.Domain = "Mosul Mission"
	}
	if c.Link.AgentID == "" {
		c.Link.AgentID = "0000000000000001"
	}

	s := &c.Filters.Send
	if s.CongestionBytesPerSec == 0 {
		s.CongestionBytesPerSec = 1000000
	}
	if s.DedupeWindow == 0 {
		s.DedupeWindow = 1024
	}
	r := &c.Filters.Receive
	if r.MaxBandwidthBytesPerSec == 0 {
		r.MaxBandwidthBytesPerSec = 1000000
	}
	if r.MaxAgeMs == 0 {
		r.MaxAgeMs = 2000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Teleop.Enabled && c.Teleop.Source == "link" && !c.Link.Enabled && c.API.Addr == "" {
		return fmt.Errorf("%w: teleop source link needs link.enabled or api.addr", ErrInvalidConfig)
	}
	return nil
}
