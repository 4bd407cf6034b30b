package gombot

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type SerialConfig struct {
	Port          string `yaml:"port"`       // "/dev/ttyUSB0" or "COM5"; empty means look up by USB ids
	VendorID      string `yaml:"vendor_id"`  // 1A86
	ProductID     string `yaml:"product_id"` // 7523
	BaudRate      int    `yaml:"baud_rate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
}

type SensorConfig struct {
	Kind string `yaml:"kind"` // ultrasonic, lightness, line_follower
	Port uint8  `yaml:"port"` // 0 selects the factory port
}

type MonitorSettings struct {
	IntervalMs int            `yaml:"interval_ms"`
	Sensors    []SensorConfig `yaml:"sensors"`
}

type LinkSettings struct {
	ReplyTimeoutMs int `yaml:"reply_timeout_ms"`
	MaxCarry       int `yaml:"max_carry"`
	MaxRetries     int `yaml:"max_retries"`
	RetryDelayMs   int `yaml:"retry_delay_ms"`
}

type Config struct {
	Serial  SerialConfig    `yaml:"serial"`
	Monitor MonitorSettings `yaml:"monitor"`
	Link    LinkSettings    `yaml:"link"`
}

func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			VendorID:      VendorID,
			ProductID:     ProductID,
			BaudRate:      DefaultBaudRate,
			ReadTimeoutMs: DefaultReadTimeoutMs,
		},
		Monitor: MonitorSettings{
			IntervalMs: int(DefaultReadInterval / time.Millisecond),
			Sensors: []SensorConfig{
				{Kind: "ultrasonic"},
				{Kind: "lightness"},
				{Kind: "line_follower"},
			},
		},
		Link: LinkSettings{
			ReplyTimeoutMs: int(DefaultReplyTimeout / time.Millisecond),
			MaxCarry:       DefaultMaxCarry,
			MaxRetries:     DefaultMaxRetries,
			RetryDelayMs:   int(DefaultRetryDelay / time.Millisecond),
		},
	}
}

// LoadConfig reads a YAML file over the defaults. Keys missing from the file
// keep their default value.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse yaml %s: %w", path, err)
	}

	log.Printf("Config loaded from %s: port=%q sensors=%d interval=%dms",
		path, cfg.Serial.Port, len(cfg.Monitor.Sensors), cfg.Monitor.IntervalMs)
	return cfg, nil
}

// Validate checks the configuration without modifying it.
func (c *Config) Validate() error {
	if c.Serial.Port == "" && (c.Serial.VendorID == "" || c.Serial.ProductID == "") {
		return fmt.Errorf("serial: port or both vendor_id and product_id required")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial: baud_rate must be > 0 (got %d)", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeoutMs < 0 {
		return fmt.Errorf("serial: read_timeout_ms must be >= 0 (got %d)", c.Serial.ReadTimeoutMs)
	}

	if c.Monitor.IntervalMs <= 0 {
		return fmt.Errorf("monitor: interval_ms must be > 0 (got %d)", c.Monitor.IntervalMs)
	}
	if len(c.Monitor.Sensors) == 0 {
		return fmt.Errorf("monitor: at least one sensor required")
	}
	for i, s := range c.Monitor.Sensors {
		if _, err := ParseSensorKind(s.Kind); err != nil {
			return fmt.Errorf("monitor.sensors[%d]: %w", i, err)
		}
	}

	if c.Link.ReplyTimeoutMs <= 0 {
		return fmt.Errorf("link: reply_timeout_ms must be > 0 (got %d)", c.Link.ReplyTimeoutMs)
	}
	if c.Link.MaxCarry < 0 {
		return fmt.Errorf("link: max_carry must be >= 0 (got %d)", c.Link.MaxCarry)
	}
	if c.Link.MaxRetries <= 0 {
		return fmt.Errorf("link: max_retries must be > 0 (got %d)", c.Link.MaxRetries)
	}
	if c.Link.RetryDelayMs < 0 {
		return fmt.Errorf("link: retry_delay_ms must be >= 0 (got %d)", c.Link.RetryDelayMs)
	}
	return nil
}

// ParseSensorKind maps a configured sensor name to its kind. Both line
// follower names select the single line follower slot.
func ParseSensorKind(name string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ultrasonic":
		return Ultrasonic, nil
	case "lightness", "light":
		return Lightness, nil
	case "line_follower", "line_follower_left", "line_follower_right":
		return LineFollowerLeft, nil
	default:
		return 0, fmt.Errorf("unknown sensor kind %q", name)
	}
}

// Options converts the settings into the monitor configuration.
func (s MonitorSettings) Options() (MonitorConfig, error) {
	slots := make([]PollSlot, 0, len(s.Sensors))
	for i, sc := range s.Sensors {
		kind, err := ParseSensorKind(sc.Kind)
		if err != nil {
			return MonitorConfig{}, fmt.Errorf("sensors[%d]: %w", i, err)
		}
		slots = append(slots, SlotFor(kind, Port(sc.Port)))
	}
	return MonitorConfig{
		Interval: time.Duration(s.IntervalMs) * time.Millisecond,
		Slots:    slots,
	}, nil
}

func (s LinkSettings) Options() LinkConfig {
	return LinkConfig{
		ReplyTimeout: time.Duration(s.ReplyTimeoutMs) * time.Millisecond,
		MaxCarry:     s.MaxCarry,
		MaxRetries:   s.MaxRetries,
		RetryDelay:   time.Duration(s.RetryDelayMs) * time.Millisecond,
	}
}
