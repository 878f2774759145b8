package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

type Config struct {
	Link     LinkConfig     `yaml:"link" toml:"link"`
	Commands CommandsConfig `yaml:"commands" toml:"commands"`
	Web      WebConfig      `yaml:"web" toml:"web"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Monitor  MonitorConfig  `yaml:"monitor" toml:"monitor"`
}

type LinkConfig struct {
	// Locator, when set, is connected on startup.
	Locator         string           `yaml:"locator" toml:"locator"`
	Baud            int              `yaml:"baud" toml:"baud"`
	HeartbeatWait   time.Duration    `yaml:"heartbeat_wait" toml:"heartbeat_wait"`
	LivenessTimeout time.Duration    `yaml:"liveness_timeout" toml:"liveness_timeout"`
	ReadTimeout     time.Duration    `yaml:"read_timeout" toml:"read_timeout"`
	// CloseTimeout bounds the wait for the receive loop on disconnect.
	CloseTimeout    time.Duration    `yaml:"close_timeout" toml:"close_timeout"`
	BackoffBase     time.Duration    `yaml:"backoff_base" toml:"backoff_base"`
	MaxAttempts     int              `yaml:"max_attempts" toml:"max_attempts"`
	StreamGap       time.Duration    `yaml:"stream_gap" toml:"stream_gap"`
	StreamIntervals []StreamInterval `yaml:"stream_intervals" toml:"stream_intervals"`
	RecordPath      string           `yaml:"record_path" toml:"record_path"`
	Replay          ReplayConfig     `yaml:"replay" toml:"replay"`
}

type StreamInterval struct {
	Message  string        `yaml:"message" toml:"message"`
	Interval time.Duration `yaml:"interval" toml:"interval"`
}

type ReplayConfig struct {
	Speed float64 `yaml:"speed" toml:"speed"`
	Loop  bool    `yaml:"loop" toml:"loop"`
}

type CommandsConfig struct {
	AllowedModes []string `yaml:"allowed_modes" toml:"allowed_modes"`
	MinAltitudeM float64  `yaml:"min_altitude_m" toml:"min_altitude_m"`
	MaxAltitudeM float64  `yaml:"max_altitude_m" toml:"max_altitude_m"`
}

type WebConfig struct {
	Enable   bool   `yaml:"enable" toml:"enable"`
	Listen   string `yaml:"listen" toml:"listen"`
	LogLines int    `yaml:"log_lines" toml:"log_lines"`
}

type MQTTConfig struct {
	Enable      bool          `yaml:"enable" toml:"enable"`
	Broker      string        `yaml:"broker" toml:"broker"`
	ClientID    string        `yaml:"client_id" toml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         byte          `yaml:"qos" toml:"qos"`
	Retain      bool          `yaml:"retain" toml:"retain"`
	KeepAlive   time.Duration `yaml:"keep_alive" toml:"keep_alive"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type MonitorConfig struct {
	Enable bool `yaml:"enable" toml:"enable"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads a .yaml, .yml or .toml file, checks it against the embedded
// schema, applies defaults and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var (
		cfg Config
		raw map[string]any
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		if err := decodeYAML(b, &cfg); err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return Config{}, err
		}
	case ".toml":
		md, err := toml.Decode(string(b), &cfg)
		if err != nil {
			return Config{}, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(keys, ", "))
		}
		if _, err := toml.Decode(string(b), &raw); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}

	if err := validateSchema(raw); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var yamlLinePrefix = regexp.MustCompile(`^line \d+: `)

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var te *yaml.TypeError
	if errors.As(err, &te) {
		var unknown []string
		for _, e := range te.Errors {
			msg := yamlLinePrefix.ReplaceAllString(e, "")
			if strings.HasPrefix(msg, "field ") && strings.Contains(msg, " not found in type ") {
				unknown = append(unknown, msg)
			}
		}
		if len(unknown) == len(te.Errors) {
			return fmt.Errorf("config contains unknown fields: %s", strings.Join(unknown, "; "))
		}
	}
	return err
}

// validateSchema unifies the raw document with #Config from schema.cue.
func validateSchema(raw map[string]any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	l := &cfg.Link
	if l.Baud <= 0 {
		l.Baud = 115200
	}
	if l.HeartbeatWait <= 0 {
		l.HeartbeatWait = 10 * time.Second
	}
	if l.LivenessTimeout <= 0 {
		l.LivenessTimeout = 5 * time.Second
	}
	if l.ReadTimeout <= 0 {
		l.ReadTimeout = 2 * time.Second
	}
	if l.CloseTimeout <= 0 {
		l.CloseTimeout = l.ReadTimeout + time.Second
	}
	if l.BackoffBase <= 0 {
		l.BackoffBase = 1 * time.Second
	}
	if l.MaxAttempts <= 0 {
		l.MaxAttempts = 5
	}
	if l.StreamGap <= 0 {
		l.StreamGap = 50 * time.Millisecond
	}
	if l.Replay.Speed == 0 {
		l.Replay.Speed = 1
	}

	c := &cfg.Commands
	if len(c.AllowedModes) == 0 {
		c.AllowedModes = []string{"GUIDED"}
	}
	if c.MinAltitudeM == 0 {
		c.MinAltitudeM = 1
	}
	if c.MaxAltitudeM == 0 {
		c.MaxAltitudeM = 100
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "groundlink"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "groundlink"
	}
	if cfg.MQTT.KeepAlive <= 0 {
		cfg.MQTT.KeepAlive = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func validate(cfg Config) error {
	l := cfg.Link
	if l.ReadTimeout >= l.LivenessTimeout {
		return fmt.Errorf("link.read_timeout must be shorter than link.liveness_timeout")
	}
	for i, si := range l.StreamIntervals {
		if strings.TrimSpace(si.Message) == "" {
			return fmt.Errorf("link.stream_intervals[%d].message is required", i)
		}
		if si.Interval <= 0 {
			return fmt.Errorf("link.stream_intervals[%d].interval must be > 0", i)
		}
	}
	if l.Replay.Speed < 0 {
		return fmt.Errorf("link.replay.speed must be > 0")
	}
	if l.RecordPath != "" && strings.HasPrefix(strings.ToLower(strings.TrimSpace(l.Locator)), "replay:") {
		return fmt.Errorf("link.record_path cannot be used with a replay locator")
	}

	c := cfg.Commands
	if c.MinAltitudeM <= 0 {
		return fmt.Errorf("commands.min_altitude_m must be > 0")
	}
	if c.MaxAltitudeM < c.MinAltitudeM {
		return fmt.Errorf("commands.max_altitude_m must be >= commands.min_altitude_m")
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	return nil
}
