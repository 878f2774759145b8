package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func requireErrPrefix(t *testing.T, err error, prefix string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with prefix %q, got nil", prefix)
	}
	if !strings.HasPrefix(err.Error(), prefix) {
		t.Fatalf("error=%q want prefix %q", err.Error(), prefix)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "cfg.yaml", "link:\n  locator: 'udp:localhost:14550'\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	l := cfg.Link
	if l.HeartbeatWait != 10*time.Second || l.LivenessTimeout != 5*time.Second || l.ReadTimeout != 2*time.Second {
		t.Fatalf("timeouts=%s/%s/%s", l.HeartbeatWait, l.LivenessTimeout, l.ReadTimeout)
	}
	if l.CloseTimeout != 3*time.Second {
		t.Fatalf("close_timeout=%s want read_timeout+1s", l.CloseTimeout)
	}
	if l.BackoffBase != time.Second || l.MaxAttempts != 5 {
		t.Fatalf("backoff=%s attempts=%d", l.BackoffBase, l.MaxAttempts)
	}
	if l.Baud != 115200 || l.Replay.Speed != 1 {
		t.Fatalf("baud=%d speed=%v", l.Baud, l.Replay.Speed)
	}
	if got := cfg.Commands.AllowedModes; len(got) != 1 || got[0] != "GUIDED" {
		t.Fatalf("allowed_modes=%v want [GUIDED]", got)
	}
	if cfg.Commands.MinAltitudeM != 1 || cfg.Commands.MaxAltitudeM != 100 {
		t.Fatalf("altitude range=%v..%v", cfg.Commands.MinAltitudeM, cfg.Commands.MaxAltitudeM)
	}
	if cfg.Web.Listen != ":8080" || cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Fatalf("web/logging defaults not applied: %+v %+v", cfg.Web, cfg.Logging)
	}
}

func TestLoad_EmptyFileIsValid(t *testing.T) {
	path := writeTempConfig(t, "cfg.yaml", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Link.MaxAttempts != 5 {
		t.Fatalf("max_attempts=%d want 5", cfg.Link.MaxAttempts)
	}
}

func TestLoad_DurationsAndStreams(t *testing.T) {
	body := `link:
  heartbeat_wait: 8s
  liveness_timeout: 4s
  read_timeout: 500ms
  close_timeout: 750ms
  stream_intervals:
    - message: ATTITUDE
      interval: 50ms
    - message: HEARTBEAT
      interval: 1s
`
	cfg, err := Load(writeTempConfig(t, "cfg.yml", body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Link.HeartbeatWait != 8*time.Second || cfg.Link.ReadTimeout != 500*time.Millisecond {
		t.Fatalf("durations=%s/%s", cfg.Link.HeartbeatWait, cfg.Link.ReadTimeout)
	}
	if cfg.Link.CloseTimeout != 750*time.Millisecond {
		t.Fatalf("close_timeout=%s want 750ms", cfg.Link.CloseTimeout)
	}
	want := []StreamInterval{{"ATTITUDE", 50 * time.Millisecond}, {"HEARTBEAT", time.Second}}
	if len(cfg.Link.StreamIntervals) != len(want) {
		t.Fatalf("stream_intervals=%v", cfg.Link.StreamIntervals)
	}
	for i := range want {
		if cfg.Link.StreamIntervals[i] != want[i] {
			t.Fatalf("stream_intervals[%d]=%v want %v", i, cfg.Link.StreamIntervals[i], want[i])
		}
	}
}

func TestLoad_TOML(t *testing.T) {
	body := `[link]
locator = "/dev/ttyUSB0"
baud = 57600
liveness_timeout = "6s"

[commands]
allowed_modes = ["GUIDED", "LOITER"]
max_altitude_m = 50.0

[mqtt]
enable = true
broker = "tcp://localhost:1883"
qos = 1
`
	cfg, err := Load(writeTempConfig(t, "cfg.toml", body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Link.Locator != "/dev/ttyUSB0" || cfg.Link.Baud != 57600 || cfg.Link.LivenessTimeout != 6*time.Second {
		t.Fatalf("link=%+v", cfg.Link)
	}
	if len(cfg.Commands.AllowedModes) != 2 || cfg.Commands.MaxAltitudeM != 50 {
		t.Fatalf("commands=%+v", cfg.Commands)
	}
	if !cfg.MQTT.Enable || cfg.MQTT.QoS != 1 || cfg.MQTT.TopicPrefix != "groundlink" {
		t.Fatalf("mqtt=%+v", cfg.MQTT)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "ReadTimeoutNotShorterThanLiveness",
			body: "link:\n  read_timeout: 5s\n  liveness_timeout: 5s\n",
			want: "link.read_timeout must be shorter than link.liveness_timeout",
		},
		{
			name: "AltitudeRangeInverted",
			body: "commands:\n  min_altitude_m: 20\n  max_altitude_m: 10\n",
			want: "commands.max_altitude_m must be >= commands.min_altitude_m",
		},
		{
			name: "MQTTRequiresBroker",
			body: "mqtt:\n  enable: true\n",
			want: "mqtt.broker is required when mqtt.enable is true",
		},
		{
			name: "StreamNeedsMessage",
			body: "link:\n  stream_intervals:\n    - message: ''\n      interval: 1s\n",
			want: "link.stream_intervals[0].message is required",
		},
		{
			name: "RecordWithReplay",
			body: "link:\n  locator: 'replay:/tmp/a.log'\n  record_path: '/tmp/b.log'\n",
			want: "link.record_path cannot be used with a replay locator",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, "cfg.yaml", tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_SchemaRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"LogLevel", "logging:\n  level: chatty\n"},
		{"NegativeBaud", "link:\n  baud: -1\n"},
		{"BadDuration", "link:\n  heartbeat_wait: soon\n"},
		{"QoS", "mqtt:\n  qos: 3\n"},
		{"TooManyAttempts", "link:\n  max_attempts: 50\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, "cfg.yaml", tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_SchemaMessages(t *testing.T) {
	_, err := Load(writeTempConfig(t, "cfg.yaml", "logging:\n  format: xml\n"))
	requireErrPrefix(t, err, "config schema: ")
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "cfg.yaml", "link:\n  locator: 'udp:localhost:14550'\n  mode: fast\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field mode not found in type config.LinkConfig")
}

func TestLoad_RejectsUnknownTOMLField(t *testing.T) {
	path := writeTempConfig(t, "cfg.toml", "[web]\nport = 80\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: web.port")
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load(writeTempConfig(t, "cfg.json", "{}"))
	requireErrEq(t, err, `unsupported config format ".json" (want .yaml, .yml or .toml)`)
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	cfg := Default()
	if cfg.Link.HeartbeatWait != 10*time.Second || cfg.Web.LogLines != 2000 || cfg.MQTT.KeepAlive != 30*time.Second {
		t.Fatalf("Default()=%+v", cfg)
	}
}
