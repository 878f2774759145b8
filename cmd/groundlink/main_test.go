package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"groundlink/internal/config"
	"groundlink/internal/link"
	"groundlink/internal/replay"
)

func v2Frame(id uint32, payloadLen int) []byte {
	f := []byte{0xFD, byte(payloadLen), 0, 0, 7, 1, 1, byte(id), byte(id >> 8), byte(id >> 16)}
	f = append(f, make([]byte, payloadLen)...)
	return append(f, 0xAA, 0xBB)
}

func v1Frame(id byte, payloadLen int) []byte {
	f := []byte{0xFE, byte(payloadLen), 3, 1, 1, id}
	f = append(f, make([]byte, payloadLen)...)
	return append(f, 0xAA, 0xBB)
}

func TestScanFrames(t *testing.T) {
	signed := v2Frame(30, 28)
	signed[2] = 0x01
	signed = append(signed, make([]byte, 13)...)

	var buf []byte
	buf = append(buf, 0x00, 0x11) // noise
	buf = append(buf, v2Frame(0, 9)...)
	buf = append(buf, v1Frame(30, 28)...)
	buf = append(buf, signed...)
	buf = append(buf, v2Frame(253, 51)[:8]...) // truncated

	var ids []uint32
	frames, skipped := scanFrames(buf, func(id uint32) { ids = append(ids, id) })
	if frames != 3 {
		t.Fatalf("frames=%d want 3", frames)
	}
	if skipped != 2+8 {
		t.Fatalf("skipped=%d want 10", skipped)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 30 || ids[2] != 30 {
		t.Fatalf("ids=%v", ids)
	}
}

func TestSummarizeCapture_ReassemblesChunksPerSegment(t *testing.T) {
	hb := v2Frame(0, 9)
	att := v2Frame(30, 28)
	recs := []replay.Record{
		{},
		{At: 10 * time.Millisecond, Chunk: hb[:5]},
		{At: 20 * time.Millisecond, Chunk: append(append([]byte(nil), hb[5:]...), att...)},
		{},
		{At: 5 * time.Millisecond, Chunk: hb},
	}

	s := summarizeCapture(recs)
	if s.Segments != 2 || s.Chunks != 3 || s.Frames != 3 || s.Skipped != 0 {
		t.Fatalf("summary=%+v", s)
	}
	if s.MaxDuration != 20*time.Millisecond {
		t.Fatalf("max_duration=%s", s.MaxDuration)
	}
	if s.MsgCounts[0] != 2 || s.MsgCounts[30] != 1 {
		t.Fatalf("counts=%v", s.MsgCounts)
	}
}

func TestSummarizeCapture_NoStartLine(t *testing.T) {
	s := summarizeCapture([]replay.Record{{At: time.Millisecond, Chunk: v1Frame(0, 9)}})
	if s.Segments != 1 || s.Frames != 1 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestMessageName(t *testing.T) {
	cases := map[uint32]string{
		0:       "HEARTBEAT",
		24:      "GPS_RAW_INT",
		74:      "VFR_HUD",
		253:     "STATUSTEXT",
		9999999: "MSG_9999999",
	}
	for id, want := range cases {
		if got := messageName(id); got != want {
			t.Fatalf("messageName(%d)=%q want %q", id, got, want)
		}
	}
}

func TestRecordInfoCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.log")
	w, err := replay.CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	base := time.Now()
	if err := w.WriteChunk(base, v2Frame(0, 9)); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := w.WriteChunk(base.Add(time.Second), v2Frame(33, 28)); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"record-info", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("record-info: %v", err)
	}
	got := out.String()
	for _, want := range []string{"frames: 2", "0 HEARTBEAT: 1", "33 GLOBAL_POSITION_INT: 1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("link:\n  locator: tcp:localhost:5760\n  heartbeat_wait: 7s\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("link:\n  read_timeout: 9s\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"validate", "--config", good, "--print"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("validate good: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "config ok") || !strings.Contains(got, "heartbeat_wait: 7s") {
		t.Fatalf("output=%s", got)
	}

	rootCmd.SetArgs([]string{"validate", "--config", bad, "--print=false"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "link.read_timeout must be shorter than link.liveness_timeout") {
		t.Fatalf("validate bad err=%v", err)
	}
}

func TestPrintCandidates(t *testing.T) {
	cands := []link.Candidate{
		{Locator: "udp:localhost:14550", Description: "UDP listen 14550"},
		{Locator: "serial:/dev/ttyACM0", Description: "USB serial 2341:0043", Serial: true},
	}

	var table bytes.Buffer
	if err := printCandidates(&table, cands, false); err != nil {
		t.Fatalf("printCandidates: %v", err)
	}
	if !strings.Contains(table.String(), "serial:/dev/ttyACM0  USB serial 2341:0043") {
		t.Fatalf("table=%q", table.String())
	}

	var js bytes.Buffer
	if err := printCandidates(&js, cands, true); err != nil {
		t.Fatalf("printCandidates: %v", err)
	}
	var back []link.Candidate
	if err := json.Unmarshal(js.Bytes(), &back); err != nil || len(back) != 2 || !back[1].Serial {
		t.Fatalf("json=%s err=%v", js.String(), err)
	}
}

func TestLinkConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Link.Baud = 57600
	cfg.Commands.AllowedModes = []string{"GUIDED", "LOITER"}

	lc := linkConfig(cfg)
	if lc.DefaultBaud != 57600 || lc.HeartbeatWait != 10*time.Second || lc.MaxAttempts != 5 || lc.CloseTimeout != 3*time.Second {
		t.Fatalf("link config=%+v", lc)
	}
	if lc.StreamIntervals != nil {
		t.Fatalf("stream intervals=%v want nil for defaults", lc.StreamIntervals)
	}
	if len(lc.Gate.AllowedModes) != 2 || lc.Gate.MaxAltitudeM != 100 {
		t.Fatalf("gate=%+v", lc.Gate)
	}

	cfg.Link.StreamIntervals = []config.StreamInterval{}
	if lc := linkConfig(cfg); lc.StreamIntervals == nil || len(lc.StreamIntervals) != 0 {
		t.Fatalf("empty stream list not preserved: %v", lc.StreamIntervals)
	}

	cfg.Link.StreamIntervals = []config.StreamInterval{{Message: "ATTITUDE", Interval: 50 * time.Millisecond}}
	lc = linkConfig(cfg)
	if len(lc.StreamIntervals) != 1 || lc.StreamIntervals[0].Interval != 50*time.Millisecond {
		t.Fatalf("streams=%v", lc.StreamIntervals)
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadConfig("  ")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Link.HeartbeatWait != 10*time.Second || cfg.Web.Listen != ":8080" {
		t.Fatalf("cfg=%+v", cfg)
	}
}
