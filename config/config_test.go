package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"streams":[{"id":"cam01","url":"rtsp://host/stream"}]}`)

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.HTTPPort != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.HTTPPort)
	}
	if cfg.PreBufferingTime != 5.0 || cfg.PostBufferingTime != 0.5 {
		t.Errorf("unexpected buffering defaults: %f / %f", cfg.PreBufferingTime, cfg.PostBufferingTime)
	}
	if cfg.RecBaseFolder != "./" {
		t.Errorf("expected default folder ./, got %s", cfg.RecBaseFolder)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].ID != "cam01" {
		t.Errorf("unexpected streams: %+v", cfg.Streams)
	}
}

func TestLoadConfigRejectsEmptyStreams(t *testing.T) {
	for _, content := range []string{`{}`, `{"streams":[]}`, `{"streams":[{"id":"","url":""}]}`} {
		path := writeConfig(t, content)
		if _, err := LoadConfigFromFile(path); err == nil {
			t.Errorf("config %s should be rejected", content)
		}
	}
}

func TestLoadConfigSkipsDuplicatesAndBadPort(t *testing.T) {
	path := writeConfig(t, `{
		"streams":[
			{"id":"cam01","url":"rtsp://a"},
			{"id":"cam01","url":"rtsp://b"},
			{"id":"cam02","url":"rtsp://c"}
		],
		"http_port": 70000
	}`)

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if len(cfg.Streams) != 2 {
		t.Errorf("duplicate ids should be skipped, got %+v", cfg.Streams)
	}
	if cfg.HTTPPort != 8090 {
		t.Errorf("out-of-range port should fall back, got %d", cfg.HTTPPort)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestStreamByID(t *testing.T) {
	cfg := Config{Streams: []StreamConfig{{ID: "cam01", URL: "rtsp://a"}}}
	if _, ok := cfg.StreamByID("cam01"); !ok {
		t.Error("cam01 should be found")
	}
	if _, ok := cfg.StreamByID("ghost"); ok {
		t.Error("ghost should not be found")
	}
}
