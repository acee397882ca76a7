package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"lite-nvr/storage"
)

// StreamConfig holds configuration for a single RTSP stream
type StreamConfig struct {
	ID     string `json:"id"`     // Unique stream id (used for file naming)
	URL    string `json:"url"`    // Full RTSP URL
	Button string `json:"button"` // Optional serial button token toggling this stream's recording
}

// Config contains all configuration for the application
type Config struct {
	Streams []StreamConfig `json:"streams"`

	// Server Configuration
	HTTPPort int `json:"http_port"`

	// Capture Configuration
	Autostart   int `json:"autostart"`    // 1 enables every capture at boot
	DisplayMode int `json:"display_mode"` // 1 decodes frames for the preview sink

	// Recording Configuration
	PreBufferingTime  float64 `json:"pre_buffering_time"`  // pre-roll window in seconds
	PostBufferingTime float64 `json:"post_buffering_time"` // post-roll window in seconds
	RecBaseFolder     string  `json:"rec_base_folder"`

	// Retention Configuration
	AutoDeleteDays int `json:"auto_delete_days"` // 0 keeps recordings forever

	// Database Configuration
	DatabasePath string `json:"database_path"`

	// Serial trigger Configuration
	SerialPort string `json:"serial_port"`
	SerialBaud int    `json:"serial_baud"`

	// R2 Storage Configuration (credentials come from the environment)
	R2 storage.R2Config `json:"-"`
}

// Defaults returns a Config carrying the documented default values.
func Defaults() Config {
	return Config{
		HTTPPort:          8090,
		PreBufferingTime:  5.0,
		PostBufferingTime: 0.5,
		RecBaseFolder:     "./",
		DatabasePath:      "./data/recordings.db",
		SerialBaud:        9600,
	}
}

// LoadConfigFromFile loads configuration from a JSON file, applying defaults
// for missing keys and env overrides for credentials.
func LoadConfigFromFile(filePath string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(cfg.Streams) == 0 {
		return cfg, fmt.Errorf("'streams' array missing or empty in config")
	}
	seen := make(map[string]bool)
	valid := cfg.Streams[:0]
	for _, s := range cfg.Streams {
		if s.ID == "" || s.URL == "" {
			log.Printf("[CFG] Skipping invalid stream entry in config")
			continue
		}
		if seen[s.ID] {
			log.Printf("[CFG] Skipping duplicate stream id %q", s.ID)
			continue
		}
		seen[s.ID] = true
		valid = append(valid, s)
	}
	cfg.Streams = valid
	if len(cfg.Streams) == 0 {
		return cfg, fmt.Errorf("no valid streams found in config")
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		log.Printf("[CFG] http_port %d out of range, using default 8090", cfg.HTTPPort)
		cfg.HTTPPort = 8090
	}
	if cfg.Autostart != 0 && cfg.Autostart != 1 {
		cfg.Autostart = 0
	}
	if cfg.DisplayMode != 0 && cfg.DisplayMode != 1 {
		cfg.DisplayMode = 0
	}
	if cfg.RecBaseFolder == "" {
		cfg.RecBaseFolder = "./"
	}
	if cfg.SerialBaud <= 0 {
		cfg.SerialBaud = 9600
	}

	// Credentials live in the environment, not in the config file.
	cfg.R2 = storage.R2Config{
		AccessKey: os.Getenv("R2_ACCESS_KEY"),
		SecretKey: os.Getenv("R2_SECRET_KEY"),
		AccountID: os.Getenv("R2_ACCOUNT_ID"),
		Bucket:    os.Getenv("R2_BUCKET"),
		Endpoint:  os.Getenv("R2_ENDPOINT"),
		Region:    os.Getenv("R2_REGION"),
		BaseURL:   os.Getenv("R2_BASE_URL"),
	}
	if sp := os.Getenv("SERIAL_PORT"); sp != "" {
		cfg.SerialPort = sp
	}

	log.Printf("[CFG] Loaded configuration with %d streams", len(cfg.Streams))
	for i, s := range cfg.Streams {
		log.Printf("[CFG] Stream %d: %s @ %s", i+1, s.ID, s.URL)
	}
	log.Printf("[CFG] Recording folder: %s (pre-roll %.1fs, post-roll %.1fs)",
		cfg.RecBaseFolder, cfg.PreBufferingTime, cfg.PostBufferingTime)
	log.Printf("[CFG] HTTP port: %d", cfg.HTTPPort)

	return cfg, nil
}

// EnsurePaths creates the recording base folder and the database directory.
func EnsurePaths(cfg Config) error {
	if err := os.MkdirAll(cfg.RecBaseFolder, 0755); err != nil {
		return fmt.Errorf("failed to create recording folder %s: %w", cfg.RecBaseFolder, err)
	}
	dbDir := filepath.Dir(cfg.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}
	return nil
}

// StreamByID returns the stream config with the given id.
func (cfg Config) StreamByID(id string) (StreamConfig, bool) {
	for _, s := range cfg.Streams {
		if s.ID == id {
			return s, true
		}
	}
	return StreamConfig{}, false
}
