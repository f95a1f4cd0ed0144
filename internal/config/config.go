// Package config loads and persists the application configuration as JSON
// in the user config directory.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDirName     = "benshigo"
	configFilename = "config.json"
	dbFilename     = "capture.sqlite"
	logFilename    = "benshigo.log"

	DefaultSerialBaud   = 115200
	DefaultChannelCount = 32
)

// ConnectionConfig contains the control-channel BLE parameters.
type ConnectionConfig struct {
	BluetoothAddress string `json:"bluetooth_address"`
	BluetoothAdapter string `json:"bluetooth_adapter"`
	ChannelCount     int    `json:"channel_count"`
}

// AudioConfig contains the audio side channel's RFCOMM serial parameters.
type AudioConfig struct {
	SerialPort string `json:"serial_port"`
	SerialBaud int    `json:"serial_baud"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// CaptureConfig controls persisting decoded traffic to the local database.
type CaptureConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"db_path"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Audio      AudioConfig      `json:"audio"`
	Logging    LoggingConfig    `json:"logging"`
	Capture    CaptureConfig    `json:"capture"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			BluetoothAddress: "",
			BluetoothAdapter: "",
			ChannelCount:     DefaultChannelCount,
		},
		Audio: AudioConfig{
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Capture: CaptureConfig{
			Enabled: false,
			DBPath:  "",
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.ChannelCount <= 0 {
		c.Connection.ChannelCount = DefaultChannelCount
	}
	if c.Audio.SerialBaud <= 0 {
		c.Audio.SerialBaud = DefaultSerialBaud
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Connection.BluetoothAddress) == "" {
		return errors.New("bluetooth address is required")
	}
	if c.Connection.ChannelCount <= 0 || c.Connection.ChannelCount > 256 {
		return fmt.Errorf("channel count must be in 1..256, got %d", c.Connection.ChannelCount)
	}
	if c.Audio.SerialPort != "" && c.Audio.SerialBaud <= 0 {
		return errors.New("serial baud must be positive")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

// Paths stores resolved runtime file locations for user config, capture
// database, and the optional log file.
type Paths struct {
	RootDir    string
	ConfigFile string
	DBFile     string
	LogFile    string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(cfgRoot, appDirName)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, configFilename),
		DBFile:     filepath.Join(root, dbFilename),
		LogFile:    filepath.Join(root, logFilename),
	}, nil
}
