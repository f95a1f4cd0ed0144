package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Connection.ChannelCount != DefaultChannelCount {
		t.Fatalf("expected default channel count %d, got %d", DefaultChannelCount, cfg.Connection.ChannelCount)
	}
	if cfg.Audio.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default serial baud %d, got %d", DefaultSerialBaud, cfg.Audio.SerialBaud)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Connection.ChannelCount != DefaultChannelCount {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.Capture.Enabled {
		t.Fatalf("expected capture to be disabled by default")
	}
}

func TestLoadPartialConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "connection": {
    "bluetooth_address": "AA:BB:CC:DD:EE:FF"
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Connection.BluetoothAddress != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("expected address to load, got %q", cfg.Connection.BluetoothAddress)
	}
	if cfg.Connection.ChannelCount != DefaultChannelCount {
		t.Fatalf("expected channel count to default, got %d", cfg.Connection.ChannelCount)
	}
	if cfg.Audio.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected serial baud to default, got %d", cfg.Audio.SerialBaud)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Connection.BluetoothAddress = "AA:BB:CC:DD:EE:FF"
	cfg.Connection.ChannelCount = 8
	cfg.Audio.SerialPort = "/dev/rfcomm0"
	cfg.Capture.Enabled = true
	cfg.Capture.DBPath = "/tmp/capture.sqlite"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AppConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg: AppConfig{
				Connection: ConnectionConfig{
					BluetoothAddress: "AA:BB:CC:DD:EE:FF",
					ChannelCount:     32,
				},
			},
		},
		{
			name: "missing bluetooth address",
			cfg: AppConfig{
				Connection: ConnectionConfig{ChannelCount: 32},
			},
			wantErr: true,
		},
		{
			name: "channel count out of range",
			cfg: AppConfig{
				Connection: ConnectionConfig{
					BluetoothAddress: "AA:BB:CC:DD:EE:FF",
					ChannelCount:     300,
				},
			},
			wantErr: true,
		},
		{
			name: "serial port without baud",
			cfg: AppConfig{
				Connection: ConnectionConfig{
					BluetoothAddress: "AA:BB:CC:DD:EE:FF",
					ChannelCount:     32,
				},
				Audio: AudioConfig{SerialPort: "/dev/rfcomm0"},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		err := tc.cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: expected no error, got %v", tc.name, err)
		}
	}
}
