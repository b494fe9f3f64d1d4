package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/rgbvis/internal/device"
	"github.com/guidoenr/rgbvis/internal/settings"
)

func deviceEndpoint(addr string) device.Endpoint {
	return device.Endpoint{
		Address:     addr,
		Controllers: []device.ControllerSpec{{Name: "strip", Zones: []device.ZoneSpec{{Type: "linear", Width: 10}}}},
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rgbvis.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
render_fps: 50
push_timeout: 250ms
audio:
  device: monitor
settings:
  bkgd_bright: 40
  avg_mode: exponential
  window_mode: blackman
endpoints:
  - address: udp://192.168.1.20:21324
    controllers:
      - name: desk
        zones:
          - type: linear
            width: 60
net:
  mode: client
  address: 192.168.1.2:1337
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 50.0, cfg.RenderFPS)
	assert.Equal(t, float64(DefaultLEDFPS), cfg.LEDFPS)
	assert.Equal(t, 250*time.Millisecond, cfg.PushTimeout)
	assert.Equal(t, "monitor", cfg.Audio.Device)
	assert.Equal(t, 40, cfg.Settings.BkgdBright)
	assert.Equal(t, settings.AvgExponential, cfg.Settings.AvgMode)
	assert.Equal(t, settings.WindowBlackman, cfg.Settings.WindowMode)
	// untouched settings keep their defaults
	assert.Equal(t, settings.Defaults().Decay, cfg.Settings.Decay)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, 60, cfg.Endpoints[0].Controllers[0].Zones[0].Width)
	assert.Equal(t, "client", cfg.Net.Mode)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "log_level: info\n")
	t.Setenv("RGBVIS_LOG_LEVEL", "debug")
	t.Setenv("RGBVIS_NET_MODE", "server")
	t.Setenv("RGBVIS_NET_ADDRESS", "127.0.0.1:4000")
	t.Setenv("RGBVIS_WEB_ADDRESS", "127.0.0.1:9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "server", cfg.Net.Mode)
	assert.Equal(t, "127.0.0.1:4000", cfg.Net.Address)
	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Web.Address)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"render fps", func(c *Config) { c.RenderFPS = 0 }, "render_fps"},
		{"led fps", func(c *Config) { c.LEDFPS = MaxFPS + 1 }, "led_fps"},
		{"push timeout", func(c *Config) { c.PushTimeout = 0 }, "push_timeout"},
		{"settings", func(c *Config) { c.Settings.Decay = 101 }, "settings"},
		{"net mode", func(c *Config) { c.Net.Mode = "relay" }, "net mode"},
		{"net address", func(c *Config) { c.Net.Mode = "client"; c.Net.Address = "nope" }, "net.address"},
		{"endpoint", func(c *Config) { c.Endpoints = append(c.Endpoints, deviceEndpoint("")) }, "address is required"},
		{"preview", func(c *Config) { c.Preview.Mode = "opengl" }, "preview.mode"},
		{"reconnect", func(c *Config) { c.Net.ReconnectMax = time.Millisecond }, "reconnect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveSettingsKeepsOtherSections(t *testing.T) {
	path := writeTempConfig(t, `# visualizer config
render_fps: 30
settings:
  decay: 10
web:
  enabled: true
  address: 127.0.0.1:8081
`)
	s := settings.Defaults()
	s.Decay = 55
	s.SingleColorMode = true
	require.NoError(t, SaveSettings(path, s))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.RenderFPS)
	assert.Equal(t, "127.0.0.1:8081", cfg.Web.Address)
	assert.Equal(t, s, cfg.Settings)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# visualizer config")
}

func TestSaveSettingsCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.yaml")
	s := settings.Defaults()
	s.BkgdBright = 77
	require.NoError(t, SaveSettings(path, s))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.Settings.BkgdBright)
}

func TestSaveSettingsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.yaml")
	s := settings.Defaults()
	s.Amplitude = -1
	assert.Error(t, SaveSettings(path, s))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
