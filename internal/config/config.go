// Package config loads the visualizer configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guidoenr/rgbvis/internal/device"
	applog "github.com/guidoenr/rgbvis/internal/log"
	"github.com/guidoenr/rgbvis/internal/netsync"
	"github.com/guidoenr/rgbvis/internal/settings"
)

const (
	DefaultRenderFPS   = 60
	DefaultLEDFPS      = 30
	DefaultPushTimeout = 100 * time.Millisecond
	DefaultNetAddress  = "0.0.0.0:1337"
	DefaultWebAddress  = "127.0.0.1:8080"
	MaxFPS             = 240
)

// Config is the whole runtime configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`    // debug, info, warn, error
	RenderFPS   float64           `yaml:"render_fps"`   // render task rate
	LEDFPS      float64           `yaml:"led_fps"`      // LED push task rate
	PushTimeout time.Duration     `yaml:"push_timeout"` // per-controller push bound
	Profile     string            `yaml:"profile"`      // CSV file for render timings, empty disables
	Audio       AudioConfig       `yaml:"audio"`
	Settings    settings.Settings `yaml:"settings"`
	Endpoints   []device.Endpoint `yaml:"endpoints"`
	Net         NetConfig         `yaml:"net"`
	Web         WebConfig         `yaml:"web"`
	Preview     PreviewConfig     `yaml:"preview"`

	// Path is the file the config was read from, if any.
	Path string `yaml:"-"`
}

// AudioConfig selects the audio source.
type AudioConfig struct {
	Device     string `yaml:"device"`      // substring of the input device name, empty for auto
	File       string `yaml:"file"`        // wav, mp3 or ogg to play instead of capturing
	Loop       bool   `yaml:"loop"`        // restart File at its end
	Synthetic  bool   `yaml:"synthetic"`   // generated test signal
	Disabled   bool   `yaml:"disabled"`    // silence
	BufferSize int    `yaml:"buffer_size"` // capture ring in samples
	Channels   int    `yaml:"channels"`    // capture channels, downmixed to mono
}

// NetConfig configures settings sync between instances.
type NetConfig struct {
	Mode         string        `yaml:"mode"`    // disabled, server, client
	Address      string        `yaml:"address"` // listen address or server to follow
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// WebConfig configures the HTTP control surface.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// PreviewConfig configures the on-screen preview of the output image.
type PreviewConfig struct {
	Mode  string `yaml:"mode"`  // none, term, sdl
	Scale int    `yaml:"scale"` // sdl pixel scale
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		RenderFPS:   DefaultRenderFPS,
		LEDFPS:      DefaultLEDFPS,
		PushTimeout: DefaultPushTimeout,
		Audio: AudioConfig{
			BufferSize: 4096,
			Channels:   2,
		},
		Settings: settings.Defaults(),
		Net: NetConfig{
			Mode:         "disabled",
			Address:      DefaultNetAddress,
			ReconnectMin: 250 * time.Millisecond,
			ReconnectMax: 10 * time.Second,
		},
		Web: WebConfig{
			Enabled: false,
			Address: DefaultWebAddress,
		},
		Preview: PreviewConfig{Mode: "none", Scale: 4},
	}
}

// searchPaths are tried in order when no path is given.
var searchPaths = []string{"rgbvis.yaml", "config.yaml"}

// LoadConfig reads path, or the first file in searchPaths when path is empty,
// over the defaults. With no file at all the defaults are used. Environment
// overrides are applied last, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range searchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.Path = path
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.RenderFPS <= 0 || c.RenderFPS > MaxFPS {
		errs = append(errs, fmt.Errorf("render_fps %.1f must be in (0, %d]", c.RenderFPS, MaxFPS))
	}
	if c.LEDFPS <= 0 || c.LEDFPS > MaxFPS {
		errs = append(errs, fmt.Errorf("led_fps %.1f must be in (0, %d]", c.LEDFPS, MaxFPS))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("push_timeout must be positive"))
	}
	if c.Audio.BufferSize < 0 || c.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio buffer_size and channels must not be negative"))
	}
	if err := c.Settings.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("settings: %w", err))
	}
	for i, ep := range c.Endpoints {
		if ep.Address == "" {
			errs = append(errs, fmt.Errorf("endpoints[%d]: address is required", i))
		}
		if len(ep.Controllers) == 0 {
			errs = append(errs, fmt.Errorf("endpoints[%d]: at least one controller is required", i))
		}
		if _, err := ep.Serial.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("endpoints[%d]: %w", i, err))
		}
	}
	mode, err := netsync.ParseMode(c.Net.Mode)
	if err != nil {
		errs = append(errs, err)
	} else if mode != netsync.Disabled {
		if _, err := netsync.ParseAddress(c.Net.Address); err != nil {
			errs = append(errs, fmt.Errorf("net.address: %w", err))
		}
	}
	if c.Net.ReconnectMin <= 0 || c.Net.ReconnectMax < c.Net.ReconnectMin {
		errs = append(errs, fmt.Errorf("net reconnect_min must be positive and not above reconnect_max"))
	}
	if c.Web.Enabled && c.Web.Address == "" {
		errs = append(errs, fmt.Errorf("web.address is required when web is enabled"))
	}
	switch c.Preview.Mode {
	case "", "none", "term", "sdl":
	default:
		errs = append(errs, fmt.Errorf("preview.mode %q is not one of none, term, sdl", c.Preview.Mode))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides applies RGBVIS_* variables on top of the file values.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("RGBVIS_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Debugf("config: log_level from env: %s", val)
	}
	if val, ok := os.LookupEnv("RGBVIS_NET_MODE"); ok {
		c.Net.Mode = val
		applog.Debugf("config: net.mode from env: %s", val)
	}
	if val, ok := os.LookupEnv("RGBVIS_NET_ADDRESS"); ok {
		c.Net.Address = val
		applog.Debugf("config: net.address from env: %s", val)
	}
	if val, ok := os.LookupEnv("RGBVIS_WEB_ADDRESS"); ok {
		c.Web.Address = val
		c.Web.Enabled = val != ""
		applog.Debugf("config: web.address from env: %s", val)
	}
}
