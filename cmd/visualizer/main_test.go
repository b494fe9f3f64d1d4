package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/rgbvis/internal/config"
	"github.com/guidoenr/rgbvis/internal/netsync"
)

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(&cfg, runOptions{
		debug:      true,
		audioFile:  "song.mp3",
		loop:       true,
		client:     "10.0.0.2:1337",
		preview:    "term",
		webAddress: "127.0.0.1:9000",
	})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "song.mp3", cfg.Audio.File)
	assert.True(t, cfg.Audio.Loop)
	assert.Equal(t, "client", cfg.Net.Mode)
	assert.Equal(t, "10.0.0.2:1337", cfg.Net.Address)
	assert.Equal(t, "term", cfg.Preview.Mode)
	assert.True(t, cfg.Web.Enabled)

	acfg, err := appConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, netsync.Client, acfg.NetMode)
	assert.Equal(t, "song.mp3", acfg.Audio.File)
	assert.Equal(t, cfg.Settings, acfg.Settings)
}

func TestApplyFlagsKeepsFileValues(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Device = "monitor"
	applyFlags(&cfg, runOptions{})
	assert.Equal(t, "monitor", cfg.Audio.Device)
	assert.Equal(t, "disabled", cfg.Net.Mode)
	assert.False(t, cfg.Web.Enabled)
}

func TestRunRejectsConflictingFlags(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "--server", ":1337", "--client", "host:1337"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server")
}

func TestCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "devices")
}
