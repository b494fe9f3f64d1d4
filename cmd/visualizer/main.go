package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guidoenr/rgbvis/internal/app"
	"github.com/guidoenr/rgbvis/internal/audio"
	"github.com/guidoenr/rgbvis/internal/config"
	applog "github.com/guidoenr/rgbvis/internal/log"
	"github.com/guidoenr/rgbvis/internal/netsync"
	"github.com/guidoenr/rgbvis/internal/web"
)

type runOptions struct {
	configPath  string
	deviceName  string
	audioFile   string
	loop        bool
	noAudio     bool
	synthetic   bool
	server      string
	client      string
	preview     string
	webAddress  string
	profilePath string
	debug       bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "visualizer",
		Short:         "Audio spectrum visualizer for RGB lighting",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.AddCommand(newRunCmd(), newDevicesCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture audio and drive the configured lighting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default rgbvis.yaml or config.yaml if present)")
	flags.StringVarP(&opts.deviceName, "audio-device", "d", "", "Audio input device name (substring match)")
	flags.StringVar(&opts.audioFile, "audio-file", "", "Play a wav, mp3 or ogg file instead of capturing")
	flags.BoolVar(&opts.loop, "loop", false, "Restart --audio-file at its end")
	flags.BoolVar(&opts.noAudio, "no-audio", false, "Run on silence")
	flags.BoolVar(&opts.synthetic, "synthetic", false, "Run on a generated test signal")
	flags.StringVar(&opts.server, "server", "", "Serve settings to other instances on this address")
	flags.StringVar(&opts.client, "client", "", "Follow the settings of the instance at this address")
	flags.StringVarP(&opts.preview, "preview", "p", "", "Local preview: none, term or sdl")
	flags.StringVar(&opts.webAddress, "web", "", "Serve the web control surface on this address")
	flags.StringVar(&opts.profilePath, "profile", "", "Append render timings to this CSV file")
	flags.BoolVarP(&opts.debug, "debug", "v", false, "Enable verbose logging")
	cmd.MarkFlagsMutuallyExclusive("server", "client")
	cmd.MarkFlagsMutuallyExclusive("audio-file", "no-audio", "synthetic")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize PortAudio: %w", err)
			}
			defer audio.Terminate()

			devices, err := audio.ListDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n=== Audio Input Devices ===\n\n")
			for _, dev := range audio.Inputs(devices) {
				markers := ""
				if dev.IsDefaultInput {
					markers += " (default)"
				}
				fmt.Fprintf(out, "- %s [%s]%s\n    inputs:%d outputs:%d sample:%.0f Hz\n",
					dev.Name, dev.HostAPI, markers, dev.MaxInput, dev.MaxOutput, dev.DefaultSampleHz)
			}
			return nil
		},
	}
}

// applyFlags lays the command line over the loaded configuration.
func applyFlags(cfg *config.Config, opts runOptions) {
	if opts.debug {
		cfg.LogLevel = "debug"
	}
	if opts.deviceName != "" {
		cfg.Audio.Device = opts.deviceName
	}
	if opts.audioFile != "" {
		cfg.Audio.File = opts.audioFile
		cfg.Audio.Loop = opts.loop
	}
	if opts.noAudio {
		cfg.Audio.Disabled = true
	}
	if opts.synthetic {
		cfg.Audio.Synthetic = true
	}
	if opts.server != "" {
		cfg.Net.Mode = netsync.Server.String()
		cfg.Net.Address = opts.server
	}
	if opts.client != "" {
		cfg.Net.Mode = netsync.Client.String()
		cfg.Net.Address = opts.client
	}
	if opts.preview != "" {
		cfg.Preview.Mode = opts.preview
	}
	if opts.webAddress != "" {
		cfg.Web.Enabled = true
		cfg.Web.Address = opts.webAddress
	}
	if opts.profilePath != "" {
		cfg.Profile = opts.profilePath
	}
}

func appConfig(cfg *config.Config) (app.Config, error) {
	mode, err := netsync.ParseMode(cfg.Net.Mode)
	if err != nil {
		return app.Config{}, err
	}
	return app.Config{
		Audio: audio.Config{
			DeviceName: cfg.Audio.Device,
			File:       cfg.Audio.File,
			Loop:       cfg.Audio.Loop,
			Synthetic:  cfg.Audio.Synthetic,
			Silent:     cfg.Audio.Disabled,
			BufferSize: cfg.Audio.BufferSize,
			Channels:   cfg.Audio.Channels,
		},
		RenderFPS:    cfg.RenderFPS,
		LEDFPS:       cfg.LEDFPS,
		PushTimeout:  cfg.PushTimeout,
		Settings:     cfg.Settings,
		Endpoints:    cfg.Endpoints,
		NetMode:      mode,
		NetAddress:   cfg.Net.Address,
		ReconnectMin: cfg.Net.ReconnectMin,
		ReconnectMax: cfg.Net.ReconnectMax,
		ProfilePath:  cfg.Profile,
	}, nil
}

func run(parent context.Context, opts runOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := applog.ParseLevel(cfg.LogLevel)
	applog.SetLevel(level)

	acfg, err := appConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(acfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}

	if cfg.Web.Enabled {
		savePath := cfg.Path
		if savePath == "" {
			savePath = "rgbvis.yaml"
		}
		srv := web.NewServer(a, savePath)
		srv.WatchRegistry(ctx)
		go func() {
			if err := srv.Start(ctx, cfg.Web.Address); err != nil {
				applog.Errorf("web: %v", err)
			}
		}()
	}

	mode := app.PreviewMode(cfg.Preview.Mode)
	if mode == app.PreviewTerminal || mode == app.PreviewSDL {
		previewCtx, stopPreview := context.WithCancel(ctx)
		go func() {
			<-a.Done()
			stopPreview()
		}()
		err := a.RunPreview(previewCtx, mode, cfg.Preview.Scale)
		stopPreview()
		if err != nil && !errors.Is(err, context.Canceled) {
			applog.Errorf("preview: %v", err)
		}
	} else {
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
	}

	if err := a.Shutdown(); err != nil && !errors.Is(err, app.ErrNotRunning) {
		return err
	}
	// reports a task that failed on its own
	return a.Wait()
}
