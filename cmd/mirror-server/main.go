package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanternops/devicemirror/internal/capture"
	"github.com/lanternops/devicemirror/internal/logging"
	"github.com/lanternops/devicemirror/internal/mirrorconfig"
	"github.com/lanternops/devicemirror/internal/mirrordiscovery"
	"github.com/lanternops/devicemirror/internal/mirrorserver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version  = "0.1.0"
	deviceID string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "mirror-server",
	Short: "Device-side screen mirroring and remote-control server",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the streaming server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mirror-server v%s\n", version)
	},
}

func init() {
	v := viper.New()
	mirrorconfig.BindServerFlags(runCmd.Flags(), v)
	runCmd.Flags().StringVar(&deviceID, "device-id", "", "stable identifier for this device (defaults to hostname)")
	viperInstance = v

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// viperInstance is captured at init time so runServer can read the same
// instance runCmd's flags were bound to.
var viperInstance *viper.Viper

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config, rotating to
// cfg.LogFile in addition to stdout when one is configured.
func initLogging(cfg *mirrorconfig.ServerConfig) {
	var output io.Writer
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout only)\n", cfg.LogFile, err)
		} else {
			output = rw
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
}

func runServer() {
	cfg, err := mirrorconfig.LoadServerConfig(viperInstance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	log = logging.L("main")

	id := deviceID
	if id == "" {
		if host, err := os.Hostname(); err == nil {
			id = host
		} else {
			id = cfg.DeviceName
		}
	}

	log.Info("starting mirror-server",
		"version", version,
		"deviceId", id,
		"port", cfg.Port,
		"discoveryPort", cfg.DiscoveryPort,
	)

	info := mirrorserver.DeviceInfo{
		DeviceID:     id,
		DeviceName:   cfg.DeviceName,
		DeviceModel:  cfg.DeviceName,
		ScreenWidth:  cfg.Width,
		ScreenHeight: cfg.Height,
	}

	session := mirrorserver.New(cfg, info, log)

	encoder := capture.NewSoftwareEncoder(cfg.BitrateBps, cfg.FPS, 30)
	pipeline := mirrorserver.NewHubPipeline(encoder, session.Hub())
	session.AttachPipeline(pipeline)

	if err := session.Initialize(); err != nil {
		log.Error("initialize failed", "error", err)
		os.Exit(1)
	}
	if err := session.Start(); err != nil {
		log.Error("start failed", "error", err)
		os.Exit(1)
	}

	responder, err := mirrordiscovery.NewResponder(cfg.DiscoveryPort, func() mirrordiscovery.Response {
		return mirrordiscovery.Response{
			DeviceID:     id,
			DeviceName:   cfg.DeviceName,
			ScreenWidth:  cfg.Width,
			ScreenHeight: cfg.Height,
			ServerPort:   cfg.Port,
		}
	})
	if err != nil {
		log.Warn("discovery responder failed to start, device will not be auto-discoverable", "error", err)
	} else {
		responder.Start()
		defer responder.Stop()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)

	stopGrab := startFrameGrabber(pipeline, cfg)
	defer close(stopGrab)

	<-stop
	log.Info("shutdown signal received, stopping")
	if err := session.Stop(); err != nil {
		log.Error("stop failed", "error", err)
	}
}

// startFrameGrabber drives the capture pipeline at cfg.FPS. The real
// on-device screen grab (MediaProjection / SurfaceControl capture) is an
// external platform collaborator this repo does not own; this loop feeds
// the pipeline placeholder frames of the configured resolution so the rest
// of the capture→encode→fan-out path runs end to end.
func startFrameGrabber(pipeline *capture.Pipeline, cfg *mirrorconfig.ServerConfig) chan struct{} {
	stop := make(chan struct{})
	frameSize := cfg.Width * cfg.Height * 4

	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(maxInt(cfg.FPS, 1)))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				pipeline.Enqueue(capture.EncoderInput{
					FrameBytes: make([]byte, frameSize),
					Width:      cfg.Width,
					Height:     cfg.Height,
					CaptureTS:  now,
				})
			}
		}
	}()
	return stop
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
