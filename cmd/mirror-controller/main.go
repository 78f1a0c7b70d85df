package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanternops/devicemirror/internal/clientconn"
	"github.com/lanternops/devicemirror/internal/controller"
	"github.com/lanternops/devicemirror/internal/logging"
	"github.com/lanternops/devicemirror/internal/mirrorconfig"
	"github.com/lanternops/devicemirror/internal/mirrordiscovery"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "mirror-controller",
	Short: "Multi-device screen-mirroring controller",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover devices and bring up streaming sessions for all of them",
	Run: func(cmd *cobra.Command, args []string) {
		runController()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mirror-controller v%s\n", version)
	},
}

var logFileFlag string

func init() {
	runCmd.Flags().StringVar(&logFileFlag, "log-file", "", "rotate logs to this file in addition to stdout")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging, rotating to settings.LogFile in
// addition to stdout when one is configured.
func initLogging(settings *mirrorconfig.ControllerSettings) {
	var output io.Writer
	if settings.LogFile != "" {
		rw, err := logging.NewRotatingWriter(settings.LogFile, settings.LogMaxSizeMB, settings.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout only)\n", settings.LogFile, err)
		} else {
			output = rw
		}
	}
	logging.Init("text", "info", output)
}

func runController() {
	settings, err := mirrorconfig.LoadControllerSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
		os.Exit(1)
	}

	settings.LogFile = logFileFlag
	initLogging(settings)
	log = logging.L("main")
	log.Info("starting mirror-controller", "version", version)

	registry, err := controller.NewRegistry("")
	if err != nil {
		log.Error("failed to open device registry", "error", err)
		os.Exit(1)
	}

	manager := controller.NewManager()

	discoveryRegistry := mirrordiscovery.NewRegistry(
		time.Duration(settings.LivenessTimeoutMs)*time.Millisecond,
		func(peer mirrordiscovery.DiscoveredPeer) {
			log.Info("device discovered", "deviceId", peer.DeviceID, "address", peer.Address)
			_ = registry.Put(controller.DeviceRecord{
				DeviceID: peer.DeviceID,
				Address:  peer.Address,
				Name:     peer.Model,
			})
			go bringUpDevice(manager, peer, settings)
		},
		func(deviceID string) {
			log.Info("device went offline", "deviceId", deviceID)
			if sess, ok := manager.Session(deviceID); ok {
				_ = sess.Stop(context.Background())
			}
		},
	)
	discoveryRegistry.StartPruning()
	defer discoveryRegistry.StopPruning()

	requester, err := mirrordiscovery.NewRequester(
		mirrordiscovery.DefaultDiscoveryPort,
		time.Duration(settings.DiscoveryIntervalMs)*time.Millisecond,
		discoveryRegistry,
	)
	if err != nil {
		log.Error("failed to start discovery requester", "error", err)
		os.Exit(1)
	}
	requester.Start()
	defer requester.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)
	<-stop

	log.Info("shutdown signal received, stopping all sessions")
	manager.StopAll(context.Background())
}

// bringUpDevice deploys and connects to a newly-discovered device,
// following §4.8's Idle -> Deploying -> Launching -> Connecting ->
// Streaming sequence.
func bringUpDevice(manager *controller.Manager, peer mirrordiscovery.DiscoveredPeer, settings *mirrorconfig.ControllerSettings) {
	mx := manager.EnsureMetrics(peer.DeviceID)
	connector := controller.NewClientConnConnector(clientconn.Config{
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    time.Duration(settings.HeartbeatIntervalMs) * time.Millisecond,
		MaxReconnectAttempts: settings.MaxReconnectAttempts,
		ReconnectDelay:       time.Duration(settings.ReconnectDelayMs) * time.Millisecond,
	}, mx)

	deployer := controller.NewADBDeployer(settings.ADBPath, "./mirror-server")
	session := manager.Register(peer.DeviceID, deployer, connector)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	arch, err := controller.ProbeArch(ctx)
	if err != nil {
		log.Warn("architecture probe failed", "deviceId", peer.DeviceID, "error", err)
	}

	if err := session.StartStreaming(ctx, peer.Address, arch); err != nil {
		log.Error("bring-up failed", "deviceId", peer.DeviceID, "error", err)
		return
	}
	log.Info("device streaming", "deviceId", peer.DeviceID, "port", session.Port())
}
