package controller

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// ArchInfo is the probed device architecture used to select a matching
// server binary + companion shared library (§4.8).
type ArchInfo struct {
	OS           string
	Architecture string
	Platform     string
}

// ProbeArch queries the controller host's own architecture, standing in
// for the real over-the-wire device probe: the spec's device-side OS
// shell invocation is an external collaborator this repo does not own
// (§1), so Deployer implementations swap in the real remote probe while
// this default documents the shape expected of one.
func ProbeArch(ctx context.Context) (ArchInfo, error) {
	info := ArchInfo{OS: runtime.GOOS, Architecture: runtime.GOARCH}
	hostInfo, err := host.InfoWithContext(ctx)
	if err == nil {
		info.Platform = hostInfo.Platform
	}
	return info, nil
}

// Deployer pushes, starts, probes, and stops the remote mirror-server
// binary on a device. The production implementation runs these steps
// over ADB or an equivalent device transport (the spec's external
// "device-side OS shell invocation" collaborator, §1); this file holds the
// interface plus a readiness-polling helper, and ADBDeployer
// (adbdeployer.go) is the adb-backed implementation.
type Deployer interface {
	// Push copies the server binary and its companion shared library
	// (selected for arch) to a known path on the device.
	Push(ctx context.Context, deviceID string, arch ArchInfo) error
	// Start launches the server binary detached, bound to port, with
	// logs redirected to a device-local file.
	Start(ctx context.Context, deviceID string, port int) error
	// Probe reports whether the server process is currently running.
	Probe(ctx context.Context, deviceID string) (bool, error)
	// TailLog returns the last lines of the server's log file, used for
	// diagnostics when Probe fails to observe readiness.
	TailLog(ctx context.Context, deviceID string, lines int) (string, error)
	// Stop kills the server process by name.
	Stop(ctx context.Context, deviceID string) error
}

// readinessTimeout bounds how long BringUp waits for Probe to return true
// after Start (§4.8: "wait up to ≈3 s").
const readinessTimeout = 3 * time.Second

// BringUp drives the full remote-server bring-up sequence: push, start,
// then poll Probe until it succeeds or readinessTimeout elapses. On
// failure it appends the tail of the remote log for diagnostics.
func BringUp(ctx context.Context, d Deployer, deviceID string, arch ArchInfo, port int) error {
	if err := d.Push(ctx, deviceID, arch); err != nil {
		return fmt.Errorf("controller: push to %s: %w", deviceID, err)
	}
	if err := d.Start(ctx, deviceID, port); err != nil {
		return fmt.Errorf("controller: start on %s: %w", deviceID, err)
	}

	deadline := time.Now().Add(readinessTimeout)
	for {
		ok, err := d.Probe(ctx, deviceID)
		if err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			tail, _ := d.TailLog(ctx, deviceID, 50)
			return fmt.Errorf("controller: server on %s did not become ready within %s, log tail: %s", deviceID, readinessTimeout, tail)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
