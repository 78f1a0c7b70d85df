package controller

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// remoteBinDir is the on-device path the server binary is pushed to.
const remoteBinDir = "/data/local/tmp/mirror-server"
const remoteLogPath = remoteBinDir + "/server.log"

// ADBDeployer implements Deployer over adb, the bounded-subprocess
// collaborator described in §1 for reaching a device's shell, mirrored on
// internal/executor's context-bounded exec.CommandContext pattern rather
// than a hand-rolled process wrapper.
type ADBDeployer struct {
	adbPath    string
	localAsset string // path to the locally-built server binary for the device's arch
	timeout    time.Duration
}

// NewADBDeployer builds a Deployer that shells out to adbPath (e.g. "adb")
// to push localAsset and drive it on each device.
func NewADBDeployer(adbPath, localAsset string) *ADBDeployer {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &ADBDeployer{adbPath: adbPath, localAsset: localAsset, timeout: 10 * time.Second}
}

func (d *ADBDeployer) run(ctx context.Context, deviceID string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	full := append([]string{"-s", deviceID}, args...)
	cmd := exec.CommandContext(ctx, d.adbPath, full...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Push copies the single local asset to the device as the server binary and
// marks it executable. arch is not used: the same asset is pushed for every
// architecture, and no companion shared library is pushed.
func (d *ADBDeployer) Push(ctx context.Context, deviceID string, arch ArchInfo) error {
	if _, err := d.run(ctx, deviceID, "shell", "mkdir", "-p", remoteBinDir); err != nil {
		return fmt.Errorf("controller: mkdir on %s: %w", deviceID, err)
	}
	if out, err := d.run(ctx, deviceID, "push", d.localAsset, remoteBinDir+"/mirror-server"); err != nil {
		return fmt.Errorf("controller: push binary to %s: %w (%s)", deviceID, err, out)
	}
	if _, err := d.run(ctx, deviceID, "shell", "chmod", "755", remoteBinDir+"/mirror-server"); err != nil {
		return fmt.Errorf("controller: chmod on %s: %w", deviceID, err)
	}
	return nil
}

func (d *ADBDeployer) Start(ctx context.Context, deviceID string, port int) error {
	launch := fmt.Sprintf("cd %s && nohup ./mirror-server run --port %d > %s 2>&1 &", remoteBinDir, port, remoteLogPath)
	if out, err := d.run(ctx, deviceID, "shell", launch); err != nil {
		return fmt.Errorf("controller: start server on %s: %w (%s)", deviceID, err, out)
	}
	return nil
}

func (d *ADBDeployer) Probe(ctx context.Context, deviceID string) (bool, error) {
	out, err := d.run(ctx, deviceID, "shell", "pgrep", "-f", "mirror-server")
	if err != nil {
		return false, nil // pgrep exits non-zero when no match; not a hard error
	}
	return strings.TrimSpace(out) != "", nil
}

func (d *ADBDeployer) TailLog(ctx context.Context, deviceID string, lines int) (string, error) {
	out, err := d.run(ctx, deviceID, "shell", "tail", fmt.Sprintf("-n%d", lines), remoteLogPath)
	if err != nil {
		return "", fmt.Errorf("controller: tail log on %s: %w", deviceID, err)
	}
	return out, nil
}

func (d *ADBDeployer) Stop(ctx context.Context, deviceID string) error {
	if out, err := d.run(ctx, deviceID, "shell", "pkill", "-f", "mirror-server"); err != nil {
		return fmt.Errorf("controller: stop server on %s: %w (%s)", deviceID, err, out)
	}
	return nil
}
