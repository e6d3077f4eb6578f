package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrServerNotRunning indicates no live server process was found
var ErrServerNotRunning = errors.New("server is not running")

// pidFilePath returns the location of the server PID file
func pidFilePath() string {
	if path := os.Getenv("ARMATURE_PID_FILE"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "armature.pid")
	}
	return filepath.Join(home, ".armature", "server.pid")
}

func stopServer(pidFile string) error {
	pid, err := readPIDFromFile(pidFile)
	if err != nil {
		return ErrServerNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	// SIGTERM triggers the server's graceful shutdown path
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidFile)
		return ErrServerNotRunning
	}

	for range 10 {
		if !isProcessRunning(pid) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if isProcessRunning(pid) {
		_ = process.Kill()
	}

	removePIDFile(pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// savePID atomically writes the current PID, refusing when a live server
// already owns the file
func savePID(pid int, pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	file, err := os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create PID file %s: %w", pidFile, err)
		}
		existingPID, readErr := readPIDFromFile(pidFile)
		if readErr == nil && isProcessRunning(existingPID) {
			return fmt.Errorf("server already running with PID %d (pid file: %s)", existingPID, pidFile)
		}
		// Stale PID file, remove and retry once
		_ = os.Remove(pidFile)
		file, err = os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
		if err != nil {
			return fmt.Errorf("failed to create PID file %s after removing stale file: %w", pidFile, err)
		}
	}
	defer func() { _ = file.Close() }()

	if _, err := fmt.Fprintf(file, "%d\n", pid); err != nil {
		_ = os.Remove(pidFile)
		return fmt.Errorf("failed to write PID: %w", err)
	}
	return nil
}

func readPIDFromFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile) // #nosec G304 - pidFile path is from config
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file %s: %w", pidFile, err)
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID from file %s (content: %q): %w", pidFile, pidStr, err)
	}
	return pid, nil
}

func removePIDFile(pidFile string) {
	_ = os.Remove(pidFile)
}

// checkServerHealth probes the health endpoint of a local server
func checkServerHealth(port int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d/api/v1/system/health", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("health endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
