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

	"github.com/spf13/cobra"
)

var errNotRunning = errors.New("wosafety is not running")

func init() {
	stopCmd.Flags().Duration("wait", 10*time.Second, "how long to wait for the daemon to exit (0 returns at once)")
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

func pidPath() string {
	return filepath.Join(loadConfig().DataDir, pidFileName)
}

// daemonPID returns the PID recorded by serve if that process is alive.
// A PID file left behind by a crashed daemon is removed.
func daemonPID() (int, error) {
	path := pidPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, errNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s is corrupt", path)
	}
	if !alive(pid) {
		os.Remove(path)
		return 0, fmt.Errorf("%w (removed stale pid file for %d)", errNotRunning, pid)
	}
	return pid, nil
}

// alive probes pid with signal 0.
func alive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// signalDaemon sends sig to the running daemon.
func signalDaemon(sig syscall.Signal) (int, error) {
	pid, err := daemonPID()
	if err != nil {
		return 0, err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return 0, fmt.Errorf("send %s to %d: %w", sig, pid, err)
	}
	return pid, nil
}

// waitExit polls until pid is gone or d elapses.
func waitExit(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for alive(pid) {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
	return true
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGTERM)
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Asked wosafety (pid %d) to stop.\n", pid)
			return nil
		}
		if !waitExit(pid, wait) {
			return fmt.Errorf("wosafety (pid %d) still running after %s", pid, wait)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wosafety (pid %d) stopped.\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon, reloading config and schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Asked wosafety (pid %d) to restart.\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and its API answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		pid, err := daemonPID()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "daemon:  running (pid %d)\n", pid)

		cfg := loadConfig()
		if !cfg.HTTP.Enabled {
			fmt.Fprintln(out, "http:    disabled")
			return nil
		}
		fmt.Fprintf(out, "http:    %s\n", probeHealth(cmd.Context(), "http://"+cfg.HTTP.Listen+"/health"))
		return nil
	},
}

func probeHealth(ctx context.Context, url string) string {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "unreachable (" + err.Error() + ")"
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "unreachable (" + err.Error() + ")"
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)
	}
	return "ok " + url
}
