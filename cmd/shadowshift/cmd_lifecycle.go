package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/shadowshift/internal/poller"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

// errNotRunning means no live daemon owns the PID file.
var errNotRunning = errors.New("shadowshift is not running")

// pidFile records the serve process id under the data dir.
type pidFile string

func (p pidFile) write() error {
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func (p pidFile) remove() { os.Remove(string(p)) }

// live returns the recorded process when it still exists. A file left behind
// by a crashed daemon is removed.
func (p pidFile) live() (*os.Process, error) {
	data, err := os.ReadFile(string(p))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("PID file %s is corrupt: %q", p, strings.TrimSpace(string(data)))
	}
	proc, err := os.FindProcess(pid)
	if err == nil {
		err = proc.Signal(syscall.Signal(0))
	}
	if err != nil {
		p.remove()
		return nil, fmt.Errorf("%w (removed stale PID file for %d)", errNotRunning, pid)
	}
	return proc, nil
}

func signalDaemon(cmd *cobra.Command, sig syscall.Signal, verb string) error {
	cfg := loadConfig()
	proc, err := pidFile(cfg.PIDPath()).live()
	if err != nil {
		return err
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("send %v to %d: %w", sig, proc.Pid, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Asked shadowshift (PID %d) to %s.\n", proc.Pid, verb)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(cmd, syscall.SIGTERM, "stop")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Re-exec the running daemon, picking up config changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(cmd, syscall.SIGHUP, "restart")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon runs and its last poll cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()

		proc, err := pidFile(cfg.PIDPath()).live()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "shadowshift running (PID %d)\n", proc.Pid)

		if !cfg.HTTP.Enabled {
			fmt.Fprintln(out, "http disabled, poll stats unavailable")
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		stats, err := fetchPollStats(ctx, "http://"+cfg.HTTP.Listen)
		if err != nil {
			return err
		}
		if stats.Status == poller.StatusIdle {
			fmt.Fprintln(out, "no poll cycle yet")
			return nil
		}
		printStats(out, stats)
		return nil
	},
}

// fetchPollStats reads GET /poll/stats from a running daemon.
func fetchPollStats(ctx context.Context, base string) (poller.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/poll/stats", nil)
	if err != nil {
		return poller.Stats{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return poller.Stats{}, fmt.Errorf("query daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return poller.Stats{}, fmt.Errorf("query daemon: %s", resp.Status)
	}
	var stats poller.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return poller.Stats{}, fmt.Errorf("decode poll stats: %w", err)
	}
	return stats, nil
}
