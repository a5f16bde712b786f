package main

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/playsafesec/upgradeboard/internal/config"
	"github.com/playsafesec/upgradeboard/internal/tui"
)

const (
	daemonStartTimeout = 5 * time.Second
	daemonProbeEvery   = 250 * time.Millisecond
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive dashboard",
	Long:  `Opens the terminal dashboard. A daemon is started in the background when none answers at --api.`,
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	probe := tui.NewClient(apiAddr)
	if ok, _ := probe.CheckHealth(); !ok {
		fmt.Println("⚡ upgradeboard daemon not running. Starting background service...")
		if err := startDaemon(probe); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// startDaemon launches "upgradeboard daemon" detached from the terminal, with
// its output appended to ~/.upgradeboard/daemon.log, and waits for /health.
func startDaemon(probe *tui.Client) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.Dir(), 0o755); err != nil {
		return err
	}
	logPath := filepath.Join(config.Dir(), "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	// Listen where the TUI will look for it.
	args := []string{"daemon"}
	if u, err := url.Parse(apiAddr); err == nil && u.Host != "" {
		args = append(args, "--listen", u.Host)
	}
	cmd := exec.Command(exe, args...)
	configureDaemonProc(cmd)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap the child if it exits early.
	go cmd.Wait()

	fmt.Print("   Waiting for daemon...")
	deadline := time.Now().Add(daemonStartTimeout)
	for time.Now().Before(deadline) {
		if ok, _ := probe.CheckHealth(); ok {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(daemonProbeEvery)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s (see %s)", apiAddr, logPath)
}
