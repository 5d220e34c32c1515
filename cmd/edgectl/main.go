// SPDX-License-Identifier: MIT

// Command edgectl is the operator CLI for the edge supervisor daemon: it
// validates configuration, reports live camera status from the running
// daemon's health endpoint, runs the diagnostics suite, checks for and
// installs new releases, and offers an interactive menu over all of the
// above.
//
// It favors the operations that make sense for fixed RTSP camera sources
// over hot-pluggable USB sound cards: validate/status/diagnose/update/menu
// survive, device enumeration and udev mapping do not.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/config"
	"github.com/CE-Thesis-2023/edge/internal/diagnostics"
	"github.com/CE-Thesis-2023/edge/internal/menu"
	"github.com/CE-Thesis-2023/edge/internal/updater"
)

var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const exitError = 1

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

// run is the entry point, extracted for testability.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "validate":
		return runValidate(commandArgs)
	case "status":
		return runStatus(commandArgs)
	case "diagnose":
		return runDiagnose(commandArgs)
	case "update":
		return runUpdate(commandArgs)
	case "menu":
		return runMenu(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'edgectl help' for usage)", command)
	}
}

func runHelp() error {
	fmt.Printf(`edgectl v%s

USAGE:
    edgectl [COMMAND] [OPTIONS]

COMMANDS:
    help                  Show this help message
    version               Show version information
    validate              Validate the configuration file
        --config=PATH     Path to config file (default: %s)
    status                Query the running daemon's health endpoint
        --addr=HOST:PORT  Health endpoint address (default: %s)
        --json            Output as JSON
    diagnose              Run the diagnostics suite
        --mode=MODE       quick, full, or debug (default: full)
        --config=PATH     Path to config file (default: %s)
    update                Check for, and optionally install, a new release
        --check           Only report whether an update is available
        --yes             Install without prompting for confirmation
    menu                  Interactive menu over the commands above

EXAMPLES:
    edgectl validate --config=/etc/edge/config.yaml
    edgectl status --json
    edgectl diagnose --mode=quick
    edgectl update --check
    edgectl menu
`, Version, config.ConfigFilePath, defaultHealthAddr, config.ConfigFilePath)
	return nil
}

func runVersion() error {
	fmt.Printf("edgectl version %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	return nil
}

func runValidate(args []string) error {
	configPath := config.ConfigFilePath
	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		}
	}

	fmt.Printf("Validating configuration: %s\n\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("Loaded %d camera configuration(s)\n", len(cfg.Cameras))

	if len(cfg.Cameras) > 0 {
		fmt.Println("\nConfigured cameras:")
		for name, cam := range cfg.Cameras {
			state := "enabled"
			if !cam.Enabled {
				state = "disabled"
			}
			fmt.Printf("  - %s (%s)\n", name, state)
		}
	}

	return nil
}

const defaultHealthAddr = "localhost:8080"

// healthResponse mirrors health.Response without importing net/http server
// plumbing into the CLI.
type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Services  []serviceStatus `json:"services"`
}

type serviceStatus struct {
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Healthy    bool    `json:"healthy"`
	Restarts   int     `json:"restarts,omitempty"`
	CameraFPS  float64 `json:"camera_fps,omitempty"`
	SkippedFPS float64 `json:"skipped_fps,omitempty"`
}

func runStatus(args []string) error {
	addr := defaultHealthAddr
	jsonOutput := false
	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--addr="):
			addr = strings.TrimPrefix(args[i], "--addr=")
		case args[i] == "--json" || args[i] == "-j":
			jsonOutput = true
		}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		return fmt.Errorf("query health endpoint at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}

	if jsonOutput {
		fmt.Println(string(body))
		return nil
	}

	var status healthResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("parse health response: %w", err)
	}

	fmt.Println("Edge Supervisor Status")
	fmt.Println("======================")
	fmt.Println()
	fmt.Printf("Overall: %s\n\n", status.Status)

	if len(status.Services) == 0 {
		fmt.Println("  (no cameras registered)")
		return nil
	}

	fmt.Println("Cameras:")
	for _, svc := range status.Services {
		fmt.Printf("  %-20s %-10s fps=%.1f skipped=%.1f restarts=%d\n",
			svc.Name, svc.State, svc.CameraFPS, svc.SkippedFPS, svc.Restarts)
	}

	return nil
}

func runUpdate(args []string) error {
	checkOnly := false
	assumeYes := false
	for _, a := range args {
		switch a {
		case "--check":
			checkOnly = true
		case "--yes", "-y":
			assumeYes = true
		}
	}

	u := updater.New(updater.WithCurrentVersion(Version))

	ctx := context.Background()
	info, err := u.CheckForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}

	fmt.Print(updater.FormatUpdateInfo(info))

	if !info.UpdateAvailable || checkOnly {
		return nil
	}

	if !assumeYes {
		fmt.Print("\nInstall this update? [y/N] ")
		var reply string
		_, _ = fmt.Scanln(&reply)
		if reply != "y" && reply != "Y" {
			fmt.Println("Update cancelled.")
			return nil
		}
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate running binary: %w", err)
	}

	fmt.Println("Downloading and installing update...")
	if err := u.Update(ctx, info, binaryPath, nil); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	fmt.Printf("Updated to %s. A backup of the previous binary was kept alongside it.\n", info.LatestVersion)
	return nil
}

func runMenu(args []string) error {
	root := menu.New("edgectl")

	root.AddItem(menuItem("1", "Validate configuration", func() error { return runValidate(nil) }))
	root.AddItem(menuItem("2", "Show daemon status", func() error { return runStatus(nil) }))
	root.AddItem(menuItem("3", "Run diagnostics", func() error { return runDiagnose(nil) }))
	root.AddItem(menuItem("4", "Check for updates", func() error { return runUpdate([]string{"--check"}) }))
	root.AddSeparator()
	root.AddItem(menuItem("q", "Quit", nil))

	return root.Display()
}

func menuItem(key, label string, action func() error) menu.MenuItem {
	return menu.MenuItem{Key: key, Label: label, Action: action}
}

func runDiagnose(args []string) error {
	opts := diagnostics.DefaultOptions()
	opts.Mode = diagnostics.ModeFull

	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--mode="):
			opts.Mode = diagnostics.CheckMode(strings.TrimPrefix(args[i], "--mode="))
		case strings.HasPrefix(args[i], "--config="):
			opts.ConfigPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--verbose":
			opts.Verbose = true
		}
	}

	runner := diagnostics.NewRunner(opts)
	report, err := runner.Run(context.Background())
	if err != nil {
		return fmt.Errorf("diagnostics run: %w", err)
	}

	diagnostics.PrintReport(os.Stdout, report)

	if !report.Healthy {
		os.Exit(exitError)
	}
	return nil
}
