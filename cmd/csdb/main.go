package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/doctor"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/lock"
	"github.com/mattjoyce/csdb/internal/log"
	"github.com/mattjoyce/csdb/internal/system"
	"github.com/mattjoyce/csdb/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "content":
		return runContentNoun(args)
	case "job":
		return runJobNoun(args)
	case "populator":
		return runPopulatorNoun(args)

	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: csdb version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("csdb %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`csdb - Content structure database with archive import

Usage:
  csdb <noun> <action> [flags]

Core Resources (Nouns):
  system     Server lifecycle
  config     Configuration and integrity
  content    Seed and browse the content tree
  job        Queue, inspect and follow background jobs
  populator  Registered populators

System Commands:
  system start       Start the job dispatcher and listeners in foreground
  system watch       Real-time job monitoring TUI

Config Commands:
  config check       Validate configuration, manifests and integrity
  config show        Print the resolved configuration (secrets masked)
  config lock        Record integrity hashes for the current configuration

Content Commands:
  content init       Create the language, release, schemas and root folder
  content tree       Print the node tree of a release

Job Commands:
  job import <archive>  Queue an archive import
  job migrate           Queue a schema migration
  job list              List recent jobs
  job get <id>          Show one job
  job inspect <id>      Show job properties, migration edge and workspace
  job watch <id>        Follow a job until it finishes
  job reset <id>        Requeue a finished job
  job delete <id>       Delete a job that is not running

Populator Commands:
  populator list     Show populators in selection order

General:
  version            Show version information
  help               Show this help message

Use 'csdb <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: csdb system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: csdb config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show, lock")
}

func printSystemStartHelp() {
	fmt.Println("Usage: csdb system start [--config PATH]")
	fmt.Println("Recover orphaned jobs, then run the dispatcher, maintenance loop, API and webhooks in the foreground.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: csdb system watch [--api-url URL] [--api-key KEY]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI showing server health, recent jobs and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Server API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API key (or CSDB_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate jobs")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: csdb config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration, populator manifests and integrity. --strict fails on warnings.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: csdb config show [--config PATH] [--json]")
	fmt.Println("Print the resolved configuration with secrets masked.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: csdb config lock [--config PATH] [--dry-run]")
	fmt.Println("Authorize the current configuration by recording BLAKE3 hashes of config.yaml and every populator manifest.")
}

// --- SHARED HELPERS ---

// resolveConfigPath returns the config file to use: the flag value, or the
// discovered one. A directory resolves to its config.yaml.
func resolveConfigPath(flagValue string) (string, error) {
	path := flagValue
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return "", err
		}
		path = discovered
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}
	return filepath.Abs(path)
}

func loadConfigForTool(flagValue string) (*config.Config, string, error) {
	path, err := resolveConfigPath(flagValue)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// openForTool opens the database and components for a one-shot command.
// Only warnings and errors are logged so command output stays readable.
func openForTool(ctx context.Context, flagValue string) (*system.System, error) {
	cfg, _, err := loadConfigForTool(flagValue)
	if err != nil {
		return nil, err
	}
	log.Setup("warn", cfg.Service.LogFormat)
	return system.Open(ctx, cfg)
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("csdb starting", "version", version, "config", path, "node", cfg.Service.NodeName)

	pidLockPath := system.PIDLockPath(cfg)
	if err := os.MkdirAll(filepath.Dir(pidLockPath), 0o755); err != nil {
		logger.Error("failed to create state directory", "path", filepath.Dir(pidLockPath), "error", err)
		return 1
	}
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		if pid, perr := lock.HolderPID(pidLockPath); perr == nil {
			logger.Error("another instance is running", "path", pidLockPath, "pid", pid)
		} else {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		}
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := system.Open(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	logger.Info("csdb running (press Ctrl+C to stop)")
	if err := s.Run(ctx); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("csdb stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Server API URL")
	apiKey := fs.String("api-key", os.Getenv("CSDB_API_KEY"), "API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if _, err := watch.Run(watch.Options{APIURL: *apiURL, APIKey: *apiKey}); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	var result *doctor.Result
	cfg, err := config.Load(path)
	if err != nil {
		result = &doctor.Result{Errors: []doctor.Issue{{Category: "config", Message: err.Error()}}}
	} else {
		result = doctor.New(cfg, path).Validate()
	}

	if *jsonOut {
		if code := printJSON(result); code != 0 {
			return code
		}
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	data, err := config.Redacted(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !*jsonOut {
		fmt.Print(string(data))
		return 0
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printJSON(doc)
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "List the files that would be hashed")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *dryRun {
		files, err := config.ScopeFiles(path, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		for _, f := range files {
			fmt.Printf("would hash %s\n", f)
		}
		return 0
	}

	manifest, err := config.Lock(path, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %d file(s) into %s\n", len(manifest.Hashes),
		filepath.Join(filepath.Dir(path), config.ChecksumFilename))
	return 0
}

// exitCodeForStatus maps a followed job's final status to a process exit code.
func exitCodeForStatus(st job.Status) int {
	switch st {
	case job.StatusCompleted:
		return 0
	case job.StatusFailed:
		return 2
	default:
		return 1
	}
}
