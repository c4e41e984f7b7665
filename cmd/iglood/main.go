package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"github.com/frostr/iglood/internal/api"
	"github.com/frostr/iglood/internal/approval"
	"github.com/frostr/iglood/internal/audit"
	"github.com/frostr/iglood/internal/config"
	"github.com/frostr/iglood/internal/dedup"
	"github.com/frostr/iglood/internal/engine"
	"github.com/frostr/iglood/internal/events"
	"github.com/frostr/iglood/internal/health"
	"github.com/frostr/iglood/internal/lifecycle"
	"github.com/frostr/iglood/internal/lock"
	"github.com/frostr/iglood/internal/log"
	"github.com/frostr/iglood/internal/permission"
	"github.com/frostr/iglood/internal/protocol"
	"github.com/frostr/iglood/internal/queue"
	"github.com/frostr/iglood/internal/registry"
	"github.com/frostr/iglood/internal/router"
	"github.com/frostr/iglood/internal/storage"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "rules":
		os.Exit(runRulesNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("iglood version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`iglood - Local request router for signing operations

Usage:
  iglood <noun> <action> [flags]

Core Resources (Nouns):
  system    Router lifecycle and health
  rules     Permission rule inspection and integrity

System Commands:
  system start      Start the router service in foreground

Rules Commands:
  rules list        Show stored permission rules
  rules check       Validate rules and print their integrity checksum

General:
  version           Show version information
  help              Show this help message

Use 'iglood <noun> help' for resource-specific flags.
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
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runRulesNoun(args []string) int {
	if len(args) < 1 {
		printRulesNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRulesNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printRulesListHelp()
			return 0
		}
		return runRulesList(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printRulesCheckHelp()
			return 0
		}
		return runRulesCheck(actionArgs)
	case "help":
		printRulesNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown rules action: %s\n", action)
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
	fmt.Fprintln(w, "Usage: iglood system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printRulesNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: iglood rules <action> [flags]")
	fmt.Fprintln(w, "Actions: list, check")
}

func printSystemStartHelp() {
	fmt.Println("Usage: iglood system start [--config PATH]")
	fmt.Println("Start the router service in the foreground.")
}

func printRulesListHelp() {
	fmt.Println("Usage: iglood rules list [--config PATH] [--json]")
	fmt.Println("Show stored permission rules.")
}

func printRulesCheckHelp() {
	fmt.Println("Usage: iglood rules check [--config PATH]")
	fmt.Println("Validate stored rules and print their integrity checksum.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("iglood starting", "version", version, "config", *configPath)

	pidLock, err := lock.Acquire(pidLockPath(cfg))
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Store.Path)

	ruleStore := permission.NewRuleStore(db)
	perms, err := permission.NewEngine(ctx, ruleStore)
	if err != nil {
		logger.Error("failed to load permission rules", "error", err)
		return 1
	}

	authorizer, err := approval.NewStatic(cfg.Service.ApprovalMode, ruleStore, log.WithComponent("approval"))
	if err != nil {
		logger.Error("invalid approval policy", "error", err)
		return 1
	}

	hub := events.NewHub(256)
	tracker := health.NewTracker(hub, log.WithComponent("health"))
	proc := engine.NewProcessEngine(cfg.Engine.Command, log.WithComponent("engine"))

	lc := lifecycle.New(proc, tracker, hub, log.Get(), lifecycle.Config{
		StartTimeout:    cfg.Engine.StartTimeout,
		HealthTimeout:   cfg.Engine.HealthTimeout,
		ProbeTimeout:    cfg.Engine.ProbeTimeout,
		IdleUnloadAfter: cfg.Engine.IdleUnloadAfter,
	})
	lc.Start(ctx)
	defer lc.Stop()

	q := queue.New(queue.Config{
		Capacity:            cfg.Queue.Capacity,
		NormalReleaseEvery:  cfg.Queue.NormalReleaseEvery,
		LowReleaseEvery:     cfg.Queue.LowReleaseEvery,
		LowReleaseThreshold: cfg.Queue.LowReleaseThreshold,
	})
	pending := registry.New(log.WithComponent("registry"))
	auditLog := audit.NewLog(db)

	rtr := router.New(
		perms,
		dedup.New(cfg.Service.DedupeWindow),
		tracker,
		lc,
		proc,
		q,
		pending,
		auditLog,
		hub,
		authorizer,
		log.Get(),
		router.Config{InvokeTimeout: cfg.Engine.InvokeTimeout},
	)
	go rtr.Run(ctx)

	// Retention pass on the outcome log, hourly.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := auditLog.Prune(ctx, cfg.Service.OutcomeRetention); err != nil {
					logger.Warn("outcome log prune failed", "error", err)
				} else if n > 0 {
					logger.Info("outcome log pruned", "rows", n)
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:         cfg.API.Listen,
			APIKey:         cfg.API.Auth.APIKey,
			SyncBudget:     cfg.Service.SyncBudget,
			RequestTimeout: cfg.Service.RequestTimeout,
		}, rtr, tracker, q, pending, auditLog, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("iglood running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("iglood stopped")
	return 0
}

func runRulesList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	rules, code := loadRules(*configPath)
	if code != 0 {
		return code
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(rules, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(rules) == 0 {
		fmt.Println("No permission rules stored.")
		return 0
	}
	fmt.Printf("%-24s %-16s %-8s %-6s %s\n", "CALLER", "OPERATION", "KIND", "ALLOW", "CREATED")
	for _, r := range rules {
		kind := fmt.Sprintf("%d", r.Kind)
		if r.Kind == protocol.KindNone {
			kind = "*"
		}
		fmt.Printf("%-24s %-16s %-8s %-6t %s\n",
			r.Caller, r.Operation, kind, r.Allow, r.CreatedAt.Format(time.RFC3339))
	}
	return 0
}

func runRulesCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	rules, code := loadRules(*configPath)
	if code != 0 {
		return code
	}

	problems := 0
	for _, r := range rules {
		if r.Caller == "" {
			fmt.Fprintf(os.Stderr, "INVALID rule: empty caller\n")
			problems++
		}
		if _, err := protocol.ParseOperation(string(r.Operation)); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID rule for %s: %v\n", r.Caller, err)
			problems++
		}
		if r.Kind < protocol.KindNone {
			fmt.Fprintf(os.Stderr, "INVALID rule for %s/%s: kind %d\n", r.Caller, r.Operation, r.Kind)
			problems++
		}
	}

	fmt.Printf("Rules: %d\n", len(rules))
	fmt.Printf("Checksum: %s\n", rulesChecksum(rules))

	if problems > 0 {
		fmt.Fprintf(os.Stderr, "Status: %d invalid rule(s)\n", problems)
		return 1
	}
	fmt.Println("Status: rules check PASSED.")
	return 0
}

func loadRules(configPath string) ([]permission.Rule, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return nil, 1
	}
	defer db.Close()

	rules, err := permission.NewRuleStore(db).All(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read rules: %v\n", err)
		return nil, 1
	}
	return rules, 0
}

// rulesChecksum hashes a canonical serialization of the rule set so two
// stores can be compared without dumping them.
func rulesChecksum(rules []permission.Rule) string {
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		lines = append(lines, fmt.Sprintf("%s|%s|%d|%t", r.Caller, r.Operation, r.Kind, r.Allow))
	}
	sort.Strings(lines)

	h := blake3.New()
	for _, line := range lines {
		_, _ = h.Write([]byte(line))
		_, _ = h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func pidLockPath(cfg *config.Config) string {
	dbPath := cfg.Store.Path
	ext := filepath.Ext(dbPath)
	return dbPath[:len(dbPath)-len(ext)] + ".pid"
}
