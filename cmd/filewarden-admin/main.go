// Package main is the entry point for the Filewarden admin CLI.
// This tool provides operator commands for reconciliation, quota reports,
// and metrics inspection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/lock"
	"github.com/filewarden/filewarden/internal/provider"
	"github.com/filewarden/filewarden/internal/repository"
	"github.com/filewarden/filewarden/internal/repository/postgres"
	"github.com/filewarden/filewarden/internal/repository/sqlite"
	"github.com/filewarden/filewarden/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("Filewarden Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "reconcile":
		if err := runReconcile(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
			os.Exit(1)
		}

	case "quota":
		if err := runQuota(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "quota failed: %v\n", err)
			os.Exit(1)
		}

	case "metrics":
		if err := runMetrics(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "metrics failed: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Filewarden Admin CLI

Usage:
  filewarden-admin <command> [arguments]

Commands:
  reconcile   Scan a provider for orphans and optionally clean them
  quota       Report global or per-folder quota usage
  metrics     Fetch the metrics snapshot from a running server
  version     Print version information
  help        Show this help message

Examples:
  filewarden-admin reconcile --provider primary --dry-run
  filewarden-admin reconcile --provider primary --dry-run=false
  filewarden-admin quota
  filewarden-admin quota --folder documents
  filewarden-admin metrics --addr http://localhost:8420
  filewarden-admin metrics --addr http://localhost:8420 --reset

Use "filewarden-admin <command> --help" for more information about a command.`)
}

// toolkit bundles everything an admin command needs.
type toolkit struct {
	files      repository.FileRepository
	db         repository.DatabaseHealth
	providers  *provider.Registry
	rules      *config.RulesHolder
	reconciler *service.Reconciler
	quota      *service.QuotaManager
}

// setup loads config and builds services for a one-shot command.
func setup(ctx context.Context, configPath string) (*toolkit, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// Commands write their findings to stdout; keep logs quiet on stderr.
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	var (
		files repository.FileRepository
		db    repository.DatabaseHealth
	)
	switch cfg.Database.Driver {
	case "sqlite":
		sdb, err := sqlite.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		files = sqlite.NewFileRepository(sdb)
		db = sdb
	default:
		pdb, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		files = postgres.NewFileRepository(pdb)
		db = pdb
	}

	providers, err := provider.NewRegistry(ctx, cfg.Storage.Providers, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	rules := config.NewRulesHolder(cfg.Storage)
	quota := service.NewQuotaManager(files, rules, logger)
	reconciler := service.NewReconciler(files, providers, lock.NewMemoryLocker(), logger, service.ReconcilerOptions{
		Interval:          cfg.Reconciler.Interval,
		PageTimeout:       cfg.Reconciler.PageTimeout,
		RegistryBatchSize: cfg.Reconciler.RegistryBatchSize,
	})

	return &toolkit{
		files:      files,
		db:         db,
		providers:  providers,
		rules:      rules,
		reconciler: reconciler,
		quota:      quota,
	}, nil
}

// runReconcile executes the reconcile subcommand.
func runReconcile(args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	providerName := fs.String("provider", "", "provider to reconcile (empty = all)")
	dryRun := fs.Bool("dry-run", true, "report intended actions without mutating state")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall run timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	tk, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer tk.db.Close()

	if *providerName != "" {
		result, err := tk.reconciler.Run(ctx, *providerName, *dryRun)
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	outcomes := tk.reconciler.RunAll(ctx, *dryRun)
	failed := false
	for name, outcome := range outcomes {
		if outcome.Err != nil {
			fmt.Fprintf(os.Stderr, "provider %s: %v\n", name, outcome.Err)
			failed = true
			continue
		}
		if err := printJSON(outcome.Result); err != nil {
			return err
		}
	}
	if failed {
		return fmt.Errorf("one or more providers failed to reconcile")
	}
	return nil
}

// runQuota executes the quota subcommand.
func runQuota(args []string) error {
	fs := flag.NewFlagSet("quota", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	folder := fs.String("folder", "", "folder to report (empty = global)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tk, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer tk.db.Close()

	if *folder != "" {
		usage, err := tk.quota.FolderUsage(ctx, *folder)
		if err != nil {
			return err
		}
		return printJSON(usage)
	}

	usage, err := tk.quota.GlobalUsage(ctx)
	if err != nil {
		return err
	}
	return printJSON(usage)
}

// runMetrics executes the metrics subcommand. Unlike reconcile and quota it
// talks to a running server: the collector's window lives in server memory,
// so a fresh process would only ever report zeros.
func runMetrics(args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8420", "base URL of the server's operator API")
	reset := fs.Bool("reset", false, "reset counters after fetching the snapshot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(strings.TrimSuffix(*addr, "/") + "/v1/metrics")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var snapshot json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return err
	}
	if err := printJSON(snapshot); err != nil {
		return err
	}

	if *reset {
		resp, err := client.Post(strings.TrimSuffix(*addr, "/")+"/v1/metrics/reset", "", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("reset: server returned %s", resp.Status)
		}
		fmt.Fprintln(os.Stderr, "counters reset")
	}
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
