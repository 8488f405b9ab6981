// Command mnemosyne is the command-line surface over the memory core. Each
// subcommand maps one-to-one to a core operation: init, remember, recall,
// status, export, evolve, and embed-all.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mnemosyne-core/mnemosyne/internal/access"
	"github.com/mnemosyne-core/mnemosyne/internal/config"
	"github.com/mnemosyne-core/mnemosyne/internal/embedding"
	"github.com/mnemosyne-core/mnemosyne/internal/events"
	"github.com/mnemosyne-core/mnemosyne/internal/evolution"
	"github.com/mnemosyne-core/mnemosyne/internal/export"
	"github.com/mnemosyne-core/mnemosyne/internal/retrieval"
	"github.com/mnemosyne-core/mnemosyne/internal/store/sqlite"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

const usage = `Usage: mnemosyne <command> [flags]

Commands:
  init       Create and migrate the database
  remember   Store a new memory note
  recall     Search memories (hybrid keyword + graph)
  status     Report database health and counts
  export     Dump memories as JSON, or snapshot the database
  evolve     Run evolution jobs: importance|links|archival|consolidation|all
  embed-all  Embed every note whose embedding is missing
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "mnemosyne: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	cfg := config.Load()

	switch command {
	case "init":
		return runInit(ctx, cfg, args)
	case "remember":
		return runRemember(ctx, cfg, args)
	case "recall":
		return runRecall(ctx, cfg, args)
	case "status":
		return runStatus(ctx, cfg, args)
	case "export":
		return runExport(ctx, cfg, args)
	case "evolve":
		return runEvolve(ctx, cfg, args)
	case "embed-all":
		return runEmbedAll(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q (run `mnemosyne help`)", command)
	}
}

// openStore resolves the database path and opens the SQLite backend. Every
// command except init requires the database to already exist.
func openStore(ctx context.Context, cfg *config.Config, explicit string, requireExists bool) (*sqlite.Store, string, error) {
	path, err := cfg.ResolveDatabasePath(explicit)
	if err != nil {
		return nil, "", err
	}
	if !requireExists {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	st, err := sqlite.Open(ctx, path, sqlite.Options{RequireExists: requireExists})
	if err != nil {
		return nil, "", err
	}
	return st, path, nil
}

func newAdapter(cfg *config.Config) embedding.Adapter {
	fallback := embedding.NewFallbackAdapter(cfg.Embedding.Dimension)
	local, err := embedding.NewLocalAdapter(fallback, cfg.Embedding.CacheDir)
	if err != nil {
		// An unwritable cache directory degrades to uncached embedding.
		return fallback
	}
	return local
}

func runInit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides environment)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, path, err := openStore(ctx, cfg, *dbPath, false)
	if err != nil {
		return err
	}
	defer st.Close()

	migrations, err := st.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("initialized %s (%d migrations applied)\n", path, len(migrations))
	return nil
}

func runRemember(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("remember", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides environment)")
	namespace := fs.String("namespace", "global", "namespace (global, project:<name>, session:<name>:<id>)")
	memoryType := fs.String("type", "insight", "memory type")
	importance := fs.Int("importance", 5, "importance [1,10]")
	summary := fs.String("summary", "", "short summary")
	role := fs.String("role", string(access.RoleExecutor), "acting agent role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("remember: content argument is required")
	}
	content := fs.Arg(0)

	ns, err := model.ParseNamespace(*namespace)
	if err != nil {
		return err
	}

	st, _, err := openStore(ctx, cfg, *dbPath, true)
	if err != nil {
		return err
	}
	defer st.Close()

	control := access.NewControl(st, events.NewBus(), newAdapter(cfg), cfg.Access.User)
	id, err := control.Create(ctx, access.Role(*role), content, access.Metadata{
		Namespace:  ns,
		MemoryType: model.MemoryType(*memoryType),
		Importance: *importance,
		Summary:    *summary,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runRecall(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides environment)")
	namespace := fs.String("namespace", "", "restrict to a namespace")
	limit := fs.Int("limit", 10, "maximum results")
	expand := fs.Bool("expand", true, "expand through the link graph")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("recall: query argument is required")
	}
	query := fs.Arg(0)

	var ns *model.Namespace
	if *namespace != "" {
		parsed, err := model.ParseNamespace(*namespace)
		if err != nil {
			return err
		}
		ns = &parsed
	}

	st, _, err := openStore(ctx, cfg, *dbPath, true)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := retrieval.NewEngine(st, events.NewBus())
	results, err := engine.Recall(ctx, query, ns, *limit, *expand)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, r := range results {
		summary := r.Memory.Summary
		if summary == "" {
			summary = r.Memory.Content
		}
		if len(summary) > 80 {
			summary = summary[:77] + "..."
		}
		fmt.Printf("%.3f  %-36s  [%s/%d]  %s\n",
			r.Score, r.Memory.ID, r.Memory.MemoryType, r.Memory.Importance, summary)
	}
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides environment)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := cfg.ResolveDatabasePath(*dbPath)
	if err != nil {
		return err
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		fmt.Printf("database: %s (missing — run `init` first)\n", path)
		return nil
	}
	fmt.Printf("database: %s (%d bytes)\n", path, info.Size())

	st, _, err := openStore(ctx, cfg, *dbPath, true)
	if err != nil {
		return err
	}
	defer st.Close()

	count, err := st.Count(ctx, nil)
	if err != nil {
		return err
	}
	fmt.Printf("memories: %d active\n", count)

	report, err := st.CheckIntegrity(ctx)
	if err != nil {
		return err
	}
	if report.OK {
		fmt.Println("integrity: ok")
	} else {
		fmt.Printf("integrity: FAILED (%v)\n", report.Problems)
	}

	if cfg.Embedding.APIKey != "" {
		fmt.Println("embedding api key: configured")
	} else {
		fmt.Println("embedding api key: not configured (deterministic fallback)")
	}
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides environment)")
	snapshot := fs.String("snapshot", "", "write a database snapshot to this path instead of JSON")
	out := fs.String("out", "", "write JSON to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *snapshot != "" {
		path, err := cfg.ResolveDatabasePath(*dbPath)
		if err != nil {
			return err
		}
		if err := export.SnapshotSQLite(path, *snapshot); err != nil {
			return err
		}
		fmt.Printf("snapshot written to %s\n", *snapshot)
		return nil
	}

	st, _, err := openStore(ctx, cfg, *dbPath, true)
	if err != nil {
		return err
	}
	defer st.Close()

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("export: failed to create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}
	count, err := export.WriteJSON(ctx, st, w)
	if err != nil {
		return err
	}
	if *out != "" {
		fmt.Printf("exported %d memories to %s\n", count, *out)
	}
	return nil
}

func runEvolve(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("evolve", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides environment)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	which := "all"
	if fs.NArg() > 0 {
		which = fs.Arg(0)
	}

	st, _, err := openStore(ctx, cfg, *dbPath, true)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus()
	jobs := map[string]evolution.Job{
		"importance":    evolution.NewImportanceJob(st, bus),
		"links":         evolution.NewLinkDecayJob(st, bus),
		"archival":      evolution.NewArchivalJob(st, bus),
		"consolidation": evolution.NewConsolidationJob(st, bus, nil),
	}

	jobCfg := evolution.Config{
		BatchSize:     cfg.Scheduler.BatchSize,
		MaxDuration:   cfg.Scheduler.MaxDuration,
		RatePerSecond: 200, // keep batched writes from starving readers
	}

	var selected []evolution.Job
	if which == "all" {
		selected = []evolution.Job{jobs["importance"], jobs["links"], jobs["archival"], jobs["consolidation"]}
	} else {
		job, ok := jobs[which]
		if !ok {
			return fmt.Errorf("evolve: unknown job %q (importance|links|archival|consolidation|all)", which)
		}
		selected = []evolution.Job{job}
	}

	for _, job := range selected {
		report := job.Run(ctx, jobCfg)
		fmt.Printf("%s: processed=%d changed=%d errors=%d duration=%s\n",
			job.Name(), report.Processed, report.Changed, report.Errors, report.Duration)
		if report.ErrorMessage != "" {
			return errors.New(report.ErrorMessage)
		}
	}
	return nil
}

func runEmbedAll(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("embed-all", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides environment)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, _, err := openStore(ctx, cfg, *dbPath, true)
	if err != nil {
		return err
	}
	defer st.Close()

	count, err := embedding.Backfill(ctx, st, newAdapter(cfg))
	if err != nil {
		return err
	}
	fmt.Printf("embedded %d memories\n", count)
	return nil
}
