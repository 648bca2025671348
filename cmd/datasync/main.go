package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/pkg/cache"
	"github.com/manjuta/datasync/pkg/config"
	"github.com/manjuta/datasync/pkg/gc"
	"github.com/manjuta/datasync/pkg/jobs"
	"github.com/manjuta/datasync/pkg/manifest"
)

const usage = `Usage: datasync [flags] <command>

Commands:
  status    show created/modified/deleted/not-local paths for the checkout
  sweep     reconcile all on-disk changes into the manifest
  push      upload tracked objects to the configured backend
  pull      download missing objects and materialize the revision directory
  verify    re-hash local files and report manifest mismatches
  gc        remove cached objects no manifest snapshot references

Flags:
`

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	dataset := flag.String("dataset", "", "Dataset identity, e.g. alice/climate-data")
	revision := flag.String("revision", "", "Dataset revision the checkout tracks")
	dryRun := flag.Bool("dry-run", false, "For gc: report removable objects without deleting")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	if *dataset == "" || *revision == "" {
		log.Fatalf("Both -dataset and -revision are required")
	}

	// Cancel on SIGINT/SIGTERM so in-flight transfers stop at the next
	// network call.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, command, *dataset, *revision, *dryRun); err != nil {
		log.Fatalf("Command %s failed: %v", command, err)
	}
}

// run wires the configured stores together and dispatches the command.
func run(ctx context.Context, cfg *config.Config, command, dataset, revision string, dryRun bool) error {
	cacheMgr, err := cache.NewManager(cfg.Cache.Root, dataset)
	if err != nil {
		return err
	}

	// gc needs only the cache layout, not a loaded manifest.
	if command == "gc" {
		return runGC(ctx, cacheMgr, dryRun)
	}

	sharedCache, err := config.CreateManifestCache(ctx, &cfg.Manifest)
	if err != nil {
		return err
	}
	defer closeIfCloser(sharedCache)

	store, err := manifest.NewStore(manifest.Options{
		Dataset:      dataset,
		Revision:     revision,
		CacheManager: cacheMgr,
		SharedCache:  sharedCache,
	})
	if err != nil {
		return err
	}

	switch command {
	case "status":
		return runStatus(store)
	case "sweep":
		return runSweep(store)
	case "push":
		return runTransfer(ctx, cfg, store, "push")
	case "pull":
		return runTransfer(ctx, cfg, store, "pull")
	case "verify":
		return runVerify(ctx, store)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runStatus(store *manifest.Store) error {
	status, err := store.Status()
	if err != nil {
		return err
	}

	printSection := func(label string, keys []string) {
		for _, key := range keys {
			fmt.Printf("%-10s %s\n", label, key)
		}
	}
	printSection("created", status.Created)
	printSection("modified", status.Modified)
	printSection("deleted", status.Deleted)
	printSection("not-local", status.NotLocal)

	if status.IsClean() && len(status.NotLocal) == 0 {
		fmt.Println("Checkout is clean.")
	}
	return nil
}

func runSweep(store *manifest.Store) error {
	record, err := store.SweepAllChanges()
	if err != nil {
		return err
	}
	if record == nil {
		fmt.Println("No changes.")
		return nil
	}
	fmt.Println(record.Message)
	return nil
}

func runTransfer(ctx context.Context, cfg *config.Config, store *manifest.Store, direction string) error {
	backend, err := config.CreateBackend(ctx, &cfg.Backend, &cfg.Sync)
	if err != nil {
		return err
	}

	meta := &jobs.JobMetadata{}
	if direction == "push" {
		err = jobs.PushObjects(ctx, store, backend, nil, meta)
	} else {
		err = jobs.PullObjects(ctx, store, backend, nil, meta)
	}

	if feedback := meta.Feedback(); feedback != "" {
		fmt.Println(feedback)
	}
	return err
}

func runVerify(ctx context.Context, store *manifest.Store) error {
	meta := &jobs.JobMetadata{}
	modified, err := jobs.VerifyContents(ctx, store, meta)
	if err != nil {
		return err
	}

	for _, key := range modified {
		fmt.Printf("modified   %s\n", key)
	}
	fmt.Println(meta.Feedback())
	return nil
}

func runGC(ctx context.Context, cacheMgr *cache.Manager, dryRun bool) error {
	collector := gc.NewCollector(cacheMgr, gc.Config{DryRun: dryRun})
	result, err := collector.Collect(ctx)
	if err != nil {
		return err
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	fmt.Printf("%s %d of %d object(s), reclaiming %d bytes.\n",
		verb, result.Removed, result.Scanned, result.Reclaimed)
	return nil
}

// closeIfCloser closes cache implementations that hold resources (badger).
func closeIfCloser(v any) {
	if closer, ok := v.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close manifest cache: %v", err)
		}
	}
}
