// Command geosync runs pull and push cycles for a project from the
// command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/geodbio/geosync"
	configpkg "github.com/geodbio/geosync/config"
	"github.com/geodbio/geosync/logging"
	"github.com/geodbio/geosync/storage/sqlite"
	"github.com/geodbio/geosync/transport/httptransport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "geosync:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", configpkg.DefaultPath(), "config file path")
		dbPath     = flag.String("db", "geosync.db", "local feature database")
		project    = flag.String("project", "", "project identifier")
		model      = flag.String("model", "", "model to sync")
		action     = flag.String("action", "sync", "pull, push, sync, status or reset")
		quiet      = flag.Bool("quiet", false, "suppress progress output")
	)
	flag.Parse()

	if *project == "" || *model == "" {
		return fmt.Errorf("-project and -model are required")
	}

	logging.Init(logging.GetConfigFromEnv())

	cfg, err := configpkg.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		return err
	}

	store, err := sqlite.NewWithDataSource(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	transportOpts := []httptransport.Option{
		httptransport.WithToken(cfg.API.Token),
		httptransport.WithPageSize(cfg.Data.PageSize),
	}
	for name, m := range cfg.Models {
		if m.Endpoint != "" {
			transportOpts = append(transportOpts, httptransport.WithEndpoint(name, m.Endpoint))
		}
	}
	client := httptransport.NewClient(cfg.API.BaseURL, transportOpts...)

	opts := cfg.ManagerOptions()
	if !*quiet {
		opts.OnProgress = func(percent int, message string) {
			fmt.Printf("[%3d%%] %s\n", percent, message)
		}
	}

	manager, err := geosync.NewDataManager(client, store, store, opts)
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *action {
	case "pull":
		result, err := manager.PullModelData(ctx, *project, *model)
		if err != nil {
			return err
		}
		printPull(result)
	case "push":
		result, err := manager.PushModelData(ctx, *project, *model)
		if err != nil {
			return err
		}
		printPush(result)
	case "sync":
		pull, push, err := manager.SyncModelData(ctx, *project, *model)
		if err != nil {
			return err
		}
		printPull(pull)
		printPush(push)
	case "status":
		status, err := manager.SyncStatus(ctx, *project, *model)
		if err != nil {
			return err
		}
		last := "never"
		if !status.LastSync.IsZero() {
			last = status.LastSync.String()
		}
		fmt.Printf("status %s/%s: last sync %s, %d local, %d tracked remote, %d pending push\n",
			status.Project, status.Model, last, status.Local, status.Tracked, status.PendingPush)
	case "reset":
		if err := manager.ResetSyncState(ctx, *project, *model); err != nil {
			return err
		}
		fmt.Printf("sync state reset for %s/%s\n", *project, *model)
	default:
		return fmt.Errorf("unknown action %q", *action)
	}

	logging.Info("done", slog.String("action", *action), slog.String("model", *model))
	return nil
}

func printPull(r *geosync.PullResult) {
	fmt.Printf("pull %s: %d added, %d updated, %d deleted, %d conflicted, %d unchanged (%s)\n",
		r.Model, r.Added, r.Updated, r.Deleted, r.Conflicted, r.Unchanged, r.Duration.Round(time.Millisecond))
	printRecordErrors(r.Errors)
}

func printPush(r *geosync.PushResult) {
	fmt.Printf("push %s: %d sent, %d created, %d updated, %d deleted, %d skipped (%s)\n",
		r.Model, r.Sent, r.Created, r.Updated, r.Deleted, r.Skipped, r.Duration.Round(time.Millisecond))
	printRecordErrors(r.Errors)
}

func printRecordErrors(errs []geosync.RecordError) {
	for _, re := range errs {
		fmt.Printf("  record %s [%s]: %s\n", re.ID, re.Kind, re.Message)
	}
}
