package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/redis"
	"github.com/pulsegate/pulsegate/internal/roster"
	"github.com/pulsegate/pulsegate/internal/setup"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"github.com/pulsegate/pulsegate/internal/worker/core"
	"github.com/pulsegate/pulsegate/internal/worker/sync"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// WorkerLogDir specifies where batch job log files are stored.
	WorkerLogDir = "logs/worker_logs"

	// ImportJob reconciles the registry against the daily roster.
	ImportJob = "import"
	// ExportJob reports newly approved users to HR.
	ExportJob = "export"
	// CleanerJob turns revocations into group bans.
	CleanerJob = "cleaner"
	// ExclusionsJob enforces the exemption list.
	ExclusionsJob = "exclusions"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "worker",
		Usage: "Run one pulsegate batch job",
		Commands: []*cli.Command{
			{
				Name:   ImportJob,
				Usage:  "Reconcile approval state against the daily roster",
				Action: jobAction(ImportJob),
			},
			{
				Name:   ExportJob,
				Usage:  "Write newly approved users to an export file",
				Action: jobAction(ExportJob),
			},
			{
				Name:   CleanerJob,
				Usage:  "Ban unapproved users from managed groups",
				Action: jobAction(CleanerJob),
			},
			{
				Name:   ExclusionsJob,
				Usage:  "Enforce the exemption list and corporate domain",
				Action: jobAction(ExclusionsJob),
			},
			{
				Name:   "status",
				Usage:  "Show the reported batch job statuses",
				Action: statusAction,
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// jobAction builds a CLI action that initializes the application, runs one
// job to completion and cleans up.
func jobAction(name string) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		return runJob(ctx, name)
	}
}

func runJob(ctx context.Context, name string) error {
	app, err := setup.InitializeApp(ctx, WorkerLogDir)
	if err != nil {
		return err
	}
	defer app.Cleanup()

	statusClient, err := app.RedisManager.GetClient(redis.WorkerStatusDBIndex)
	if err != nil {
		app.Logger.Error("Failed to connect to status store", zap.Error(err))
		return err
	}

	reporter := core.NewStatusReporter(statusClient, name, app.Logger)
	reporter.Start(ctx)
	defer reporter.Stop()

	reporter.UpdateStatus("running")

	app.Logger.Info("Job starting",
		zap.String("job", name),
		zap.String("workerID", reporter.GetWorkerID()))

	cfg := app.Config.Common
	client := telegram.NewBotAPI(cfg.Telegram.Token, app.Logger)
	validator := verification.NewEmailValidator(
		cfg.Verification.WorkDomain, cfg.Verification.ExcludedEmails)
	registry := sync.NewDBRegistry(app.DB.Model().User(), app.Codec, app.Logger)
	groups := sync.NewDBGroups(app.DB.Model().Group())
	syncLog := app.DB.Model().Sync()
	dirs := roster.Dirs{
		ImportDir: cfg.Roster.ImportDir,
		ExportDir: cfg.Roster.ExportDir,
	}

	switch name {
	case ImportJob:
		importer := sync.NewImporter(
			registry, syncLog, client, dirs, validator,
			app.Config.Worker.MaxRosterDelta, app.Logger)
		err = importer.Run(ctx)
	case ExportJob:
		exporter := sync.NewExporter(registry, syncLog, dirs, validator, app.Logger)
		err = exporter.Run(ctx)
	case CleanerJob:
		cleaner := sync.NewCleaner(
			registry, groups, syncLog, client, dirs, validator,
			time.Duration(app.Config.Worker.ImportLookbackHours)*time.Hour, app.Logger)
		err = cleaner.Run(ctx)
	case ExclusionsJob:
		exclusions := sync.NewExclusions(
			registry, groups, syncLog, client, validator,
			cfg.Telegram.ChannelID, app.Logger)
		err = exclusions.Run(ctx)
	}

	if err != nil {
		reporter.SetHealthy(false)
		app.Logger.Error("Job failed", zap.String("job", name), zap.Error(err))

		return err
	}

	reporter.UpdateStatus("done")
	app.Logger.Info("Job finished", zap.String("job", name))

	return nil
}

// statusAction prints every job status still present in the status store.
func statusAction(ctx context.Context, _ *cli.Command) error {
	app, err := setup.InitializeApp(ctx, WorkerLogDir)
	if err != nil {
		return err
	}
	defer app.Cleanup()

	statusClient, err := app.RedisManager.GetClient(redis.WorkerStatusDBIndex)
	if err != nil {
		return err
	}

	statuses, err := core.NewMonitor(statusClient, app.Logger).GetAllStatuses(ctx)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Println("No job statuses reported.")
		return nil
	}

	for _, status := range statuses {
		state := "healthy"
		if !status.IsHealthy {
			state = "unhealthy"
		}

		if status.Stale() {
			state = "offline"
		}

		fmt.Printf("%-12s %-36s %-10s %-10s last seen %s\n",
			status.JobName, status.WorkerID, state, status.CurrentTask,
			status.LastSeen.Format(time.RFC3339))
	}

	return nil
}
