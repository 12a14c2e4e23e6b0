package operations

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evergreen-ci/logsplit"
	"github.com/evergreen-ci/logsplit/migrations"
	"github.com/evergreen-ci/logsplit/units"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const jobWaitInterval = 100 * time.Millisecond

// Run splits every oversized chunk in the configured database.
func Run() cli.Command {
	return cli.Command{
		Name:   "run",
		Usage:  "split every log chunk larger than the maximum size",
		Flags:  confFlag(dbFlags(logsplit.DefaultDatabaseName, splitFlags()...)...),
		Before: mergeBeforeFuncs(requireFileExists(confFlagName), requirePositive(maxSizeFlagName, progressIntervalFlagName)),
		Action: func(c *cli.Context) error {
			settings, err := settingsFromFlags(c)
			if err != nil {
				return errors.WithStack(err)
			}

			return withEnvironment(settings, func(ctx context.Context, env *logsplit.Environment) error {
				store := migrations.NewMongoStore(env.DB())
				j := units.NewSplitChunksJob(store, splitOptions(settings), migrations.NewLoggingObserver(), startID())

				report, err := runJob(ctx, j)
				logReport(j, report)

				return errors.Wrap(err, "splitting oversized chunks")
			})
		},
	}
}

// Repair finishes splits left pending by an interrupted run without
// scanning for new ones.
func Repair() cli.Command {
	return cli.Command{
		Name:   "repair",
		Usage:  "finish splits interrupted by an earlier run",
		Flags:  confFlag(dbFlags(logsplit.DefaultDatabaseName)...),
		Before: requireFileExists(confFlagName),
		Action: func(c *cli.Context) error {
			settings, err := settingsFromFlags(c)
			if err != nil {
				return errors.WithStack(err)
			}

			return withEnvironment(settings, func(ctx context.Context, env *logsplit.Environment) error {
				store := migrations.NewMongoStore(env.DB())
				j := units.NewRepairSplitsJob(store, migrations.NewLoggingObserver(), startID())

				report, err := runJob(ctx, j)
				logReport(j, report)

				return errors.Wrap(err, "resuming interrupted splits")
			})
		},
	}
}

func splitOptions(settings *logsplit.Settings) migrations.Options {
	return migrations.Options{
		MaxSize:          settings.Split.MaxChunkSize,
		ProgressInterval: settings.Split.ProgressInterval,
		UseTransactions:  settings.Database.UseTransactions,
		DryRun:           settings.Split.DryRun,
	}
}

// withEnvironment sets up the environment for one command and tears it down
// afterwards. The context is canceled on SIGTERM or interrupt.
func withEnvironment(settings *logsplit.Settings, op func(context.Context, *logsplit.Environment) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listenForSignals(ctx, cancel)

	env, err := logsplit.NewEnvironment(ctx, settings)
	if err != nil {
		return errors.Wrap(err, "configuring environment")
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		grip.Warning(message.WrapError(env.Close(closeCtx), message.Fields{
			"message": "could not close environment",
		}))
	}()
	defer recovery.LogStackTraceAndExit("logsplit")

	return op(ctx, env)
}

// runJob runs j alone on a local queue and waits for it to finish.
func runJob(ctx context.Context, j amboy.Job) (*migrations.Report, error) {
	q := queue.NewLocalUnordered(1)
	if err := q.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "starting queue")
	}
	defer q.Runner().Close(ctx)
	if err := q.Put(ctx, j); err != nil {
		return nil, errors.Wrapf(err, "enqueueing job '%s'", j.ID())
	}
	if !amboy.WaitInterval(ctx, q, jobWaitInterval) {
		return units.SplitReport(j), errors.Wrapf(ctx.Err(), "waiting for job '%s'", j.ID())
	}

	return units.SplitReport(j), errors.Wrapf(j.Error(), "running job '%s'", j.ID())
}

func logReport(j amboy.Job, report *migrations.Report) {
	if report == nil {
		return
	}

	grip.Notice(message.Fields{
		"message":      "split summary",
		"job":          j.ID(),
		"scanned":      report.Scanned,
		"oversized":    report.Oversized,
		"split":        report.Split,
		"degenerate":   report.Degenerate,
		"chunks_added": report.ChunksAdded,
		"recovered":    report.Recovered,
	})
}

func listenForSignals(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		grip.Noticef("received %s, stopping after the current split", sig)
		cancel()
	case <-ctx.Done():
	}
}

func startID() string {
	return fmt.Sprintf("%s.%d", logsplit.BuildRevision, time.Now().Unix())
}
