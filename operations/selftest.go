package operations

import (
	"context"
	"fmt"

	"github.com/evergreen-ci/logsplit"
	"github.com/evergreen-ci/logsplit/db"
	"github.com/evergreen-ci/logsplit/migrations"
	"github.com/evergreen-ci/logsplit/testutil"
	"github.com/evergreen-ci/logsplit/units"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// SelfTest seeds a scratch database with known fixtures, splits them and
// checks the result. The splitter's collections are cleared first and the
// scratch database is dropped afterwards.
func SelfTest() cli.Command {
	transactions := cli.BoolFlag{
		Name:  transactionsFlagName,
		Usage: "apply each split in a transaction (requires a replica set)",
	}

	return cli.Command{
		Name:   "self-test",
		Usage:  "check the splitter against fixtures in a scratch database",
		Flags:  confFlag(dbFlags(logsplit.TestDatabaseName, transactions)...),
		Before: requireFileExists(confFlagName),
		Action: func(c *cli.Context) error {
			settings, err := settingsFromFlags(c)
			if err != nil {
				return errors.WithStack(err)
			}
			if !c.IsSet(dbFlagName) {
				settings.Database.DB = logsplit.TestDatabaseName
			}
			if settings.Database.DB == logsplit.DefaultDatabaseName {
				return errors.Errorf("refusing to drop database '%s'", settings.Database.DB)
			}
			// The fixtures are laid out for the default size.
			settings.Split.DryRun = false
			settings.Split.MaxChunkSize = logsplit.DefaultMaxChunkSize

			return withEnvironment(settings, func(ctx context.Context, env *logsplit.Environment) error {
				if err := selfTest(ctx, env); err != nil {
					return err
				}

				_, err := fmt.Fprintln(c.App.Writer, "All tests passed")
				return err
			})
		},
	}
}

func selfTest(ctx context.Context, env *logsplit.Environment) error {
	fixtures := testutil.NewMongoFixtures(env.DB())
	if err := db.ClearCollections(ctx, env.DB(), logsplit.Collections...); err != nil {
		return errors.Wrap(err, "clearing test database")
	}
	defer func() {
		grip.Warning(message.WrapError(fixtures.Teardown(ctx), message.Fields{
			"message": "could not drop test database",
			"db":      env.Settings().Database.DB,
		}))
	}()

	return checkFixtures(ctx, env.Settings(), migrations.NewMongoStore(env.DB()), fixtures)
}

// checkFixtures inserts the scenarios, splits them and checks the result.
// A second split must leave every scope exactly as the first one left it.
func checkFixtures(ctx context.Context, settings *logsplit.Settings, store migrations.Store, fixtures testutil.FixtureStore) error {
	scenarios := []*testutil.Scenario{testutil.GlobalScenario(), testutil.TestScopedScenario()}
	for _, scenario := range scenarios {
		if err := scenario.Insert(ctx, fixtures); err != nil {
			return errors.Wrap(err, "inserting fixtures")
		}
	}

	if err := splitFixtures(ctx, settings, store, "first"); err != nil {
		return err
	}

	snapshots := make([]*testutil.ScopeSnapshot, 0, len(scenarios))
	for _, scenario := range scenarios {
		if err := scenario.Check(ctx, fixtures, settings.Split.MaxChunkSize); err != nil {
			return err
		}
		snapshot, err := testutil.SnapshotScope(ctx, fixtures, scenario.Scope())
		if err != nil {
			return errors.Wrapf(err, "reading scenario '%s'", scenario.Name)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := splitFixtures(ctx, settings, store, "second"); err != nil {
		return err
	}

	for i, snapshot := range snapshots {
		if err := snapshot.CheckUnchanged(ctx, fixtures); err != nil {
			return errors.Wrapf(err, "scenario '%s' after a second run", scenarios[i].Name)
		}
	}

	return nil
}

func splitFixtures(ctx context.Context, settings *logsplit.Settings, store migrations.Store, pass string) error {
	j := units.NewSplitChunksJob(store, splitOptions(settings), migrations.NewLoggingObserver(), fmt.Sprintf("self-test.%s.%s", pass, startID()))
	report, err := runJob(ctx, j)
	logReport(j, report)

	return errors.Wrapf(err, "splitting fixtures on the %s run", pass)
}
