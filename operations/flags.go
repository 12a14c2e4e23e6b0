package operations

import (
	"os"
	"strings"

	"github.com/evergreen-ci/logsplit"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const (
	confFlagName             = "conf"
	hostFlagName             = "host"
	dbFlagName               = "db"
	dryRunFlagName           = "dry-run"
	transactionsFlagName     = "transactions"
	maxSizeFlagName          = "max-size"
	progressIntervalFlagName = "progress-interval"
	logPathFlagName          = "log-path"
)

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func confFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(confFlagName, "c", "config"),
		Usage: "path to a YAML settings file; flags override its values",
	})
}

func dbFlags(defaultDB string, flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:  hostFlagName,
			Usage: "database host, as host:port or a mongodb:// URI",
		},
		cli.StringFlag{
			Name:  dbFlagName,
			Usage: "name of the database holding the builds, tests and logs collections",
			Value: defaultDB,
		},
		cli.StringFlag{
			Name:  logPathFlagName,
			Usage: "write logs to this file instead of standard output",
		},
	)
}

func splitFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.BoolFlag{
			Name:  dryRunFlagName,
			Usage: "report the chunks that would be split without writing anything",
		},
		cli.BoolFlag{
			Name:  transactionsFlagName,
			Usage: "apply each split in a transaction (requires a replica set)",
		},
		cli.IntFlag{
			Name:  maxSizeFlagName,
			Usage: "largest chunk payload in bytes",
		},
		cli.IntFlag{
			Name:  progressIntervalFlagName,
			Usage: "number of chunks scanned between progress messages",
		},
	)
}

func mergeBeforeFuncs(ops ...cli.BeforeFunc) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()
		for _, op := range ops {
			catcher.Add(op(c))
		}

		return catcher.Resolve()
	}
}

// requireFileExists checks the named flag only when it is set.
func requireFileExists(name string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		path := c.String(name)
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			return errors.Wrapf(err, "checking file '%s' given by --%s", path, name)
		}

		return nil
	}
}

func requirePositive(names ...string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		catcher := grip.NewBasicCatcher()
		for _, name := range names {
			catcher.ErrorfWhen(c.IsSet(name) && c.Int(name) <= 0, "--%s must be positive", name)
		}

		return catcher.Resolve()
	}
}

// settingsFromFlags loads the settings file, if any, and applies the flags
// the user set on top of it.
func settingsFromFlags(c *cli.Context) (*logsplit.Settings, error) {
	settings := &logsplit.Settings{}
	if path := c.String(confFlagName); path != "" {
		var err error
		settings, err = logsplit.NewSettings(path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	if host := c.String(hostFlagName); host != "" {
		settings.Database.Url = host
	}
	if c.IsSet(dbFlagName) || settings.Database.DB == "" {
		settings.Database.DB = c.String(dbFlagName)
	}
	if path := c.String(logPathFlagName); path != "" {
		settings.LogPath = path
	}
	if c.Bool(dryRunFlagName) {
		settings.Split.DryRun = true
	}
	if c.Bool(transactionsFlagName) {
		settings.Database.UseTransactions = true
	}
	if c.IsSet(maxSizeFlagName) {
		settings.Split.MaxChunkSize = c.Int(maxSizeFlagName)
	}
	if c.IsSet(progressIntervalFlagName) {
		settings.Split.ProgressInterval = c.Int(progressIntervalFlagName)
	}

	return settings, errors.Wrap(settings.Validate(), "validating settings")
}
