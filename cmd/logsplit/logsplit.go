package main

import (
	"os"

	"github.com/evergreen-ci/logsplit"
	"github.com/evergreen-ci/logsplit/operations"
	"github.com/mongodb/grip"
	"github.com/urfave/cli"
)

func main() {
	grip.EmergencyFatal(buildApp().Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "logsplit"
	app.Usage = "split build log chunks that exceed the maximum document size"
	app.Version = logsplit.BuildRevision

	app.Commands = []cli.Command{
		operations.Run(),
		operations.Repair(),
		operations.SelfTest(),
	}

	return app
}
