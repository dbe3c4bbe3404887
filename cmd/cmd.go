// Package cmd wires the ims-event-hub command line: the server process and
// the terminal monitor.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/inventra/ims-event-hub/config"
)

func Run(args []string) error {
	app := &cli.App{
		Name:  "ims-event-hub",
		Usage: "real-time market-data and workflow event distribution hub",
		Commands: []*cli.Command{
			serverCommand(),
			monitorCommand(),
		},
	}
	return app.Run(args)
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "run the event hub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"), nil)
			if err != nil {
				return err
			}
			NewApp(cfg).Run()
			return nil
		},
	}
}
