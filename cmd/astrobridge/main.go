package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "astrobridge",
		Usage: "Control ASCOM Alpaca and INDI devices through one interface",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"ASTROBRIDGE_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Server to attach, as ascom://host:port or indi://host:port",
				EnvVars: []string{"ASTROBRIDGE_SERVERS"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Connect timeout (default from config)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			discoverCommand,
			devicesCommand,
			propertiesCommand,
			getCommand,
			setCommand,
			actionCommand,
			serversCommand,
			serveCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
