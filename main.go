package main

import (
	"fmt"
	"os"

	"github.com/minicd/minicd/clicommand"
	"github.com/minicd/minicd/version"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "minicd"
	app.Usage = "A small continuous delivery agent for self-hosted git repositories"
	app.Version = version.FullVersion()
	app.Commands = []cli.Command{
		clicommand.StartCommand,
	}
	app.Action = func(c *cli.Context) {
		cli.ShowAppHelp(c)
		os.Exit(1)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
