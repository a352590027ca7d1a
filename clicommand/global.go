package clicommand

import (
	"fmt"
	"os"

	"github.com/minicd/minicd/logger"
	"github.com/urfave/cli"
)

var ConfigFlag = cli.StringFlag{
	Name:   "config",
	Value:  "",
	Usage:  "Path to a configuration file, replacing the default search paths",
	EnvVar: "MINICD_CONFIG",
}

var DebugFlag = cli.BoolFlag{
	Name:   "debug",
	Usage:  "Enable debug mode",
	EnvVar: "MINICD_DEBUG",
}

var LogFormatFlag = cli.StringFlag{
	Name:   "log-format",
	Value:  "text",
	Usage:  "The format to use for the logger output (text, json)",
	EnvVar: "MINICD_LOG_FORMAT",
}

var NoColorFlag = cli.BoolFlag{
	Name:   "no-color",
	Usage:  "Don't show colors in logging",
	EnvVar: "MINICD_NO_COLOR",
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		LogFormatFlag,
		NoColorFlag,
		DebugFlag,
	}
}

// createLogger builds the process logger from the global flags.
func createLogger(c *cli.Context) (logger.Logger, error) {
	var printer logger.Printer
	switch format := c.String("log-format"); format {
	case "text", "":
		p := logger.NewTextPrinter(os.Stderr)
		if c.Bool("no-color") {
			p.Colors = false
		}
		printer = p
	case "json":
		printer = logger.NewJSONPrinter(os.Stderr)
	default:
		return nil, fmt.Errorf("unknown log format %q, expected one of text, json", format)
	}

	l := logger.NewConsoleLogger(printer, os.Exit)
	if c.Bool("debug") {
		l.SetLevel(logger.DEBUG)
	}
	return l, nil
}
