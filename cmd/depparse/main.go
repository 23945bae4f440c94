package main

import (
	"fmt"
	"io"
	"os"

	"github.com/OFFIS-RIT/depparse/internal/util"
	"github.com/OFFIS-RIT/depparse/pkg/logger"
	"github.com/OFFIS-RIT/depparse/pkg/logger/console"
	"github.com/OFFIS-RIT/depparse/pkg/parser"

	"github.com/urfave/cli/v2"
)

// UI holds the streams the commands read from and write to.
type UI struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// fatal is replaced in tests.
var fatal = logger.Fatal

func main() {
	util.LoadEnv()

	ui := UI{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
	if err := newApp(ui).Run(os.Args); err != nil {
		report(ui, err)
		os.Exit(1)
	}
}

// report logs fatal parser errors through the logger and prints any other
// error to ui.Err.
func report(ui UI, err error) {
	if parser.IsFatal(err) {
		fatal("[CLI] Parser failed", "err", err)
		return
	}
	fmt.Fprintf(ui.Err, "depparse: %v\n", err)
}

func newApp(ui UI) *cli.App {
	return &cli.App{
		Name:      "depparse",
		Usage:     "dependency parser for tagged sentences",
		Reader:    ui.In,
		Writer:    ui.Out,
		ErrWriter: ui.Err,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "log debug messages",
				EnvVars: []string{"DEBUG"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "log one JSON object per line",
				EnvVars: []string{"LOG_JSON"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  c.Bool("debug"),
				JSON:   c.Bool("log-json"),
				Output: ui.Err,
			}))
			return nil
		},
		Commands: []*cli.Command{
			parseCommand(ui),
			instancesCommand(ui),
		},
	}
}
