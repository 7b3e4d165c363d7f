// Package cli builds the connector's *cli.App, the same top-level-app-
// plus-Commands shape the teacher's own internal/cli/run.go uses, with
// subcommands matching the sync protocol's invocation surface instead of
// a stream-processor's (§6): spec, check, discover, read.
package cli

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v2"
)

// Build stamps, resolved from the module's own build info the same way
// the teacher's internal/cli/run.go resolves Version/DateBuilt.
var (
	Version   = "unknown"
	DateBuilt = "unknown"
)

func init() {
	if Version != "unknown" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && Version == "unknown" {
			Version = s.Value
		}
		if s.Key == "vcs.time" && DateBuilt == "unknown" {
			DateBuilt = s.Value
		}
	}
}

// App returns the full CLI app definition; exported the same way the
// teacher's App() is, so tests can construct and run it without going
// through os.Args.
func App() *cli.App {
	app := &cli.App{
		Name:  "klaviyo-source",
		Usage: "A Klaviyo source connector speaking the RECORD/STATE/STATUS/LOG sync protocol",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Value: false,
				Usage: "raise the log level to debug",
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"v"},
				Value:   false,
				Usage:   "display version info, then exit",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("version") {
				fmt.Fprintf(c.App.Writer, "Version: %v\nDate: %v\n", Version, DateBuilt)
				os.Exit(0)
			}
			return nil
		},
		Commands: []*cli.Command{
			specCommand(),
			checkCommand(),
			discoverCommand(),
			readCommand(),
		},
	}

	app.OnUsageError = func(c *cli.Context, err error, isSubcommand bool) error {
		fmt.Fprintf(os.Stderr, "usage error: %v\n", err)
		_ = cli.ShowAppHelp(c)
		return err
	}
	return app
}

// Run executes the CLI app against the process's real argv, the same
// blocking entrypoint shape as the teacher's cli.Run.
func Run(ctx context.Context) {
	if err := App().RunContext(ctx, os.Args); err != nil {
		os.Exit(1)
	}
}
