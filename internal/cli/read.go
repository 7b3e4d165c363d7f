package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/usedatabrew/klaviyo-source/internal/config"
	"github.com/usedatabrew/klaviyo-source/internal/driver"
	"github.com/usedatabrew/klaviyo-source/internal/protocol"
)

// readCommand runs one sync: it loads config/catalog/state, builds every
// requested stream and drives them through the Sync Driver, writing
// RECORD/STATE/STATUS messages to stdout as it goes (§6).
func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "run a sync for the streams named in --catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to the connection configuration document"},
			&cli.StringFlag{Name: "catalog", Required: true, Usage: "path to the configured catalog document"},
			&cli.StringFlag{Name: "state", Usage: "path to a previous run's state document"},
		},
		Action: func(c *cli.Context) error {
			writer := protocol.NewWriter(c.App.Writer)
			rt, err := newRuntime(c.String("config"), writer, c.Bool("debug"))
			if err != nil {
				return reportFailure(writer, err, "config_invalid")
			}
			defer rt.limiters.Close()

			catalog, err := config.LoadCatalog(c.String("catalog"))
			if err != nil {
				return reportFailure(writer, err, "catalog_invalid")
			}

			st, err := loadOrFreshState(c.String("state"))
			if err != nil {
				return reportFailure(writer, err, "state_invalid")
			}

			dir := spoolDir()
			d := driver.New(rt.streams(dir), writer, rt.log, dir)

			return d.Read(c.Context, st, driver.RunOptions{
				RequestedStreams:  catalog.StreamNames(),
				Initialize:        rt.cfg.Initialize,
				Backfill:          rt.cfg.Backfill,
				MaxStreamFailures: rt.cfg.MaxStreamFailures,
				MaxSliceFailures:  rt.cfg.MaxSliceFailures,
				CompressState:     rt.cfg.CompressStateEnabled(),
			})
		},
	}
}
