package cli

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
	"github.com/usedatabrew/klaviyo-source/internal/protocol"
)

// checkCommand verifies the supplied credentials by making one lightweight
// authenticated call against Klaviyo's lowest-volume endpoint (metrics,
// §3's smallest rate budget), rather than a dedicated auth-probe route
// Klaviyo doesn't expose.
func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "verify the supplied connection configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to the connection configuration document"},
		},
		Action: func(c *cli.Context) error {
			writer := protocol.NewWriter(c.App.Writer)
			rt, err := newRuntime(c.String("config"), writer, c.Bool("debug"))
			if err != nil {
				return reportFailure(writer, err, "config_invalid")
			}

			_, err = rt.client.Get(context.Background(), klaviyo.EndpointMetrics, "/metrics/", map[string]string{"page[size]": "1"})
			if err != nil {
				return reportFailure(writer, err, "auth_failed")
			}
			return writer.WriteStatus(protocol.StatusMessage{Type: protocol.TypeStatus, Status: protocol.StatusSuccess})
		},
	}
}
