package cli

import (
	"encoding/json"

	"github.com/urfave/cli/v2"

	"github.com/usedatabrew/klaviyo-source/internal/protocol"
)

// specCommand prints the connector specification document and exits,
// the same one-shot, config-free command shape as `check`/`discover`/
// `read` but requiring no flags at all.
func specCommand() *cli.Command {
	return &cli.Command{
		Name:  "spec",
		Usage: "print the connector's specification document",
		Action: func(c *cli.Context) error {
			enc := json.NewEncoder(c.App.Writer)
			return enc.Encode(protocol.Spec())
		},
	}
}
