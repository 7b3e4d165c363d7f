package cli

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/usedatabrew/klaviyo-source/internal/protocol"
	"github.com/usedatabrew/klaviyo-source/internal/stream"
)

// discoverCommand prints the catalog of streams this connector can read,
// built directly from the six concrete streams rather than a static
// document, so a stream's schema/cursor always match what `read` actually
// does with it.
func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "print the catalog of streams this connector exposes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to the connection configuration document"},
		},
		Action: func(c *cli.Context) error {
			writer := protocol.NewWriter(c.App.Writer)
			rt, err := newRuntime(c.String("config"), writer, c.Bool("debug"))
			if err != nil {
				return reportFailure(writer, err, "config_invalid")
			}

			var airbyteStreams []protocol.AirbyteStream
			for _, s := range rt.streams(spoolDir()) {
				if _, err := stream.CompileSchema(s.JSONSchema()); err != nil {
					return reportFailure(writer, fmt.Errorf("stream %q declares an invalid json schema: %w", s.Name(), err), "schema_invalid")
				}

				syncModes := []protocol.SyncMode{protocol.SyncFullRefresh}
				var cursorField []string
				if s.CursorField() != "" {
					syncModes = append(syncModes, protocol.SyncIncremental)
					cursorField = []string{s.CursorField()}
				}
				airbyteStreams = append(airbyteStreams, protocol.AirbyteStream{
					Name:               s.Name(),
					JSONSchema:         s.JSONSchema(),
					SupportedSyncModes: syncModes,
					DefaultCursorField: cursorField,
				})
			}

			return json.NewEncoder(c.App.Writer).Encode(protocol.Catalog{Streams: airbyteStreams})
		},
	}
}
