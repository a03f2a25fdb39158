package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/modelshard/convert/internal/convert"
	"github.com/modelshard/convert/internal/progressserver"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversions over HTTP",
		Long: `Serve starts an HTTP server exposing the converter: POST /api/convert
runs a conversion and streams its progress events back as
newline-delimited JSON, and DELETE /api/convert/:id requests that an
in-flight conversion be cancelled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := convert.NewDriver(ro.StorageDir)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}

			srv := progressserver.New(d)
			return srv.Serve(ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:11535", "address to listen on")

	return cmd
}
