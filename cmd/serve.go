// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"

	esload "github.com/crayon13/aws-lambda"
	"github.com/crayon13/aws-lambda/ctl"
	"github.com/spf13/cobra"
)

// Server is global so that tests can control and verify it.
var Server *ctl.ServeCommand

func newServeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Server = ctl.NewServeCommand(stdin, stdout, stderr)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive S3 event notifications over HTTP.",
		Long: `esload serve listens for S3 event notifications on POST /events and
loads every created object they name, answering with the results of the
runs. GET /healthz, GET /version and GET /metrics are served as well.

The first interrupt shuts the server down gracefully.
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if Server.DryRun, err = dryRun(cmd); err != nil {
				return err
			}
			fmt.Fprintf(Server.CmdIO.Stderr, "%s\n", esload.VersionInfo())

			ctx, cancel := signalContext()
			defer cancel()
			if err := Server.Run(ctx); err != nil {
				return usageError(cmd, fmt.Errorf("error running server: %w", err))
			}
			return nil
		},
	}

	flags := serveCmd.Flags()
	ctl.AddLoadFlags(flags, &Server.LoadOptions)
	flags.StringVarP(&Server.Bind, "bind", "b", Server.Bind, "Address to listen on.")
	flags.StringSliceVar(&Server.AllowedOrigins, "handler.allowed-origins", []string{}, "Comma separated list of allowed origin URIs (for CORS).")
	flags.IntVar(&Server.Concurrency, "concurrency", Server.Concurrency, "Objects of one notification loaded at the same time.")
	flags.DurationVar(&Server.CloseTimeout, "close-timeout", Server.CloseTimeout, "How long to wait for running loads on shutdown.")

	return serveCmd
}
