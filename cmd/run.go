// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"io"

	"github.com/crayon13/aws-lambda/ctl"
	"github.com/spf13/cobra"
)

// Runner is global so that tests can control and verify it.
var Runner *ctl.RunCommand

// newRunCommand loads objects given as arguments or in an event notification.
func newRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Runner = ctl.NewRunCommand(stdin, stdout, stderr)
	runCmd := &cobra.Command{
		Use:   "run [s3://bucket/key ...]",
		Short: "Load objects once.",
		Long: `Loads each object into the index its key names and prints the result
of every run as JSON. Objects are given as s3://bucket/key arguments, or
as an S3 event notification with --event (use - for stdin). The first
failed run stops the command.
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			Runner.Objects = args
			if Runner.DryRun, err = dryRun(cmd); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return usageError(cmd, Runner.Run(ctx))
		},
	}

	flags := runCmd.Flags()
	ctl.AddLoadFlags(flags, &Runner.LoadOptions)
	flags.StringVar(&Runner.EventPath, "event", "", "File holding an S3 event notification, - for stdin.")

	return runCmd
}
