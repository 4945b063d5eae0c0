// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/crayon13/aws-lambda/ctl"
	"github.com/spf13/cobra"
)

var Conf *ctl.ConfigCommand

func newConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Conf = ctl.NewConfigCommand(stdin, stdout, stderr)
	confCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the configuration.",
		Long: `config prints the configuration run and serve would use, after
flags, ESLOAD_ environment variables and the --config file are applied,
in the format of a configuration file. Secrets are masked.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Conf.Run(context.Background())
		},
	}
	ctl.AddLoadFlags(confCmd.Flags(), &Conf.LoadOptions)

	return confCmd
}
