// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	esload "github.com/crayon13/aws-lambda"
	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/event"
)

// RunCommand loads objects once and prints their results.
type RunCommand struct {
	CmdIO *esload.CmdIO

	LoadOptions

	// Objects are s3://bucket/key URLs.
	Objects []string

	// EventPath names a file holding an event notification, "-" for stdin.
	EventPath string
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand(stdin io.Reader, stdout, stderr io.Writer) *RunCommand {
	return &RunCommand{
		CmdIO:       esload.NewCmdIO(stdin, stdout, stderr),
		LoadOptions: NewLoadOptions(),
	}
}

// Run loads every object in turn. It stops at the first failed run and
// returns its error; the results so far are printed either way.
func (cmd *RunCommand) Run(ctx context.Context) error {
	objects, err := cmd.objects()
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return errors.New(errors.ErrConfig, "no object to load, pass s3://bucket/key or --event")
	}

	env, err := cmd.setup(ctx, cmd.CmdIO)
	if err != nil {
		return err
	}
	defer env.Close()

	enc := json.NewEncoder(cmd.CmdIO.Stdout)
	enc.SetIndent("", "  ")
	for _, obj := range objects {
		res, runErr := env.runner.Run(ctx, obj.Bucket, obj.Key)
		if err := env.reporter.Report(ctx, res); err != nil {
			env.logger.Warnf("reporting run %s: %v", res.RunID, err)
		}
		if err := enc.Encode(res); err != nil {
			return errors.Wrap(err, "writing result")
		}
		if runErr != nil {
			return runErr
		}
	}
	return nil
}

func (cmd *RunCommand) objects() ([]event.Object, error) {
	var out []event.Object
	if cmd.EventPath != "" {
		var data []byte
		var err error
		if cmd.EventPath == "-" {
			data, err = io.ReadAll(cmd.CmdIO.Stdin)
		} else {
			data, err = os.ReadFile(cmd.EventPath)
		}
		if err != nil {
			return nil, errors.WithCode(err, errors.ErrConfig, "reading event")
		}
		if out, err = event.ParseNotification(data); err != nil {
			return nil, err
		}
	}
	for _, u := range cmd.Objects {
		obj, err := ParseObjectURL(u)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// ParseObjectURL splits s3://bucket/key.
func ParseObjectURL(u string) (event.Object, error) {
	rest := strings.TrimPrefix(u, "s3://")
	i := strings.Index(rest, "/")
	if rest == u || i <= 0 || i == len(rest)-1 {
		return event.Object{}, errors.Newf(errors.ErrConfig, "invalid object %q, expected s3://bucket/key", u)
	}
	return event.Object{Bucket: rest[:i], Key: rest[i+1:]}, nil
}
