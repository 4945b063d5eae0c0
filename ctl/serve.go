// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"io"
	"net"
	"time"

	esload "github.com/crayon13/aws-lambda"
	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/server"
)

// ServeCommand receives event notifications over HTTP until its context is
// canceled.
type ServeCommand struct {
	CmdIO *esload.CmdIO

	LoadOptions

	Bind           string
	AllowedOrigins []string
	Concurrency    int
	CloseTimeout   time.Duration

	// Started is closed once the listener is open.
	Started chan struct{}

	ln net.Listener
}

// NewServeCommand returns a new instance of ServeCommand.
func NewServeCommand(stdin io.Reader, stdout, stderr io.Writer) *ServeCommand {
	return &ServeCommand{
		CmdIO:        esload.NewCmdIO(stdin, stdout, stderr),
		LoadOptions:  NewLoadOptions(),
		Bind:         ":8080",
		Concurrency:  1,
		CloseTimeout: 30 * time.Second,
		Started:      make(chan struct{}),
	}
}

// Addr is the address the command listens on once Started is closed.
func (cmd *ServeCommand) Addr() net.Addr {
	return cmd.ln.Addr()
}

// Run serves until ctx is done, then shuts the server down.
func (cmd *ServeCommand) Run(ctx context.Context) error {
	env, err := cmd.setup(ctx, cmd.CmdIO)
	if err != nil {
		return err
	}
	defer env.Close()

	cmd.ln, err = net.Listen("tcp", cmd.Bind)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", cmd.Bind)
	}

	h, err := server.NewHandler(
		server.OptHandlerRunner(env.runner),
		server.OptHandlerReporter(env.reporter),
		server.OptHandlerLogger(env.logger),
		server.OptHandlerListener(cmd.ln),
		server.OptHandlerConcurrency(cmd.Concurrency),
		server.OptHandlerCloseTimeout(cmd.CloseTimeout),
		server.OptHandlerAllowedOrigins(cmd.AllowedOrigins),
	)
	if err != nil {
		cmd.ln.Close()
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- h.Serve() }()
	env.logger.Infof("%s listening on %s", esload.VersionInfo(), cmd.ln.Addr())
	close(cmd.Started)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	env.logger.Infof("shutting down")
	if err := h.Close(); err != nil {
		return err
	}
	return <-errc
}
