// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"

	esload "github.com/crayon13/aws-lambda"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const masked = "********"

// fileConfig is LoadOptions as written in a configuration file. Keys match
// the flag names.
type fileConfig struct {
	Endpoints []string `toml:"endpoints"`
	Region    string   `toml:"region"`
	Service   string   `toml:"service"`
	Scheme    string   `toml:"scheme"`
	Timeout   string   `toml:"timeout"`

	AWSProfile   string `toml:"aws-profile"`
	AccessKey    string `toml:"access-key"`
	SecretKey    string `toml:"secret-key"`
	SessionToken string `toml:"session-token"`

	BatchSize      int     `toml:"batch-size"`
	LineTerminator string  `toml:"line-terminator"`
	ConfigFileName string  `toml:"config-file-name"`
	PruneIndices   bool    `toml:"prune-indices"`
	BulkRPS        float64 `toml:"bulk-rps"`

	ObjectStore   string `toml:"object-store"`
	MinioEndpoint string `toml:"minio-endpoint"`
	MinioUseSSL   bool   `toml:"minio-use-ssl"`
	FileRoot      string `toml:"file-root"`

	KafkaBrokers []string `toml:"kafka-brokers"`
	KafkaTopic   string   `toml:"kafka-topic"`

	Verbose bool   `toml:"verbose"`
	LogPath string `toml:"log-path"`

	Tracing struct {
		AgentHostPort string  `toml:"agent-host-port"`
		SamplerType   string  `toml:"sampler-type"`
		SamplerParam  float64 `toml:"sampler-param"`
	} `toml:"tracing"`
}

func newFileConfig(o LoadOptions) fileConfig {
	c := fileConfig{
		Endpoints:      o.Endpoints,
		Region:         o.Region,
		Service:        o.Service,
		Scheme:         o.Scheme,
		Timeout:        o.Timeout.String(),
		AWSProfile:     o.AWSProfile,
		AccessKey:      o.AccessKey,
		SecretKey:      o.SecretKey,
		SessionToken:   o.SessionToken,
		BatchSize:      o.BatchSize,
		LineTerminator: o.LineTerminator,
		ConfigFileName: o.ConfigFileName,
		PruneIndices:   o.PruneIndices,
		BulkRPS:        o.BulkRPS,
		ObjectStore:    o.ObjectStore,
		MinioEndpoint:  o.MinioEndpoint,
		MinioUseSSL:    o.MinioUseSSL,
		FileRoot:       o.FileRoot,
		KafkaBrokers:   o.KafkaBrokers,
		KafkaTopic:     o.KafkaTopic,
		Verbose:        o.Verbose,
		LogPath:        o.LogPath,
	}
	if c.Endpoints == nil {
		c.Endpoints = []string{}
	}
	if c.KafkaBrokers == nil {
		c.KafkaBrokers = []string{}
	}
	if c.SecretKey != "" {
		c.SecretKey = masked
	}
	if c.SessionToken != "" {
		c.SessionToken = masked
	}
	c.Tracing.AgentHostPort = o.Tracing.AgentHostPort
	c.Tracing.SamplerType = o.Tracing.SamplerType
	c.Tracing.SamplerParam = o.Tracing.SamplerParam
	return c
}

// ConfigCommand represents a command for printing the configuration.
type ConfigCommand struct {
	*esload.CmdIO

	LoadOptions
}

// NewConfigCommand returns a new instance of ConfigCommand.
func NewConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		CmdIO:       esload.NewCmdIO(stdin, stdout, stderr),
		LoadOptions: NewLoadOptions(),
	}
}

// Run prints out the configuration in the format of a configuration file,
// with secrets masked.
func (cmd *ConfigCommand) Run(_ context.Context) error {
	buf, err := toml.Marshal(newFileConfig(cmd.LoadOptions))
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	fmt.Fprintln(cmd.Stdout, string(buf))
	return nil
}
