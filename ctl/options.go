// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"io"
	"time"

	esload "github.com/crayon13/aws-lambda"
	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/esclient"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/crayon13/aws-lambda/notify"
	"github.com/crayon13/aws-lambda/objstore"
	"github.com/crayon13/aws-lambda/pipeline"
	"github.com/crayon13/aws-lambda/signer"
	"github.com/crayon13/aws-lambda/tracing"
	fbopentracing "github.com/crayon13/aws-lambda/tracing/opentracing"
	"github.com/opentracing/opentracing-go"
	"github.com/spf13/pflag"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// Object store kinds.
const (
	StoreS3    = "s3"
	StoreMinio = "minio"
	StoreFile  = "file"
)

// SamplerTypeOff disables tracing.
const SamplerTypeOff = "off"

// TracingConfig configures the Jaeger tracer.
type TracingConfig struct {
	AgentHostPort string
	SamplerType   string
	SamplerParam  float64
}

// LoadOptions configure how runs reach the object store, the search
// endpoints and the result topic. They are shared by the run and serve
// commands.
type LoadOptions struct {
	Endpoints []string
	Region    string
	Service   string
	Scheme    string
	Timeout   time.Duration

	AWSProfile   string
	AccessKey    string
	SecretKey    string
	SessionToken string

	BatchSize      int
	LineTerminator string
	ConfigFileName string
	PruneIndices   bool
	BulkRPS        float64

	ObjectStore   string
	MinioEndpoint string
	MinioUseSSL   bool
	FileRoot      string

	KafkaBrokers []string
	KafkaTopic   string

	Verbose bool
	LogPath string
	DryRun  bool

	Tracing TracingConfig
}

// NewLoadOptions returns LoadOptions with their defaults.
func NewLoadOptions() LoadOptions {
	return LoadOptions{
		Region:      "ap-northeast-2",
		Service:     "es",
		Scheme:      "https",
		Timeout:     esclient.DefaultTimeout,
		ObjectStore: StoreS3,
		Tracing: TracingConfig{
			SamplerType:  SamplerTypeOff,
			SamplerParam: 0.001,
		},
	}
}

// AddLoadFlags attaches the LoadOptions flags to flags.
func AddLoadFlags(flags *pflag.FlagSet, o *LoadOptions) {
	flags.StringSliceVarP(&o.Endpoints, "endpoints", "e", o.Endpoints, "Search endpoints as profile=host, or a bare host used for every profile.")
	flags.StringVar(&o.Region, "region", o.Region, "AWS region of the search endpoints and the bucket.")
	flags.StringVar(&o.Service, "service", o.Service, "AWS service name requests are signed for.")
	flags.StringVar(&o.Scheme, "scheme", o.Scheme, "Scheme of endpoints given without one.")
	flags.DurationVar(&o.Timeout, "timeout", o.Timeout, "Timeout of one request to a search endpoint.")

	flags.StringVar(&o.AWSProfile, "aws-profile", o.AWSProfile, "Shared credentials profile. Default is the SDK credential chain.")
	flags.StringVar(&o.AccessKey, "access-key", o.AccessKey, "Access key used instead of the credential chain.")
	flags.StringVar(&o.SecretKey, "secret-key", o.SecretKey, "Secret key used with access-key.")
	flags.StringVar(&o.SessionToken, "session-token", o.SessionToken, "Session token used with access-key.")

	flags.IntVar(&o.BatchSize, "batch-size", o.BatchSize, "Lines per bulk request, two per document. Zero means 1000.")
	flags.StringVar(&o.LineTerminator, "line-terminator", o.LineTerminator, "Record terminator. Default is a newline.")
	flags.StringVar(&o.ConfigFileName, "config-file-name", o.ConfigFileName, "Name of the configuration object next to the data. Default is config.json, then config.yaml.")
	flags.BoolVar(&o.PruneIndices, "prune-indices", o.PruneIndices, "Delete older versions of an index after its alias moved.")
	flags.Float64Var(&o.BulkRPS, "bulk-rps", o.BulkRPS, "Bulk requests per second within a run. Zero means no limit.")

	flags.StringVar(&o.ObjectStore, "object-store", o.ObjectStore, "Where objects are read from: s3, minio or file.")
	flags.StringVar(&o.MinioEndpoint, "minio-endpoint", o.MinioEndpoint, "host:port or URL of an S3 compatible store.")
	flags.BoolVar(&o.MinioUseSSL, "minio-use-ssl", o.MinioUseSSL, "Use SSL for a minio-endpoint given without a scheme.")
	flags.StringVar(&o.FileRoot, "file-root", o.FileRoot, "Directory holding one subdirectory per bucket for the file store.")

	flags.StringSliceVar(&o.KafkaBrokers, "kafka-brokers", o.KafkaBrokers, "Kafka brokers run results are published to.")
	flags.StringVar(&o.KafkaTopic, "kafka-topic", o.KafkaTopic, "Kafka topic run results are published to.")

	flags.BoolVarP(&o.Verbose, "verbose", "v", o.Verbose, "Enable verbose logging.")
	flags.StringVar(&o.LogPath, "log-path", o.LogPath, "Log path. Default is stderr.")

	flags.StringVar(&o.Tracing.AgentHostPort, "tracing.agent-host-port", o.Tracing.AgentHostPort, "Jaeger agent host:port.")
	flags.StringVar(&o.Tracing.SamplerType, "tracing.sampler-type", o.Tracing.SamplerType, "Jaeger sampler type (remote, const, probabilistic, ratelimiting) or 'off' to disable tracing completely.")
	flags.Float64Var(&o.Tracing.SamplerParam, "tracing.sampler-param", o.Tracing.SamplerParam, "Jaeger sampler parameter.")
}

// environment is what a command builds from LoadOptions.
type environment struct {
	logger   logger.Logger
	runner   *pipeline.Runner
	reporter notify.Reporter
	closers  []io.Closer
}

func (e *environment) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if cerr := e.closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// setup builds the logger, the tracer, the runner and the reporter. The
// caller closes the environment.
func (o *LoadOptions) setup(ctx context.Context, cmdio *esload.CmdIO) (*environment, error) {
	env := &environment{}
	if err := o.build(ctx, cmdio, env); err != nil {
		_ = env.Close()
		return nil, err
	}
	return env, nil
}

func (o *LoadOptions) build(ctx context.Context, cmdio *esload.CmdIO, env *environment) error {
	if o.LogPath != "" {
		fw, err := logger.NewFileWriter(o.LogPath)
		if err != nil {
			return errors.Wrap(err, "opening log file")
		}
		env.closers = append(env.closers, fw)
		cmdio.SetLogger(logger.New(fw, o.Verbose))
	} else if o.Verbose {
		cmdio.SetLogger(logger.New(cmdio.Stderr, true))
	}
	env.logger = cmdio.Logger()

	closer, err := o.setupTracing(env.logger)
	if err != nil {
		return err
	}
	if closer != nil {
		env.closers = append(env.closers, closer)
	}

	store, err := o.store(env.logger)
	if err != nil {
		return err
	}

	var endpoints esclient.Endpoints
	if !o.DryRun {
		creds, err := o.credentials(ctx, env.logger)
		if err != nil {
			return err
		}
		endpoints, err = esclient.ParseEndpoints(o.Endpoints, esclient.EndpointConfig{
			Credentials: creds,
			Region:      o.Region,
			Service:     o.Service,
			Scheme:      o.Scheme,
			Timeout:     o.Timeout,
			Logger:      env.logger,
		})
		if err != nil {
			return err
		}
	}

	env.runner = &pipeline.Runner{
		Store:          store,
		Endpoints:      endpoints,
		BatchSize:      o.BatchSize,
		LineTerminator: o.LineTerminator,
		ConfigFileName: o.ConfigFileName,
		Prune:          o.PruneIndices,
		BulkRate:       o.BulkRPS,
		DryRun:         o.DryRun,
		Logger:         env.logger,
	}

	env.reporter, err = o.reporter(env.logger)
	if err != nil {
		return err
	}
	env.closers = append(env.closers, env.reporter)
	return nil
}

// credentials returns the explicit keys when given, otherwise the SDK
// credential chain for AWSProfile. The chain is checked once here and then
// asked again for every request, so expiring session credentials are
// refreshed.
func (o *LoadOptions) credentials(ctx context.Context, log logger.Logger) (signer.Provider, error) {
	if o.AccessKey != "" || o.SecretKey != "" {
		if o.AccessKey == "" || o.SecretKey == "" {
			return nil, errors.New(errors.ErrConfig, "access-key and secret-key must be given together")
		}
		return signer.StaticProvider{AccessKey: o.AccessKey, SecretKey: o.SecretKey, SessionToken: o.SessionToken}, nil
	}
	sess, err := objstore.NewSession(objstore.S3Config{Profile: o.AWSProfile, Region: o.Region}, log)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "resolving credentials")
	}
	v, err := sess.Config.Credentials.GetWithContext(ctx)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "resolving credentials")
	}
	log.Debugf("signing with credentials from %s", v.ProviderName)
	return &signer.AWSProvider{Creds: sess.Config.Credentials}, nil
}

func (o *LoadOptions) store(log logger.Logger) (objstore.Store, error) {
	switch o.ObjectStore {
	case StoreS3, "":
		sess, err := objstore.NewSession(objstore.S3Config{Profile: o.AWSProfile, Region: o.Region}, log)
		if err != nil {
			return nil, errors.WithCode(err, errors.ErrConfig, "creating s3 store")
		}
		return objstore.NewS3StoreFromSession(sess, log), nil
	case StoreMinio:
		return objstore.NewMinioStore(objstore.MinioConfig{
			Endpoint:     o.MinioEndpoint,
			AccessKey:    o.AccessKey,
			SecretKey:    o.SecretKey,
			SessionToken: o.SessionToken,
			Region:       o.Region,
			UseSSL:       o.MinioUseSSL,
		})
	case StoreFile:
		if o.FileRoot == "" {
			return nil, errors.New(errors.ErrConfig, "file-root is required for the file store")
		}
		return objstore.NewFileStore(o.FileRoot), nil
	default:
		return nil, errors.Newf(errors.ErrConfig, "unknown object store %q, expected s3, minio or file", o.ObjectStore)
	}
}

func (o *LoadOptions) reporter(log logger.Logger) (notify.Reporter, error) {
	if len(o.KafkaBrokers) == 0 && o.KafkaTopic == "" {
		return notify.Nop, nil
	}
	kr, err := notify.NewKafkaReporter(notify.KafkaConfig{Brokers: o.KafkaBrokers, Topic: o.KafkaTopic}, log)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "configuring kafka")
	}
	return kr, nil
}

// setupTracing installs a Jaeger tracer as the global tracer unless tracing
// is off.
func (o *LoadOptions) setupTracing(log logger.Logger) (io.Closer, error) {
	switch o.Tracing.SamplerType {
	case SamplerTypeOff, "":
		return nil, nil
	case jaeger.SamplerTypeConst, jaeger.SamplerTypeRemote, jaeger.SamplerTypeProbabilistic, jaeger.SamplerTypeRateLimiting:
	default:
		return nil, errors.Newf(errors.ErrConfig, "unknown sampler type %q", o.Tracing.SamplerType)
	}
	cfg := jaegercfg.Configuration{
		ServiceName: "esload",
		Sampler: &jaegercfg.SamplerConfig{
			Type:  o.Tracing.SamplerType,
			Param: o.Tracing.SamplerParam,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: o.Tracing.AgentHostPort,
		},
	}
	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "initializing jaeger tracer")
	}
	opentracing.SetGlobalTracer(tracer)
	tracing.GlobalTracer = fbopentracing.NewTracer(tracer, log)
	return closer, nil
}
