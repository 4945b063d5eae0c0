// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package notify publishes the outcome of finished runs.
package notify

import (
	"context"

	"github.com/crayon13/aws-lambda/job"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/pkg/errors"
)

// Reporter publishes run results. Report is called once per run, failed
// runs included.
type Reporter interface {
	Report(ctx context.Context, res *job.Result) error
	Close() error
}

// Nop reports nothing.
var Nop Reporter = nopReporter{}

type nopReporter struct{}

func (nopReporter) Report(context.Context, *job.Result) error { return nil }
func (nopReporter) Close() error                             { return nil }

// LogReporter writes one line per run to a Logger.
type LogReporter struct {
	Logger logger.Logger
}

// NewLogReporter returns a LogReporter writing to log.
func NewLogReporter(log logger.Logger) *LogReporter {
	return &LogReporter{Logger: log}
}

// Report implements Reporter.
func (r *LogReporter) Report(_ context.Context, res *job.Result) error {
	if res.OK() {
		r.Logger.Infof("run %s s3://%s/%s into %s: %s", res.RunID, res.Bucket, res.Key, res.RealIndex, res)
		return nil
	}
	r.Logger.Errorf("run %s s3://%s/%s failed: %v (%s)", res.RunID, res.Bucket, res.Key, res.Err, res)
	return nil
}

// Close implements Reporter.
func (r *LogReporter) Close() error { return nil }

// Multi reports to every reporter in turn and returns the first error.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, res *job.Result) error {
	var first error
	for _, r := range m {
		if err := r.Report(ctx, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close implements Reporter.
func (m Multi) Close() (err error) {
	for _, r := range m {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing reporter")
		}
	}
	return err
}
