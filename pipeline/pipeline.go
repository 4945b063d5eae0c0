// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs a single load: it reads a delimited object line by
// line, checks it against the index mapping, and sends it in signed bulk
// requests, creating the index and moving its alias when asked to.
package pipeline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/crayon13/aws-lambda/bulk"
	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/esclient"
	"github.com/crayon13/aws-lambda/job"
	"github.com/crayon13/aws-lambda/lifecycle"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/crayon13/aws-lambda/objstore"
	"github.com/crayon13/aws-lambda/records"
	"github.com/crayon13/aws-lambda/schema"
	"github.com/crayon13/aws-lambda/tracing"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxLoggedItemFailures bounds the failed items logged per batch.
const maxLoggedItemFailures = 10

// Runner runs loads. Runs share nothing but the Runner's configuration, so
// one Runner may serve concurrent runs.
type Runner struct {
	Store     objstore.Store
	Endpoints esclient.Endpoints

	// BatchSize is the line limit of one bulk request. Zero means
	// bulk.DefaultMaxBatchSize.
	BatchSize int

	// LineTerminator separates records. Empty means a newline.
	LineTerminator string

	// ConfigFileName names the configuration object next to the source.
	ConfigFileName string

	// Prune deletes older versioned indices after a successful rebind.
	Prune bool

	// BulkRate limits bulk requests per second within a run. Zero means
	// no limit.
	BulkRate float64

	// DryRun reads and validates the object without sending anything.
	DryRun bool

	Logger logger.Logger
}

// state is the position of a run in its source object.
type state int

const (
	awaitingHeader state = iota
	streaming
)

// run holds everything scoped to a single load.
type run struct {
	cfg     *job.Config
	res     *job.Result
	log     logger.Logger
	client  *esclient.Client
	batcher *bulk.Batcher
	limiter *rate.Limiter
	state   state
	dryRun  bool
}

// Run loads the object at bucket/key. The returned Result is never nil; on
// failure it holds the counters up to the failure and the error is also
// returned.
func (r *Runner) Run(ctx context.Context, bucket, key string) (*job.Result, error) {
	id := uuid.New().String()
	res := &job.Result{
		RunID:   id,
		Bucket:  bucket,
		Key:     key,
		Started: time.Now().UTC(),
	}
	log := r.Logger
	if log == nil {
		log = logger.NopLogger
	}
	log = log.WithPrefix("[" + id + "] ")

	span, ctx := tracing.StartSpanFromContext(ctx, "Runner.Run")
	span.LogKV("bucket", bucket, "key", key, "run", id)
	defer span.Finish()

	err := r.run(ctx, log, res)
	res.Duration = time.Since(res.Started)
	res.Err = err

	outcome := "ok"
	if err != nil {
		outcome = string(errors.CodeOf(err))
		log.Errorf("run failed after %v: %v (%s)", res.Duration, err, res)
	} else {
		log.Infof("run finished in %v: %s", res.Duration, res)
	}
	CounterRuns.WithLabelValues(string(res.Action), outcome).Inc()
	HistogramRunDuration.WithLabelValues(string(res.Action)).Observe(res.Duration.Seconds())
	return res, err
}

func (r *Runner) run(ctx context.Context, log logger.Logger, res *job.Result) error {
	cfg, err := job.Resolve(ctx, r.Store, res.Bucket, res.Key, job.Options{ConfigFileName: r.ConfigFileName})
	if err != nil {
		return err
	}
	res.Index, res.RealIndex, res.Action = cfg.Index, cfg.RealIndex, cfg.Action
	log.Infof("loading s3://%s/%s into %s (alias %s, profile %s, action %s)", cfg.Bucket, cfg.Key, cfg.RealIndex, cfg.Index, cfg.Profile, cfg.Action)

	client, err := r.Endpoints.For(cfg.Profile)
	if err != nil && !r.DryRun {
		return err
	}
	batcher, err := bulk.NewBatcher(cfg.RealIndex, r.BatchSize)
	if err != nil {
		return err
	}
	st := &run{
		cfg:     cfg,
		res:     res,
		log:     log,
		client:  client,
		batcher: batcher,
		dryRun:  r.DryRun,
	}
	if r.BulkRate > 0 {
		st.limiter = rate.NewLimiter(rate.Limit(r.BulkRate), 1)
	}

	var lc *lifecycle.Manager
	if !r.DryRun {
		lc = lifecycle.New(client, log)
	}
	if lc != nil && lifecycle.NeedsIndex(cfg.Action) {
		if err := lc.CreateIndex(ctx, cfg.RealIndex, cfg.Settings, cfg.Mapping); err != nil {
			return err
		}
	}

	rc, err := r.Store.GetObjectStream(ctx, cfg.Bucket, cfg.Key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := st.load(ctx, records.NewStream(rc, r.LineTerminator)); err != nil {
		return err
	}
	if res.FailedItems > 0 {
		log.Warnf("%d of %d items were rejected (%s)", res.FailedItems, res.FailedItems+res.Indexed, errors.ErrPartialBulk)
	}

	if lc == nil || !lifecycle.NeedsIndex(cfg.Action) {
		return nil
	}
	previous, err := lc.Rebind(ctx, cfg.Index, cfg.RealIndex)
	res.PreviousIndex = previous
	if err != nil {
		return err
	}
	if r.Prune {
		keep := []string{cfg.RealIndex}
		if previous != "" {
			keep = append(keep, previous)
		}
		pruned, err := lc.Prune(ctx, cfg.Index, keep...)
		res.Pruned = pruned
		if err != nil {
			log.Warnf("pruning old indices of %s: %v", cfg.Index, err)
		}
	}
	return nil
}

// load consumes the stream: the first line is the header, every other line
// is a record. Batches are flushed when full and once more at the end.
func (st *run) load(ctx context.Context, stream *records.Stream) error {
	for stream.Next() {
		st.res.Total = stream.Count()
		CounterRecords.Inc()
		if err := ctx.Err(); err != nil {
			return errors.WithCode(err, errors.ErrTransport, "run canceled")
		}

		fields := strings.Split(stream.Line(), st.cfg.Delimiter)
		switch st.state {
		case awaitingHeader:
			if err := schema.ValidateHeader(fields, st.cfg.Mapping, st.cfg.Index); err != nil {
				return err
			}
			if err := st.cfg.SetFieldNames(fields); err != nil {
				return err
			}
			st.log.Debugf("header: %s", strings.Join(fields, ","))
			st.state = streaming

		case streaming:
			names := st.cfg.FieldNames()
			if err := schema.ValidateRecord(fields, len(names)); err != nil {
				return errors.WithMessagef(err, "line %d", stream.Count())
			}
			doc, err := bulk.NewDocument(names, fields)
			if err != nil {
				return err
			}
			full, err := st.batcher.Add(doc, fields[0])
			if err != nil {
				return err
			}
			if full {
				if err := st.flush(ctx); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	st.res.Total = stream.Count()
	if st.state == awaitingHeader {
		return errors.Newf(errors.ErrSchema, "s3://%s/%s has no header line", st.cfg.Bucket, st.cfg.Key)
	}
	if !st.batcher.IsEmpty() {
		return st.flush(ctx)
	}
	return nil
}

// flush sends the queued operations as one bulk request. The batch is
// counted as sent whatever the outcome; it is never resent.
func (st *run) flush(ctx context.Context) error {
	ops := st.batcher.Operations()
	body := st.batcher.Flush()
	if st.dryRun {
		st.log.Debugf("dry run: skipping bulk request of %d operations", ops)
		return nil
	}
	if st.limiter != nil {
		if err := st.limiter.Wait(ctx); err != nil {
			return errors.WithCode(err, errors.ErrTransport, "waiting for bulk rate limit")
		}
	}

	span, ctx := tracing.StartSpanFromContext(ctx, "run.flush")
	defer span.Finish()
	span.LogKV("operations", ops)

	st.res.Batches++
	resp, err := st.client.Send(ctx, http.MethodPost, "/_bulk", nil, bulk.ContentType, body)
	if err == nil {
		err = resp.Err("bulk request")
	}
	var br *bulk.Response
	if err == nil {
		br, err = bulk.ParseResponse(resp.Body)
	}
	if err != nil {
		st.res.BatchesFailed++
		CounterBulkRequests.WithLabelValues("failed").Inc()
		return errors.Wrapf(err, "batch %d of %d operations into %s", st.res.Batches, ops, st.cfg.RealIndex)
	}
	CounterBulkRequests.WithLabelValues("ok").Inc()

	attempted, failed := br.Counts()
	st.res.Indexed += int64(attempted - failed)
	st.res.FailedItems += int64(failed)
	CounterIndexedDocuments.Add(float64(attempted - failed))
	CounterFailedItems.Add(float64(failed))

	if failed > 0 {
		for i, it := range br.Failed() {
			if i == maxLoggedItemFailures {
				st.log.Warnf("... %d more rejected items", failed-i)
				break
			}
			st.log.Warnf("rejected %s _id=%s status=%d %s", it.Op, it.ID, it.Status, it.Error)
		}
	}
	st.log.Debugf("batch %d: %d operations, %d rejected, took %dms", st.res.Batches, ops, failed, br.Took)
	return nil
}
