// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crayon13/aws-lambda/job"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/pkg/errors"
	kafka "github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaReporter.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// Backoff is the first delay between retries of a temporary write
	// failure, doubled up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// KafkaReporter publishes every Result as JSON, keyed by run id.
type KafkaReporter struct {
	writer     messageWriter
	log        logger.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewKafkaReporter returns a reporter writing to cfg.Topic.
func NewKafkaReporter(cfg KafkaConfig, log logger.Logger) (*KafkaReporter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaReporter(w, cfg, log), nil
}

func newKafkaReporter(w messageWriter, cfg KafkaConfig, log logger.Logger) *KafkaReporter {
	if log == nil {
		log = logger.NopLogger
	}
	r := &KafkaReporter{
		writer:     w,
		log:        log,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
	}
	if r.backoff <= 0 {
		r.backoff = 100 * time.Millisecond
	}
	if r.maxBackoff < r.backoff {
		r.maxBackoff = 5 * time.Second
	}
	return r
}

// Report implements Reporter.
func (r *KafkaReporter) Report(ctx context.Context, res *job.Result) error {
	value, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "marshaling run result")
	}
	return r.publish(ctx, kafka.Message{
		Key:   []byte(res.RunID),
		Value: value,
		Time:  res.Started.Add(res.Duration),
	})
}

// publish sends msg, retrying while the broker reports temporary errors.
// The wait between tries doubles up to maxBackoff.
func (r *KafkaReporter) publish(ctx context.Context, msg kafka.Message) error {
	wait := r.backoff
	for tries := 1; ; tries++ {
		err := r.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if !temporary(err) || ctx.Err() != nil {
			return errors.Wrapf(err, "publishing run result after %d tries", tries)
		}
		r.log.Warnf("temporary kafka write error, try %d, retrying in %v: %v", tries, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "publishing run result after %d tries", tries)
		}
		if wait *= 2; wait > r.maxBackoff {
			wait = r.maxBackoff
		}
	}
}

// temporary reports whether err is a broker error worth retrying. Write
// errors are temporary when every failed message is.
func temporary(err error) bool {
	switch err := err.(type) {
	case kafka.Error:
		return err.Temporary()
	case kafka.WriteErrors:
		failed := 0
		for _, e := range err {
			if e == nil {
				continue
			}
			if !temporary(e) {
				return false
			}
			failed++
		}
		return failed > 0
	}
	return false
}

// Close flushes pending messages and closes the writer.
func (r *KafkaReporter) Close() error {
	return errors.Wrap(r.writer.Close(), "closing kafka writer")
}
