// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/event"
)

// Result is what a run did. It is returned for failed runs too, with Err
// set and the counters as they were when the run stopped.
type Result struct {
	RunID     string       `json:"runId"`
	Bucket    string       `json:"bucket"`
	Key       string       `json:"key"`
	Index     string       `json:"index,omitempty"`
	RealIndex string       `json:"realIndex,omitempty"`
	Action    event.Action `json:"action,omitempty"`

	// Total is the number of lines read, header included.
	Total int64 `json:"total"`

	// Indexed is the number of operations the engine accepted.
	Indexed int64 `json:"indexed"`

	Batches       int   `json:"batches"`
	BatchesFailed int   `json:"batchesFailed"`
	FailedItems   int64 `json:"failedItems"`

	// PreviousIndex was bound to the alias before a create run rebound it.
	PreviousIndex string   `json:"previousIndex,omitempty"`
	Pruned        []string `json:"pruned,omitempty"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	Err error `json:"-"`
}

// OK reports whether the run finished without error.
func (r *Result) OK() bool { return r.Err == nil }

// String summarizes the counters.
func (r *Result) String() string {
	return fmt.Sprintf("total=%d indexed=%d batches=%d batchesFailed=%d failedItems=%d",
		r.Total, r.Indexed, r.Batches, r.BatchesFailed, r.FailedItems)
}

// WarningCode is ErrPartialBulk for a successful run in which the engine
// rejected some items, and empty otherwise.
func (r *Result) WarningCode() errors.Code {
	if r.Err == nil && r.FailedItems > 0 {
		return errors.ErrPartialBulk
	}
	return ""
}

// MarshalJSON adds the error code and message of a failed run, or the
// warning code of a partially rejected one.
func (r *Result) MarshalJSON() ([]byte, error) {
	type result Result
	out := struct {
		*result
		Duration    string      `json:"duration"`
		ErrorCode   errors.Code `json:"errorCode,omitempty"`
		Error       string      `json:"error,omitempty"`
		WarningCode errors.Code `json:"warningCode,omitempty"`
	}{
		result:      (*result)(r),
		Duration:    r.Duration.String(),
		WarningCode: r.WarningCode(),
	}
	if r.Err != nil {
		out.ErrorCode = errors.CodeOf(r.Err)
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
