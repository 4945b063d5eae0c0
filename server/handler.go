// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package server receives object store event notifications over HTTP and
// starts one load per created object.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	esload "github.com/crayon13/aws-lambda"
	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/event"
	"github.com/crayon13/aws-lambda/job"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/crayon13/aws-lambda/notify"
	"github.com/crayon13/aws-lambda/tracing"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// maxEventSize bounds the body of a notification.
const maxEventSize = 1 << 20

// Runner runs one load.
type Runner interface {
	Run(ctx context.Context, bucket, key string) (*job.Result, error)
}

// Handler represents an HTTP handler.
type Handler struct {
	Handler http.Handler

	logger   logger.Logger
	runner   Runner
	reporter notify.Reporter

	// concurrency bounds the runs of one notification.
	concurrency int

	ln           net.Listener
	closeTimeout time.Duration
	server       *http.Server
}

type errorResponse struct {
	Error     string      `json:"error"`
	ErrorCode errors.Code `json:"errorCode,omitempty"`
}

// eventsResponse lists the result of every run a notification started.
type eventsResponse struct {
	Results []*job.Result `json:"results"`
}

// handlerOption is a functional option type for Handler
type handlerOption func(h *Handler) error

func OptHandlerAllowedOrigins(origins []string) handlerOption {
	return func(h *Handler) error {
		if len(origins) == 0 {
			return nil
		}
		h.Handler = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h.Handler)
		return nil
	}
}

func OptHandlerRunner(r Runner) handlerOption {
	return func(h *Handler) error {
		h.runner = r
		return nil
	}
}

func OptHandlerReporter(r notify.Reporter) handlerOption {
	return func(h *Handler) error {
		h.reporter = r
		return nil
	}
}

func OptHandlerLogger(logger logger.Logger) handlerOption {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

func OptHandlerListener(ln net.Listener) handlerOption {
	return func(h *Handler) error {
		h.ln = ln
		return nil
	}
}

// OptHandlerConcurrency bounds how many objects of one notification load at
// the same time. Default is 1.
func OptHandlerConcurrency(n int) handlerOption {
	return func(h *Handler) error {
		if n < 1 {
			return errors.Newf(errors.ErrConfig, "concurrency must be at least 1, got %d", n)
		}
		h.concurrency = n
		return nil
	}
}

// OptHandlerCloseTimeout controls how long to wait for the http Server to
// shutdown cleanly before forcibly destroying it. Default is 30 seconds.
func OptHandlerCloseTimeout(d time.Duration) handlerOption {
	return func(h *Handler) error {
		h.closeTimeout = d
		return nil
	}
}

// NewHandler returns a new instance of Handler with a default logger.
func NewHandler(opts ...handlerOption) (*Handler, error) {
	handler := &Handler{
		logger:       logger.NopLogger,
		reporter:     notify.Nop,
		concurrency:  1,
		closeTimeout: time.Second * 30,
	}
	handler.Handler = newRouter(handler)

	for _, opt := range opts {
		err := opt(handler)
		if err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}

	if handler.runner == nil {
		return nil, errors.New(errors.ErrConfig, "must pass OptHandlerRunner")
	}

	handler.server = &http.Server{Handler: handler}

	return handler, nil
}

// Serve serves on the listener until Close. It requires OptHandlerListener.
func (h *Handler) Serve() error {
	if h.ln == nil {
		return errors.New(errors.ErrConfig, "must pass OptHandlerListener")
	}
	err := h.server.Serve(h.ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Errorf("HTTP handler terminated with error: %s", err)
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Close tries to cleanly shutdown the HTTP server, and failing that, after a
// timeout, calls Server.Close.
func (h *Handler) Close() error {
	deadlineCtx, cancelFunc := context.WithDeadline(context.Background(), time.Now().Add(h.closeTimeout))
	defer cancelFunc()
	err := h.server.Shutdown(deadlineCtx)
	if err != nil {
		err = h.server.Close()
	}
	return errors.Wrap(err, "shutdown/close http server")
}

func newRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/events", handler.handlePostEvents).Methods("POST").Name("PostEvents")
	router.HandleFunc("/healthz", handler.handleGetHealth).Methods("GET").Name("GetHealth")
	router.HandleFunc("/version", handler.handleGetVersion).Methods("GET").Name("GetVersion")
	router.Handle("/metrics", promhttp.Handler())
	router.Use(handler.extractTracing)
	return router
}

// ServeHTTP handles an HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			stack := debug.Stack()
			msg := "PANIC: %s\n%s"
			h.logger.Printf(msg, err, stack)
			fmt.Fprintf(w, msg, err, stack)
		}
	}()

	h.Handler.ServeHTTP(w, r)
}

func (h *Handler) extractTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span, ctx := tracing.GlobalTracer.ExtractHTTPHeaders(r)
		defer span.Finish()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handlePostEvents starts a run for every created object named in an event
// notification and answers with their results once all have finished.
func (h *Handler) handlePostEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.WithCode(err, errors.ErrConfig, "reading notification"))
		return
	}
	if len(body) > maxEventSize {
		h.writeError(w, http.StatusRequestEntityTooLarge, errors.Newf(errors.ErrConfig, "notification exceeds %d bytes", maxEventSize))
		return
	}
	objects, err := event.ParseNotification(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	results := make([]*job.Result, len(objects))
	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, obj := range objects {
		i, obj := i, obj
		g.Go(func() error {
			res, _ := h.runner.Run(r.Context(), obj.Bucket, obj.Key)
			if err := h.reporter.Report(r.Context(), res); err != nil {
				h.logger.Warnf("reporting run %s: %v", res.RunID, err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	for _, res := range results {
		if !res.OK() {
			status = statusOf(res.Err)
			break
		}
	}
	h.writeJSON(w, status, eventsResponse{Results: results})
}

func (h *Handler) handleGetHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, struct {
		Version string `json:"version"`
	}{
		Version: esload.VersionInfo(),
	})
}

// statusOf maps the code of a failed run to a response status.
func statusOf(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrConfig, errors.ErrSchema:
		return http.StatusUnprocessableEntity
	case errors.ErrTransport, errors.ErrAlias, errors.ErrSource:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Warnf("rejecting notification: %v", err)
	h.writeJSON(w, status, errorResponse{Error: err.Error(), ErrorCode: errors.CodeOf(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Printf("write response error: %s", err)
	}
}
