// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// FileWriter is an append-only log file which can be reopened in place,
// e.g. after logrotate moved it away.
type FileWriter struct {
	mu   sync.Mutex // protects f
	f    *os.File
	mode os.FileMode
	name string
}

// NewFileWriter opens name for appending with mode 0600.
func NewFileWriter(name string) (*FileWriter, error) {
	w := &FileWriter{name: name, mode: 0600}
	if err := w.reopen(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) reopen() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	f, err := os.OpenFile(w.name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, w.mode)
	if err != nil {
		return errors.Wrapf(err, "opening log file %s", w.name)
	}
	w.f = f
	return nil
}

// Reopen closes and reopens the underlying file.
func (w *FileWriter) Reopen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reopen()
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return 0, errors.New("log file is closed")
	}
	return w.f.Write(p)
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
