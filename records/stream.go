// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package records turns a byte stream into a lazy sequence of text lines.
package records

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/crayon13/aws-lambda/errors"
)

// DefaultTerminator separates records unless told otherwise.
const DefaultTerminator = "\n"

const readBufferSize = 64 * 1024

var bom = []byte("\xef\xbb\xbf")

// Stream is a single forward pass over the lines of a reader. It is finite,
// not restartable, and holds at most one line plus the read buffer in memory.
// Blank lines are skipped.
//
//	for s.Next() {
//		line := s.Line()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	r          *bufio.Reader
	terminator []byte
	line       string
	count      int64
	err        error
	done       bool
	first      bool
}

// NewStream returns a Stream over r. An empty terminator means
// DefaultTerminator.
func NewStream(r io.Reader, terminator string) *Stream {
	if terminator == "" {
		terminator = DefaultTerminator
	}
	return &Stream{
		r:          bufio.NewReaderSize(r, readBufferSize),
		terminator: []byte(terminator),
		first:      true,
	}
}

// Next advances to the next line. It returns false at the end of the input
// or after a read error, and keeps returning false from then on.
func (s *Stream) Next() bool {
	for !s.done {
		raw, err := s.readLine()
		if err != nil && err != io.EOF {
			s.done = true
			s.err = errors.WithCode(err, errors.ErrTransport, "reading source object")
			return false
		}
		if err == io.EOF {
			s.done = true
		}
		if s.first {
			raw = bytes.TrimPrefix(raw, bom)
			s.first = false
		}
		if len(raw) == 0 {
			continue
		}
		s.line = decode(raw)
		s.count++
		return true
	}
	s.line = ""
	return false
}

// readLine returns the bytes up to, not including, the next terminator. At
// the end of the input it returns the remainder with io.EOF.
func (s *Stream) readLine() ([]byte, error) {
	last := s.terminator[len(s.terminator)-1]
	var buf []byte
	for {
		chunk, err := s.r.ReadSlice(last)
		buf = append(buf, chunk...)
		switch err {
		case nil:
			if bytes.HasSuffix(buf, s.terminator) {
				return s.trimCR(buf[:len(buf)-len(s.terminator)]), nil
			}
		case bufio.ErrBufferFull:
			// Line longer than the buffer; keep accumulating.
		default:
			return s.trimCR(buf), err
		}
	}
}

// trimCR drops the carriage return of CRLF files read with a "\n" terminator.
func (s *Stream) trimCR(line []byte) []byte {
	if len(s.terminator) == 1 && s.terminator[0] == '\n' {
		return bytes.TrimSuffix(line, []byte("\r"))
	}
	return line
}

func decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "\uFFFD")
}

// Line is the line read by the last successful call to Next.
func (s *Stream) Line() string { return s.line }

// Count is the number of lines emitted so far.
func (s *Stream) Count() int64 { return s.count }

// Err is the read error which ended the stream, if any.
func (s *Stream) Err() error { return s.err }
