// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package packetlog provides the rotating packet-log writer and replay
// reader spec.md §6 names as an external adjunct (`packet_log:
// {file_name, rotate_backups, rotate_bytes}`), grounded on
// original_source/database.py and helpers.py's packet-log replay.
package packetlog

import (
	"bufio"
	"io"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Writer appends timestamped RAMSES-II lines to a size-rotated log file.
type Writer struct {
	lj *lumberjack.Logger
}

// NewWriter opens (or creates) a rotating packet log at fileName,
// keeping rotateBackups old files. The rotation size is rotateBytes
// rounded down to whole megabytes, at least 1 MB (1 MB when rotateBytes
// is not positive).
func NewWriter(fileName string, rotateBytes, rotateBackups int) *Writer {
	maxMB := 1
	if rotateBytes > 0 {
		maxMB = rotateBytes / (1024 * 1024)
		if maxMB < 1 {
			maxMB = 1
		}
	}
	return &Writer{lj: &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    maxMB,
		MaxBackups: rotateBackups,
		Compress:   false,
	}}
}

// WriteLine appends a single already-formatted RAMSES-II line, prefixed
// with an RFC3339Nano timestamp so the log can be replayed in order.
func (w *Writer) WriteLine(line string) error {
	_, err := w.lj.Write([]byte(time.Now().Format(time.RFC3339Nano) + " " + line + "\n"))
	return err
}

// Close closes the underlying rotated file.
func (w *Writer) Close() error { return w.lj.Close() }

// RawLine is one replayed packet-log record: its recorded timestamp and
// the wire line that followed it.
type RawLine struct {
	DTM  time.Time
	Line string
}

// Replay reads a packet log written by Writer and yields its records in
// file order, skipping any line it cannot parse a timestamp prefix from
// (e.g. a partial line left by a rotation mid-write).
func Replay(r io.Reader) []RawLine {
	var out []RawLine
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		dtm, err := time.Parse(time.RFC3339Nano, line[:sp])
		if err != nil {
			continue
		}
		out = append(out, RawLine{DTM: dtm, Line: line[sp+1:]})
	}
	return out
}
