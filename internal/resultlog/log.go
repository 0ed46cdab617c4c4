// Package resultlog appends CSV rows to a shared file from many goroutines.
// A single writer goroutine owns the file; each row is encoded in memory and
// written with one call, and a failed write is rolled back by truncating to the
// previous size, so the file only ever contains complete rows.
package resultlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/metrics"
)

// ErrClosed is returned by operations on a closed Log.
var ErrClosed = errors.New("result log closed")

// ErrHeaderMismatch is returned when an existing file starts with a different header.
var ErrHeaderMismatch = errors.New("result log header mismatch")

type requestKind int

const (
	kindAppend requestKind = iota
	kindHeader
)

type request struct {
	kind  requestKind
	row   []string
	reply chan response
}

type response struct {
	created bool
	err     error
}

// Log is an append-only CSV file safe for concurrent use.
type Log struct {
	name   string
	path   string
	file   *os.File
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	requests chan request
	done     chan struct{}

	// size is owned by the writer goroutine.
	size int64
}

// Open opens path for appending, creating it if needed. Existing rows are kept.
func Open(name, path string, logger *zap.Logger) (*Log, error) {
	return open(name, path, os.O_CREATE|os.O_RDWR|os.O_APPEND, logger)
}

// Create opens path and discards any existing content.
func Create(name, path string, logger *zap.Logger) (*Log, error) {
	return open(name, path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, logger)
}

func open(name, path string, flag int, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	// #nosec G304 -- the log path comes from operator configuration.
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat result log: %w", err)
	}
	l := &Log{
		name:     name,
		path:     path,
		file:     f,
		logger:   logger,
		requests: make(chan request),
		done:     make(chan struct{}),
		size:     info.Size(),
	}
	go l.run()
	return l, nil
}

// Path returns the file location.
func (l *Log) Path() string {
	return l.path
}

// WriteHeader writes header if the file is empty and reports whether it did.
// If the file already has content its first record must equal header.
func (l *Log) WriteHeader(ctx context.Context, header []string) (bool, error) {
	resp, err := l.submit(ctx, request{kind: kindHeader, row: header})
	if err != nil {
		return false, err
	}
	return resp.created, resp.err
}

// Append writes one complete row. Rows from concurrent callers never interleave.
func (l *Log) Append(ctx context.Context, row []string) error {
	resp, err := l.submit(ctx, request{kind: kindAppend, row: row})
	if err != nil {
		return err
	}
	return resp.err
}

// Close stops the writer after in-flight requests finish and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.requests)
	l.mu.Unlock()

	<-l.done
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close result log: %w", err)
	}
	return nil
}

func (l *Log) submit(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return response{}, ErrClosed
	}
	select {
	case l.requests <- req:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return response{}, ctx.Err()
	}
	// Once accepted the request always completes; the reply is buffered.
	return <-req.reply, nil
}

func (l *Log) run() {
	defer close(l.done)
	for req := range l.requests {
		switch req.kind {
		case kindHeader:
			created, err := l.writeHeader(req.row)
			req.reply <- response{created: created, err: err}
		default:
			err := l.appendRow(req.row)
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.ObserveRowAppended(l.name, status)
			req.reply <- response{err: err}
		}
	}
}

func (l *Log) writeHeader(header []string) (bool, error) {
	if l.size == 0 {
		if err := l.appendRow(header); err != nil {
			return false, err
		}
		return true, nil
	}
	existing, err := readHeader(l.path)
	if err != nil {
		return false, err
	}
	if !slices.Equal(existing, header) {
		return false, fmt.Errorf("%w: have %q, want %q", ErrHeaderMismatch, existing, header)
	}
	return false, nil
}

func (l *Log) appendRow(row []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	n, err := l.file.Write(buf.Bytes())
	if err != nil {
		if n > 0 {
			if truncErr := l.file.Truncate(l.size); truncErr != nil {
				l.logger.Error("roll back partial row",
					zap.String("log", l.name),
					zap.Int64("size", l.size),
					zap.Error(truncErr),
				)
				return errors.Join(fmt.Errorf("write row: %w", err), truncErr)
			}
		}
		return fmt.Errorf("write row: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.logger.Warn("sync result log", zap.String("log", l.name), zap.Error(err))
	}
	l.size += int64(n)
	return nil
}

func readHeader(path string) ([]string, error) {
	// #nosec G304 -- the log path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	defer func() { _ = f.Close() }()
	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return header, nil
}

// Scan reads path and calls fn for every data row after verifying the header.
// A row that fails to parse is passed to fn with its error so callers can skip it.
func Scan(path string, header []string, fn func(line int, row []string, err error) error) error {
	// #nosec G304 -- the log path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open result log: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	first, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(first, header) {
		return fmt.Errorf("%w: have %q, want %q", ErrHeaderMismatch, first, header)
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return fmt.Errorf("read row: %w", err)
		}
		line := 0
		switch {
		case parseErr != nil:
			line = parseErr.Line
		case len(row) > 0:
			line, _ = r.FieldPos(0)
		}
		if err == nil && len(row) != len(header) {
			err = fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(row))
		}
		if cbErr := fn(line, row, err); cbErr != nil {
			return cbErr
		}
	}
}
