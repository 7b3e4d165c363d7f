// Package spool decouples a shard's producer from its consumer through a
// disk-backed newline-delimited JSON file, per §4.5. Spooling to disk
// rather than an in-memory queue bounds memory independent of shard size;
// a tailing reader lets the consumer start draining before the producer
// finishes.
package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/uuid"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
)

// writeBufferThreshold is the ≈64 KB coalescing threshold of §4.5.
const writeBufferThreshold = 64 * 1024

// readChunkSize is the ≈512 KB read chunk of §4.5.
const readChunkSize = 512 * 1024

// Spool is a single-writer, single-reader disk-backed record queue for
// one shard.
type Spool struct {
	path string
	log  *logrus.Entry

	mu     sync.Mutex
	isDone bool
	werr   error
	done   chan struct{}

	watcher     *fsnotify.Watcher
	processCall bool
}

// New creates a spool file under dir, named from endpoint and a random
// suffix so concurrent shards of the same stream never collide.
func New(dir, endpoint string, log *logrus.Entry) (*Spool, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("spool: generating id: %w", err)
	}
	name := slug.Make(endpoint) + "-" + id.String() + ".ndjson"
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("spool: creating %s: %w", path, err)
	}
	_ = f.Close()

	return &Spool{path: path, log: log, done: make(chan struct{})}, nil
}

// Path returns the spool's backing file, for logging.
func (s *Spool) Path() string { return s.path }

// Done returns a channel closed once the producer started by Start has
// fully finished writing (successfully or not). Start is fire-and-forget;
// callers that need to bound concurrent producer work, rather than just
// concurrent Start calls, must wait on this.
func (s *Spool) Done() <-chan struct{} { return s.done }

// Start begins writing produce's yielded records as newline-delimited
// JSON to the spool file. Writes are coalesced until writeBufferThreshold
// is reached, then flushed. On completion or producer error the file is
// closed and isDone is set; a producer error is recorded and surfaces to
// process() once the reader catches up, aborting the owning controller
// per §5.
func (s *Spool) Start(ctx context.Context, produce func(ctx context.Context, emit func(map[string]any) error) error) {
	go func() {
		defer s.markDone()

		f, err := os.OpenFile(s.path, os.O_WRONLY, 0o600)
		if err != nil {
			s.fail(fmt.Errorf("spool: reopening %s for write: %w", s.path, err))
			return
		}
		defer f.Close()

		bw := bufio.NewWriterSize(f, writeBufferThreshold)
		var written int
		emit := func(rec map[string]any) error {
			b, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("spool: marshalling record: %w", err)
			}
			b = append(b, '\n')
			if _, err := bw.Write(b); err != nil {
				return fmt.Errorf("spool: writing: %w", err)
			}
			written += len(b)
			if bw.Buffered() >= writeBufferThreshold {
				if err := bw.Flush(); err != nil {
					return fmt.Errorf("spool: flushing: %w", err)
				}
			}
			return nil
		}

		if err := produce(ctx, emit); err != nil {
			s.fail(err)
			return
		}
		if err := bw.Flush(); err != nil {
			s.fail(fmt.Errorf("spool: final flush: %w", err))
			return
		}
		if s.log != nil {
			s.log.WithField("bytes", humanize.Bytes(uint64(written))).Debug("spool producer finished")
		}
	}()
}

func (s *Spool) markDone() {
	s.mu.Lock()
	s.isDone = true
	s.mu.Unlock()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	close(s.done)
}

func (s *Spool) fail(err error) {
	s.mu.Lock()
	s.werr = err
	s.mu.Unlock()
}

func (s *Spool) doneState() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDone, s.werr
}

// Process opens the spool file for reading and yields decoded records,
// reading fixed-size chunks, splitting on newlines, carrying any partial
// line across chunks. At end-of-file with the writer not yet done, it
// waits for a filesystem-change notification on the file or for the
// writer to finish, whichever occurs first. May only be called once.
func (s *Spool) Process(ctx context.Context, yield func(map[string]any) error) error {
	if s.processCall {
		return fmt.Errorf("spool: Process called more than once for %s", s.path)
	}
	s.processCall = true

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("spool: opening %s for read: %w", s.path, err)
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("spool: watching %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	buf := make([]byte, readChunkSize)
	var partial []byte
	var finalPass bool

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := append(partial, buf[:n]...)
			lines, rest := splitLines(chunk)
			partial = rest
			for _, line := range lines {
				if len(line) == 0 {
					continue
				}
				var rec map[string]any
				if err := json.Unmarshal(line, &rec); err != nil {
					return fmt.Errorf("spool: decoding record: %w", err)
				}
				if err := yield(rec); err != nil {
					return err
				}
			}
		}

		if rerr == nil {
			continue
		}
		if rerr != io.EOF {
			return fmt.Errorf("spool: reading %s: %w", s.path, rerr)
		}

		isDone, werr := s.doneState()
		if werr != nil {
			return werr
		}
		if isDone {
			if !finalPass {
				// The writer may have flushed between the EOF read above
				// and this check: read to EOF once more before finishing.
				finalPass = true
				continue
			}
			if len(partial) > 0 {
				var rec map[string]any
				if err := json.Unmarshal(partial, &rec); err != nil {
					return fmt.Errorf("spool: decoding final record: %w", err)
				}
				if err := yield(rec); err != nil {
					return err
				}
				partial = nil
			}
			return nil
		}

		if err := s.waitForMoreData(ctx, watcher); err != nil {
			return err
		}
	}
}

// waitForMoreData blocks until the file changes, the writer finishes, the
// context is cancelled, or a bounded poll interval elapses (belt-and-
// braces against a missed fsnotify event on some filesystems).
func (s *Spool) waitForMoreData(ctx context.Context, watcher *fsnotify.Watcher) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-watcher.Events:
		if !ok {
			return nil
		}
		return nil
	case err, ok := <-watcher.Errors:
		if ok && err != nil {
			return fmt.Errorf("spool: watcher: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// splitLines splits b on '\n', returning complete lines and the trailing
// partial line (without a terminating newline).
func splitLines(b []byte) (lines [][]byte, rest []byte) {
	start := 0
	for i, c := range b {
		if c == '\n' {
			line := make([]byte, i-start)
			copy(line, b[start:i])
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(b) {
		rest = make([]byte, len(b)-start)
		copy(rest, b[start:])
	}
	return lines, rest
}

// Cleanup removes the spool file. Idempotent.
func (s *Spool) Cleanup() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("spool: removing %s: %w", s.path, err)
	}
	return nil
}
