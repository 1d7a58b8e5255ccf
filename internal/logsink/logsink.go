// Package logsink is the Log Sink & Scanner: it appends a run's
// streamed output lines to a per-run file under the configured logs
// directory, and serves live tail reads to subscribers (the `monit`
// CLI command) via fsnotify, falling back to polling for new bytes
// when the watch cannot be installed.
package logsink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/platform"
)

var _ platform.LineSink = (*Sink)(nil)

// Sink appends lines for one run to its log file and notifies any
// live subscribers. It implements platform.LineSink.
type Sink struct {
	runID string
	path  string

	mu   sync.Mutex
	file *os.File

	subMu       sync.RWMutex
	subscribers map[chan string]struct{}
}

// Open creates (or truncates) the log file for runID under dir.
func Open(dir, runID string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &blderr.PlatformError{Op: "logsink-mkdir", Cause: err}
	}
	path := filepath.Join(dir, runID)
	f, err := os.Create(path)
	if err != nil {
		return nil, &blderr.PlatformError{Op: "logsink-open", Cause: err}
	}
	return &Sink{
		runID:       runID,
		path:        path,
		file:        f,
		subscribers: make(map[chan string]struct{}),
	}, nil
}

// WriteLine appends line plus a trailing newline and fans it out to
// live subscribers. Writes are best-effort: a full subscriber channel
// drops the line rather than blocking the run.
func (s *Sink) WriteLine(line string) {
	s.mu.Lock()
	if s.file != nil {
		fmt.Fprintln(s.file, line)
	}
	s.mu.Unlock()

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe returns a channel receiving every line written from this
// point on, and an unsubscribe function the caller must invoke when
// done reading.
func (s *Sink) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 256)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

// Close flushes and closes the underlying file. Subscribers are left
// open so a tail-follower can keep draining buffered lines.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Path returns the on-disk log file path for runID under dir, for
// readers that only need to tail an already-running or finished run
// without holding the writing Sink.
func Path(dir, runID string) string {
	return filepath.Join(dir, runID)
}

// Scanner tails a run's log file from disk, following appends with
// fsnotify instead of polling.
type Scanner struct {
	path string
}

// NewScanner builds a Scanner over the log file for runID under dir.
func NewScanner(dir, runID string) *Scanner {
	return &Scanner{path: Path(dir, runID)}
}

// ReadAll returns every line currently in the file, for a one-shot
// "show full history" read.
func (s *Scanner) ReadAll() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, &blderr.NotFound{Resource: "log", ID: s.path}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// Follow streams every existing line, then every line appended after,
// until ctx-equivalent stop is signalled by closing done. New lines are delivered as fsnotify reports writes to
// the file, falling back to a short poll if the watch itself fails to
// install (e.g. on filesystems fsnotify cannot watch).
func (s *Scanner) Follow(out chan<- string, done <-chan struct{}) error {
	f, err := os.Open(s.path)
	if err != nil {
		return &blderr.NotFound{Resource: "log", ID: s.path}
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	emit := func() error {
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				select {
				case out <- trimNewline(line):
				case <-done:
					return io.EOF
				}
			}
			if err != nil {
				return nil
			}
		}
	}
	if err := emit(); err != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return s.pollFollow(reader, out, done)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return s.pollFollow(reader, out, done)
	}

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := emit(); err != nil {
					return nil
				}
			}
		case werr, ok := <-watcher.Errors:
			if !ok || werr != nil {
				return s.pollFollow(reader, out, done)
			}
		}
	}
}

func (s *Scanner) pollFollow(reader *bufio.Reader, out chan<- string, done <-chan struct{}) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if len(line) > 0 {
					select {
					case out <- trimNewline(line):
					case <-done:
						return nil
					}
				}
				if err != nil {
					break
				}
			}
		}
	}
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
