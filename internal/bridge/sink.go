package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/multiworld/pkg/models"
	"github.com/sirupsen/logrus"
)

// Sink receives events. Delivery is fire-and-forget: a Sink must not block
// for long and its failures are not reported back to the bridge.
type Sink interface {
	Deliver(ev models.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev models.Event)

// Deliver calls f.
func (f SinkFunc) Deliver(ev models.Event) {
	f(ev)
}

// MultiSink delivers to every sink in order.
type MultiSink []Sink

// Deliver implements Sink.
func (m MultiSink) Deliver(ev models.Event) {
	for _, s := range m {
		if s != nil {
			s.Deliver(ev)
		}
	}
}

// LogSink writes events to a logrus entry.
type LogSink struct {
	Logger *logrus.Entry
}

// Deliver implements Sink.
func (s LogSink) Deliver(ev models.Event) {
	entry := s.Logger.WithField("kind", ev.Kind)
	if ev.Stream != "" {
		entry = entry.WithField("stream", ev.Stream)
	}
	if ev.Kind == models.EventTransfer {
		entry = entry.WithFields(logrus.Fields{
			"actor":  ev.Actor,
			"item":   ev.Item,
			"target": ev.Target,
		})
	}
	entry.Info(ev.Message)
}

// FileSink appends one line per event to the session log.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *logrus.Entry
}

// NewFileSink opens path for appending, creating parent directories.
func NewFileSink(path string, logger *logrus.Entry) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FileSink{file: f, logger: logger}, nil
}

// Deliver implements Sink.
func (s *FileSink) Deliver(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	if _, err := s.file.WriteString(FormatLogLine(ev)); err != nil {
		s.logger.WithError(err).Warn("Failed to write session log")
	}
}

// Close closes the file. Later deliveries are dropped.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// FormatLogLine renders ev as one session log line.
func FormatLogLine(ev models.Event) string {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s [%s] %s\n", ts.Format(time.RFC3339), ev.Kind, ev.Message)
}

// ParseLogLine splits a session log line written by FormatLogLine. Lines that
// do not carry the "<time> [<kind>] " prefix, such as the continuation of a
// multi-line message, report ok=false.
func ParseLogLine(line string) (ev models.Event, ok bool) {
	stamp, rest, found := strings.Cut(line, " [")
	if !found {
		return models.Event{}, false
	}
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return models.Event{}, false
	}
	kind, message, found := strings.Cut(rest, "] ")
	if !found {
		kind, found = strings.CutSuffix(rest, "]")
		if !found {
			return models.Event{}, false
		}
	}
	return models.Event{Kind: models.EventKind(kind), Time: ts, Message: message}, true
}
