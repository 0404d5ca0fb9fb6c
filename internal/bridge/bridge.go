// Package bridge reads a running server's output streams and turns their
// lines into notification events.
package bridge

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/multiworld/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// deadlineReader is implemented by *os.File and net.Conn.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// Bridge consumes stdout and stderr concurrently. It never owns the streams:
// cancellation interrupts blocked reads but leaves closing to the owner,
// except for readers that cannot be interrupted any other way.
type Bridge struct {
	classifier Classifier
	sink       Sink
	sessionID  string
	logger     *logrus.Entry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a Bridge delivering classified events for sessionID to sink.
func New(sessionID string, classifier Classifier, sink Sink, logger *logrus.Entry) *Bridge {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bridge{
		classifier: classifier,
		sink:       sink,
		sessionID:  sessionID,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start launches one reader per stream. Either stream may be nil. The bridge
// finishes when both readers have finished.
func (b *Bridge) Start(ctx context.Context, stdout, stderr io.Reader) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	readersDone := make(chan struct{})
	var wg conc.WaitGroup
	if stdout != nil {
		wg.Go(func() { b.read(ctx, models.StreamStdout, stdout) })
	}
	if stderr != nil {
		wg.Go(func() { b.read(ctx, models.StreamStderr, stderr) })
	}

	go func() {
		select {
		case <-ctx.Done():
			interrupt(stdout)
			interrupt(stderr)
		case <-readersDone:
		}
	}()

	go func() {
		if recovered := wg.WaitAndRecover(); recovered != nil {
			b.logger.WithError(recovered.AsError()).Error("Log bridge reader panicked")
		}
		close(readersDone)
		b.cancel()
		close(b.done)
	}()
}

func interrupt(r io.Reader) {
	if r == nil {
		return
	}
	if d, ok := r.(deadlineReader); ok {
		if err := d.SetReadDeadline(time.Now()); err == nil {
			return
		}
	}
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}

func (b *Bridge) read(ctx context.Context, stream models.Stream, r io.Reader) {
	log := b.logger.WithField("stream", stream)
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadString('\n')
		if line != "" && ctx.Err() == nil {
			b.handle(stream, line)
		}
		if err != nil {
			switch {
			case err == io.EOF:
				log.Debug("Stream closed")
			case ctx.Err() != nil:
				log.Debug("Stream reader cancelled")
			case stderrors.Is(err, os.ErrDeadlineExceeded), stderrors.Is(err, os.ErrClosed), stderrors.Is(err, io.ErrClosedPipe):
				log.Debug("Stream interrupted")
			default:
				log.WithError(err).Warn("Stream read failed, no longer forwarding this stream")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *Bridge) handle(stream models.Stream, raw string) {
	line := strings.ToValidUTF8(strings.TrimRight(raw, "\r\n"), "�")
	ev, ok := b.classifier.Classify(stream, line)
	if !ok {
		return
	}
	ev.SessionID = b.sessionID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.sink.Deliver(ev)
}

// Stop cancels both readers. It does not wait.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once both readers have returned.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until both readers have returned or timeout elapses, and
// reports whether they finished. A bridge that was never started counts as
// finished.
func (b *Bridge) Wait(timeout time.Duration) bool {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.done:
		return true
	case <-timer.C:
		return false
	}
}
