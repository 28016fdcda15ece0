package server

import (
	"context"
	"emperror.dev/errors"
	"fmt"
	"github.com/apex/log"
	"github.com/nxadm/tail"
	"github.com/nxadm/tail/watch"
	"github.com/vsdock/vintagestory-server/system"
	"io"
	"os"
	"time"
)

// Tailer follows a single log file and forwards every new line to a sink,
// tagged with the name of the stream. It behaves like "tail -F": output that
// was already in the file when it was opened is skipped, and a file that is
// replaced or truncated is read again from the start.
type Tailer struct {
	stream   LogStream
	path     string
	sink     *system.Sink
	interval time.Duration
	timeout  time.Duration

	t *tail.Tail
}

func NewTailer(stream LogStream, path string, sink *system.Sink, interval, reopenTimeout time.Duration) *Tailer {
	// The polling interval of the tail library is process wide, every tailer
	// is created from the same configuration.
	if watch.POLL_DURATION != interval {
		watch.POLL_DURATION = interval
	}
	return &Tailer{
		stream:   stream,
		path:     path,
		sink:     sink,
		interval: interval,
		timeout:  reopenTimeout,
	}
}

func (t *Tailer) log() *log.Entry {
	return log.WithFields(log.Fields{"subsystem": "tail", "stream": string(t.stream)})
}

// Stream returns the log stream this tailer follows.
func (t *Tailer) Stream() LogStream {
	return t.stream
}

// Open starts following the file from its current end. Lines written after
// this call are held until Run forwards them.
func (t *Tailer) Open() error {
	tl, err := tail.TailFile(t.path, tail.Config{
		Location:      &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		ReOpen:        true,
		MustExist:     true,
		Poll:          true,
		Follow:        true,
		CompleteLines: true,
		Logger:        tailLogger{t.log()},
	})
	if err != nil {
		return errors.Wrap(err, "server: tail: failed to open log file")
	}
	t.t = tl
	return nil
}

// Close stops following the file. It is safe to call more than once.
func (t *Tailer) Close() {
	if t.t == nil {
		return
	}
	tl := t.t
	t.t = nil
	go func() {
		for range tl.Lines {
		}
	}()
	_ = tl.Stop()
	tl.Cleanup()
}

// Run forwards lines until the context is canceled, at which point whatever
// remains in the file is read and forwarded before returning nil. An error is
// only returned if following fails or a removed file does not come back within
// the reopen timeout.
func (t *Tailer) Run(ctx context.Context) error {
	if t.t == nil {
		if err := t.Open(); err != nil {
			return err
		}
	}
	defer t.Close()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var missing time.Time
	for {
		select {
		case line, ok := <-t.t.Lines:
			if !ok {
				return errors.Errorf("server: tail: %s: stopped following log file: %v", t.stream, t.t.Err())
			}
			t.forward(line)
		case <-ctx.Done():
			t.settle()
			go t.t.StopAtEOF()
			t.drain()
			return nil
		case <-ticker.C:
			_, err := os.Stat(t.path)
			if err == nil {
				missing = time.Time{}
				continue
			}
			if !errors.Is(err, os.ErrNotExist) {
				return errors.Wrapf(err, "server: tail: %s: failed to stat log file", t.stream)
			}
			if missing.IsZero() {
				t.log().Debug("log file was removed, waiting for it to be recreated")
				missing = time.Now()
				continue
			}
			if time.Since(missing) > t.timeout {
				go t.t.Stop()
				t.drain()
				return errors.Errorf("server: tail: %s: failed to reopen log file: not recreated within %s", t.stream, t.timeout)
			}
		}
	}
}

// settle keeps forwarding for two polling intervals so that output written
// right before the server exited is noticed by the library before it is told
// to stop at the end of the file.
func (t *Tailer) settle() {
	timer := time.NewTimer(2 * t.interval)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-t.t.Lines:
			if !ok {
				return
			}
			t.forward(line)
		case <-timer.C:
			return
		}
	}
}

// drain forwards every line still queued until the library stops sending.
func (t *Tailer) drain() {
	for line := range t.t.Lines {
		t.forward(line)
	}
}

func (t *Tailer) forward(line *tail.Line) {
	if line.Err != nil {
		t.log().WithField("error", line.Err).Warn("error while following log file")
		return
	}
	if err := t.sink.WriteLine(string(t.stream), line.Text); err != nil {
		t.log().WithField("error", err).Debug("failed to forward log line")
	}
}

// tailLogger sends the messages of the tail library to the entrypoint log.
type tailLogger struct {
	e *log.Entry
}

func (l tailLogger) Fatal(v ...interface{})                 { l.e.Fatal(fmt.Sprint(v...)) }
func (l tailLogger) Fatalf(format string, v ...interface{}) { l.e.Fatalf(format, v...) }
func (l tailLogger) Fatalln(v ...interface{})               { l.e.Fatal(fmt.Sprint(v...)) }
func (l tailLogger) Panic(v ...interface{})                 { panic(fmt.Sprint(v...)) }
func (l tailLogger) Panicf(format string, v ...interface{}) { panic(fmt.Sprintf(format, v...)) }
func (l tailLogger) Panicln(v ...interface{})               { panic(fmt.Sprint(v...)) }
func (l tailLogger) Print(v ...interface{})                 { l.e.Debug(fmt.Sprint(v...)) }
func (l tailLogger) Printf(format string, v ...interface{}) { l.e.Debugf(format, v...) }
func (l tailLogger) Println(v ...interface{})               { l.e.Debug(fmt.Sprint(v...)) }
