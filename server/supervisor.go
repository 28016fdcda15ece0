package server

import (
	"context"
	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/buger/jsonparser"
	"github.com/vsdock/vintagestory-server/config"
	"github.com/vsdock/vintagestory-server/internal/notify"
	"github.com/vsdock/vintagestory-server/parser"
	"github.com/vsdock/vintagestory-server/system"
	"golang.org/x/sync/errgroup"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

// The signals that are passed on to the server process.
var forwardedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// Supervisor takes the container from a bare data volume to a running server
// and stays alive exactly as long as the server and its log followers do.
type Supervisor struct {
	config *config.Configuration

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	sink   *system.Sink

	signals  chan os.Signal
	notifier *notify.Notifier

	// Set once the configure step has run, true if the configuration was
	// rendered during this start.
	generated bool

	tailers []*Tailer
	process *Process
}

type Option func(s *Supervisor)

// WithOutput sets the writers the server process output and forwarded log
// lines are sent to.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithStdin sets the reader attached to the server console.
func WithStdin(r io.Reader) Option {
	return func(s *Supervisor) {
		s.stdin = r
	}
}

func New(c *config.Configuration, opts ...Option) *Supervisor {
	s := &Supervisor{
		config:   c,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		signals:  make(chan os.Signal, 4),
		notifier: notify.New(c.NotifySocket),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sink = system.NewSink(s.stdout)
	return s
}

// Generated reports whether the server configuration was rendered during
// this run, as opposed to an existing file being used.
func (s *Supervisor) Generated() bool {
	return s.generated
}

type step struct {
	name string
	fn   func() error
}

// Run performs every startup step in order and then supervises the server and
// log followers until the first of them exits. Any failing step aborts the run
// before the next one starts.
//
// The returned error is an *ExitError when the server process ended first, a
// *StepError when startup failed, or the error of the log follower that failed.
func (s *Supervisor) Run(ctx context.Context, args []string) error {
	defer s.closeTailers()
	defer signal.Stop(s.signals)

	steps := []step{
		{"bootstrap", s.bootstrap},
		{"configure", s.configure},
		{"ownership", s.fixOwnership},
		{"prepare logs", s.prepareLogs},
		{"launch", func() error { return s.launch(args) }},
	}
	for _, st := range steps {
		log.WithField("step", st.name).Debug("running startup step")
		if err := st.fn(); err != nil {
			return &StepError{Step: st.name, Err: err}
		}
	}

	return s.supervise(ctx)
}

// bootstrap creates the directory tree inside of the data volume.
func (s *Supervisor) bootstrap() error {
	for _, d := range s.config.Directories() {
		log.WithField("path", d).Debug("ensuring directory exists")
		if err := os.MkdirAll(d, 0o755); err != nil {
			return errors.Wrap(err, "server: failed to create data directory")
		}
	}
	return nil
}

// configure renders the server configuration unless one already exists. An
// existing file is used as is, it may have been edited by hand.
func (s *Supervisor) configure() error {
	p := s.config.ConfigPath()
	_, err := os.Stat(p)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "server: failed to stat server configuration")
	}

	if err == nil {
		if !s.config.ForceRegenerate {
			s.logExistingConfig(p)
			return nil
		}
		log.WithField("path", p).Info("FORCE_REGENERATE_CONFIG is set, regenerating server configuration")
	}

	if _, err := parser.Generate(s.config, p); err != nil {
		return err
	}
	s.generated = true
	return nil
}

func (s *Supervisor) logExistingConfig(p string) {
	fields := log.Fields{"path": p}
	if b, err := os.ReadFile(p); err == nil {
		if v, err := jsonparser.GetString(b, "ServerName"); err == nil {
			fields["ServerName"] = v
		}
		if v, err := jsonparser.GetInt(b, "Port"); err == nil {
			fields["Port"] = v
		}
	}
	log.WithFields(fields).Info("using existing server configuration")
}

// fixOwnership hands the data volume to the service user. Some storage
// backends do not allow changing ownership, so failures are only logged.
func (s *Supervisor) fixOwnership() error {
	u := s.config.User
	log.WithFields(log.Fields{"path": s.config.DataPath, "uid": u.Uid, "gid": u.Gid}).Info("setting ownership of data directory")
	if err := Chown(s.config.DataPath, u.Uid, u.Gid); err != nil {
		log.WithField("error", err).Warn("failed to set ownership of data directory, continuing anyway")
	}
	return nil
}

// prepareLogs creates every log file and opens a follower for each stream that
// is forwarded. This happens before the server starts so that no line it
// writes can be missed.
func (s *Supervisor) prepareLogs() error {
	u := s.config.User
	for _, ls := range LogStreams {
		p := ls.Path(s.config)
		if err := Touch(p); err != nil {
			return err
		}
		if err := os.Chown(p, u.Uid, u.Gid); err != nil {
			log.WithFields(log.Fields{"path": p, "error": err}).Warn("failed to set ownership of log file")
		}
	}

	l := s.config.Logging
	for _, ls := range FollowedStreams(l) {
		t := NewTailer(ls, ls.Path(s.config), s.sink, l.PollInterval, l.ReopenTimeout)
		if err := t.Open(); err != nil {
			return err
		}
		s.tailers = append(s.tailers, t)
	}
	return nil
}

func (s *Supervisor) launch(args []string) error {
	// Signals received from here on are queued for the server process.
	signal.Notify(s.signals, forwardedSignals...)

	p, err := StartRetrying(func() (*Process, error) {
		cmd, err := Command(s.config, args, s.stdin, s.stdout, s.stderr)
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"binary": cmd.Path, "args": cmd.Args[1:], "dir": cmd.Dir}).Info("starting server process")
		return Start(cmd)
	})
	if err != nil {
		return err
	}
	s.process = p
	log.WithField("process", p).Info("server process started")
	return nil
}

// supervise runs the server process and every log follower as a group. The
// first of them to finish cancels the others: if the server exits the
// followers read what is left in their files and stop, if a follower fails
// the server is stopped.
func (s *Supervisor) supervise(ctx context.Context) error {
	var streams []string
	for _, t := range s.tailers {
		streams = append(streams, string(t.Stream()))
	}
	log.WithField("streams", streams).Info("following server log files")

	stop := make(chan struct{})
	defer close(stop)
	go s.forwardSignals(stop)

	if s.notifier.Enabled() {
		if err := s.notifier.MainPid(s.process.Pid()); err != nil {
			log.WithField("error", err).Debug("failed to notify service manager")
		}
		_ = s.notifier.Status("server running, following " + strconv.Itoa(len(s.tailers)) + " log files")
		if err := s.notifier.Ready(); err != nil {
			log.WithField("error", err).Warn("failed to notify service manager of readiness")
		}
		defer func() {
			if err := s.notifier.Stopping(); err != nil {
				log.WithField("error", err).Debug("failed to notify service manager")
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.process.Supervise(gctx, s.config.StopTimeout)
	})
	for _, t := range s.tailers {
		t := t
		g.Go(func() error {
			return t.Run(gctx)
		})
	}

	err := g.Wait()
	if ee, ok := IsExitError(err); ok {
		log.WithField("code", ee.Code).Info("server process exited")
	} else if err != nil {
		log.WithField("error", err).Error("log follower failed, server was stopped")
	}
	return err
}

// forwardSignals passes every signal received by the entrypoint on to the
// server. The server decides how to shut down and the supervisor keeps
// waiting for it to exit.
func (s *Supervisor) forwardSignals(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case sig := <-s.signals:
			log.WithField("signal", sig.String()).Info("forwarding signal to server process")
			if err := s.process.Signal(sig); err != nil {
				log.WithField("error", err).Warn("failed to forward signal")
			}
		}
	}
}

func (s *Supervisor) closeTailers() {
	for _, t := range s.tailers {
		t.Close()
	}
}
