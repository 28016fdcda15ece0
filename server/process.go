package server

import (
	"context"
	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/vsdock/vintagestory-server/config"
	"golang.org/x/sys/unix"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"syscall"
	"time"
)

// Process is the running game server.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Command builds the command that runs the server binary. The server directory
// must exist since the server resolves its assets relative to its working
// directory, and the binary must be executable.
//
// When running as root the process is started as the configured service user.
// Otherwise it runs as whoever started the entrypoint.
func Command(c *config.Configuration, args []string, stdin io.Reader, stdout, stderr io.Writer) (*exec.Cmd, error) {
	st, err := os.Stat(c.ServerPath)
	if err != nil {
		return nil, errors.Wrap(err, "server: cannot change into server directory")
	}
	if !st.IsDir() {
		return nil, errors.WithStack(ErrServerPathNotDirectory)
	}
	if err := unix.Access(c.ServerPath, unix.X_OK); err != nil {
		return nil, errors.Wrap(err, "server: cannot change into server directory")
	}
	if err := unix.Access(c.BinaryPath, unix.X_OK); err != nil {
		return nil, errors.Wrapf(err, "server: %s is not executable", c.BinaryPath)
	}

	cmd := exec.Command(c.BinaryPath, append([]string{"--dataPath", c.DataPath}, args...)...)
	cmd.Dir = c.ServerPath
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	environ := c.Environ()
	if cred := credential(c); cred != nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
		environ["HOME"] = c.HomePath
		environ["USER"] = c.Username
		environ["LOGNAME"] = c.Username
	}
	cmd.Env = make([]string, 0, len(environ))
	for k, v := range environ {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	sort.Strings(cmd.Env)

	return cmd, nil
}

// credential returns the identity the server process should be switched to, or
// nil if no switch is needed or possible.
func credential(c *config.Configuration) *syscall.Credential {
	if os.Geteuid() != 0 {
		if os.Geteuid() != c.User.Uid {
			log.WithFields(log.Fields{"uid": os.Geteuid(), "configured_uid": c.User.Uid}).
				Warn("not running as root, server process will keep the current user")
		}
		return nil
	}
	if c.User.Uid == 0 {
		log.Warn("service user is root, server process will run with full privileges")
		return nil
	}
	return &syscall.Credential{
		Uid:    uint32(c.User.Uid),
		Gid:    uint32(c.User.Gid),
		Groups: []uint32{},
	}
}

// Start starts the command and begins waiting on it in the background.
func Start(cmd *exec.Cmd) (*Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "server: failed to start server process")
	}
	p := &Process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// The delay before the first retry of a start that failed with "text file
// busy". It doubles on every further attempt.
var busyRetryInterval = 100 * time.Millisecond

// StartRetrying calls start until it succeeds, retrying up to three times when
// the server binary is still held open for writing by whatever installed it.
// Any other error is returned right away.
func StartRetrying(start func() (*Process, error)) (*Process, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = busyRetryInterval
	eb.RandomizationFactor = 0
	eb.Multiplier = 2

	var p *Process
	err := backoff.RetryNotify(func() error {
		var err error
		p, err = start()
		if err != nil && !errors.Is(err, syscall.ETXTBSY) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(eb, 3), func(err error, d time.Duration) {
		log.WithFields(log.Fields{"error": err, "retry_in": d}).Warn("server binary is busy, retrying")
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Pid returns the process id of the server.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Signal sends a signal to the process. Errors for a process that already
// exited are ignored.
func (p *Process) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "server: failed to signal server process")
	}
	return nil
}

// Stop sends a SIGTERM to the process and waits for it to exit. If it is still
// running once the timeout passes it is killed.
func (p *Process) Stop(timeout time.Duration) *ExitError {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		log.WithField("error", err).Warn("failed to send SIGTERM to server process")
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
	case <-t.C:
		log.WithField("timeout", timeout).Warn("server process did not stop in time, killing it")
		if err := p.Signal(syscall.SIGKILL); err != nil {
			log.WithField("error", err).Error("failed to kill server process")
		}
		<-p.done
	}
	return p.ExitError()
}

// Supervise blocks until the process exits on its own, or stops it once the
// context is canceled. The returned error is always an *ExitError describing
// how the process ended.
func (p *Process) Supervise(ctx context.Context, timeout time.Duration) error {
	select {
	case <-p.done:
		return p.ExitError()
	case <-ctx.Done():
	}
	log.Info("stopping server process")
	return p.Stop(timeout)
}

// ExitError describes how the process ended. It must only be called once Done
// has been closed. A process killed by a signal reports 128 plus the signal
// number, matching what a shell would report.
func (p *Process) ExitError() *ExitError {
	if p.err == nil {
		return &ExitError{Code: 0}
	}
	var ee *exec.ExitError
	if errors.As(p.err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return &ExitError{Code: 128 + int(ws.Signal())}
		}
		return &ExitError{Code: ee.ExitCode()}
	}
	return &ExitError{Code: 1, Err: p.err}
}

// String implements fmt.Stringer for log output.
func (p *Process) String() string {
	return p.cmd.Path + " (pid " + strconv.Itoa(p.Pid()) + ")"
}
