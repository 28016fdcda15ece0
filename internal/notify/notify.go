// Package notify reports the state of the entrypoint to a service manager
// through the sd_notify protocol. Container runtimes such as podman expose the
// socket with "--sdnotify=container" so the container is only considered
// started once the game server is up.
//
// When no socket is configured every call is a no-op.
package notify

import (
	"emperror.dev/errors"
	"net"
	"strconv"
	"strings"
)

type Notifier struct {
	socket string
}

// New returns a notifier writing to the given socket path. Paths starting with
// "@" refer to an abstract socket.
func New(socket string) *Notifier {
	return &Notifier{socket: socket}
}

// Enabled reports whether a socket was configured.
func (n *Notifier) Enabled() bool {
	return n.socket != ""
}

// Ready reports that startup has finished.
func (n *Notifier) Ready() error {
	return n.send("READY=1")
}

// Stopping reports that the entrypoint is shutting down.
func (n *Notifier) Stopping() error {
	return n.send("STOPPING=1")
}

// Status sends a free-form status line.
func (n *Notifier) Status(msg string) error {
	return n.send("STATUS=" + strings.ReplaceAll(msg, "\n", " "))
}

// MainPid tells the service manager which process is the main workload.
func (n *Notifier) MainPid(pid int) error {
	return n.send("MAINPID=" + strconv.Itoa(pid))
}

func (n *Notifier) send(payload string) error {
	if !n.Enabled() {
		return nil
	}
	name := n.socket
	if strings.HasPrefix(name, "@") {
		name = "\x00" + name[1:]
	}
	c, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: name, Net: "unixgram"})
	if err != nil {
		return errors.Wrap(err, "notify: failed to connect to socket")
	}
	defer c.Close()
	if _, err := c.Write([]byte(payload)); err != nil {
		return errors.Wrap(err, "notify: failed to write to socket")
	}
	return nil
}
