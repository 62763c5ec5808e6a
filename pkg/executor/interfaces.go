package executor

import (
	"context"
	"io"
	"strings"

	"github.com/andrej220/provchain/pkg/machine"
	"golang.org/x/crypto/ssh"
)

// Runner knows how to run a single shell command on a machine, optionally
// with elevated privileges. A failed command is never retried.
type Runner interface {
	Execute(ctx context.Context, m *machine.Machine, command string, privileged bool) (*Output, error)
}

// Output is what a successful command left behind.
type Output struct {
	ExitStatus int      `json:"exitStatus" bson:"exitStatus"`
	Stdout     []string `json:"stdout,omitempty" bson:"stdout,omitempty"`
	Stderr     []string `json:"stderr,omitempty" bson:"stderr,omitempty"`
}

func (o *Output) StdoutString() string { return strings.Join(o.Stdout, "\n") }
func (o *Output) StderrString() string { return strings.Join(o.Stderr, "\n") }

// Session is the part of *ssh.Session the runner uses.
type Session interface {
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	Wait() error
	Signal(sig ssh.Signal) error
	Close() error
}

// Client opens sessions on one connected machine.
type Client interface {
	NewSession() (Session, error)
	Close() error
}

// Dialer connects to machines.
type Dialer interface {
	Dial(ctx context.Context, m *machine.Machine) (Client, error)
}
