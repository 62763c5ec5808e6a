package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/pkg/machine"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const maxLineSize = 1024 * 1024

// TruncatedMarker ends a captured line that exceeded the line size limit.
const TruncatedMarker = " [truncated]"

type Options struct {
	// CommandTimeout bounds a single command; zero means no limit.
	CommandTimeout time.Duration
	SudoPrefix     string
	Logger         lg.Logger
}

// SSHRunner executes commands on machines over SSH, one session per command.
// Connections are cached per machine and reused across commands.
type SSHRunner struct {
	dialer  Dialer
	opts    Options
	logger  lg.Logger
	mu      sync.Mutex
	clients map[string]Client
}

var _ Runner = (*SSHRunner)(nil)

func NewSSHRunner(dialer Dialer, opts Options) *SSHRunner {
	return &SSHRunner{
		dialer:  dialer,
		opts:    opts,
		logger:  lg.OrDiscard(opts.Logger),
		clients: make(map[string]Client),
	}
}

func clientKey(m *machine.Machine) string {
	return m.User + "@" + m.Address()
}

func (r *SSHRunner) client(ctx context.Context, m *machine.Machine) (Client, error) {
	key := clientKey(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := r.dialer.Dial(ctx, m)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

// forget drops a cached client after a transport failure so the next
// command dials again.
func (r *SSHRunner) forget(m *machine.Machine) {
	key := clientKey(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		c.Close()
		delete(r.clients, key)
	}
}

func (r *SSHRunner) Execute(ctx context.Context, m *machine.Machine, command string, privileged bool) (*Output, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}
	if m == nil {
		return nil, errors.New("machine must not be nil")
	}

	script := command
	if privileged {
		script = Elevate(r.opts.SudoPrefix, command)
	}
	logger := r.logger.With(lg.String("machine", m.Name), lg.String("command", command), lg.Bool("privileged", privileged))

	if r.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CommandTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.run(ctx, m, script, logger)
	if err != nil {
		var execErr *ExecError
		if errors.As(err, &execErr) {
			execErr.on(m.Name, command)
			if execErr.Kind == KindConnectionFailed {
				r.forget(m)
			}
		}
		logger.Error("command failed", lg.Err(err), lg.Duration("elapsed", time.Since(start)))
		return nil, err
	}
	logger.Info("command finished", lg.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (r *SSHRunner) run(ctx context.Context, m *machine.Machine, script string, logger lg.Logger) (*Output, error) {
	client, err := r.client(ctx, m)
	if err != nil {
		var execErr *ExecError
		if errors.As(err, &execErr) {
			return nil, err
		}
		return nil, ConnectionFailed(err)
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, ConnectionFailed(fmt.Errorf("new session: %w", err))
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, ConnectionFailed(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, ConnectionFailed(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := sess.Start(script); err != nil {
		return nil, ConnectionFailed(fmt.Errorf("start command: %w", err))
	}

	out := &Output{}
	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.Go(func() error {
			out.Stdout = scanLines(stdout, logger.With(lg.String("stream", "stdout")))
			return nil
		})
		g.Go(func() error {
			out.Stderr = scanLines(stderr, logger.With(lg.String("stream", "stderr")))
			return nil
		})
		g.Wait()
		done <- sess.Wait()
	}()

	select {
	case waitErr := <-done:
		return classify(out, waitErr)
	case <-ctx.Done():
		// unblock the readers and the remote process
		sess.Signal(ssh.SIGKILL)
		sess.Close()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, Timeout(ctx.Err())
		}
		return nil, ctx.Err()
	}
}

type exitStatuser interface {
	ExitStatus() int
}

func classify(out *Output, waitErr error) (*Output, error) {
	if waitErr == nil {
		out.ExitStatus = 0
		return out, nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(waitErr, &missing) {
		return nil, ConnectionFailed(waitErr)
	}
	var exit exitStatuser
	if errors.As(waitErr, &exit) {
		return nil, NonZeroExit(exit.ExitStatus(), out.StderrString())
	}
	return nil, ConnectionFailed(waitErr)
}

// scanLines collects the lines of r. Lines longer than maxLineSize are cut
// and end with TruncatedMarker; the rest of the stream is still read.
func scanLines(r io.Reader, logger lg.Logger) []string {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		lines     []string
		line      []byte
		truncated bool
	)
	emit := func() {
		s := string(line)
		if truncated {
			logger.Warn("line truncated", lg.Int("limit", maxLineSize))
			s += TruncatedMarker
		}
		logger.Debug(s)
		lines = append(lines, s)
		line, truncated = line[:0], false
	}
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 || truncated {
				emit()
			}
			if !errors.Is(err, io.EOF) {
				logger.Warn("read error", lg.Err(err))
				io.Copy(io.Discard, br)
			}
			return lines
		}
		if room := maxLineSize - len(line); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		line = append(line, chunk...)
		if !isPrefix {
			emit()
		}
	}
}

// Close closes every cached connection.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.clients, key)
	}
	return errors.Join(errs...)
}
