package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andrej220/provchain/pkg/machine"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
)

// ResilienceConfig controls how connections are established. Commands
// themselves are never retried; DialRetries only applies to the TCP/SSH
// handshake and defaults to zero (a single attempt).
type ResilienceConfig struct {
	DialTimeout     time.Duration
	DialRetries     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// consecutive failures per host before the breaker opens
	MaxFailures uint32
	OpenTimeout time.Duration
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		DialTimeout:     10 * time.Second,
		DialRetries:     0,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxFailures:     5,
		OpenTimeout:     30 * time.Second,
	}
}

type dialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

// SSHDialer dials machines over SSH behind a per-host circuit breaker.
type SSHDialer struct {
	conf     ResilienceConfig
	dial     dialFunc
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewSSHDialer(conf ResilienceConfig) *SSHDialer {
	return &SSHDialer{
		conf:     conf,
		dial:     dialContext,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *SSHDialer) breaker(addr string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[addr]; ok {
		return cb
	}
	maxFailures := d.conf.MaxFailures
	cbs := gobreaker.Settings{
		Name:        "ssh-" + addr,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     d.conf.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return maxFailures > 0 && counts.ConsecutiveFailures >= maxFailures
		},
	}
	cb := gobreaker.NewCircuitBreaker(cbs)
	d.breakers[addr] = cb
	return cb
}

func (d *SSHDialer) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.conf.InitialInterval
	b.MaxInterval = d.conf.MaxInterval
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.5
	retries := d.conf.DialRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (d *SSHDialer) Dial(ctx context.Context, m *machine.Machine) (Client, error) {
	cfg, err := m.ClientConfig(d.conf.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}
	addr := m.Address()
	cb := d.breaker(addr)

	var client *ssh.Client
	operation := func() error {
		res, err := cb.Execute(func() (any, error) {
			return d.dial(ctx, addr, cfg)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = res.(*ssh.Client)
		return nil
	}

	if err := backoff.Retry(operation, d.newBackOff(ctx)); err != nil {
		return nil, ConnectionFailed(fmt.Errorf("dial %s: %w", addr, err))
	}
	return &sshClient{client: client, cb: cb}, nil
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := (&net.Dialer{Timeout: cfg.Timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// sshClient adapts *ssh.Client to Client, opening sessions via the breaker.
type sshClient struct {
	client *ssh.Client
	cb     *gobreaker.CircuitBreaker
}

func (c *sshClient) NewSession() (Session, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.client.NewSession()
	})
	if err != nil {
		return nil, err
	}
	return res.(*ssh.Session), nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}
