// Package chain runs provisioning steps as an ordered middleware chain.
//
// Each step receives the shared environment and a next continuation. A step
// continues the chain by calling next exactly once, or halts it by returning
// without calling next. Errors returned by a step halt the chain and reach
// the caller of Run unchanged.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/andrej220/provchain/internal/lg"
)

// Next continues the chain with the following step.
type Next func(ctx context.Context, env *Env) error

type Step interface {
	Name() string
	Run(ctx context.Context, env *Env, next Next) error
}

// StepFunc adapts a function to a Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, env *Env, next Next) error
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Run(ctx context.Context, env *Env, next Next) error {
	return s.Fn(ctx, env, next)
}

// Observer is notified about step and run outcomes.
type Observer interface {
	StepFinished(step string, elapsed time.Duration, err error)
	RunFinished(report *Report)
}

type Chain struct {
	name      string
	steps     []Step
	logger    lg.Logger
	observers []Observer
}

type Option func(*Chain)

func WithLogger(l lg.Logger) Option {
	return func(c *Chain) { c.logger = lg.OrDiscard(l) }
}

func WithObserver(o Observer) Option {
	return func(c *Chain) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

func New(name string, opts ...Option) *Chain {
	c := &Chain{name: name, logger: lg.Discard}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds steps to the end of the chain. It panics on a nil step.
func (c *Chain) Append(steps ...Step) *Chain {
	for _, s := range steps {
		if s == nil {
			panic("chain: nil step")
		}
		c.steps = append(c.steps, s)
	}
	return c
}

func (c *Chain) Name() string { return c.name }
func (c *Chain) Len() int     { return len(c.steps) }

func (c *Chain) StepNames() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name()
	}
	return names
}

// Run invokes the chain once with env. It returns the first error that was
// not handled by a step, or a MisuseError when a step broke the next()
// contract. The report is never nil.
func (c *Chain) Run(ctx context.Context, env *Env) (*Report, error) {
	rep := newReport(c.name)
	if env == nil {
		err := errors.New("chain: nil environment")
		rep.halt(ReasonError, -1, err)
		rep.Finished = time.Now()
		return rep, err
	}
	rep.RunID = env.RunID()
	if m, err := env.Machine(); err == nil {
		rep.Machine = m.Name
	}

	r := &run{
		chain:     c,
		report:    rep,
		logger:    c.logger.With(lg.String("chain", c.name), lg.String("run_id", rep.RunID.String())),
		failedAt:  -1,
		stoppedAt: -1,
	}
	rep.State = StateRunning
	r.logger.Info("chain started", lg.Int("steps", len(c.steps)))

	err := r.invoke(ctx, 0, env)
	err = r.finish(err)

	for _, o := range c.observers {
		o.RunFinished(rep)
	}
	return rep, err
}

// run is the state of a single chain invocation.
type run struct {
	chain     *Chain
	report    *Report
	logger    lg.Logger
	done      bool
	completed bool
	misuse    *MisuseError
	failedAt  int
	failErr   error
	stoppedAt int
}

func (r *run) invoke(ctx context.Context, i int, env *Env) error {
	if i == len(r.chain.steps) {
		r.completed = true
		return nil
	}
	step := r.chain.steps[i]
	logger := r.logger.With(lg.String("step", step.Name()), lg.Int("index", i))

	r.report.Current = i
	idx := len(r.report.Steps)
	r.report.Steps = append(r.report.Steps, StepRecord{Name: step.Name(), Index: i, Started: time.Now()})

	var forwarded, returned bool
	var downstreamErr error
	next := func(ctx context.Context, nextEnv *Env) error {
		switch {
		case returned:
			return r.misused(step, i, "next called after the step returned")
		case forwarded:
			return r.misused(step, i, "next called more than once")
		case nextEnv == nil:
			return r.misused(step, i, "next called with a nil environment")
		}
		forwarded = true
		rec := &r.report.Steps[idx]
		rec.Forwarded = true
		rec.Elapsed = time.Since(rec.Started)
		downstreamErr = r.invoke(ctx, i+1, nextEnv)
		return downstreamErr
	}

	logger.Debug("step started")
	err := step.Run(ctx, env, next)
	returned = true

	rec := &r.report.Steps[idx]
	if !forwarded {
		rec.Elapsed = time.Since(rec.Started)
	}

	// a step passing its downstream error through did not fail itself
	ownErr := err
	if forwarded && downstreamErr != nil && errors.Is(err, downstreamErr) {
		ownErr = nil
	}

	switch {
	case ownErr != nil:
		rec.Error = ownErr.Error()
		// steps unwind inner to outer, so the last own error is the one Run returns
		r.failedAt = i
		r.failErr = ownErr
		logger.Error("step failed", lg.Err(ownErr), lg.Duration("elapsed", rec.Elapsed))
	case err != nil:
		logger.Debug("step propagated downstream error")
	case !forwarded:
		if r.stoppedAt < 0 {
			r.stoppedAt = i
		}
		logger.Info("step halted the chain", lg.Duration("elapsed", rec.Elapsed))
	default:
		logger.Debug("step finished", lg.Duration("elapsed", rec.Elapsed))
	}

	for _, o := range r.chain.observers {
		o.StepFinished(step.Name(), rec.Elapsed, ownErr)
	}
	return err
}

func (r *run) misused(step Step, i int, reason string) error {
	err := &MisuseError{Step: step.Name(), Index: i, Reason: reason}
	if !r.done && r.misuse == nil {
		r.misuse = err
	}
	r.logger.Error("chain misuse", lg.Err(err))
	return err
}

func (r *run) finish(err error) error {
	r.done = true
	rep := r.report
	defer func() {
		rep.Finished = time.Now()
	}()

	switch {
	case r.misuse != nil:
		rep.halt(ReasonMisuse, r.misuse.Index, r.misuse)
		r.logger.Error("chain halted", lg.String("reason", string(ReasonMisuse)), lg.Err(r.misuse))
		return r.misuse
	case err != nil:
		rep.halt(ReasonError, r.failedAt, err)
		r.logger.Error("chain halted", lg.String("reason", string(ReasonError)), lg.Int("at", r.failedAt), lg.Err(err))
		return err
	case r.failedAt >= 0:
		// a step handled a downstream failure; the run still did not complete
		rep.halt(ReasonError, r.failedAt, r.failErr)
		r.logger.Warn("chain halted by a handled error", lg.Int("at", r.failedAt), lg.Err(r.failErr))
		return nil
	case r.completed:
		rep.State = StateCompleted
		rep.Current = -1
		r.logger.Info("chain completed")
		return nil
	default:
		rep.halt(ReasonEarlyStop, r.stoppedAt, nil)
		r.logger.Info("chain stopped early", lg.Int("at", r.stoppedAt))
		return nil
	}
}
