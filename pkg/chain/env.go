package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/andrej220/provchain/pkg/machine"
	"github.com/google/uuid"
)

const (
	KeyMachine = "machine"
	KeyRunID   = "run_id"
)

var ErrNoMachine = errors.New("environment has no machine")

// Env is the mutable context shared by every step of one chain run.
// It is passed by reference and never copied; it is not safe for
// concurrent use, since a chain runs its steps sequentially.
type Env struct {
	values map[string]any
}

// NewEnv creates an environment for one run against m, with a fresh run ID.
func NewEnv(m *machine.Machine) *Env {
	env := &Env{values: make(map[string]any)}
	if m != nil {
		env.values[KeyMachine] = m
	}
	env.values[KeyRunID] = uuid.New()
	return env
}

func (e *Env) Get(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

func (e *Env) Set(key string, value any) {
	e.values[key] = value
}

func (e *Env) Delete(key string) {
	delete(e.values, key)
}

// Keys returns the keys in sorted order.
func (e *Env) Keys() []string {
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Env) Machine() (*machine.Machine, error) {
	v, ok := e.values[KeyMachine]
	if !ok || v == nil {
		return nil, ErrNoMachine
	}
	m, ok := v.(*machine.Machine)
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", ErrNoMachine, KeyMachine, v)
	}
	return m, nil
}

func (e *Env) RunID() uuid.UUID {
	if id, ok := e.values[KeyRunID].(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func (e *Env) SetRunID(id uuid.UUID) {
	e.values[KeyRunID] = id
}
