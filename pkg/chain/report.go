package chain

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateHalted    State = "halted"
)

type HaltReason string

const (
	ReasonNone      HaltReason = ""
	ReasonError     HaltReason = "error"
	ReasonEarlyStop HaltReason = "early-stop"
	ReasonMisuse    HaltReason = "misuse"
)

// StepRecord describes one step invocation. Elapsed covers the step's own
// work up to the point it forwarded to the next step.
type StepRecord struct {
	Name      string        `json:"name" bson:"name"`
	Index     int           `json:"index" bson:"index"`
	Started   time.Time     `json:"started" bson:"started"`
	Elapsed   time.Duration `json:"elapsed" bson:"elapsed"`
	Forwarded bool          `json:"forwarded" bson:"forwarded"`
	Error     string        `json:"error,omitempty" bson:"error,omitempty"`
}

// Report is the outcome of one chain run.
type Report struct {
	RunID    uuid.UUID    `json:"runId" bson:"runId"`
	Chain    string       `json:"chain" bson:"chain"`
	Machine  string       `json:"machine,omitempty" bson:"machine,omitempty"`
	State    State        `json:"state" bson:"state"`
	Reason   HaltReason   `json:"reason,omitempty" bson:"reason,omitempty"`
	Current  int          `json:"current" bson:"current"`
	HaltedAt int          `json:"haltedAt" bson:"haltedAt"`
	Err      error        `json:"-" bson:"-"`
	Error    string       `json:"error,omitempty" bson:"error,omitempty"`
	Steps    []StepRecord `json:"steps" bson:"steps"`
	Started  time.Time    `json:"started" bson:"started"`
	Finished time.Time    `json:"finished" bson:"finished"`
}

func newReport(chain string) *Report {
	return &Report{
		Chain:    chain,
		State:    StatePending,
		Current:  -1,
		HaltedAt: -1,
		Steps:    []StepRecord{},
		Started:  time.Now(),
	}
}

func (r *Report) halt(reason HaltReason, at int, err error) {
	r.State = StateHalted
	r.Reason = reason
	r.HaltedAt = at
	r.Current = -1
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// Executed returns the names of the steps that ran, in order.
func (r *Report) Executed() []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}

func (r *Report) Elapsed() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}
