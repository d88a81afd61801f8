package app

import (
	"time"

	"shx-go/internal/shx"
)

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes.
type Operation struct {
	ID       string
	Command  string
	Started  time.Time
	Finished time.Time
	Status   string // "running", "success" or "error"
}

// NewOperation starts an operation for command. The ID is the first eight
// characters of a fresh id joined to the command name.
func NewOperation(command string, idgen shx.IDGenerator, clock shx.Clock) *Operation {
	id := idgen.New()
	if len(id) > 8 {
		id = id[:8]
	}
	if command != "" {
		id += "-" + command
	}
	return &Operation{
		ID:      id,
		Command: command,
		Started: clock.Now(),
		Status:  "running",
	}
}

// Finish records the outcome.
func (op *Operation) Finish(err error, clock shx.Clock) {
	op.Finished = clock.Now()
	op.Status = "success"
	if err != nil {
		op.Status = "error"
	}
}

// Done reports whether Finish was called.
func (op *Operation) Done() bool {
	return !op.Finished.IsZero()
}

// Duration is the elapsed time of a finished operation, rounded to milliseconds.
func (op *Operation) Duration() time.Duration {
	if !op.Done() {
		return 0
	}
	return op.Finished.Sub(op.Started).Round(time.Millisecond)
}
