package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrJobFailed = errors.New("training job failed")

// Job is one run of the external trainer, described by a config file.
type Job interface {
	// Name is the run name from the config, which is also the id of the task
	// the run belongs to.
	Name() string

	ConfigPath() string

	Run(ctx context.Context) error

	// Cleanup releases what the run still holds after it succeeded.
	Cleanup() error
}

type Launcher interface {
	// Load reads the config at configPath, replacing the [name] tag with
	// name when it is set.
	Load(configPath, name string) (Job, error)
}

// JobError reports a trainer run that did not exit cleanly.
type JobError struct {
	Job      string
	ExitCode int
	// Output is the tail of the combined trainer output.
	Output string
	Err    error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("training job %s failed", e.Job)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *JobError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrJobFailed}
	}
	return []error{ErrJobFailed, e.Err}
}
