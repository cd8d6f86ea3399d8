package task

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Job is a single non-blocking step of a task. It must not wait on remote
// conditions; to wait, it returns a continuation with a delay.
type Job interface {
	Run(ctx context.Context, env *Env) NextJob
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context, env *Env) NextJob

func (f JobFunc) Run(ctx context.Context, env *Env) NextJob { return f(ctx, env) }

// Outcome is what a job asks the driver to do next.
type Outcome uint8

const (
	OutcomeContinue Outcome = iota // invoke Job again after Delay
	OutcomeSuccess                 // END_WITH_SUCCESS
	OutcomeError                   // END_WITH_ERROR
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "CONTINUE"
	case OutcomeSuccess:
		return "END_WITH_SUCCESS"
	case OutcomeError:
		return "END_WITH_ERROR"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// NextJob is the result of a job invocation.
type NextJob struct {
	Outcome Outcome
	Job     Job
	Delay   time.Duration
	Err     error
	// Info is a short progress note shown in plan status.
	Info string
}

// Success ends the task successfully.
func Success() NextJob {
	return NextJob{Outcome: OutcomeSuccess}
}

// SuccessInfo ends the task successfully with a status note.
func SuccessInfo(format string, args ...interface{}) NextJob {
	return NextJob{Outcome: OutcomeSuccess, Info: fmt.Sprintf(format, args...)}
}

// Fail ends the task with an error.
func Fail(err error) NextJob {
	if err == nil {
		err = errors.AssertionFailedf("task failed without an error")
	}
	return NextJob{Outcome: OutcomeError, Err: err}
}

// Failf ends the task with a formatted error.
func Failf(format string, args ...interface{}) NextJob {
	return NextJob{Outcome: OutcomeError, Err: errors.Newf(format, args...)}
}

// Continue asks the driver to run job after delay.
func Continue(job Job, delay time.Duration, info string) NextJob {
	return NextJob{Outcome: OutcomeContinue, Job: job, Delay: delay, Info: info}
}
