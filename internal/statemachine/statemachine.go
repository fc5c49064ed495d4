// Package statemachine validates and performs job lifecycle transitions:
// pending → assigned → completed | failed → pending|failed_permanently,
// plus cancel, admin retry, and reaper-driven timeout/expire. Grounded on
// the reference dispatch server's job status transitions (job_manager.cpp)
// and on this service's choice, documented in SPEC_FULL.md §9, that a
// failure always re-queues immediately rather than parking in
// failed_retry pending a promotion step.
package statemachine

import (
	"fmt"
	"time"

	"github.com/segin/distconv/internal/domain"
)

// Assign transitions a pending job to assigned on the given engine.
func Assign(job domain.Job, engineID string, now time.Time) (domain.Job, error) {
	if job.Status != domain.JobPending {
		return domain.Job{}, fmt.Errorf("%w: cannot assign a job in status %q", domain.ErrInvalidTransition, job.Status)
	}
	job.Status = domain.JobAssigned
	job.AssignedEngine = engineID
	job.UpdatedAt = now
	return job, nil
}

// Complete transitions an assigned job to completed with its output URL.
// Rejects jobs already in a terminal state.
func Complete(job domain.Job, outputURL string, now time.Time) (domain.Job, error) {
	if job.Status.Terminal() {
		return domain.Job{}, fmt.Errorf("%w", domain.ErrTerminalState)
	}
	if job.Status != domain.JobAssigned {
		return domain.Job{}, fmt.Errorf("%w: cannot complete a job in status %q", domain.ErrInvalidTransition, job.Status)
	}
	job.Status = domain.JobCompleted
	job.OutputURL = outputURL
	job.AssignedEngine = ""
	job.UpdatedAt = now
	return job, nil
}

// Fail transitions a job on failure: retries increments, and the job goes
// back to pending if retries remain, or to failed_permanently once
// retries+1 would meet or exceed max_retries. error_message is always
// recorded. Accepted from both assigned and pending (a pending job can
// fail pre-assignment validation in the reference server); rejected once
// terminal.
func Fail(job domain.Job, errMessage string, now time.Time) (domain.Job, error) {
	if job.Status.Terminal() {
		return domain.Job{}, fmt.Errorf("%w", domain.ErrTerminalState)
	}
	if job.Status != domain.JobAssigned && job.Status != domain.JobPending {
		return domain.Job{}, fmt.Errorf("%w: cannot fail a job in status %q", domain.ErrInvalidTransition, job.Status)
	}

	job.ErrorMessage = errMessage
	job.AssignedEngine = ""
	job.Retries++
	if job.Retries >= job.MaxRetries {
		job.Status = domain.JobFailedPermanently
	} else {
		job.Status = domain.JobPending
	}
	job.UpdatedAt = now
	return job, nil
}

// Cancel transitions any non-terminal job to cancelled. Per the resolved
// open question, cancellation never touches retries: an operator
// cancelling a stuck job should not make it look like the job failed on
// its own merits.
func Cancel(job domain.Job, now time.Time) (domain.Job, error) {
	if job.Status.Terminal() {
		return domain.Job{}, fmt.Errorf("%w", domain.ErrTerminalState)
	}
	job.Status = domain.JobCancelled
	job.AssignedEngine = ""
	job.UpdatedAt = now
	return job, nil
}

// Retry is an admin operation that returns a failed or failed_permanently
// job to pending with retries reset to zero, giving it a full new budget.
func Retry(job domain.Job, now time.Time) (domain.Job, error) {
	if job.Status != domain.JobFailedPermanently && job.Status != domain.JobFailed {
		return domain.Job{}, fmt.Errorf("%w: can only retry a job in status %q or %q, got %q",
			domain.ErrInvalidTransition, domain.JobFailedPermanently, domain.JobFailed, job.Status)
	}
	job.Status = domain.JobPending
	job.Retries = 0
	job.ErrorMessage = ""
	job.UpdatedAt = now
	return job, nil
}

// Timeout is invoked by the reaper on an assigned job whose engine went
// stale or whose own runtime exceeded the job timeout. Per the resolved
// open question it is treated exactly like a worker-reported failure,
// including the retry increment, using the fixed message "timeout".
func Timeout(job domain.Job, now time.Time) (domain.Job, error) {
	return Fail(job, "timeout", now)
}

// Expire is invoked by the reaper on a pending job that has waited longer
// than the configured pending-job age limit. Per §9, expiry only marks
// the job; it does not delete it or touch any engine.
func Expire(job domain.Job, now time.Time) (domain.Job, error) {
	if job.Status != domain.JobPending {
		return domain.Job{}, fmt.Errorf("%w: cannot expire a job in status %q", domain.ErrInvalidTransition, job.Status)
	}
	job.Status = domain.JobExpired
	job.UpdatedAt = now
	return job, nil
}
