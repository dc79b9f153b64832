package step

import (
	"context"
	"errors"
	"fmt"

	"tomex/internal/logger"
	"tomex/internal/probe"
)

// Status classifies the outcome of one step within a run.
type Status string

const (
	// StatusSatisfied means the probe was true before the action ran.
	StatusSatisfied Status = "satisfied"
	// StatusCompleted means the action ran and the step now verifies.
	StatusCompleted Status = "completed"
	// StatusFailed means the action errored or the step still does not verify.
	StatusFailed Status = "failed"
)

// Step is one named unit of idempotent provisioning work: a cheap probe
// deciding whether the work is already done, and an action doing it.
type Step struct {
	// Name identifies the step in logs and summaries.
	Name string
	// Probe reports whether the step's work is already done. A nil probe
	// means the step always runs.
	Probe probe.Probe
	// Action performs the work.
	Action func(ctx context.Context) error
	// Fatal steps abort the remaining sequence when they fail; non-fatal
	// failures are collected and summarized instead.
	Fatal bool
	// SkipVerify disables the post-action probe re-check, for actions
	// whose own return status is the success criterion (e.g. a one-shot
	// external command).
	SkipVerify bool
}

// Result records what happened to one step.
type Result struct {
	// Name is the step's name.
	Name string
	// Status is the step's terminal classification for this run.
	Status Status
	// Err holds the failure cause when Status is StatusFailed.
	Err error
}

// ActionError wraps a failed step action with enough context to diagnose
// it from the summary alone.
type ActionError struct {
	// Step is the name of the failed step.
	Step string
	// Err is the underlying action error.
	Err error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *ActionError) Unwrap() error { return e.Err }

// errNotVerified is returned when an action succeeded but the step's probe
// still reports the work as not done.
var errNotVerified = errors.New("action completed but the step does not verify")

// Run executes a single step: probe, act, re-probe.
func Run(ctx context.Context, s Step) Result {
	ctx = logger.WithKV(ctx, "step", s.Name)

	if s.Probe != nil && s.Probe(ctx) {
		logger.Info(ctx, "Already satisfied, skipping")
		return Result{Name: s.Name, Status: StatusSatisfied}
	}

	if err := s.Action(ctx); err != nil {
		return Result{
			Name:   s.Name,
			Status: StatusFailed,
			Err:    &ActionError{Step: s.Name, Err: err},
		}
	}

	if !s.SkipVerify && s.Probe != nil && !s.Probe(ctx) {
		return Result{
			Name:   s.Name,
			Status: StatusFailed,
			Err:    &ActionError{Step: s.Name, Err: errNotVerified},
		}
	}

	logger.Info(ctx, "Completed")

	return Result{Name: s.Name, Status: StatusCompleted}
}

// Summary aggregates the results of a sequence run.
type Summary struct {
	// Results lists one entry per executed step, in order. Steps after a
	// fatal failure do not appear: they never ran.
	Results []Result
	// Aborted reports that a fatal failure cut the sequence short.
	Aborted bool
}

// Failed lists the failed steps.
func (s Summary) Failed() []Result {
	var failed []Result

	for _, r := range s.Results {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}

	return failed
}

// Err returns the first fatal failure, or nil when the run can be
// considered successful (possibly with non-fatal failures).
func (s Summary) Err() error {
	if !s.Aborted {
		return nil
	}

	for _, r := range s.Results {
		if r.Status == StatusFailed {
			return r.Err
		}
	}

	return nil
}

// RunAll executes steps strictly in order. A failed fatal step aborts the
// remainder; non-fatal failures are logged and collected. Re-running the
// whole sequence after any abort is safe: every step re-probes the real
// state of the machine instead of trusting a previous run.
func RunAll(ctx context.Context, steps []Step) Summary {
	var summary Summary

	for _, s := range steps {
		result := Run(ctx, s)
		summary.Results = append(summary.Results, result)

		if result.Status != StatusFailed {
			continue
		}

		if s.Fatal {
			logger.ErrorKV(ctx, "Fatal step failed, aborting run", "step", s.Name, "error", result.Err)

			summary.Aborted = true

			return summary
		}

		logger.WarnKV(ctx, "Step failed, continuing", "step", s.Name, "error", result.Err)
	}

	return summary
}

// LogSummary writes the end-of-run accounting of failed steps.
func LogSummary(ctx context.Context, summary Summary) {
	failed := summary.Failed()
	if len(failed) == 0 {
		return
	}

	for _, r := range failed {
		logger.WarnKV(ctx, "Step did not complete", "step", r.Name, "error", r.Err)
	}

	if summary.Aborted {
		logger.Error(ctx, "Run aborted; re-running the installer is safe and resumes where it stopped")
	}
}
