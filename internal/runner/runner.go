// Package runner executes a resolved step sequence strictly in order.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/msageha/taskflow/internal/events"
	"github.com/msageha/taskflow/internal/logging"
	"github.com/msageha/taskflow/internal/model"
	"github.com/msageha/taskflow/internal/task"
)

var ErrStepFailed = errors.New("step failed")

// StepExecutionError reports the step that stopped a run.
type StepExecutionError struct {
	Index int
	Step  string
	Cause error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Step, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

func (e *StepExecutionError) Is(target error) bool { return target == ErrStepFailed }

// StepResult records one step that was started.
type StepResult struct {
	Index    int
	Name     string
	Duration time.Duration
	Err      error
}

// Result is the outcome of one run. Err is nil when every step succeeded.
type Result struct {
	RunID     string
	Steps     []StepResult
	Completed int
	Total     int
	Err       *StepExecutionError
	Duration  time.Duration
}

// OK reports whether every step succeeded.
func (r *Result) OK() bool { return r.Err == nil }

// Error returns Err as an error value, nil on success.
func (r *Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Runner awaits each step's completion before starting the next one.
type Runner struct {
	logger   zerolog.Logger
	eventBus *events.Bus
}

func New(logger zerolog.Logger) *Runner {
	return &Runner{logger: logging.Component(logger, "runner")}
}

// SetEventBus sets the bus receiving lifecycle events. A nil bus disables
// publishing.
func (r *Runner) SetEventBus(bus *events.Bus) {
	r.eventBus = bus
}

// Run executes steps in order and stops at the first failure. Completed
// steps are not rolled back. Cancelling ctx stops the sequence before the
// next step; a step already started is left to its executor.
func (r *Runner) Run(ctx context.Context, steps []task.Step) *Result {
	start := time.Now()
	runID, err := model.GenerateRunID()
	if err != nil {
		runID = fmt.Sprintf("run_%010d_00000000", start.Unix())
	}
	res := &Result{RunID: runID, Total: len(steps)}
	log := r.logger.With().Str("run_id", runID).Logger()

	r.eventBus.Publish(events.EventRunStarted, map[string]any{
		"run_id": runID,
		"steps":  len(steps),
	})
	log.Debug().Int("steps", len(steps)).Msg("run started")

	for i := range steps {
		step := &steps[i]
		if err := ctx.Err(); err != nil {
			res.Err = &StepExecutionError{Index: step.Index, Step: step.Name(), Cause: err}
			log.Warn().Str("step", step.Name()).Err(err).Msg("run cancelled")
			break
		}

		sr := r.runStep(ctx, runID, step, log)
		res.Steps = append(res.Steps, sr)
		if sr.Err != nil {
			res.Err = &StepExecutionError{Index: step.Index, Step: step.Name(), Cause: sr.Err}
			break
		}
		res.Completed++
	}

	res.Duration = time.Since(start)
	finished := map[string]any{
		"run_id":      runID,
		"completed":   res.Completed,
		"total":       res.Total,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		finished["error"] = res.Err.Error()
		finished["step"] = res.Err.Step
		finished["index"] = res.Err.Index
	}
	r.eventBus.Publish(events.EventRunFinished, finished)

	if res.Err != nil {
		log.Error().Err(res.Err.Cause).Int("index", res.Err.Index).Str("step", res.Err.Step).
			Msg("run aborted")
	} else {
		log.Info().Int("steps", res.Completed).Dur("duration", res.Duration).Msg("run finished")
	}
	return res
}

func (r *Runner) runStep(ctx context.Context, runID string, step *task.Step, log zerolog.Logger) StepResult {
	name := step.Name()
	sr := StepResult{Index: step.Index, Name: name}
	started := time.Now()

	r.eventBus.Publish(events.EventStepStarted, map[string]any{
		"run_id": runID,
		"step":   name,
		"index":  step.Index,
	})
	log.Info().Int("index", step.Index).Str("step", name).Msg("running")

	sr.Err = await(ctx, step)
	sr.Duration = time.Since(started)

	data := map[string]any{
		"run_id":      runID,
		"step":        name,
		"index":       step.Index,
		"duration_ms": sr.Duration.Milliseconds(),
	}
	if sr.Err != nil {
		data["error"] = sr.Err.Error()
		r.eventBus.Publish(events.EventStepFailed, data)
		return sr
	}
	r.eventBus.Publish(events.EventStepCompleted, data)
	log.Debug().Str("step", name).Dur("duration", sr.Duration).Msg("step done")
	return sr
}

// await invokes the executor and blocks on its completion. A panic in
// Execute itself, or a nil completion, counts as a failure.
func await(ctx context.Context, step *task.Step) error {
	if step.Executor == nil {
		return fmt.Errorf("task %q has no executor", step.Task)
	}
	var c *task.Completion
	if err := task.Run(func() error {
		c = step.Executor.Execute(ctx, step)
		return nil
	}).Wait(); err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("task %q returned no completion", step.Task)
	}
	return c.Wait()
}
