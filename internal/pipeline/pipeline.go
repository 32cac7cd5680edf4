// Package pipeline runs build steps one after another, stopping at the first
// failure.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Step is a discrete unit of work in a generation run.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// StepError reports which step aborted the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Run executes steps in order. The first failing step (or a canceled
// context) ends the run; later steps never start.
func Run(ctx context.Context, logger zerolog.Logger, steps ...Step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: s.Name, Err: err}
		}

		start := time.Now()
		if err := s.Run(ctx); err != nil {
			logger.Error().Err(err).Str("step", s.Name).Msg("step failed")
			return &StepError{Step: s.Name, Err: err}
		}
		logger.Debug().Str("step", s.Name).Dur("took", time.Since(start)).Msg("step done")
	}
	return nil
}
