package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AttemptError captures one persona attempt failure.
type AttemptError struct {
	Index   int
	Persona string
	Err     error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("persona %d (%s): %v", e.Index, e.Persona, e.Err)
}

func (e AttemptError) Unwrap() error {
	return e.Err
}

// ChainFailedError is returned when no persona produced a result. Attempts
// holds exactly one entry per persona, in catalog order.
type ChainFailedError struct {
	Op       string
	Attempts []AttemptError
	// Cause is set when the chain stopped early because ctx was done.
	Cause error
}

func (e *ChainFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: no personas configured", e.Op)
	}
	msg := fmt.Sprintf("%s: all %d persona(s) failed, last: %v", e.Op, len(e.Attempts), e.Attempts[len(e.Attempts)-1].Err)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (stopped: %v)", e.Cause)
	}
	return msg
}

func (e *ChainFailedError) Unwrap() error {
	return e.Cause
}

// ChainResult is the outcome of a successful chain run.
type ChainResult[T any] struct {
	Value T
	// Persona is the catalog index of the persona that succeeded.
	Persona int
	// Attempts lists the failures recorded before the winning persona.
	Attempts []AttemptError
}

// AttemptFunc performs one operation with one persona.
type AttemptFunc[T any] func(ctx context.Context, index int, persona Persona) (T, error)

// RunChain tries personas strictly in order and returns the first success.
// Failures, including ErrEmptyResult, are recorded and the next persona is
// tried. Personas are never attempted concurrently.
func RunChain[T any](ctx context.Context, logger *slog.Logger, op string, personas []Persona, attempt AttemptFunc[T]) (ChainResult[T], error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	attempts := make([]AttemptError, 0, len(personas))

	for i, persona := range personas {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(personas); j++ {
				attempts = append(attempts, AttemptError{Index: j, Persona: personas[j].Name, Err: fmt.Errorf("skipped: %w", err)})
			}
			logger.Warn("chain stopped before exhausting personas",
				"op", op,
				"remaining", len(personas)-i,
				"error", err,
			)
			return ChainResult[T]{}, &ChainFailedError{Op: op, Attempts: attempts, Cause: err}
		}

		started := time.Now()
		value, err := attempt(ctx, i, persona)
		elapsed := time.Since(started)
		if err == nil {
			logger.Info("persona attempt succeeded",
				"op", op,
				"index", i,
				"persona", persona.Name,
				"outcome", "success",
				"elapsed", elapsed,
			)
			return ChainResult[T]{Value: value, Persona: i, Attempts: attempts}, nil
		}

		attempts = append(attempts, AttemptError{Index: i, Persona: persona.Name, Err: err})
		logger.Warn("persona attempt failed",
			"op", op,
			"index", i,
			"persona", persona.Name,
			"outcome", "failure",
			"elapsed", elapsed,
			"error", err,
		)
	}

	logger.Error("all personas failed", "op", op, "attempts", len(attempts))
	return ChainResult[T]{}, &ChainFailedError{Op: op, Attempts: attempts}
}
