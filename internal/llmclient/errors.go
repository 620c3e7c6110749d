package llmclient

import (
	"errors"
	"fmt"
)

// Typed provider error taxonomy (§6, §7). The last two carry the partial
// chat history so the caller can persist or resume.
var (
	ErrRateLimited = errors.New("llm: rate limited")
	ErrTransient   = errors.New("llm: transient provider error")
	ErrFatal       = errors.New("llm: fatal provider error")
)

// MaxStepsError reports step-budget exhaustion mid-run, carrying whatever
// partial assistant text was produced so the caller can salvage context
// (grounded on the original Cortex's MaxTurnsError handling).
type MaxStepsError struct {
	PartialText string
	History     []Turn
}

func (e *MaxStepsError) Error() string { return "llm: max steps exceeded" }

// CancelledError reports cancellation mid-run, carrying partial history.
type CancelledError struct {
	History []Turn
}

func (e *CancelledError) Error() string { return "llm: cancelled" }

// AsBudgetExhausted reports whether err is a *MaxStepsError and returns a
// normalized view carrying its partial text.
func AsBudgetExhausted(err error) (*struct{ PartialText string }, bool) {
	var maxSteps *MaxStepsError
	if errors.As(err, &maxSteps) {
		return &struct{ PartialText string }{PartialText: maxSteps.PartialText}, true
	}
	return nil, false
}

func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}
