package worker

import "context"

// Result is a Worker backend's terminal output.
type Result struct {
	Text string
}

// Backend abstracts a Worker's task execution capability set (§4.4). The
// built-in LLM-agent backend and subprocess backends both implement it;
// this is the one dyn-dispatch façade the kernel's tool/backend surfaces
// use, since backend storage is genuinely heterogeneous (§9 DESIGN NOTES).
type Backend interface {
	// Execute runs the task to completion or until ctx is cancelled,
	// emitting live status through onStatus as it progresses.
	Execute(ctx context.Context, task string, onStatus func(string)) (Result, error)

	// FollowUp delivers a routed follow-up message to an interactive
	// backend that is currently WaitingForInput.
	FollowUp(ctx context.Context, message string) error

	// Cancel requests cooperative termination; for subprocess backends
	// this sends a termination signal and reaps the process.
	Cancel()
}
