package models

import "errors"

// Error kinds surfaced by the pipeline. Callers match with errors.Is;
// sites wrap with fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrInputNotFound means the chunk file or prior record JSON is missing.
	ErrInputNotFound = errors.New("input not found")

	// ErrDecode means a frame read failed mid-stream.
	ErrDecode = errors.New("decode failed")

	// ErrInference means a detector, pose, or embedding call failed.
	ErrInference = errors.New("inference failed")

	// ErrRegistryUnavailable means the hot and/or warm tier is unreachable.
	ErrRegistryUnavailable = errors.New("registry unavailable")

	// ErrCapacityExceeded means the submission queue is full.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrTimeout means the job exceeded its processing budget.
	ErrTimeout = errors.New("job timed out")

	// ErrCorrectionInvalid means a correction addresses a missing entry or
	// lacks a required field; the whole batch is rejected.
	ErrCorrectionInvalid = errors.New("invalid correction")

	// ErrCancelled means the job was cancelled on request.
	ErrCancelled = errors.New("job cancelled")

	// ErrJobInFlight means a job for the same chunk is already queued or running.
	ErrJobInFlight = errors.New("job already in flight for chunk")

	// ErrInvalidJob means a submission is missing required fields.
	ErrInvalidJob = errors.New("invalid job")
)
