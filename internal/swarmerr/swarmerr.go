// Package swarmerr defines the sentinel error taxonomy shared by every
// component of the swarm core. Components wrap a sentinel with
// fmt.Errorf("...: %w", Err) so callers can still errors.Is against it
// while getting a human-readable message.
package swarmerr

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	ErrSessionInvalidState  = errors.New("invalid session state transition")

	ErrTaskNotFound        = errors.New("task not found")
	ErrTaskDependencyCycle = errors.New("task dependency cycle")
	ErrTaskAlreadyAssigned = errors.New("task already assigned")
	ErrTaskLimitExceeded   = errors.New("task limit exceeded")

	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentLimitExceeded = errors.New("agent limit exceeded")
	ErrAgentTimeout       = errors.New("agent timeout")

	ErrMessageNotFound = errors.New("message not found")

	ErrTokenBudgetExceeded = errors.New("token budget exceeded")
	ErrContextOverflow     = errors.New("context overflow")

	ErrModelNotAvailable = errors.New("model not available")
	ErrModelRateLimited  = errors.New("model rate limited")
	ErrModelAPIError     = errors.New("model api error")

	ErrWorktreeCreateFailed = errors.New("worktree create failed")
	ErrMergeConflict        = errors.New("merge conflict")

	ErrConfigurationError = errors.New("configuration error")
	ErrValidationError    = errors.New("validation error")
	ErrInternalError      = errors.New("internal error")

	ErrKeyNotFound     = errors.New("api key not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrRateLimited     = errors.New("rate limited")
	ErrNoKeyAvailable  = errors.New("no api key available")
)
