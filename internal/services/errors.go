package services

import "errors"

// Run service errors
var (
	ErrNoPairs           = errors.New("no city-year pairs requested")
	ErrInvalidYear       = errors.New("invalid fiscal year")
	ErrRunNotFound       = errors.New("run not found")
	ErrRunFinished       = errors.New("run already finished")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrServiceClosed     = errors.New("run service closed")
)
