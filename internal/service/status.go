package service

import (
	"fmt"
	"time"
)

// BuildState is the outcome of the last build of a worker.
type BuildState int

const (
	BuildStateUnknown BuildState = iota
	BuildStateSuccess
	BuildStateSyncFailed
	BuildStateLoadFailed
	BuildStateBuildFailed
	BuildStatePushFailed
	BuildStateInternalError
)

var buildStateNames = map[BuildState]string{
	BuildStateUnknown:       "UNKNOWN",
	BuildStateSuccess:       "SUCCESS",
	BuildStateSyncFailed:    "SYNC_FAILED",
	BuildStateLoadFailed:    "LOAD_FAILED",
	BuildStateBuildFailed:   "BUILD_FAILED",
	BuildStatePushFailed:    "PUSH_FAILED",
	BuildStateInternalError: "INTERNAL_ERROR",
}

func (s BuildState) String() string {
	if name, ok := buildStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("BuildState(%d)", int(s))
}

// Status describes the last build of a worker.
type Status struct {
	State     BuildState
	Message   string
	Version   string
	Artifacts []string
	Time      time.Time
}
