package swarm

import (
	"time"

	"github.com/cuemby/portalforge/pkg/sysproc"
)

// Role names a descendant process's function.
type Role string

const (
	// RoleLauncher keeps the target number of background workers alive.
	RoleLauncher Role = "_launcher"
	// RoleBackgroundWorker repeatedly spawns a request-handler subprocess.
	RoleBackgroundWorker Role = "_background_worker"
	// RoleRequestHandler processes a single execution request and exits.
	RoleRequestHandler Role = "_process_random_execution_request"
)

// DescendantInfo is the persisted record of one descendant process: a
// PID/start-time pair for the descendant, a PID/start-time pair for its
// ancestor, and a role. Liveness requires both pairs to still match a
// running process, guarding against PID reuse on either side.
type DescendantInfo struct {
	PID               int       `json:"pid"`
	StartTime         int64     `json:"start_time"`
	AncestorPID       int       `json:"ancestor_pid"`
	AncestorStartTime int64     `json:"ancestor_start_time"`
	Role              Role      `json:"role"`
	RegisteredAt      time.Time `json:"registered_at"`
}

// IsAlive reports whether d's process and its ancestor's process are both
// still running with matching (pid, start_time) pairs.
func (d DescendantInfo) IsAlive(inspector sysproc.Inspector) bool {
	alive, err := inspector.IsRunning(d.PID, d.StartTime)
	if err != nil || !alive {
		return false
	}
	ancestorAlive, err := inspector.IsRunning(d.AncestorPID, d.AncestorStartTime)
	if err != nil || !ancestorAlive {
		return false
	}
	return true
}

// newDescendantInfo builds the record for a just-spawned descendant,
// retrying the child's start-time lookup with exponential backoff: a
// freshly forked process's /proc entry can briefly lag the
// exec.Cmd.Start() return.
func newDescendantInfo(inspector sysproc.Inspector, pid int, ancestorPID int, ancestorStartTime int64, role Role) (DescendantInfo, error) {
	var startTime int64
	var err error
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < 6; attempt++ {
		startTime, err = inspector.StartTime(pid)
		if err == nil {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	if err != nil {
		return DescendantInfo{}, err
	}

	return DescendantInfo{
		PID:               pid,
		StartTime:         startTime,
		AncestorPID:       ancestorPID,
		AncestorStartTime: ancestorStartTime,
		Role:              role,
		RegisteredAt:      time.Now().UTC(),
	}, nil
}
