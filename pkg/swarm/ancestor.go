package swarm

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/metrics"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/sysproc"
)

// AncestorPortal is the swarming layer added to an already-open
// *portal.Portal: it owns a worker registry, launches a launcher
// subprocess to keep a target number of background workers alive, and
// tears every descendant down when the ancestor itself exits.
//
// Unlike pkg/portal.Portal, AncestorPortal is never itself reopened by a
// descendant process: a descendant builds its own DescendantEnv (see
// Bootstrap) and never constructs an AncestorPortal of its own.
type AncestorPortal struct {
	Portal    *portal.Portal
	Config    Config
	Registry  *WorkerRegistry
	Inspector sysproc.Inspector

	mu        sync.Mutex
	launcher  *exec.Cmd
	stopOnce  sync.Once
	stopCh    chan struct{}
	ancestorP int
	ancestorT int64

	logger zerolog.Logger
}

// Open builds an AncestorPortal over p with the given Config, validating
// the config and, if the computed target worker count is positive,
// spawning a launcher subprocess.
func Open(p *portal.Portal, cfg Config) (*AncestorPortal, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	inspector := sysproc.Default
	pid := inspector.CurrentPID()
	startTime, err := inspector.StartTime(pid)
	if err != nil {
		return nil, fmt.Errorf("swarm: failed to read this process's own start time: %w", err)
	}

	a := &AncestorPortal{
		Portal:    p,
		Config:    cfg,
		Registry:  OpenWorkerRegistry(p.NodeLocalStore()),
		Inspector: inspector,
		stopCh:    make(chan struct{}),
		ancestorP: pid,
		ancestorT: startTime,
		logger:    logging.WithComponent("swarm"),
	}

	target := TargetWorkerCount(cfg)
	if target > 0 {
		if err := a.spawnLauncher(target); err != nil {
			return nil, err
		}
	}

	a.logger.Info().Int("pid", pid).Int("target_workers", target).Msg("ancestor portal opened")

	return a, nil
}

// spawnLauncher starts the launcher subprocess and registers it in the
// worker registry.
func (a *AncestorPortal) spawnLauncher(target int) error {
	cmd, err := spawn(RoleLauncher, a.Portal.Dir(), a.ancestorP, a.ancestorT, target, true)
	if err != nil {
		metrics.SwarmLaunchesTotal.WithLabelValues("error").Inc()
		a.logger.Error().Err(err).Msg("failed to spawn launcher")
		return fmt.Errorf("swarm: failed to spawn launcher: %w", err)
	}
	metrics.SwarmLaunchesTotal.WithLabelValues("ok").Inc()
	a.logger.Info().Int("pid", cmd.Process.Pid).Msg("launcher spawned")

	info, err := newDescendantInfo(a.Inspector, cmd.Process.Pid, a.ancestorP, a.ancestorT, RoleLauncher)
	if err != nil {
		return fmt.Errorf("swarm: failed to record launcher start time: %w", err)
	}
	if err := a.Registry.Register(info); err != nil {
		return fmt.Errorf("swarm: failed to register launcher: %w", err)
	}
	metrics.WorkersTotal.WithLabelValues(string(RoleLauncher), "true").Inc()

	a.mu.Lock()
	a.launcher = cmd
	a.mu.Unlock()

	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

// Shutdown terminates every descendant of this ancestor recorded in the
// worker registry (the launcher and the background workers), best-effort,
// with terminate-then-kill-with-timeout escalation per descendant.
// Request-handler subprocesses are not registered, so Shutdown does not
// signal them. It is idempotent; callers typically register it via an
// at-exit hook (see InstallShutdownHook).
func (a *AncestorPortal) Shutdown(timeout time.Duration) {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.logger.Info().Msg("ancestor portal shutting down")

	workers, err := a.Registry.All()
	if err != nil {
		return
	}
	for _, w := range workers {
		if w.AncestorPID != a.ancestorP || w.AncestorStartTime != a.ancestorT {
			continue
		}
		_ = a.Inspector.Terminate(w.PID, timeout)
		_ = a.Registry.Unregister(w.PID, w.StartTime)
		metrics.WorkersTotal.WithLabelValues(string(w.Role), "true").Dec()
		a.logger.Info().Int("pid", w.PID).Str("role", string(w.Role)).Msg("worker terminated")
	}
}

// InstallShutdownHook adds a hook that calls a.Shutdown(timeout) to
// swarm's process-wide exit-hook list. The hooks run when the process
// receives SIGINT or SIGTERM, or when RunExitHooks is called; they do not
// run by themselves when main returns. Each call adds one more hook.
func (a *AncestorPortal) InstallShutdownHook(timeout time.Duration) {
	installExitHook(func() { a.Shutdown(timeout) })
}
