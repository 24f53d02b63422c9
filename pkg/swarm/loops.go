package swarm

import (
	"math/rand"
	"time"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/metrics"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/pure"
	"github.com/cuemby/portalforge/pkg/sysproc"
)

// jitterSleep sleeps a duration drawn uniformly from [loSec, hiSec], the
// pacing jitter of the launcher and background-worker loops.
func jitterSleep(entropy *rand.Rand, loSec, hiSec float64) {
	d := time.Duration((loSec + entropy.Float64()*(hiSec-loSec)) * float64(time.Second))
	time.Sleep(d)
}

func ancestorAlive(env descendantEnv, inspector sysproc.Inspector) bool {
	alive, err := inspector.IsRunning(env.ancestorPID, env.ancestorStartTime)
	return err == nil && alive
}

// runLauncher is the launcher loop: while the ancestor is alive, keep exactly env.maxWorkers background workers registered and
// running, spawning more as needed, then always sleep a short jitter.
func runLauncher(env descendantEnv, p *portal.Portal) {
	inspector := sysproc.Default
	registry := OpenWorkerRegistry(p.NodeLocalStore())

	for {
		if !ancestorAlive(env, inspector) {
			return
		}

		current, err := registry.CountAlive(RoleBackgroundWorker, inspector)
		if err == nil {
			need := env.maxWorkers - current
			for i := 0; i < need; i++ {
				spawnWorker(env, p, registry, inspector)
			}
		}

		jitterSleep(p.Entropy(), 0.02, 0.22)
	}
}

func spawnWorker(env descendantEnv, p *portal.Portal, registry *WorkerRegistry, inspector sysproc.Inspector) {
	logger := logging.WithComponent("swarm")
	cmd, err := spawn(RoleBackgroundWorker, env.portalDir, env.ancestorPID, env.ancestorStartTime, env.maxWorkers, true)
	if err != nil {
		logger.Error().Err(err).Msg("failed to spawn background worker")
		return
	}
	info, err := newDescendantInfo(inspector, cmd.Process.Pid, env.ancestorPID, env.ancestorStartTime, RoleBackgroundWorker)
	if err != nil {
		return
	}
	_ = registry.Register(info)
	metrics.WorkersTotal.WithLabelValues(string(RoleBackgroundWorker), "true").Inc()
	logger.Info().Int("pid", info.PID).Msg("background worker spawned")
	go func() {
		_ = cmd.Wait()
		_ = registry.Unregister(info.PID, info.StartTime)
		metrics.WorkersTotal.WithLabelValues(string(RoleBackgroundWorker), "true").Dec()
		logger.Info().Int("pid", info.PID).Msg("background worker exited")
	}()
}

// runBackgroundWorker is the background-worker loop: while the ancestor
// is alive, spawn one request-handler subprocess, wait
// for it to finish, and sleep a short jitter with 50% probability. Each
// request runs in its own subprocess so a crashing user function never
// takes the worker itself down.
func runBackgroundWorker(env descendantEnv, p *portal.Portal) {
	inspector := sysproc.Default

	for {
		if !ancestorAlive(env, inspector) {
			return
		}

		cmd, err := spawn(RoleRequestHandler, env.portalDir, env.ancestorPID, env.ancestorStartTime, env.maxWorkers, true)
		if err == nil {
			_ = cmd.Wait()
		}

		if p.Entropy().Float64() < 0.5 {
			jitterSleep(p.Entropy(), 0.02, 0.22)
		}
	}
}

// runRequestHandler processes one sampled execution request and exits.
// protected.ProtectedFn.Execute resolves validator-demanded prerequisite
// calls internally via PureFn.runPrerequisite, so the handler only needs
// to keep sampling until it finds a call that still needs execution, run
// it once through the ordinary memoized pipeline, and return; any
// prerequisite chain happens transparently inside that single Execute
// call.
func runRequestHandler(env descendantEnv, p *portal.Portal) {
	inspector := sysproc.Default

	stores, ok := pure.StoresFor(p.Fingerprint())
	if !ok {
		return
	}

	for {
		if !ancestorAlive(env, inspector) {
			return
		}

		key, err := stores.Requests.RandomKey(p.Entropy())
		if err != nil {
			jitterSleep(p.Entropy(), 0.02, 0.22)
			continue
		}

		var callSig fn.CallSignature
		if err := stores.CallSignatures.Get(key, &callSig); err != nil {
			continue
		}

		pureFn, ok := pure.Lookup(p.Fingerprint(), callSig.FnAddr.Signature)
		if !ok {
			continue
		}

		resultAddr, err := pure.NewResultAddr(pureFn.Fn, callSig)
		if err != nil {
			continue
		}

		kw, err := fn.Unpack(callSig.Packed, p)
		if err != nil {
			continue
		}

		need, err := pureFn.NeedsExecutionAddr(resultAddr)
		if err != nil {
			continue
		}
		if !need {
			// A request whose result already exists is stale; clear it so
			// workers stop resampling it.
			if pureFn.Ready(resultAddr) {
				_ = stores.Requests.Delete(key)
			}
			continue
		}

		_, _ = pureFn.Execute(kw)
		return
	}
}
