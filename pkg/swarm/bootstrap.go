package swarm

import (
	"fmt"
	"os"

	"github.com/cuemby/portalforge/pkg/portal"
)

// Bootstrap is the first call a program using pkg/swarm must make in
// main(). If the current process was spawned as a descendant (launcher, background worker, or
// request handler), Bootstrap calls setup to rebuild the same portal and
// function registrations the ancestor process built, runs the
// corresponding loop, and then exits the process; it never returns to
// the caller. If this process is an ordinary (ancestor) invocation,
// Bootstrap returns immediately and does nothing.
//
// setup must open the portal at portalDir and register every fn.Closure
// and pure.PureFn the program defines, exactly as the ancestor's own
// startup path does, since a descendant dispatches sampled execution
// requests purely by looking those registrations up in its own process.
func Bootstrap(setup func(portalDir string) (*portal.Portal, error)) {
	env, ok := readDescendantEnv()
	if !ok {
		return
	}

	p, err := setup(env.portalDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarm: descendant %s failed to rebuild portal at %s: %v\n", env.role, env.portalDir, err)
		os.Exit(1)
	}

	switch env.role {
	case RoleLauncher:
		runLauncher(env, p)
	case RoleBackgroundWorker:
		runBackgroundWorker(env, p)
	case RoleRequestHandler:
		runRequestHandler(env, p)
	default:
		fmt.Fprintf(os.Stderr, "swarm: unknown descendant role %q\n", env.role)
	}

	os.Exit(0)
}
