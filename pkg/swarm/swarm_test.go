package swarm

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/plog"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/pure"
	"github.com/cuemby/portalforge/pkg/registry"
	"github.com/cuemby/portalforge/pkg/sysproc"
)

// fakeInspector is a deterministic sysproc.Inspector test double: a
// process is "alive" if its pid is present in alive with a matching start
// time, nothing else.
type fakeInspector struct {
	alive map[int]int64
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{alive: make(map[int]int64)}
}

func (f *fakeInspector) mark(pid int, startTime int64) {
	f.alive[pid] = startTime
}

func (f *fakeInspector) CurrentPID() int { return 1 }

func (f *fakeInspector) StartTime(pid int) (int64, error) {
	if st, ok := f.alive[pid]; ok {
		return st, nil
	}
	return 0, nil
}

func (f *fakeInspector) IsRunning(pid int, startTime int64) (bool, error) {
	st, ok := f.alive[pid]
	return ok && st == startTime, nil
}

func (f *fakeInspector) Terminate(pid int, timeout time.Duration) error {
	delete(f.alive, pid)
	return nil
}

func TestTargetWorkerCountExactOverridesEverything(t *testing.T) {
	cfg := Config{ExactWorkers: 3, MinWorkers: 0, MaxWorkers: 8}
	assert.Equal(t, 3, TargetWorkerCount(cfg))
}

func TestTargetWorkerCountClampedByMin(t *testing.T) {
	cfg := Config{MaxWorkers: 0, MinWorkers: 2}
	assert.GreaterOrEqual(t, TargetWorkerCount(cfg), 2)
}

func TestTargetWorkerCountNeverNegative(t *testing.T) {
	cfg := Config{MaxWorkers: 1, MinWorkers: 0}
	assert.GreaterOrEqual(t, TargetWorkerCount(cfg), 0)
}

func TestValidateConfigRejectsExactAlongsideMin(t *testing.T) {
	err := validateConfig(Config{ExactWorkers: 5, MinWorkers: 1})
	assert.Error(t, err)
}

func TestValidateConfigRejectsExactAlongsideNonDefaultMax(t *testing.T) {
	err := validateConfig(Config{ExactWorkers: 5, MaxWorkers: 99})
	assert.Error(t, err)
}

func TestValidateConfigAllowsExactAlone(t *testing.T) {
	err := validateConfig(Config{ExactWorkers: 5})
	assert.NoError(t, err)
}

func TestValidateConfigAllowsPlainMinMax(t *testing.T) {
	err := validateConfig(Config{MinWorkers: 1, MaxWorkers: 4})
	assert.NoError(t, err)
}

func TestDescendantInfoIsAliveRequiresBothPIDsRunning(t *testing.T) {
	inspector := newFakeInspector()
	inspector.mark(100, 111)
	inspector.mark(1, 222)

	info := DescendantInfo{PID: 100, StartTime: 111, AncestorPID: 1, AncestorStartTime: 222, Role: RoleBackgroundWorker}
	assert.True(t, info.IsAlive(inspector))
}

func TestDescendantInfoIsAliveFalseWhenDescendantGone(t *testing.T) {
	inspector := newFakeInspector()
	inspector.mark(1, 222)

	info := DescendantInfo{PID: 100, StartTime: 111, AncestorPID: 1, AncestorStartTime: 222}
	assert.False(t, info.IsAlive(inspector))
}

func TestDescendantInfoIsAliveFalseWhenAncestorGone(t *testing.T) {
	inspector := newFakeInspector()
	inspector.mark(100, 111)

	info := DescendantInfo{PID: 100, StartTime: 111, AncestorPID: 1, AncestorStartTime: 222}
	assert.False(t, info.IsAlive(inspector))
}

func TestDescendantInfoIsAliveFalseOnPIDReuseMismatchedStartTime(t *testing.T) {
	inspector := newFakeInspector()
	inspector.mark(100, 999) // different start time: a new process reused pid 100
	inspector.mark(1, 222)

	info := DescendantInfo{PID: 100, StartTime: 111, AncestorPID: 1, AncestorStartTime: 222}
	assert.False(t, info.IsAlive(inspector))
}

func openTestPortal(t *testing.T) *portal.Portal {
	t.Helper()
	reg := registry.New()
	p, err := portal.Open(reg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestWorkerRegistryRegisterAndAll(t *testing.T) {
	p := openTestPortal(t)
	registry := OpenWorkerRegistry(p.NodeLocalStore())

	info := DescendantInfo{PID: 42, StartTime: 7, AncestorPID: 1, AncestorStartTime: 2, Role: RoleBackgroundWorker}
	require.NoError(t, registry.Register(info))

	all, err := registry.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, info.PID, all[0].PID)
}

func TestWorkerRegistryAliveWorkersPrunesDeadEntries(t *testing.T) {
	p := openTestPortal(t)
	registry := OpenWorkerRegistry(p.NodeLocalStore())
	inspector := newFakeInspector()

	aliveInfo := DescendantInfo{PID: 10, StartTime: 1, AncestorPID: 1, AncestorStartTime: 1, Role: RoleBackgroundWorker}
	deadInfo := DescendantInfo{PID: 20, StartTime: 1, AncestorPID: 1, AncestorStartTime: 1, Role: RoleBackgroundWorker}
	inspector.mark(10, 1)
	inspector.mark(1, 1)

	require.NoError(t, registry.Register(aliveInfo))
	require.NoError(t, registry.Register(deadInfo))

	alive, err := registry.AliveWorkers(RoleBackgroundWorker, inspector)
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, 10, alive[0].PID)

	all, err := registry.All()
	require.NoError(t, err)
	require.Len(t, all, 1, "a dead entry must be pruned from the persisted registry on access")
}

// TestSwarmSmoke walks the enqueue-then-process flow: a zero-worker
// ancestor enqueues a request and closes, the portal is reopened, and a
// request-handler loop (run in-process, exactly as a descendant subprocess
// would run it) picks the request up and computes the result.
func TestSwarmSmoke(t *testing.T) {
	dir := t.TempDir()

	name := "smokeDouble"
	source := fmt.Sprintf(`func %s(n int) int {
	return n * 2
}`, name)
	fn.Register(name, func(kw fn.KwArgs) (any, error) {
		return kw["n"].(int) * 2, nil
	})

	// Phase 1: a zero-worker ancestor only enqueues.
	reg1 := registry.New()
	p1, err := portal.Open(reg1, dir)
	require.NoError(t, err)
	lp1, err := plog.Open(p1)
	require.NoError(t, err)
	stores1, err := pure.OpenStoresForPortal(p1)
	require.NoError(t, err)

	f1, err := fn.Define(source, p1)
	require.NoError(t, err)
	pf1 := pure.New(f1, p1, lp1, stores1, nil, nil)

	ancestor, err := Open(p1, Config{MaxWorkers: 0})
	require.NoError(t, err)
	assert.Nil(t, ancestor.launcher, "a zero-worker ancestor must not spawn a launcher")

	addrs, err := pf1.SwarmList([]fn.KwArgs{{"n": 4}})
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.False(t, pf1.Ready(addrs[0]))

	ancestor.Shutdown(time.Second)
	require.NoError(t, p1.Close())

	// Phase 2: reopen the same root and let a request handler drain it.
	reg2 := registry.New()
	p2, err := portal.Open(reg2, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p2.Close() })
	lp2, err := plog.Open(p2)
	require.NoError(t, err)
	stores2, err := pure.OpenStoresForPortal(p2)
	require.NoError(t, err)

	f2, err := fn.Define(source, p2)
	require.NoError(t, err)
	pf2 := pure.New(f2, p2, lp2, stores2, nil, nil)

	selfStart, err := sysproc.Default.StartTime(os.Getpid())
	require.NoError(t, err)
	env := descendantEnv{
		role:              RoleRequestHandler,
		portalDir:         dir,
		ancestorPID:       os.Getpid(),
		ancestorStartTime: selfStart,
		maxWorkers:        1,
	}
	runRequestHandler(env, p2)

	require.True(t, pf2.Ready(addrs[0]))
	result, err := pf2.Get(fn.KwArgs{"n": 4}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 8, result)
}

func TestWorkerRegistryUnregisterRemovesEntry(t *testing.T) {
	p := openTestPortal(t)
	registry := OpenWorkerRegistry(p.NodeLocalStore())

	info := DescendantInfo{PID: 5, StartTime: 9}
	require.NoError(t, registry.Register(info))
	require.NoError(t, registry.Unregister(5, 9))

	all, err := registry.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}
