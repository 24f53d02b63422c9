package plog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/registry"
)

func openTestLogPortal(t *testing.T) (*portal.Portal, *LogPortal) {
	t.Helper()
	reg := registry.New()
	p, err := portal.Open(reg, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	lp, err := Open(p)
	require.NoError(t, err)
	return p, lp
}

func testFn(t *testing.T, p *portal.Portal) *fn.Fn {
	t.Helper()
	f, err := fn.Define(`func logTestFn(a int) int { return a }`, p)
	require.NoError(t, err)
	return f
}

func TestFrameSessionIDHasRunPrefix(t *testing.T) {
	p, lp := openTestLogPortal(t)
	f := testFn(t, p)
	packed, err := fn.Pack(fn.KwArgs{"a": float64(1)}, p)
	require.NoError(t, err)
	callSig, err := fn.NewCallSignature(f, packed)
	require.NoError(t, err)

	frame, err := NewFrame(lp, f, callSig, false)
	require.NoError(t, err)
	assert.Contains(t, frame.SessionID, "run_")
}

func TestFrameEnterExitRecordsAttemptAndResultWhenExcessive(t *testing.T) {
	p, lp := openTestLogPortal(t)
	f := testFn(t, p)
	packed, err := fn.Pack(fn.KwArgs{"a": float64(2)}, p)
	require.NoError(t, err)
	callSig, err := fn.NewCallSignature(f, packed)
	require.NoError(t, err)

	frame, err := NewFrame(lp, f, callSig, true)
	require.NoError(t, err)

	require.NoError(t, frame.Enter())
	require.NoError(t, frame.RegisterResult(42))
	frame.Exit(nil)

	n, err := lp.runHistory.JSON.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the attempt snapshot must be recorded")

	n, err = lp.runHistory.Source.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = lp.runHistory.Gob.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFrameEnterExitSkipsArtifactsWhenNotExcessive(t *testing.T) {
	p, lp := openTestLogPortal(t)
	f := testFn(t, p)
	packed, err := fn.Pack(fn.KwArgs{"a": float64(3)}, p)
	require.NoError(t, err)
	callSig, err := fn.NewCallSignature(f, packed)
	require.NoError(t, err)

	frame, err := NewFrame(lp, f, callSig, false)
	require.NoError(t, err)

	require.NoError(t, frame.Enter())
	require.NoError(t, frame.RegisterResult(42))
	frame.Exit(nil)

	n, err := lp.runHistory.Source.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFrameCapturesOutputWhenExcessive(t *testing.T) {
	p, lp := openTestLogPortal(t)
	f := testFn(t, p)
	packed, err := fn.Pack(fn.KwArgs{"a": float64(5)}, p)
	require.NoError(t, err)
	callSig, err := fn.NewCallSignature(f, packed)
	require.NoError(t, err)

	frame, err := NewFrame(lp, f, callSig, true)
	require.NoError(t, err)
	require.NoError(t, frame.Enter())
	fmt.Println("captured hello")
	frame.Exit(nil)

	sig, err := callSig.Signature()
	require.NoError(t, err)
	var text string
	require.NoError(t, lp.runHistory.Text.Get(sig+"_"+frame.SessionID+"_output", &text))
	assert.Contains(t, text, "captured hello")
}

func TestLogExceptionRecordsToPortalCrashHistory(t *testing.T) {
	_, lp := openTestLogPortal(t)

	err := errors.New("boom")
	require.NoError(t, LogException(lp, err))

	n, lenErr := lp.crashHistory.Len()
	require.NoError(t, lenErr)
	assert.Equal(t, 1, n)
}

func TestLogExceptionIsIdempotentForSameError(t *testing.T) {
	_, lp := openTestLogPortal(t)

	err := errors.New("boom twice")
	require.NoError(t, LogException(lp, err))
	require.NoError(t, LogException(lp, err))

	n, lenErr := lp.crashHistory.Len()
	require.NoError(t, lenErr)
	assert.Equal(t, 1, n, "logging the same error instance twice must only record once")
}

func TestLogExceptionIsIdempotentAcrossWrappedLayers(t *testing.T) {
	_, lp := openTestLogPortal(t)

	root := errors.New("deep failure")
	wrappedOnce := fmt.Errorf("pure: call failed: %w", root)
	wrappedTwice := fmt.Errorf("protected: function outer returned an error: %w", wrappedOnce)

	require.NoError(t, LogException(lp, wrappedOnce))
	require.NoError(t, LogException(lp, wrappedTwice))

	n, lenErr := lp.crashHistory.Len()
	require.NoError(t, lenErr)
	assert.Equal(t, 1, n, "the same root exception re-wrapped by each recursive call layer must only be recorded once")
}

func TestLogEventRecordsToPortalEventHistory(t *testing.T) {
	_, lp := openTestLogPortal(t)

	require.NoError(t, LogEvent(lp, "something happened", map[string]any{"k": "v"}))

	n, err := lp.eventHistory.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLogExceptionWithinFrameRecordsPerCallCrash(t *testing.T) {
	p, lp := openTestLogPortal(t)
	f := testFn(t, p)
	packed, err := fn.Pack(fn.KwArgs{"a": float64(4)}, p)
	require.NoError(t, err)
	callSig, err := fn.NewCallSignature(f, packed)
	require.NoError(t, err)

	frame, err := NewFrame(lp, f, callSig, true)
	require.NoError(t, err)
	require.NoError(t, frame.Enter())

	before, err := lp.runHistory.JSON.Len()
	require.NoError(t, err)

	frame.Exit(errors.New("recovered panic"))

	after, err := lp.runHistory.JSON.Len()
	require.NoError(t, err)
	assert.Greater(t, after, before, "an exception during a frame must be recorded in the per-call run history")
}
