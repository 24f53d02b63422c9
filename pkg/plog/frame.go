package plog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/ids"
)

// callStackMu guards the process-wide nested-frame stack: the innermost
// active Frame is always the last element, so LogException/LogEvent route
// to whichever call is currently executing.
var (
	callStackMu sync.Mutex
	callStack   []*Frame
)

func pushFrame(f *Frame) {
	callStackMu.Lock()
	defer callStackMu.Unlock()
	callStack = append(callStack, f)
}

func popFrame() {
	callStackMu.Lock()
	defer callStackMu.Unlock()
	if n := len(callStack); n > 0 {
		callStack = callStack[:n-1]
	}
}

func currentFrame() *Frame {
	callStackMu.Lock()
	defer callStackMu.Unlock()
	if n := len(callStack); n > 0 {
		return callStack[n-1]
	}
	return nil
}

// Frame orchestrates a single logged execution: it carries a unique
// session ID, routes exceptions and events raised during the call to both
// the function's own run history and the portal-wide timelines, and
// records the attempt, captured output, and result when excessive logging
// is enabled.
type Frame struct {
	SessionID        string
	Fn               *fn.Fn
	CallSig          fn.CallSignature
	ExcessiveLogging bool

	lp            *LogPortal
	capturer      *outputCapturer
	portalEntered bool

	mu               sync.Mutex
	exceptionCounter int
	eventCounter     int
	entered          bool
}

// NewFrame builds a Frame for one execution of f against callSig.
func NewFrame(lp *LogPortal, f *fn.Fn, callSig fn.CallSignature, excessiveLogging bool) (*Frame, error) {
	sessionID, err := ids.RandomSignature()
	if err != nil {
		return nil, fmt.Errorf("plog: failed to generate session id: %w", err)
	}
	return &Frame{
		SessionID:        "run_" + sessionID,
		Fn:               f,
		CallSig:          callSig,
		ExcessiveLogging: excessiveLogging,
		lp:               lp,
	}, nil
}

// Enter pushes the frame onto the active-call stack and, if excessive
// logging is enabled, persists an attempt snapshot and the function's
// normalized source, and starts capturing stdout/stderr. It must be paired
// with exactly one Exit call, typically via defer.
func (f *Frame) Enter() error {
	f.mu.Lock()
	if f.entered {
		f.mu.Unlock()
		return fmt.Errorf("plog: frame %s already entered", f.SessionID)
	}
	f.entered = true
	f.mu.Unlock()

	pushFrame(f)

	// The frame activates its portal for the duration of the call, so
	// nested calls and ValueAddr writes inside the wrapped function all
	// resolve against the portal this execution belongs to.
	if err := f.lp.portal.Enter(); err != nil {
		popFrame()
		return err
	}
	f.portalEntered = true

	if !f.ExcessiveLogging {
		return nil
	}
	if err := f.recordArtifacts(); err != nil {
		// A failed Enter must leave no trace: the caller will not pair it
		// with an Exit.
		f.portalEntered = false
		_ = f.lp.portal.Exit()
		popFrame()
		return err
	}
	if c, err := startOutputCapture(); err == nil {
		f.capturer = c
	}
	return nil
}

func (f *Frame) recordArtifacts() error {
	callSig, err := f.CallSig.Signature()
	if err != nil {
		return err
	}
	attempt := AttemptRecord{
		SessionID: f.SessionID,
		Fn:        f.Fn.Name,
		NodeSig:   ids.NodeSignature(),
		PID:       os.Getpid(),
		Time:      time.Now().UTC(),
	}
	if err := f.lp.runHistory.JSON.Put(callSig+"_"+f.SessionID+"_attempt", attempt); err != nil {
		return fmt.Errorf("plog: failed to record execution attempt: %w", err)
	}
	// The source substore is mutable: re-recording the same function's
	// source under the same call signature overwrites.
	if err := f.lp.runHistory.Source.Put(callSig+"_source", f.Fn.Source); err != nil {
		return fmt.Errorf("plog: failed to record function source: %w", err)
	}
	return nil
}

// RegisterResult persists result under this frame's session, when
// excessive logging is enabled. No-op otherwise.
func (f *Frame) RegisterResult(result any) error {
	if !f.ExcessiveLogging {
		return nil
	}
	callSig, err := f.CallSig.Signature()
	if err != nil {
		return err
	}
	return f.lp.runHistory.Gob.Put(callSig+"_"+f.SessionID+"_result", result)
}

// Exit logs the recovered error (if any), stops output capture and
// persists the captured text, then pops the frame from the active-call
// stack, in that order, so the exception is routed to this frame and the
// captured text includes everything the call wrote.
func (f *Frame) Exit(recovered any) {
	if recovered != nil {
		err, ok := recovered.(error)
		if !ok {
			err = fmt.Errorf("plog: recovered panic: %v", recovered)
		}
		_ = LogException(f.lp, err)
	}

	if f.capturer != nil {
		text := f.capturer.Stop()
		f.capturer = nil
		if callSig, err := f.CallSig.Signature(); err == nil {
			_ = f.lp.runHistory.Text.Put(callSig+"_"+f.SessionID+"_output", text)
		}
	}

	if f.portalEntered {
		f.portalEntered = false
		_ = f.lp.portal.Exit()
	}

	popFrame()
}
