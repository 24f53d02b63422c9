package plog

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/portalforge/pkg/ids"
)

// processed tracks which error values have already been logged, keyed by
// the error's own identity. Go errors can't carry an "already processed"
// flag in place, so the marker lives in this process-wide map instead: an
// error bubbling up through several recover()/defer layers gets logged
// exactly once.
//
// A recursive pure call (e.g. factorial calling itself through its own
// Execute) re-wraps a propagating error with fmt.Errorf("...: %w", err) at
// every level it passes through, producing a distinct error value per
// level even though it is the same underlying exception. Keying solely by
// identity would then log it once per recursion level instead of once.
// rootError unwinds to the innermost error in the %w chain before the
// identity check, so every wrapped layer of the same underlying
// panic/error collapses onto the same processed-marker key.
var processed sync.Map

func rootError(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

func needsProcessing(err error) bool {
	if err == nil {
		return false
	}
	_, already := processed.LoadOrStore(rootError(err), struct{}{})
	return !already
}

// LogException records err to the active frame's crash log (if any and if
// excessive logging is enabled) and always to the portal-wide crash
// timeline. Calling it twice with the same error is a no-op the second
// time.
func LogException(lp *LogPortal, err error) error {
	if !needsProcessing(err) {
		return nil
	}

	frame := currentFrame()

	var sessionID, crashID string
	if frame != nil {
		frame.mu.Lock()
		crashID = fmt.Sprintf("%s_crash_%d", frame.SessionID, frame.exceptionCounter)
		frame.exceptionCounter++
		frame.mu.Unlock()
		sessionID = frame.SessionID
	} else {
		id, genErr := randomID("crash")
		if genErr != nil {
			return genErr
		}
		crashID = "portal_" + id
	}

	rec := CrashRecord{
		SessionID: sessionID,
		Error:     err.Error(),
		Time:      time.Now().UTC(),
		NodeSig:   ids.NodeSignature(),
		PID:       os.Getpid(),
	}

	if frame != nil && frame.ExcessiveLogging {
		callSig, sigErr := frame.CallSig.Signature()
		if sigErr == nil {
			_ = frame.lp.runHistory.JSON.Put(callSig+"_"+crashID, rec)
		}
	}

	return lp.recordPortalCrash(crashID, rec)
}

// LogEvent records a custom application event to the active frame's event
// log (if any) and always to the portal-wide event timeline.
func LogEvent(lp *LogPortal, message string, fields map[string]any) error {
	frame := currentFrame()

	var sessionID, eventID string
	if frame != nil {
		frame.mu.Lock()
		eventID = fmt.Sprintf("%s_event_%d", frame.SessionID, frame.eventCounter)
		frame.eventCounter++
		frame.mu.Unlock()
		sessionID = frame.SessionID
	} else {
		id, err := randomID("event")
		if err != nil {
			return err
		}
		eventID = id
	}

	rec := EventRecord{
		SessionID: sessionID,
		Message:   message,
		Fields:    fields,
		Time:      time.Now().UTC(),
		NodeSig:   ids.NodeSignature(),
		PID:       os.Getpid(),
	}

	if frame != nil {
		callSig, err := frame.CallSig.Signature()
		if err == nil {
			_ = frame.lp.runHistory.JSON.Put(callSig+"_"+eventID, rec)
		}
	}

	return lp.recordPortalEvent(eventID, rec)
}
