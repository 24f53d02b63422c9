// Package plog implements execution logging (L4 of the portal stack): a
// per-call execution frame that records attempts, results, exceptions, and
// custom events, plus the portal-wide crash/event timelines every frame
// feeds into.
package plog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/portalforge/pkg/ids"
	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/storage"
)

// CrashRecord is a single logged exception, either portal-wide or scoped to
// one execution frame.
type CrashRecord struct {
	SessionID string    `json:"session_id,omitempty"`
	Error     string    `json:"error"`
	Time      time.Time `json:"time"`
	NodeSig   string    `json:"node_signature"`
	PID       int       `json:"pid"`
}

// AttemptRecord is the environment snapshot persisted when an execution
// frame opens with excessive logging enabled.
type AttemptRecord struct {
	SessionID string    `json:"session_id"`
	Fn        string    `json:"fn"`
	NodeSig   string    `json:"node_signature"`
	PID       int       `json:"pid"`
	Time      time.Time `json:"time"`
}

// EventRecord is a single logged application event.
type EventRecord struct {
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Time      time.Time      `json:"time"`
	NodeSig   string         `json:"node_signature"`
	PID       int            `json:"pid"`
}

// LogPortal adds execution-logging storage to a portal: a portal-wide
// crash timeline, a portal-wide event timeline, and a per-call run history
// (attempts, outputs, results, and per-call crash/event logs) split across
// four parallel substores by storage.RunHistory.
type LogPortal struct {
	portal       *portal.Portal
	crashHistory *storage.Store
	eventHistory *storage.Store
	runHistory   *storage.RunHistory

	logger zerolog.Logger
}

// Open builds (or reopens) the logging sub-stores for p.
func Open(p *portal.Portal) (*LogPortal, error) {
	crashHistory, err := p.DB().Store([]string{"crash_history"}, storage.JSON, true)
	if err != nil {
		return nil, fmt.Errorf("plog: failed to open crash history: %w", err)
	}
	eventHistory, err := p.DB().Store([]string{"event_history"}, storage.JSON, true)
	if err != nil {
		return nil, fmt.Errorf("plog: failed to open event history: %w", err)
	}
	runHistory, err := storage.OpenRunHistory(p.DB(), []string{"run_history"})
	if err != nil {
		return nil, fmt.Errorf("plog: failed to open run history: %w", err)
	}
	return &LogPortal{
		portal:       p,
		crashHistory: crashHistory,
		eventHistory: eventHistory,
		runHistory:   runHistory,
		logger:       logging.WithPortal(p.Fingerprint()),
	}, nil
}

// Portal returns the underlying portal this log portal is scoped to.
func (lp *LogPortal) Portal() *portal.Portal { return lp.portal }

// CrashHistory exposes the portal-wide crash timeline, keyed
// "<utc_date>_<crash_id>".
func (lp *LogPortal) CrashHistory() *storage.Store { return lp.crashHistory }

// EventHistory exposes the portal-wide event timeline, keyed
// "<utc_date>_<event_id>".
func (lp *LogPortal) EventHistory() *storage.Store { return lp.eventHistory }

// RunHistory exposes the per-call run-history composite.
func (lp *LogPortal) RunHistory() *storage.RunHistory { return lp.runHistory }

func (lp *LogPortal) recordPortalCrash(id string, rec CrashRecord) error {
	lp.logger.Error().Str("crash_id", id).Str("session_id", rec.SessionID).Msg(rec.Error)
	return lp.crashHistory.Put(dateKey()+"_"+id, rec)
}

func (lp *LogPortal) recordPortalEvent(id string, rec EventRecord) error {
	lp.logger.Info().Str("event_id", id).Str("session_id", rec.SessionID).Msg(rec.Message)
	return lp.eventHistory.Put(dateKey()+"_"+id, rec)
}

func dateKey() string {
	return time.Now().UTC().Format("2006-01-02")
}

func randomID(suffix string) (string, error) {
	sig, err := ids.RandomSignature()
	if err != nil {
		return "", err
	}
	return sig + "_" + suffix, nil
}
