package storage

import "fmt"

// RunHistory is the four-parallel-substore composite used by pkg/plog:
// JSON for structured crash/event records, Text for plain-text log lines,
// Source for captured Go source snippets, and Gob for arbitrary typed
// payloads. All four substores share one bucket-path prefix; the JSON,
// Text and Gob substores are append-only, the Source substore is mutable.
type RunHistory struct {
	JSON   *Store
	Text   *Store
	Source *Store
	Gob    *Store
}

// OpenRunHistory opens (or creates) the four substores of a RunHistory
// rooted at prefix, each appending "_json"/"_text"/"_source"/"_pkl" to the
// last path element.
func OpenRunHistory(db *DB, prefix []string) (*RunHistory, error) {
	if len(prefix) == 0 {
		return nil, fmt.Errorf("storage: run history prefix must not be empty")
	}
	base := prefix[len(prefix)-1]
	parent := prefix[:len(prefix)-1]

	mk := func(suffix string, format Format, appendOnly bool) (*Store, error) {
		path := append(append([]string{}, parent...), base+suffix)
		return db.Store(path, format, appendOnly)
	}

	jsonStore, err := mk("_json", JSON, true)
	if err != nil {
		return nil, err
	}
	textStore, err := mk("_text", Text, true)
	if err != nil {
		return nil, err
	}
	// The source substore is mutable: re-recording a function's captured
	// source under the same key (e.g. after the function is redefined)
	// must overwrite rather than hit ErrAppendOnlyViolation.
	sourceStore, err := mk("_source", Source, false)
	if err != nil {
		return nil, err
	}
	gobStore, err := mk("_pkl", Gob, true)
	if err != nil {
		return nil, err
	}

	return &RunHistory{JSON: jsonStore, Text: textStore, Source: sourceStore, Gob: gobStore}, nil
}
