package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smtptools/harness/runner"
)

// lastRunKey always points at the ID of the most recent record so the CLI
// can show the previous run without scanning.
const lastRunKey = "last-run"

// Config contains settings specific to run-store connections
type Config struct {
	StorageDirPath string        `yaml:"storageDir" json:"storageDir"`
	KeyTTLDuration time.Duration `yaml:"keyTTL" json:"keyTTL"`
}

// Record is what we write to and read from the run store
type Record struct {
	ID           string          `json:"id"`
	StartedAt    time.Time       `json:"started_at"`
	Duration     time.Duration   `json:"duration"`
	Outcome      string          `json:"outcome"`
	TestExitCode int             `json:"test_exit_code"`
	Truncated    bool            `json:"output_truncated"`
	Summary      *runner.Summary `json:"summary,omitempty"`
}

// NewRecord builds a Record from a test run result and the harness's
// verdict on it
func NewRecord(res runner.Result, outcome string) Record {
	// UTC also strips the monotonic clock reading, so a record read back
	// from the store compares equal to the one we saved.
	return Record{
		ID:           res.RunID,
		StartedAt:    time.Now().UTC().Add(-res.Duration),
		Duration:     res.Duration,
		Outcome:      outcome,
		TestExitCode: res.ExitCode,
		Truncated:    res.Truncated,
		Summary:      res.Summary,
	}
}

// Encode serializes the record for storage
func (r Record) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("can't serialize the run record: %v", err)
	}
	return b, nil
}

// decodeRecord deserializes a stored record
func decodeRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("can't read the stored run record as JSON: %v", err)
	}
	return r, nil
}

// RunStore exposes a common interface for recording and retrieving harness
// runs on an underlying storage layer.
//
// Implementations need to include connection logic in code to initialize
// a store.
type RunStore interface {
	// Save a record of a completed run
	Put(Record) error
	// Return a record given its run ID
	Read(id string) (Record, error)
	// Return the most recently saved record
	Last() (Record, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to records and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}
