package history

import "errors"

// NoOpStore is used when run recording is disabled while still preserving
// our interactions with an abstract store. The strategy is to return
// whatever value will prevent the calling context from further interacting
// with the storage layer.
//
// Writes succeed silently, since recording is best-effort and the harness
// shouldn't fail a run just because history is off. Reads return an error,
// so the caller knows no actual data exists.
//
// For store-wide operations, such as cleaning up or closing, we always
// return a nil error. Since there is nothing to close or clean up, the
// operation is always successful.
type NoOpStore struct{}

// Put silently discards the record.
func (n *NoOpStore) Put(Record) error {
	return nil
}

// Read always returns an error so callers don't assume a record exists.
func (n *NoOpStore) Read(id string) (Record, error) {
	return Record{}, errors.New("run recording is disabled")
}

// Last always returns an error so callers don't assume a record exists.
func (n *NoOpStore) Last() (Record, error) {
	return Record{}, errors.New("run recording is disabled")
}

// Cleanup always returns nil in order to prevent retries or panics, since
// we want to keep the program humming along without touching the storage
// layer.
func (n *NoOpStore) Cleanup() error {
	return nil
}

// Close is no-op
func (n *NoOpStore) Close() error {
	return nil
}
