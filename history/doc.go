package history

// history persists a record of each harness run so operators can inspect
// past results, e.g. after a CI job has thrown its logs away. It contains
// the RunStore interface for working with a persistent store, as well as an
// implementation for BadgerDB. Records expire via per-key TTLs rather than
// explicit deletion.
