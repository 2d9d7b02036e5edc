package history

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v3"
)

// BadgerStore implements RunStore and represents the harness's connection
// to BadgerDB.
type BadgerStore struct {
	connection *badger.DB
	keyTTL     time.Duration // TTL for each record in the db
}

// NewBadgerStore initializes the BadgerDB embedded database. It is up to
// the caller to close the database with Close().
func NewBadgerStore(conf *Config) (*BadgerStore, error) {
	// Open the Badger database at dirPath.
	// See: https://dgraph.io/docs/badger/get-started/#opening-a-database
	db, err := badger.Open(badger.DefaultOptions(conf.StorageDirPath))

	if err != nil {
		return &BadgerStore{}, fmt.Errorf("can't open the db connection: %v", err)
	}

	return &BadgerStore{
		connection: db,
		keyTTL:     conf.KeyTTLDuration,
	}, nil
}

// Put upserts a run record and repoints the last-run key at it
func (db *BadgerStore) Put(rec Record) error {
	val, err := rec.Encode()
	if err != nil {
		return err
	}

	err = db.connection.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(rec.ID), val).WithTTL(db.keyTTL)
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("could not set the run record: %v", err)
		}

		// The pointer gets the same TTL, so once a record expires
		// there's no dangling reference to it.
		p := badger.NewEntry([]byte(lastRunKey), []byte(rec.ID)).WithTTL(db.keyTTL)
		if err := txn.SetEntry(p); err != nil {
			return fmt.Errorf("could not set the last-run pointer: %v", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %v", err)
	}
	return nil
}

// Read returns a run record by its ID.
func (db *BadgerStore) Read(id string) (Record, error) {
	val, err := db.readRaw([]byte(id))
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(val)
}

// Last returns the most recently saved run record.
func (db *BadgerStore) Last() (Record, error) {
	id, err := db.readRaw([]byte(lastRunKey))
	if err != nil {
		return Record{}, fmt.Errorf("no last run to read: %v", err)
	}
	return db.Read(string(id))
}

func (db *BadgerStore) readRaw(key []byte) ([]byte, error) {
	var val []byte
	// See: https://dgraph.io/docs/badger/get-started/#read-only-transactions
	err := db.connection.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)

		if err != nil {
			return fmt.Errorf("can't retrieve a value for the key provided: %v", err)
		}

		// We copy values rather than return them directly because
		// item.Value() is considered undefined behavior outside a
		// transaction.
		// https://godoc.org/github.com/dgraph-io/badger#Item.Value
		val, err = item.ValueCopy(nil)

		if err != nil {
			return fmt.Errorf("can't copy the value from the database: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Cleanup performs BadgerDB's garbage collection routine with the
// recommended discardRatio.
//
// This is the only time expired records are actually removed, so make sure
// records are written with TTLs!
func (db *BadgerStore) Cleanup() error {
	var discardRatio float64 = .5
	err := db.connection.RunValueLogGC(discardRatio)
	if err == nil {
		return nil
	}
	// If the GC determines that it can't rewrite anything, don't worry
	// the caller--just skip it
	if err.Error() == badger.ErrNoRewrite.Error() {
		return nil
	}
	return err
}

// Close tears down the database connection. You should defer this.
func (db *BadgerStore) Close() error {
	if err := db.connection.Close(); err != nil {
		return fmt.Errorf("could not close the database: %v", err)
	}
	return nil
}
