// Package history keeps the payloads generated from the command line.
package history

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const payloadsBucket = "payloads"

type Record struct {
	// sequence number assigned on save
	Id         uint64 `cbor:"-"`
	Payload    string `cbor:"p"`
	Identifier string `cbor:"i"`
	Kind       string `cbor:"k"`
	Amount     string `cbor:"a,omitempty"`
	Reference  string `cbor:"r,omitempty"`
	CreatedAt  int64  `cbor:"t"`
}

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "history.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(payloadsBucket))
		return err
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

// Save stores the record and returns the id assigned to it.
func (db *BoltDB) Save(record Record) (uint64, error) {
	var id uint64
	if err := db.bolt.Update(func(tx *bolt.Tx) error {
		payloadsb := tx.Bucket([]byte(payloadsBucket))

		var err error
		id, err = payloadsb.NextSequence()
		if err != nil {
			return err
		}

		cborRecord, err := cbor.Marshal(record)
		if err != nil {
			return fmt.Errorf("invalid record: %v", err)
		}
		return payloadsb.Put(idKey(id), cborRecord)
	}); err != nil {
		return 0, fmt.Errorf("error saving record: %v", err)
	}
	return id, nil
}

// List returns up to limit records, newest first.
// A limit of 0 or less returns all records.
func (db *BoltDB) List(limit int) ([]Record, error) {
	records := []Record{}

	err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(payloadsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}

			var record Record
			if err := cbor.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("invalid record '%x': %v", k, err)
			}
			record.Id = binary.BigEndian.Uint64(k)
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
