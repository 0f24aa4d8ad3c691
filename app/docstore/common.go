package docstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	// Key prefixes for stored entities
	DocKeyPrefix = "doc/"
	// Sequence keys for insertion order, one per collection
	SeqKeyPrefix = "seq/"
	// ClockKey holds the last commit time in unix nanoseconds
	ClockKey = "meta/clock"
)

func collectionPrefix(collection string) []byte {
	return []byte(DocKeyPrefix + collection + "/")
}

func docKey(collection, id string) []byte {
	return []byte(DocKeyPrefix + collection + "/" + id)
}

func validCollection(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\x00")
}

// readUint64 reads a big-endian counter, returning 0 when the key is absent.
func readUint64(txn *badger.Txn, key string) (uint64, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %q: %d bytes", key, len(val))
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

func writeUint64(txn *badger.Txn, key string, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return txn.Set([]byte(key), buf)
}

// getNextID gets the next insertion sequence number for a collection
func getNextID(txn *badger.Txn, collection string) (uint64, error) {
	key := SeqKeyPrefix + collection
	id, err := readUint64(txn, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get sequence: %w", err)
	}
	id++
	if err := writeUint64(txn, key, id); err != nil {
		return 0, fmt.Errorf("failed to update sequence: %w", err)
	}
	return id, nil
}

// marshalEntity marshals an entity to JSON
func marshalEntity(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %w", err)
	}
	return data, nil
}

// unmarshalEntity unmarshals JSON data into an entity
func unmarshalEntity(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return nil
}
