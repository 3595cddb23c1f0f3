package chbadger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
)

// retrieve copies the value at key into *val.
// A missing key returns badger.ErrKeyNotFound unwrapped.
func retrieve(key []byte, val *[]byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		*val, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not copy value: %w", err)
		}
		return nil
	}
}

// retrieveHeight reads a big-endian height stored at key.
func retrieveHeight(key []byte, h *uint64) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		var b []byte
		if err := retrieve(key, &b)(tx); err != nil {
			return err
		}
		if len(b) != 8 {
			return fmt.Errorf("corrupt height value of length %d", len(b))
		}
		*h = binary.BigEndian.Uint64(b)
		return nil
	}
}

// exists reports whether key is present.
func exists(key []byte, ok *bool) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			*ok = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not check existence: %w", err)
		}
		*ok = true
		return nil
	}
}

func encodeHeight(h uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, h)
}
