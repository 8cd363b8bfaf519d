package store

import (
	"bytes"
	"fmt"
	"iter"

	bolt "go.etcd.io/bbolt"
)

// Query is the read-kv/scan-prefix half of the storage capability set,
// valid only for the lifetime of the View call that produced it.
type Query struct {
	tx    *bolt.Tx
	store *Store
}

func (q *Query) GetPlain(bucket, key []byte) ([]byte, error) {
	b := q.tx.Bucket(bucket)
	if b == nil {
		return nil, ErrMissingBucket
	}
	value := b.Get(key)
	if value == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (q *Query) GetEncrypted(bucket, key []byte) ([]byte, error) {
	value, err := q.GetPlain(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := q.store.cipher.Decrypt(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedDecryption, err)
	}
	return data, nil
}

// IteratePlain yields every key/value pair in bucket in key order.
func (q *Query) IteratePlain(bucket []byte) iter.Seq2[[]byte, []byte] {
	b := q.tx.Bucket(bucket)
	return func(yield func(k, v []byte) bool) {
		if b == nil {
			return
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			kc := make([]byte, len(k))
			copy(kc, k)
			vc := make([]byte, len(v))
			copy(vc, v)
			if !yield(kc, vc) {
				return
			}
		}
	}
}

// ScanPrefix yields every key/value pair in bucket whose key starts with
// prefix, in key order — the "scan-prefix" capability spec.md §9 asks the
// storage layer to provide.
func (q *Query) ScanPrefix(bucket, prefix []byte) iter.Seq2[[]byte, []byte] {
	b := q.tx.Bucket(bucket)
	return func(yield func(k, v []byte) bool) {
		if b == nil {
			return
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			kc := make([]byte, len(k))
			copy(kc, k)
			vc := make([]byte, len(v))
			copy(vc, v)
			if !yield(kc, vc) {
				return
			}
		}
	}
}
