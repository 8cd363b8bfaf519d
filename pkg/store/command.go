package store

import bolt "go.etcd.io/bbolt"

// Command is the write-kv-atomic half of the storage capability set, valid
// only for the lifetime of the Update call that produced it. Every Put and
// Delete against it commits together when the callback returns nil.
type Command struct {
	tx    *bolt.Tx
	store *Store
}

func (c *Command) PutPlain(bucket, key, value []byte) error {
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	return b.Put(key, value)
}

func (c *Command) PutEncrypted(bucket, key, value []byte) error {
	return c.PutPlain(bucket, key, c.store.cipher.Encrypt(value))
}

func (c *Command) Delete(bucket, key []byte) error {
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	return b.Delete(key)
}
