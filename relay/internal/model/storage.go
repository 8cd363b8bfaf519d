package model

import (
	"time"
)

type Store interface {
	Close() error
	Query(func(Query) error) error
	Command(func(Command) error) error
}

// Query reads within a namespace. Every key a caller passes is a bare name;
// the namespace prefix is applied by the implementation, so two namespaces
// never collide even if callers reuse the same name.
type Query interface {
	Get(ns Namespace, name []byte) ([]byte, error)
	Exists(ns Namespace, name []byte) (bool, error)
	TTL(ns Namespace, name []byte) (time.Duration, error)
	// ScanPrefix returns every name/value pair in ns whose name has the
	// given prefix. Used to list all envelopes addressed to a mailbox-id.
	ScanPrefix(ns Namespace, prefix []byte) (map[string][]byte, error)
}

type Command interface {
	Query
	Delete(ns Namespace, name []byte) error
	Set(ns Namespace, name, value []byte) error
	SetTTL(ns Namespace, name, value []byte, ttl time.Duration) error
}
