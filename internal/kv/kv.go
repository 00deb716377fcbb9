// Package kv holds the versioned key/value engines behind the store.
//
// Every value carries a version. Absent keys read as version 0 and a Put
// must name the version it expects to replace; a mismatch fails with
// ErrConflict and leaves the stored value untouched.
package kv

import (
	"context"
	"errors"
)

var ErrConflict = errors.New("kv: version conflict")

type Entry struct {
	Value   []byte
	Version int64
}

// Found reports whether the entry was read from storage.
func (e Entry) Found() bool { return e.Version > 0 }

type Engine interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, value []byte, expected int64) (int64, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
