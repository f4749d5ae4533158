// Package state defines C10's key-value abstraction: get/set/delete/exists
// against either an in-process cache or a durable on-disk store, behind a
// single interface so the server assembler can wire in whichever backend
// config.StateConfig.BackendKind selects.
package state

import (
	"context"
	"time"
)

// Manager is the small key-value interface spec.md section 4.10 describes.
// A false, nil-error Get/Exists result means the key is absent or expired;
// a non-nil error means the backend itself failed.
type Manager interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}
