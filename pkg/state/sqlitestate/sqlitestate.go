// Package sqlitestate implements C10's persistent backend: a durable
// key-value store on top of modernc.org/sqlite (pure Go, no cgo), with
// github.com/pressly/goose/v3 owning schema evolution and
// github.com/gofrs/flock guaranteeing a single writer per path for the
// process lifetime. Optional value compression uses
// github.com/klauspost/compress/zstd.
package sqlitestate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/state"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Backend is a state.Manager backed by a single-writer sqlite database
// file.
type Backend struct {
	db      *sql.DB
	lock    *flock.Flock
	compact bool
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ state.Manager = (*Backend)(nil)

// Open takes an exclusive advisory lock on cfg.Path+".lock", opens (and, if
// necessary, migrates) the sqlite database at cfg.Path, and returns a ready
// Backend. Open fails if another process already holds the lock: two
// processes must never open the same state file concurrently (spec.md
// section 4.10's durability guarantee depends on a single writer).
func Open(cfg config.StateConfig) (*Backend, error) {
	lock := flock.New(cfg.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, pforgeerrors.NewIoError("acquire state lock for "+cfg.Path, err)
	}
	if !locked {
		return nil, pforgeerrors.NewIoError("state path "+cfg.Path+" is locked by another process", nil)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		_ = lock.Unlock()
		return nil, pforgeerrors.NewIoError("open sqlite state db at "+cfg.Path, err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, pforgeerrors.NewInvalidConfigError("configure state schema dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, pforgeerrors.NewInvalidConfigError("migrate state schema at "+cfg.Path, err)
	}

	b := &Backend{db: db, lock: lock, compact: cfg.Compression}
	if cfg.Compression {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, pforgeerrors.NewInvalidConfigError("build zstd encoder", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, pforgeerrors.NewInvalidConfigError("build zstd decoder", err)
		}
		b.encoder, b.decoder = enc, dec
	}
	return b, nil
}

func (b *Backend) encode(v []byte) []byte {
	if !b.compact {
		return v
	}
	return b.encoder.EncodeAll(v, make([]byte, 0, len(v)))
}

func (b *Backend) decode(v []byte) ([]byte, error) {
	if !b.compact {
		return v, nil
	}
	return b.decoder.DecodeAll(v, nil)
}

// Get returns the stored value for key, or absent if it was never set, was
// deleted, or has expired. An observed-expired row is opportunistically
// deleted before returning absent.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var raw []byte
	var expiresAt sql.NullInt64
	err := b.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pforgeerrors.NewIoError("read state key "+key, err)
	}

	if expiresAt.Valid && time.Now().UnixMilli() > expiresAt.Int64 {
		_, _ = b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, false, nil
	}

	value, err := b.decode(raw)
	if err != nil {
		return nil, false, pforgeerrors.NewIoError("decompress state value for "+key, err)
	}
	return value, true, nil
}

// Set durably stores value under key, with an optional expiry. A process
// restart against the same path observes every Set/Delete call that
// returned successfully before the restart, since sqlite fsyncs each
// committed write.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv(key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, b.encode(value), expiresAt)
	if err != nil {
		return pforgeerrors.NewIoError("set state key "+key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return pforgeerrors.NewIoError("delete state key "+key, err)
	}
	return nil
}

// Exists reports whether key is present and unexpired. It reads the row
// through Get, so the value is fetched (and decompressed) as well.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	value, ok, err := b.Get(ctx, key)
	_ = value
	return ok, err
}

// Close releases the sqlite connection and the advisory lock, in that
// order, so the lock file is never released while a write could still be
// in flight.
func (b *Backend) Close() error {
	closeErr := b.db.Close()
	if b.encoder != nil {
		b.encoder.Close()
	}
	unlockErr := b.lock.Unlock()
	if closeErr != nil {
		return pforgeerrors.NewIoError("close state db", closeErr)
	}
	if unlockErr != nil {
		return pforgeerrors.NewIoError("release state lock", unlockErr)
	}
	return nil
}
