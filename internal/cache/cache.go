// Package cache keeps per-run results in a local BadgerDB so a repeated
// batch over unchanged files skips decoding them.
//
// An entry is keyed by the file's path, size and modification time together
// with the analysis fingerprint, so editing a run file or changing the
// filter or binning simply misses.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/san-kum/endstat/internal/aggregate"
)

const keyPrefix = "run/"

type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates a cache in dir. An empty dir gives an in-memory
// cache that lives as long as the process.
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func key(path, fingerprint string) ([]byte, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return nil, false
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d\x00%s", abs, info.Size(), info.ModTime().UnixNano(), fingerprint)))
	return []byte(keyPrefix + hex.EncodeToString(sum[:])), true
}

// Lookup returns the cached result for an unchanged file.
func (c *Cache) Lookup(path, fingerprint string) (aggregate.RunResult, bool) {
	k, ok := key(path, fingerprint)
	if !ok {
		return aggregate.RunResult{}, false
	}

	var res aggregate.RunResult
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &res)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("cache read failed", "path", path, "err", err)
		}
		return aggregate.RunResult{}, false
	}
	return res, true
}

// Store saves a loaded run. Other statuses are not cached, so a missing
// file is looked for again next time.
func (c *Cache) Store(path, fingerprint string, r aggregate.RunResult) error {
	if r.Status != aggregate.StatusLoaded {
		return nil
	}
	k, ok := key(path, fingerprint)
	if !ok {
		return nil
	}
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run %d: %w", r.RunID, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, val)
	})
}

// Len counts cached runs.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Clear drops every cached run.
func (c *Cache) Clear() error {
	return c.db.DropPrefix([]byte(keyPrefix))
}
