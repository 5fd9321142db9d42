// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session persists finished task records in an embedded BadgerDB,
// so the trace of every governed task survives a restart and is queryable
// over the API.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/alextra-lab/personal-agent-sub001/services/engine"
)

const (
	taskKeyPrefix  = "task:"
	indexKeyPrefix = "idx:"
)

// Config holds configuration for a task archive store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory keeps everything in RAM. For tests and ephemeral runs.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable writes at the given
// path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the task archive.
//
// Description:
//
//	Records are stored twice: the full JSON under "task:<trace id>" for
//	direct lookup, and a finish-time index key so recent tasks list in
//	reverse chronological order without scanning values.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, ErrMissingPath
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open task archive: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store for tests and offline runs.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func taskKey(traceID string) []byte {
	return []byte(taskKeyPrefix + traceID)
}

func indexKey(finishedAt time.Time, traceID string) []byte {
	return []byte(indexKeyPrefix + finishedAt.UTC().Format(time.RFC3339Nano) + ":" + traceID)
}

// Archive implements engine.Archiver.
func (s *Store) Archive(ctx context.Context, rec *engine.TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(taskKey(rec.TraceID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(rec.FinishedAt, rec.TraceID), []byte(rec.TraceID))
	})
}

// Get returns one archived task by trace ID.
func (s *Store) Get(ctx context.Context, traceID string) (*engine.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec engine.TaskRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(traceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, traceID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns up to limit archived tasks, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*engine.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(indexKeyPrefix)
		// Reverse iteration starts past the prefix range.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(ids) < limit; it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*engine.TaskRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// RunGC runs periodic value log garbage collection until the context ends.
// No-op for in-memory stores.
func (s *Store) RunGC(ctx context.Context, interval time.Duration, ratio float64) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ErrNoRewrite just means nothing worth collecting.
			for s.db.RunValueLogGC(ratio) == nil {
			}
		}
	}
}
