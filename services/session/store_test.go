// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub001/services/engine"
)

func testRecord(i int, finished time.Time) *engine.TaskRecord {
	return &engine.TaskRecord{
		TraceID: fmt.Sprintf("trace-%03d", i),
		Goal:    fmt.Sprintf("goal %d", i),
		State:   engine.StateCompleted,
		Answer:  "ok",
		Steps: []engine.StepRecord{
			{Seq: 1, State: engine.StateInit, StartedAt: finished.Add(-time.Second)},
		},
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestArchiveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := testRecord(1, time.Now().UTC())
	require.NoError(t, s.Archive(ctx, rec))

	got, err := s.Get(ctx, rec.TraceID)
	require.NoError(t, err)
	assert.Equal(t, rec.TraceID, got.TraceID)
	assert.Equal(t, rec.Goal, got.Goal)
	assert.Equal(t, engine.StateCompleted, got.State)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, uint64(1), got.Steps[0].Seq)
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "no-such-trace")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveOverwriteIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := testRecord(1, time.Now().UTC())
	require.NoError(t, s.Archive(ctx, rec))
	require.NoError(t, s.Archive(ctx, rec))

	got, err := s.Get(ctx, rec.TraceID)
	require.NoError(t, err)
	assert.Equal(t, rec.TraceID, got.TraceID)
}

func TestRecentListsNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Archive(ctx, testRecord(i, base.Add(time.Duration(i)*time.Minute))))
	}

	recent, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "trace-004", recent[0].TraceID)
	assert.Equal(t, "trace-003", recent[1].TraceID)
	assert.Equal(t, "trace-002", recent[2].TraceID)
}

func TestRecentOnEmptyStore(t *testing.T) {
	s := newStore(t)
	recent, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestPersistentStoreRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.ErrorIs(t, err, ErrMissingPath)
}

func TestPersistentStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	rec := testRecord(7, time.Now().UTC())
	require.NoError(t, s.Archive(ctx, rec))
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, rec.TraceID)
	require.NoError(t, err)
	assert.Equal(t, rec.Goal, got.Goal)
}
