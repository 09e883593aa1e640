package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/fsutil"
	"github.com/uva-nepa/nepa/internal/report"
	"github.com/uva-nepa/nepa/internal/session"
)

func TestExportCharts_Session(t *testing.T) {
	journal := newJournal(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, journal.RecordSession(context.Background(), session.Result{
		ID:        "s-1",
		Mode:      session.ModeWindowed,
		Location:  "lab",
		Section:   "A",
		StartedAt: start,
		EndedAt:   start.Add(2 * time.Second),
		Fingerprints: []fingerprint.Fingerprint{
			{Location: "lab", Section: "A", WindowStart: start, WindowEnd: start.Add(time.Second), Signals: map[string]int{"b1": -60}},
			{Location: "lab", Section: "A", WindowStart: start.Add(time.Second), WindowEnd: start.Add(2 * time.Second), Signals: map[string]int{}},
		},
	}))

	mfs := fsutil.NewMemoryFileSystem()
	dir := t.TempDir()
	paths, err := exportCharts(context.Background(), journal, mfs, "s-1", dir, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "session-s-1.html"),
		filepath.Join(dir, "session-s-1.png"),
	}, paths)

	html, err := mfs.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(html), "Session s-1")
}

func TestExportCharts_EmptyJournal(t *testing.T) {
	_, err := exportCharts(context.Background(), newJournal(t), fsutil.NewMemoryFileSystem(), "", t.TempDir(), 10)
	assert.True(t, errors.Is(err, report.ErrNoData), "err = %v", err)
}

func TestRunExportCommand_BadFlag(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runExportCommand([]string{"-nope"}, &out))
}
