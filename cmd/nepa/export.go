package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/uva-nepa/nepa/internal/db"
	"github.com/uva-nepa/nepa/internal/fsutil"
	"github.com/uva-nepa/nepa/internal/report"
)

const defaultExportLimit = 200

// runExportCommand handles "nepa export": it renders one session, or the
// most recent fingerprints, from the journal into chart files.
func runExportCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	path := fs.String("db", "nepa.db", "Path to the sqlite journal")
	sessionID := fs.String("session", "", "Session to export (default: most recent fingerprints)")
	dir := fs.String("out", ".", "Directory for the .html and .png files")
	limit := fs.Int("limit", defaultExportLimit, "Fingerprints to export when -session is not set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	journal, err := db.NewDB(*path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	paths, err := exportCharts(context.Background(), journal, fsutil.OSFileSystem{}, *sessionID, *dir, *limit)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	return nil
}

func exportCharts(ctx context.Context, journal *db.DB, fsys fsutil.FileSystem, sessionID, dir string, limit int) ([]string, error) {
	var (
		recs  []db.FingerprintRecord
		err   error
		name  = "recent"
		title = fmt.Sprintf("Last %d fingerprints", limit)
	)
	if sessionID != "" {
		recs, err = journal.FingerprintsBySession(ctx, sessionID)
		name, title = "session-"+sessionID, "Session "+sessionID
	} else {
		recs, err = journal.RecentFingerprints(ctx, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprints: %w", err)
	}
	return report.Export(fsys, dir, name, db.Fingerprints(recs), report.Options{Title: title})
}
