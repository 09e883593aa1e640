package report

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/fsutil"
	"github.com/uva-nepa/nepa/internal/security"
)

// Export writes the HTML chart and the PNG plot of fps into dir as
// <name>.html and <name>.png, returning the written paths. name is
// sanitised and every target must pass security.ValidateExportPath.
func Export(fsys fsutil.FileSystem, dir, name string, fps []fingerprint.Fingerprint, o Options) ([]string, error) {
	if len(fps) == 0 {
		return nil, ErrNoData
	}
	base := filepath.Join(filepath.Clean(dir), security.SanitizeFilename(name))
	targets := []struct {
		path   string
		render func(io.Writer, []fingerprint.Fingerprint, Options) error
	}{
		{base + ".html", RenderHTML},
		{base + ".png", RenderPNG},
	}
	for _, t := range targets {
		if err := security.ValidateExportPath(t.path); err != nil {
			return nil, fmt.Errorf("invalid export path: %w", err)
		}
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	paths := make([]string, 0, len(targets))
	for _, t := range targets {
		if err := writeFile(fsys, t.path, func(w io.Writer) error { return t.render(w, fps, o) }); err != nil {
			return paths, err
		}
		paths = append(paths, t.path)
	}
	return paths, nil
}

func writeFile(fsys fsutil.FileSystem, path string, render func(io.Writer) error) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}
