package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/careerbot/examples"
)

// runInit writes an example config and persona documents into dir.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing CareerBot workspace in %s\n", dir)

	for _, sub := range []string{"data", "resources"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	files := []struct {
		path    string
		content []byte
		perm    os.FileMode
	}{
		// The config may hold API keys and tokens.
		{filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600},
		{filepath.Join(dir, "resources", "summary.txt"), examples.SummaryTXT, 0o644},
		{filepath.Join(dir, "resources", "profile.md"), examples.ProfileMD, 0o644},
	}
	for _, f := range files {
		if err := writeIfMissing(f.path, f.content, f.perm); err != nil {
			return err
		}
		fmt.Fprintf(w, "  ✓ %s\n", f.path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and the files in resources/ to describe yourself.")
	return nil
}

// writeIfMissing writes content to path only if nothing exists there.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, perm)
}
