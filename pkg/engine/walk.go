package engine

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// DiscoverPackages walks the source tree and returns the package names of
// every BUILD file found, relative to root, sorted by walk order. Hidden
// directories and a top-level output directory named "plz-out" or "quarry-out"
// are skipped.
func DiscoverPackages(root, buildFileName string) ([]string, error) {
	if buildFileName == "" {
		buildFileName = DefaultBuildFileName
	}

	var packages []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == "plz-out" || name == "quarry-out") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != buildFileName {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		packages = append(packages, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source tree: %w", err)
	}
	return packages, nil
}
