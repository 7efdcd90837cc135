package generator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// skipDirs are directory names never descended into during recursive
// lockfile discovery.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// Lockfiles resolves the set of lockfiles a run covers. Without recursive it
// is just path; with it, every file sharing path's base name under path's
// directory, in sorted order so output is stable.
func Lockfiles(path string, recursive bool) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("lockfile: %w", err)
	}
	if !recursive {
		return []string{path}, nil
	}

	root := filepath.Dir(path)
	name := filepath.Base(path)

	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
