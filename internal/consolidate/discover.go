package consolidate

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultRoot returns the directory scanned when no sources are named:
// ~/.engram
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".engram"), nil
}

// Discover walks root for SQLite database files, skipping WAL and shm
// sidecars. An unreadable entry is skipped with a warning rather than
// aborting the scan; only a missing or unreadable root is an error.
// Paths come back sorted so runs are deterministic.
func Discover(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Printf("discover: skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".db") {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover in %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}
