package sync

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skysyncd/skysync/internal/utils"
)

const hashCacheSize = 8192

type hashCacheKey struct {
	relPath string
	size    int64
	mtimeMS int64
}

// Scanner walks the task root and produces the engine's local view. Hashes
// are cached by (path, size, mtime) so an unchanged tree rescans without
// rereading file contents.
type Scanner struct {
	rootDir string
	ignore  *IgnoreList
	hashes  *lru.Cache[hashCacheKey, string]
}

func NewScanner(rootDir string, ignore *IgnoreList) (*Scanner, error) {
	hashes, err := lru.New[hashCacheKey, string](hashCacheSize)
	if err != nil {
		return nil, err
	}
	return &Scanner{rootDir: rootDir, ignore: ignore, hashes: hashes}, nil
}

// Scan returns every non-ignored file under the root, keyed by relative path.
// Unreadable files are skipped with a warning rather than failing the scan.
func (s *Scanner) Scan() (map[string]*LocalFile, error) {
	state := make(map[string]*LocalFile)

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk: %w", walkErr)
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		relPath = utils.NormPath(relPath)

		if d.IsDir() {
			if path != s.rootDir && s.ignore.ShouldIgnore(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.ignore.ShouldIgnore(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("failed to stat file", "path", path, "error", err)
			return nil
		}

		key := hashCacheKey{relPath: relPath, size: info.Size(), mtimeMS: info.ModTime().UnixMilli()}
		hash, ok := s.hashes.Get(key)
		if !ok {
			hash, err = utils.FileHash(path)
			if err != nil {
				slog.Warn("failed to hash file", "path", path, "error", err)
				return nil
			}
			s.hashes.Add(key, hash)
		}

		state[relPath] = &LocalFile{
			RelPath: relPath,
			AbsPath: path,
			Size:    info.Size(),
			MtimeMS: info.ModTime().UnixMilli(),
			Hash:    hash,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan: %w", err)
	}

	return state, nil
}
