package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/skysyncd/skysync/internal/utils"
)

// IgnoreFileName is the per-root rule file, gitignore syntax.
const IgnoreFileName = ".syncignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	// partial transfers
	"*.skysync-part",
	// VCS and editors
	".git/",
	".svn/",
	".vscode",
	".idea",
	"*.swp",
	// OS droppings
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// general excludes
	"*.tmp",
	"~$*",
}

// IgnoreList decides which local paths are invisible to the engine. Rules are
// the builtin defaults plus whatever the root's .syncignore adds.
type IgnoreList struct {
	rootDir string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(rootDir string) *IgnoreList {
	list := &IgnoreList{rootDir: rootDir}
	list.Load()
	return list
}

// Load recompiles the rule set. Call again after .syncignore changes.
func (l *IgnoreList) Load() {
	lines := make([]string, len(defaultIgnoreLines))
	copy(lines, defaultIgnoreLines)

	ignorePath := filepath.Join(l.rootDir, IgnoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore matches a path relative to the task root.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	return l.ignore.MatchesPath(relPath)
}
