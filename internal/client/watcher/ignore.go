package watcher

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/polydrive/polydrive/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the root of every directory target when present
const IgnoreFileName = ".polydriveignore"

var defaultIgnoreLines = []string{
	// polydrive
	"*.pdtmp.*",
	// editors
	".vscode",
	".idea",
	"*.swp",
	"*.swx",
	"*~",
	"4913",
	// vcs
	".git",
	// os
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList filters paths with gitignore rules. A nil IgnoreList ignores nothing.
type IgnoreList struct {
	lines  []string
	ignore *gitignore.GitIgnore
}

// NewIgnoreList compiles the default rules plus extra
func NewIgnoreList(extra ...string) *IgnoreList {
	lines := make([]string, 0, len(defaultIgnoreLines)+len(extra))
	lines = append(lines, defaultIgnoreLines...)
	lines = append(lines, extra...)
	return &IgnoreList{
		lines:  lines,
		ignore: gitignore.CompileIgnoreLines(lines...),
	}
}

// LoadIgnoreFiles returns a new list extended with the ignore file of every directory in dirs
func (l *IgnoreList) LoadIgnoreFiles(dirs ...string) (*IgnoreList, error) {
	lines := append([]string(nil), l.lines...)
	for _, dir := range dirs {
		path := filepath.Join(dir, IgnoreFileName)
		if !utils.FileExists(path) {
			continue
		}
		rules, err := readIgnoreFile(path)
		if err != nil {
			return l, err
		}
		lines = append(lines, rules...)
	}
	return NewIgnoreList(lines[len(defaultIgnoreLines):]...), nil
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return lines, nil
}

func (l *IgnoreList) ShouldIgnore(path string) bool {
	if l == nil || l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(path)
}
