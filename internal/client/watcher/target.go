package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/polydrive/polydrive/internal/utils"
)

var ErrNoMatch = errors.New("pattern matched no files")

type TargetKind uint8

const (
	KindFile TargetKind = iota + 1
	KindDir
)

func (k TargetKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// WatchTarget is a resolved filesystem entry under observation
type WatchTarget struct {
	Path    string
	Kind    TargetKind
	Pattern string
}

// Contains reports whether path is the target itself or, for a directory, lies below it
func (t WatchTarget) Contains(path string) bool {
	if t.Kind == KindFile {
		return path == t.Path
	}
	return utils.IsWithin(t.Path, path)
}

// IsGlob reports whether pattern contains glob metacharacters
func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// ResolveTargets expands patterns into watch targets.
//
// A literal pattern must exist and becomes a file or directory target. A glob
// pattern is expanded once against the files that exist right now; directories
// matched by a glob are skipped and files created later are not discovered.
// Per-pattern failures are joined into the error, the targets that did resolve
// are returned regardless.
func ResolveTargets(patterns []string) ([]WatchTarget, error) {
	seen := make(map[string]struct{})
	targets := make([]WatchTarget, 0, len(patterns))
	var errs []error

	add := func(t WatchTarget) {
		if _, ok := seen[t.Path]; ok {
			return
		}
		seen[t.Path] = struct{}{}
		targets = append(targets, t)
	}

	for _, pattern := range patterns {
		resolved, err := resolve(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %q: %w", pattern, err))
			continue
		}
		for _, t := range resolved {
			add(t)
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Path < targets[j].Path })
	return targets, errors.Join(errs...)
}

func resolve(pattern string) ([]WatchTarget, error) {
	abs, err := utils.ResolvePath(pattern)
	if err != nil {
		return nil, err
	}

	if !IsGlob(abs) {
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		return []WatchTarget{newTarget(abs, info, pattern)}, nil
	}

	matches, err := doublestar.FilepathGlob(abs)
	if err != nil {
		return nil, err
	}

	targets := make([]WatchTarget, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		targets = append(targets, newTarget(match, info, pattern))
	}

	if len(targets) == 0 {
		return nil, ErrNoMatch
	}
	return targets, nil
}

func newTarget(path string, info os.FileInfo, pattern string) WatchTarget {
	kind := KindFile
	if info.IsDir() {
		kind = KindDir
	}
	return WatchTarget{Path: filepath.Clean(path), Kind: kind, Pattern: pattern}
}
