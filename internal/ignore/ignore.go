package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the ignore file read from the root of an imported
// directory.
const FileName = ".weft-ignore"

// metaPrefix covers the repository's own metadata: the .weft directory
// and the ignore file itself.
const metaPrefix = ".weft"

// List holds ignore patterns for snapshot imports. Patterns use
// doublestar glob syntax against slash-separated paths relative to the
// import root; a leading "!" re-includes paths an earlier pattern
// ignored.
type List struct {
	patterns []string
}

// Load reads FileName from root. A missing file yields an empty list.
// Blank lines and lines starting with "#" are skipped.
func Load(root string) (*List, error) {
	file, err := os.Open(filepath.Join(root, FileName))
	if os.IsNotExist(err) {
		return &List{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	list := &List{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list.Add(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// Add appends one pattern. A trailing slash marks a directory pattern
// and ignores everything beneath it.
func (l *List) Add(pattern string) {
	if strings.HasSuffix(pattern, "/") {
		pattern = strings.TrimSuffix(pattern, "/")
		if !strings.Contains(pattern, "**") {
			pattern += "/**"
		}
	}
	l.patterns = append(l.patterns, pattern)
}

// Patterns returns a copy of the current patterns.
func (l *List) Patterns() []string {
	return append([]string{}, l.patterns...)
}

// Match reports whether the path, relative to the import root, is
// ignored. Repository metadata is always ignored. Negation patterns
// win over any later pattern.
func (l *List) Match(path string) bool {
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.TrimPrefix(path, "./")
	if strings.HasPrefix(path, metaPrefix) {
		return true
	}

	for _, pattern := range l.patterns {
		if negated, ok := strings.CutPrefix(pattern, "!"); ok {
			if matchPattern(negated, path) {
				return false
			}
			continue
		}
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern matches path against pattern the way users expect from
// ignore files: a bare name matches at any depth, and a directory
// pattern matches the directory itself plus everything beneath it.
// doublestar.Match only errors on malformed patterns, which are
// treated as non-matching.
func matchPattern(pattern, path string) bool {
	candidates := []string{pattern}
	if !strings.HasPrefix(pattern, "**/") {
		candidates = append(candidates, "**/"+pattern)
	}
	if base, ok := strings.CutSuffix(pattern, "/**"); ok {
		candidates = append(candidates, base)
		if !strings.HasPrefix(base, "**/") {
			candidates = append(candidates, "**/"+base)
		}
	} else {
		candidates = append(candidates, pattern+"/**")
		if !strings.HasPrefix(pattern, "**/") {
			candidates = append(candidates, "**/"+pattern+"/**")
		}
	}
	for _, candidate := range candidates {
		if ok, err := doublestar.Match(candidate, path); err == nil && ok {
			return true
		}
	}
	return false
}
