// Package pathmatch decides which paths under a subscription root are
// indexed. It combines built-in defaults, ignore-file patterns with
// standard ignore semantics (trailing slash for directories, ! negation,
// glob wildcards), programmatic additions, and optional include globs.
package pathmatch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// IgnoreFileName is the optional ignore file read from a subscription root.
const IgnoreFileName = ".gitignore"

// DefaultIgnores are always active: version-control metadata, dependency
// caches, log files, and OS artifacts.
var DefaultIgnores = []string{
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".venv/",
	"dist/",
	"build/",
	"*.log",
	".DS_Store",
	"Thumbs.db",
}

// Matcher holds compiled ignore rules and optional include globs and
// provides thread-safe matching on root-relative paths.
type Matcher struct {
	mu       sync.RWMutex
	rules    []rule
	includes []glob.Glob
}

// rule is a single compiled ignore pattern.
type rule struct {
	pattern  string         // original pattern text
	regex    *regexp.Regexp // compiled matcher
	negation bool           // starts with !
	dirOnly  bool           // ends with /
	anchored bool           // contains / before the last segment
}

// New creates a Matcher seeded with the built-in default ignores.
func New() *Matcher {
	m := &Matcher{}
	for _, p := range DefaultIgnores {
		m.AddIgnore(p)
	}
	return m
}

// NewEmpty creates a Matcher with no rules at all. Used by tests and by
// callers that want full control over the ruleset.
func NewEmpty() *Matcher {
	return &Matcher{}
}

// AddIgnore adds one ignore pattern. Later rules override earlier ones,
// which is what makes ! negation work.
func (m *Matcher) AddIgnore(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	r := rule{pattern: pattern}

	if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = strings.TrimPrefix(pattern, "!")
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	} else if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		// A slash before the last segment anchors the pattern to the root,
		// per gitignore convention: "doc/frotz" means "/doc/frotz".
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + patternToRegex(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddIncludes sets include globs (e.g. "*.ts"). When any are present, a
// file must match at least one of them to be kept; directories are not
// subject to include filtering so traversal can continue.
func (m *Matcher) AddIncludes(patterns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return fmt.Errorf("compile include pattern %q: %w", p, err)
		}
		m.includes = append(m.includes, g)
	}
	return nil
}

// LoadIgnoreFile reads patterns from an ignore file.
// A missing file is not an error.
func (m *Matcher) LoadIgnoreFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddIgnore(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ignore file: %w", err)
	}
	return nil
}

// Ignored reports whether the root-relative path is excluded by the
// ignore ruleset. Empty and root paths are never ignored.
func (m *Matcher) Ignored(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	if relPath == "" || relPath == "." {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if matchRule(relPath, isDir, r) {
			ignored = !r.negation
		}
	}
	return ignored
}

// Keep reports whether a file path passes both the ignore rules and the
// include globs. Use Ignored directly for directories.
func (m *Matcher) Keep(relPath string) bool {
	if m.Ignored(relPath, false) {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.includes) == 0 {
		return true
	}
	slashed := filepath.ToSlash(relPath)
	base := filepath.Base(slashed)
	for _, g := range m.includes {
		// Include patterns like "*.ts" are matched against the basename;
		// patterns containing a slash are matched against the full path.
		if g.Match(base) || g.Match(slashed) {
			return true
		}
	}
	return false
}

// matchRule checks a single rule against a path. Directory-only patterns
// also match files inside the matched directory.
func matchRule(path string, isDir bool, r rule) bool {
	parts := strings.Split(path, "/")

	if r.anchored {
		if r.regex.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		if r.dirOnly {
			// Files under an anchored ignored directory are ignored too.
			for i := range parts[:len(parts)-1] {
				if r.regex.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	// Unanchored file pattern: match the basename, the whole path, or any
	// single path component.
	if r.regex.MatchString(parts[len(parts)-1]) || r.regex.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

// patternToRegex converts an ignore pattern to a regex string.
func patternToRegex(pattern string) string {
	var b strings.Builder

	i := 0
	for i < len(pattern) {
		c := pattern[i]

		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// **/ matches any number of leading directories.
					b.WriteString("(?:.*/)?")
					i += 3
					continue
				}
				if i == 0 || pattern[i-1] == '/' {
					b.WriteString(".*")
					i += 2
					continue
				}
			}
			// A single * never crosses a slash.
			b.WriteString("[^/]*")
			i++

		case '?':
			b.WriteString("[^/]")
			i++

		case '[':
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				b.WriteString(pattern[i : j+1])
				i = j + 1
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	return b.String()
}
