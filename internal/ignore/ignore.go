// Package ignore decides which repository paths carry no signal and must be
// excluded before any fetch is attempted.
package ignore

import (
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Rules is the compiled exclusion set: directory names, extensions, exact
// filenames, gitignore-style glob patterns and path substrings.
type Rules struct {
	directories  map[string]bool
	extensions   map[string]bool
	filenames    map[string]bool
	pathContains []string
	globs        *gitignore.GitIgnore
}

// Lists is the raw, uncompiled form of Rules.
type Lists struct {
	Directories  []string
	Extensions   []string
	Filenames    []string
	Globs        []string
	PathContains []string
}

// New compiles an exclusion set. All matching is case-insensitive.
func New(l Lists) *Rules {
	r := &Rules{
		directories: make(map[string]bool, len(l.Directories)),
		extensions:  make(map[string]bool, len(l.Extensions)),
		filenames:   make(map[string]bool, len(l.Filenames)),
	}
	for _, d := range l.Directories {
		r.directories[strings.ToLower(d)] = true
	}
	for _, e := range l.Extensions {
		r.extensions[strings.ToLower(e)] = true
	}
	for _, f := range l.Filenames {
		r.filenames[strings.ToLower(f)] = true
	}
	for _, p := range l.PathContains {
		r.pathContains = append(r.pathContains, strings.ToLower(strings.ReplaceAll(p, "\\", "/")))
	}
	lowered := make([]string, 0, len(l.Globs))
	for _, g := range l.Globs {
		lowered = append(lowered, strings.ToLower(g))
	}
	r.globs = gitignore.CompileIgnoreLines(lowered...)
	return r
}

// Default returns the stock exclusion set for remote repositories: VCS and
// dependency directories, binary and media extensions, lockfiles and minified
// bundles.
func Default() *Rules {
	return New(Lists{
		Directories: []string{
			".git", ".hg", ".svn", ".idea", ".vscode", "__pycache__",
			"node_modules", "vendor", "dist", "build", "target", "out",
			".next", ".venv", "venv", "coverage", ".pytest_cache",
			".mypy_cache", ".tox", "bower_components",
		},
		Extensions: []string{
			".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".webp",
			".bmp", ".tiff", ".pdf", ".zip", ".tar", ".gz", ".tgz", ".bz2",
			".7z", ".rar", ".exe", ".dll", ".so", ".dylib", ".bin",
			".class", ".jar", ".war", ".pyc", ".pyo", ".o", ".a",
			".woff", ".woff2", ".ttf", ".eot", ".otf",
			".mp3", ".mp4", ".avi", ".mov", ".wav", ".flac",
			".db", ".sqlite", ".sqlite3", ".parquet",
		},
		Filenames: []string{
			"package-lock.json", "yarn.lock", "pnpm-lock.yaml",
			"poetry.lock", "pipfile.lock", "go.sum", "cargo.lock",
			"composer.lock", "gemfile.lock", ".ds_store", "thumbs.db",
		},
		Globs: []string{
			"*.min.js", "*.min.css", "*.map", "*.snap", "*.pb.go",
			"*_pb2.py", "*.generated.*",
		},
		PathContains: []string{
			"/fixtures/large/", "/testdata/golden/",
		},
	})
}

// Match reports whether the path should be excluded from extraction.
func (r *Rules) Match(path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	lower := strings.ToLower(normalized)
	filename := lower
	if i := strings.LastIndex(lower, "/"); i >= 0 {
		filename = lower[i+1:]
	}

	if r.filenames[filename] {
		return true
	}
	if r.extensions[suffix(filename)] {
		return true
	}
	if r.globs != nil && r.globs.MatchesPath(filename) {
		return true
	}
	for _, token := range r.pathContains {
		if strings.Contains(lower, token) {
			return true
		}
	}

	segments := strings.Split(lower, "/")
	for _, seg := range segments[:len(segments)-1] {
		if r.directories[seg] {
			return true
		}
	}
	return false
}

func suffix(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return filename[i:]
}
