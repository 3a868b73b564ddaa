package gitremote

import (
	"regexp"
	"sort"
	"strings"

	"repodigest/internal/digest"
	"repodigest/internal/ignore"
)

var textExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true, ".adoc": true,
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true,
	".go": true, ".rs": true, ".java": true, ".kt": true, ".swift": true,
	".rb": true, ".php": true, ".cs": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".sh": true, ".bash": true, ".zsh": true, ".ps1": true,
	".sql": true, ".xml": true, ".html": true, ".css": true,
	".scss": true, ".less": true, ".dockerfile": true, ".env": true,
}

var entrypointNames = map[string]bool{
	"main": true, "app": true, "server": true, "cli": true,
	"__main__": true, "manage": true, "run": true,
}

var buildExactNames = map[string]bool{
	"pyproject.toml": true, "setup.py": true, "setup.cfg": true,
	"requirements.txt": true, "pipfile": true,
	"package.json": true, "tsconfig.json": true, "pnpm-workspace.yaml": true,
	"go.mod": true, "cargo.toml": true,
	"pom.xml": true, "build.gradle": true, "build.gradle.kts": true,
	"composer.json": true, "gemfile": true,
	"makefile": true, "dockerfile": true,
	"docker-compose.yml": true, "docker-compose.yaml": true,
	".gitlab-ci.yml": true,
}

// buildHighSignalNames sort ahead of other build files at the same depth.
var buildHighSignalNames = map[string]bool{
	"pyproject.toml": true, "requirements.txt": true, "setup.py": true,
	"setup.cfg": true, "package.json": true, "go.mod": true,
	"cargo.toml": true, "pom.xml": true, "build.gradle": true,
	"build.gradle.kts": true, "dockerfile": true,
	"docker-compose.yml": true, "docker-compose.yaml": true,
	".gitlab-ci.yml": true,
}

var (
	testFileRe     = regexp.MustCompile(`.*_test\.[^/]+$`)
	testPrefixRe   = regexp.MustCompile(`^test_.*\.[^/]+$`)
	requirementsRe = regexp.MustCompile(`^requirements-.*\.txt$`)
)

// PathDepth counts directory separators; a root-level file has depth zero.
func PathDepth(path string) int { return strings.Count(path, "/") }

// SortBFS orders entries breadth-first by depth with a case-insensitive
// lexicographic tie-break inside each depth level. The copy keeps callers'
// slices untouched.
func SortBFS(entries []TreeEntry) []TreeEntry {
	out := make([]TreeEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := PathDepth(out[i].Path), PathDepth(out[j].Path)
		if di != dj {
			return di < dj
		}
		return strings.ToLower(out[i].Path) < strings.ToLower(out[j].Path)
	})
	return out
}

// IsLikelyTextPath reports whether the file is plausibly UTF-8 text worth
// fetching. Extension-less files are often scripts or config, so they pass.
func IsLikelyTextPath(path string) bool {
	filename := baseName(path)
	if strings.ToLower(filename) == "dockerfile" {
		return true
	}
	if textExtensions[suffix(filename)] {
		return true
	}
	return !strings.Contains(filename, ".")
}

func looksLikeTestPath(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "tests/") || strings.HasPrefix(lower, "test/") {
		return true
	}
	filename := baseName(lower)
	return testFileRe.MatchString(filename) || testPrefixRe.MatchString(filename)
}

func looksLikeDocPath(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "docs/") || strings.HasPrefix(lower, "documentation/") {
		return true
	}
	filename := baseName(lower)
	if strings.HasPrefix(filename, "readme") {
		return true
	}
	switch filename {
	case "contributing.md", "contributing.rst", "setup.md", "installation.md", "install.md":
		return true
	}
	return false
}

func looksLikeEntrypoint(path string) bool {
	filename := baseName(path)
	stem := filename
	if i := strings.Index(filename, "."); i >= 0 {
		stem = filename[:i]
	}
	return entrypointNames[strings.ToLower(stem)]
}

func looksLikeBuildPackagePath(path string) bool {
	filename := strings.ToLower(baseName(path))
	if buildExactNames[filename] {
		return true
	}
	return requirementsRe.MatchString(filename)
}

// strategy is one category's candidate matcher and ordering rule. Modeling
// the per-category differences this way keeps the traversal loop free of
// category branching.
type strategy struct {
	match func(path string) bool
	order func(entries []TreeEntry) []TreeEntry
}

func strategyFor(c digest.Category) strategy {
	switch c {
	case digest.Documentation:
		return strategy{match: looksLikeDocPath, order: SortBFS}
	case digest.Tests:
		return strategy{match: looksLikeTestPath, order: SortBFS}
	case digest.Code:
		return strategy{
			match: func(p string) bool {
				return !looksLikeTestPath(p) && !looksLikeDocPath(p) && !looksLikeBuildPackagePath(p)
			},
			order: orderCodeEntries,
		}
	case digest.BuildPackage:
		return strategy{match: looksLikeBuildPackagePath, order: orderBuildEntries}
	}
	return strategy{match: func(string) bool { return false }, order: SortBFS}
}

// orderCodeEntries seeds canonical entry-point files first (in BFS order
// among themselves), then the remaining candidates in strict BFS order.
func orderCodeEntries(entries []TreeEntry) []TreeEntry {
	bfs := SortBFS(entries)
	seed := make([]TreeEntry, 0, 4)
	rest := make([]TreeEntry, 0, len(bfs))
	for _, e := range bfs {
		if looksLikeEntrypoint(e.Path) {
			seed = append(seed, e)
		} else {
			rest = append(rest, e)
		}
	}
	return append(seed, rest...)
}

// orderBuildEntries sorts by depth, then high-signal manifest names before
// the rest, then lexicographic.
func orderBuildEntries(entries []TreeEntry) []TreeEntry {
	out := make([]TreeEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := PathDepth(out[i].Path), PathDepth(out[j].Path)
		if di != dj {
			return di < dj
		}
		hi := buildHighSignalNames[strings.ToLower(baseName(out[i].Path))]
		hj := buildHighSignalNames[strings.ToLower(baseName(out[j].Path))]
		if hi != hj {
			return hi
		}
		return strings.ToLower(out[i].Path) < strings.ToLower(out[j].Path)
	})
	return out
}

// SelectCandidates classifies the tree for one category and returns fetch
// candidates in the category's deterministic order. depthLimited reports
// whether the depth cap excluded at least one otherwise-eligible entry.
func SelectCandidates(tree []TreeEntry, c digest.Category, rules *ignore.Rules, maxDepth int) (entries []TreeEntry, depthLimited bool) {
	st := strategyFor(c)
	var candidates []TreeEntry
	for _, e := range tree {
		if e.Type != "blob" {
			continue
		}
		if !st.match(e.Path) || rules.Match(e.Path) || !IsLikelyTextPath(e.Path) {
			continue
		}
		if c == digest.BuildPackage && !keepBuildPath(e.Path, maxDepth) {
			if maxDepth > 0 && PathDepth(e.Path) > maxDepth {
				depthLimited = true
			}
			continue
		}
		if maxDepth > 0 && PathDepth(e.Path) > maxDepth {
			depthLimited = true
			continue
		}
		candidates = append(candidates, e)
	}
	return st.order(candidates), depthLimited
}

// keepBuildPath applies the build-category depth rules: the general depth
// cap, plus Makefiles only at the top two levels to avoid monorepo fan-out.
func keepBuildPath(path string, maxDepth int) bool {
	depth := PathDepth(path)
	if maxDepth > 0 && depth > maxDepth {
		return false
	}
	if strings.ToLower(baseName(path)) == "makefile" && depth > 1 {
		return false
	}
	return true
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func suffix(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i:])
}
