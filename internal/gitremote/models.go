package gitremote

import (
	"fmt"
	"time"
)

// RepoRef identifies one repository.
type RepoRef struct {
	Owner string
	Repo  string
}

func (r RepoRef) String() string { return r.Owner + "/" + r.Repo }

// RepoMetadata is the identity-level repository record.
type RepoMetadata struct {
	Owner         string
	Repo          string
	DefaultBranch string
	Description   string
	Topics        []string
	Homepage      string
}

// TreeEntry is one node of the recursive repository tree.
type TreeEntry struct {
	Path        string
	Type        string // "blob" or "tree"
	Size        int
	DownloadURL string
}

// FileContent is one fetched text file. Bytes is always the UTF-8 byte
// length of Content.
type FileContent struct {
	Path      string
	SourceURL string
	Content   string
	Bytes     int
}

// CollectLimits bounds one category's traversal. Zero values for MaxFiles,
// MaxDepth and MaxDuration mean unlimited.
type CollectLimits struct {
	MaxTotalBytes      int
	MaxFiles           int
	MaxDepth           int
	MaxDuration        time.Duration
	MaxSingleFileBytes int
}

// StopReason records which limit halted a category's traversal. Hitting a
// limit is expected behavior, not an error.
type StopReason string

const (
	StopNone        StopReason = ""
	StopMaxBytes    StopReason = "max_bytes"
	StopMaxFiles    StopReason = "max_files"
	StopMaxDepth    StopReason = "max_depth"
	StopMaxDuration StopReason = "max_duration"
)

// Warning records a tolerated partial failure. Warnings accumulate; they
// never abort the run.
type Warning struct {
	Scope  string
	Path   string
	Reason string
}

func (w Warning) String() string {
	if w.Path == "" {
		return fmt.Sprintf("%s: %s", w.Scope, w.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", w.Scope, w.Path, w.Reason)
}
