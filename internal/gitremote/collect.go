package gitremote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FetchFunc fetches the content of one tree entry.
type FetchFunc func(ctx context.Context, entry TreeEntry) (FileContent, error)

// CollectResult carries one category's fetched files, the limit that halted
// traversal (if any), and the warnings accumulated along the way.
type CollectResult struct {
	Files      []FileContent
	StopReason StopReason
	Warnings   []Warning
}

// TotalBytes sums the fetched file sizes.
func (r CollectResult) TotalBytes() int {
	n := 0
	for _, f := range r.Files {
		n += f.Bytes
	}
	return n
}

// Collect fetches candidates one by one in their given deterministic order,
// halting at the first limit hit. Per-item failures are recorded as warnings
// and skipped; only the caller's context expiring or the limits stop the
// loop. scope names the category for warning and stop-reason records.
func Collect(ctx context.Context, fetch FetchFunc, candidates []TreeEntry, limits CollectLimits, scope string) CollectResult {
	var res CollectResult
	used := 0
	started := time.Now()

	for _, entry := range candidates {
		if limits.MaxTotalBytes > 0 && used >= limits.MaxTotalBytes {
			res.StopReason = StopMaxBytes
			break
		}
		if limits.MaxFiles > 0 && len(res.Files) >= limits.MaxFiles {
			res.StopReason = StopMaxFiles
			res.Warnings = append(res.Warnings, Warning{
				Scope:  scope,
				Reason: fmt.Sprintf("stop_reason=max_files (%d)", limits.MaxFiles),
			})
			break
		}
		if limits.MaxDuration > 0 && time.Since(started) >= limits.MaxDuration {
			res.StopReason = StopMaxDuration
			res.Warnings = append(res.Warnings, Warning{
				Scope:  scope,
				Reason: fmt.Sprintf("stop_reason=max_duration (%s)", limits.MaxDuration),
			})
			break
		}
		if err := ctx.Err(); err != nil {
			res.StopReason = StopMaxDuration
			res.Warnings = append(res.Warnings, Warning{
				Scope:  scope,
				Reason: "stop_reason=max_duration (deadline reached)",
			})
			break
		}

		if entry.DownloadURL == "" {
			continue
		}
		if limits.MaxSingleFileBytes > 0 && entry.Size > limits.MaxSingleFileBytes {
			res.Warnings = append(res.Warnings, Warning{
				Scope: scope, Path: entry.Path,
				Reason: "exceeds max single file bytes",
			})
			continue
		}
		if limits.MaxTotalBytes > 0 && entry.Size > 0 && used+entry.Size > limits.MaxTotalBytes {
			continue
		}

		item, err := fetch(ctx, entry)
		if err != nil {
			// A fatal identity error mid-traversal means the repository
			// vanished underneath us; surface nothing but the warning and
			// keep going with remaining candidates.
			var gerr *Error
			reason := err.Error()
			if errors.As(err, &gerr) {
				reason = gerr.Message
			}
			res.Warnings = append(res.Warnings, Warning{Scope: scope, Path: entry.Path, Reason: reason})
			continue
		}
		if limits.MaxSingleFileBytes > 0 && item.Bytes > limits.MaxSingleFileBytes {
			res.Warnings = append(res.Warnings, Warning{
				Scope: scope, Path: entry.Path,
				Reason: "downloaded content exceeds max single file bytes",
			})
			continue
		}
		if limits.MaxTotalBytes > 0 && used+item.Bytes > limits.MaxTotalBytes {
			continue
		}
		res.Files = append(res.Files, item)
		used += item.Bytes
	}
	return res
}
