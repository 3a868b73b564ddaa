package budget

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"repodigest/internal/digest"
)

// Weights are the relative shares of the post-baseline budget per optional
// category. Zero-weight categories receive no allocation.
type Weights map[digest.Category]float64

// DefaultWeights favors documentation over the remaining categories.
func DefaultWeights() Weights {
	return Weights{
		digest.Documentation: 0.40,
		digest.BuildPackage:  0.20,
		digest.Tests:         0.20,
		digest.Code:          0.20,
	}
}

// BudgetError reports that even the hard safety net could not bring the
// rendered document under the byte budget. The fixed eight-heading skeleton
// is the floor of any rendering, so a budget below it is unsatisfiable.
type BudgetError struct {
	OutputBytes      int
	MaxRepoDataBytes int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("digest budget unsatisfiable: minimal rendering is %d bytes, budget is %d",
		e.OutputBytes, e.MaxRepoDataBytes)
}

// Note records one truncation for diagnostics. Notes are not part of the
// rendered digest.
type Note struct {
	Category      digest.Category
	OriginalBytes int
	TargetBytes   int
	FinalBytes    int
	Strategy      string
}

func (n Note) String() string {
	return fmt.Sprintf("%s truncated (original_bytes=%d, target_bytes=%d, final_bytes=%d, strategy=%s)",
		n.Category, n.OriginalBytes, n.TargetBytes, n.FinalBytes, n.Strategy)
}

// Result is the outcome of one allocation pass.
type Result struct {
	Output           string
	OutputBytes      int
	OutputTokens     int
	InputBytes       int
	InputTokens      int
	MaxRepoDataBytes int
	PerCategoryBytes map[digest.Category]int
	Notes            []Note
	Truncated        bool
	SafetyTrimmed    bool
}

// baselineTrimOrder is the fixed priority when the baseline alone overflows:
// the tree goes first, repository metadata last.
var baselineTrimOrder = []digest.Category{
	digest.Tree, digest.Readme, digest.Languages, digest.Metadata,
}

// safetyTrimOrder is the reverse-priority order for the final hard safety
// net: lowest-signal sections lose bytes first.
var safetyTrimOrder = []digest.Category{
	digest.Code, digest.Tests, digest.BuildPackage, digest.Documentation,
	digest.Readme, digest.Languages, digest.Tree, digest.Metadata,
}

// Allocate fits the document into spec's byte budget. It is a pure function
// of its inputs: no state survives between calls, so the overflow retry can
// invoke it again with a reduced ratio.
//
// If the full document already fits it is returned byte-for-byte unchanged.
// Otherwise baseline sections are trimmed in fixed priority order, the
// remaining budget is split across optional categories by weight with
// proportional redistribution of unused quota, and oversized categories are
// cut with atomic-block truncation. A final hard trim guarantees the output
// never exceeds the budget; when the budget sits below the fixed section
// skeleton even a fully emptied document overflows, and Allocate returns a
// BudgetError instead of an over-budget result.
func Allocate(doc *digest.Document, spec Spec, weights Weights, log *slog.Logger) (Result, error) {
	maxRepoBytes := spec.MaxRepoDataBytes()

	bodies := make(map[digest.Category]string, len(digest.CanonicalOrder))
	for _, c := range digest.CanonicalOrder {
		bodies[c] = doc.Body(c, spec.BytesPerToken)
	}

	full := digest.RenderProcessed(bodies)
	inputBytes := len(full)
	res := Result{
		InputBytes:       inputBytes,
		InputTokens:      spec.EstimatedTokens(inputBytes),
		MaxRepoDataBytes: maxRepoBytes,
	}
	if inputBytes <= maxRepoBytes {
		res.Output = full
		res.OutputBytes = inputBytes
		res.OutputTokens = res.InputTokens
		res.PerCategoryBytes = bodyBytes(bodies)
		return res, nil
	}
	res.Truncated = true

	// Marker-only optional sections keep their marker verbatim, so their
	// bytes come off the top before anything else is sized.
	markerBytes := 0
	for _, c := range digest.OptionalCategories {
		if !doc.Sections[c].HasContent {
			markerBytes += len(bodies[c])
		}
	}

	baselineBudget := bodyBudget(maxRepoBytes) - markerBytes
	if baselineBudget < 0 {
		baselineBudget = 0
	}

	// Baseline pass: trim tree, then readme, languages, metadata, each to
	// whatever allowance the other baseline sections leave.
	for _, c := range baselineTrimOrder {
		total := 0
		for _, b := range digest.BaselineCategories {
			total += len(bodies[b])
		}
		if total <= baselineBudget {
			break
		}
		allowance := baselineBudget - (total - len(bodies[c]))
		if allowance < 0 {
			allowance = 0
		}
		trimBaseline(c, bodies, doc, allowance, &res)
	}

	baselineTotal := 0
	for _, b := range digest.BaselineCategories {
		baselineTotal += len(bodies[b])
	}

	remaining := baselineBudget - baselineTotal
	if remaining < 0 {
		remaining = 0
	}

	// Zero-weight categories with content are dropped outright; the marker
	// replacing them is reserved out of the pool like any other fixed text.
	sizes := make(map[digest.Category]int, len(digest.OptionalCategories))
	for _, c := range digest.OptionalCategories {
		if !doc.Sections[c].HasContent {
			continue
		}
		if weights[c] <= 0 {
			original := len(bodies[c])
			bodies[c] = digest.MarkerDropped
			remaining -= len(bodies[c])
			res.Notes = append(res.Notes, Note{
				Category:      c,
				OriginalBytes: original,
				TargetBytes:   0,
				FinalBytes:    len(bodies[c]),
				Strategy:      "atomic_blocks",
			})
			continue
		}
		sizes[c] = len(bodies[c])
	}
	if remaining < 0 {
		remaining = 0
	}

	quotas := allocateOptional(remaining, sizes, weights)
	for _, c := range digest.OptionalCategories {
		size, ok := sizes[c]
		if !ok {
			continue
		}
		quota := quotas[c]
		if size <= quota {
			continue
		}
		original := size
		bodies[c] = truncateBlocks(bodies[c], quota)
		if strings.TrimSpace(bodies[c]) == "" {
			bodies[c] = digest.MarkerDropped
		}
		res.Notes = append(res.Notes, Note{
			Category:      c,
			OriginalBytes: original,
			TargetBytes:   quota,
			FinalBytes:    len(bodies[c]),
			Strategy:      "atomic_blocks",
		})
	}

	output := digest.RenderProcessed(bodies)

	// Non-negotiable safety net: a rounding edge case (or a marker longer
	// than the content it replaced) can leave a few excess bytes. Hard-trim
	// tails from the lowest-priority sections until compliant.
	for len(output) > maxRepoBytes {
		excess := len(output) - maxRepoBytes
		for _, c := range safetyTrimOrder {
			if excess <= 0 {
				break
			}
			cut := excess
			if cut > len(bodies[c]) {
				cut = len(bodies[c])
			}
			if cut == 0 {
				continue
			}
			original := len(bodies[c])
			bodies[c] = strings.TrimSpace(truncateUTF8(bodies[c], original-cut))
			res.Notes = append(res.Notes, Note{
				Category:      c,
				OriginalBytes: original,
				TargetBytes:   original - cut,
				FinalBytes:    len(bodies[c]),
				Strategy:      "hard_tail",
			})
			excess -= original - len(bodies[c])
		}
		res.SafetyTrimmed = true
		before := len(output)
		output = digest.RenderProcessed(bodies)
		if len(output) >= before {
			break
		}
	}
	if res.SafetyTrimmed {
		log.Error("budget invariant required hard safety trim",
			"output_bytes", len(output),
			"max_repo_data_bytes", maxRepoBytes,
		)
	}

	res.Output = output
	res.OutputBytes = len(output)
	res.OutputTokens = spec.EstimatedTokens(len(output))
	res.PerCategoryBytes = bodyBytes(bodies)
	if res.OutputBytes > maxRepoBytes {
		// Nothing left to cut; the skeleton alone overflows.
		return res, &BudgetError{OutputBytes: res.OutputBytes, MaxRepoDataBytes: maxRepoBytes}
	}
	return res, nil
}

// bodyBudget is the byte budget left for section bodies once the fixed
// skeleton (headings and separators) is accounted for.
func bodyBudget(maxRepoBytes int) int {
	empty := make(map[digest.Category]string, len(digest.CanonicalOrder))
	overhead := len(digest.RenderProcessed(empty))
	b := maxRepoBytes - overhead
	if b < 0 {
		return 0
	}
	return b
}

func trimBaseline(c digest.Category, bodies map[digest.Category]string, doc *digest.Document, allowance int, res *Result) {
	body := bodies[c]
	if len(body) <= allowance {
		return
	}
	original := len(body)
	strategy := "tail_trim"
	var trimmed string
	if c == digest.Tree {
		strategy = "bfs_prefix_lines"
		trimmed = truncateTreeLines(body, allowance)
	} else {
		trimmed = truncateUTF8(body, allowance)
	}
	if strings.TrimSpace(trimmed) == "" && doc.Sections[c].HasContent {
		trimmed = digest.MarkerDropped
	}
	bodies[c] = trimmed
	res.Notes = append(res.Notes, Note{
		Category:      c,
		OriginalBytes: original,
		TargetBytes:   allowance,
		FinalBytes:    len(trimmed),
		Strategy:      strategy,
	})
}

// allocateOptional distributes available bytes across categories by weight,
// returning unused quota from satisfied categories to the pool until a fixed
// point. Leftover bytes from floor rounding go out one at a time in
// descending fractional-part order with name tie-break, which keeps the
// result deterministic.
func allocateOptional(available int, sizes map[digest.Category]int, weights Weights) map[digest.Category]int {
	alloc := make(map[digest.Category]int, len(sizes))
	unsatisfied := make(map[digest.Category]bool)
	for c, size := range sizes {
		alloc[c] = 0
		if size > 0 && weights[c] > 0 {
			unsatisfied[c] = true
		}
	}
	remaining := available
	if remaining < 0 {
		remaining = 0
	}

	for remaining > 0 && len(unsatisfied) > 0 {
		totalWeight := 0.0
		for c := range unsatisfied {
			totalWeight += weights[c]
		}
		if totalWeight <= 0 {
			break
		}

		type frac struct {
			part float64
			cat  digest.Category
		}
		increments := make(map[digest.Category]int, len(unsatisfied))
		fracs := make([]frac, 0, len(unsatisfied))
		used := 0
		for c := range unsatisfied {
			want := sizes[c] - alloc[c]
			share := float64(remaining) * weights[c] / totalWeight
			whole := int(math.Floor(share))
			if whole > want {
				whole = want
			}
			if whole > 0 {
				increments[c] = whole
				used += whole
			}
			fracs = append(fracs, frac{share - math.Floor(share), c})
		}

		leftover := remaining - used
		sort.Slice(fracs, func(i, j int) bool {
			if fracs[i].part != fracs[j].part {
				return fracs[i].part > fracs[j].part
			}
			return fracs[i].cat < fracs[j].cat
		})
		for _, f := range fracs {
			if leftover <= 0 {
				break
			}
			if sizes[f.cat]-alloc[f.cat]-increments[f.cat] <= 0 {
				continue
			}
			increments[f.cat]++
			leftover--
		}

		progress := 0
		for c, inc := range increments {
			if inc <= 0 {
				continue
			}
			alloc[c] += inc
			progress += inc
		}
		if progress == 0 {
			break
		}
		remaining -= progress
		for c := range unsatisfied {
			if alloc[c] >= sizes[c] {
				delete(unsatisfied, c)
			}
		}
	}
	return alloc
}

// truncateBlocks keeps whole "## File:" blocks in order until the next one
// would overflow, then partially includes at most one more by keeping its
// header lines and trimming the fenced body from the tail.
func truncateBlocks(content string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	blocks := splitFileBlocks(content)
	if len(blocks) == 0 {
		return truncateUTF8(content, maxBytes)
	}

	var selected []string
	used := 0
	for _, block := range blocks {
		sep := 0
		if len(selected) > 0 {
			sep = 2 // "\n\n" joiner
		}
		if used+sep+len(block) <= maxBytes {
			selected = append(selected, block)
			used += sep + len(block)
			continue
		}
		if partial := partialBlock(block, maxBytes-used-sep); partial != "" {
			selected = append(selected, partial)
		}
		break
	}
	return strings.TrimSpace(strings.Join(selected, "\n\n"))
}

func splitFileBlocks(content string) []string {
	lines := strings.Split(content, "\n")
	var starts []int
	offset := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "## File: ") {
			starts = append(starts, offset)
		}
		offset += len(line) + 1
	}
	if len(starts) == 0 {
		return nil
	}
	var blocks []string
	for i, start := range starts {
		end := len(content)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if block := strings.TrimSpace(content[start:end]); block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// partialBlock keeps a block's header/metadata lines and opening fence, trims
// the body from the tail to fit maxBytes, and restores the closing fence.
func partialBlock(block string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	lines := strings.Split(block, "\n")
	fenceIdx := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenceIdx = i
			break
		}
	}
	if fenceIdx < 0 {
		return truncateUTF8(block, maxBytes)
	}

	header := strings.Join(lines[:fenceIdx+1], "\n") + "\n"
	const suffix = "\n```"
	if len(header)+len(suffix) > maxBytes {
		// A block that cannot even hold its header lines is dropped whole.
		return ""
	}

	bodyLines := lines[fenceIdx+1:]
	closeIdx := len(bodyLines)
	for i, line := range bodyLines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			closeIdx = i
			break
		}
	}
	body := strings.Join(bodyLines[:closeIdx], "\n")
	body = truncateUTF8(body, maxBytes-len(header)-len(suffix))
	return header + body + suffix
}

// truncateTreeLines keeps whole leading lines, preserving the breadth-first
// prefix structure of the rendered tree.
func truncateTreeLines(content string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		sep := 0
		if b.Len() > 0 {
			sep = 1
		}
		if b.Len()+sep+len(line) > maxBytes {
			break
		}
		if sep == 1 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// truncateUTF8 trims s to at most maxBytes without splitting a rune.
func truncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := s[:maxBytes]
	for len(cut) > 0 {
		if r, _ := utf8.DecodeLastRuneInString(cut); r != utf8.RuneError {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}

func bodyBytes(bodies map[digest.Category]string) map[digest.Category]int {
	out := make(map[digest.Category]int, len(bodies))
	for c, body := range bodies {
		out[c] = len(body)
	}
	return out
}
