// Package digest defines the canonical section layout of a repository digest
// and renders fetched content into it.
package digest

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Category identifies one section of the digest. The canonical order below is
// fixed; sections are always rendered in this order regardless of fetch order.
type Category string

const (
	Metadata      Category = "metadata"
	Languages     Category = "languages"
	Tree          Category = "tree"
	Readme        Category = "readme"
	Documentation Category = "documentation"
	BuildPackage  Category = "build_package"
	Tests         Category = "tests"
	Code          Category = "code"
)

// CanonicalOrder lists every category in output order.
var CanonicalOrder = []Category{
	Metadata, Languages, Tree, Readme,
	Documentation, BuildPackage, Tests, Code,
}

// BaselineCategories are always included; truncation on them is a last resort.
var BaselineCategories = []Category{Metadata, Languages, Tree, Readme}

// OptionalCategories share the post-baseline budget by weight.
var OptionalCategories = []Category{Documentation, BuildPackage, Tests, Code}

var headers = map[Category]string{
	Metadata:      "# Repository Metadata",
	Languages:     "# Language Stats",
	Tree:          "# Directory Tree",
	Readme:        "# README",
	Documentation: "# Documentation",
	BuildPackage:  "# Build and Package Data",
	Tests:         "# Tests",
	Code:          "# Code",
}

// Header returns the markdown heading for a category.
func Header(c Category) string { return headers[c] }

// Section markers. The three must never be textually identical: a consumer
// has to be able to tell "never asked" from "asked, nothing matched" from
// "matched, but the budget removed it".
const (
	MarkerNotRequested = "Not requested"
	MarkerNotFound     = "Not found"
	MarkerDropped      = "Dropped by budget"
)

// Item is one fetched file rendered as an atomic block.
type Item struct {
	Path      string
	SourceURL string
	Content   string
	Bytes     int // UTF-8 byte length of Content
}

// Section holds the fetched items for one category plus its request state.
type Section struct {
	Category   Category
	Requested  bool
	Items      []Item
	PlainBody  string // used instead of Items for metadata/languages/tree
	HasContent bool
}

// Document is the full extraction result handed to the budget allocator.
type Document struct {
	Sections map[Category]Section
	Warnings []string
}

// NewDocument returns a document with every category present but unrequested.
func NewDocument() *Document {
	d := &Document{Sections: make(map[Category]Section, len(CanonicalOrder))}
	for _, c := range CanonicalOrder {
		d.Sections[c] = Section{Category: c}
	}
	return d
}

// SetPlain records a pre-rendered body for a category (metadata, languages,
// tree and readme use this form).
func (d *Document) SetPlain(c Category, body string) {
	d.Sections[c] = Section{
		Category:   c,
		Requested:  true,
		PlainBody:  body,
		HasContent: strings.TrimSpace(body) != "",
	}
}

// SetItems records fetched file items for a category.
func (d *Document) SetItems(c Category, items []Item) {
	d.Sections[c] = Section{
		Category:   c,
		Requested:  true,
		Items:      items,
		HasContent: len(items) > 0,
	}
}

// Body renders the body text of one section: items as file blocks, plain
// bodies verbatim, and the appropriate marker otherwise.
func (d *Document) Body(c Category, bytesPerToken float64) string {
	s := d.Sections[c]
	if !s.Requested {
		return MarkerNotRequested
	}
	if !s.HasContent {
		return MarkerNotFound
	}
	if len(s.Items) == 0 {
		return strings.TrimSpace(s.PlainBody)
	}
	blocks := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		blocks = append(blocks, RenderFileBlock(it, bytesPerToken))
	}
	return strings.Join(blocks, "\n\n")
}

// RenderFileBlock renders one item as a self-contained block: header lines
// carrying path, source locator and size metadata, then a fenced content body.
func RenderFileBlock(it Item, bytesPerToken float64) string {
	src := it.SourceURL
	if src == "" {
		src = "n/a"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## File: %s\n", it.Path)
	fmt.Fprintf(&b, "- Source: %s\n", src)
	fmt.Fprintf(&b, "- UTF8 Bytes: %d\n", it.Bytes)
	fmt.Fprintf(&b, "- Estimated Tokens: %d\n", estimateTokens(it.Bytes, bytesPerToken))
	b.WriteString("```text\n")
	b.WriteString(it.Content)
	b.WriteString("\n```")
	return b.String()
}

// RenderLanguages renders a byte histogram sorted by descending byte count,
// with name tie-break so repeated runs render identically.
func RenderLanguages(langs map[string]int) string {
	type row struct {
		name  string
		bytes int
	}
	rows := make([]row, 0, len(langs))
	for name, n := range langs {
		rows = append(rows, row{name, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].bytes != rows[j].bytes {
			return rows[i].bytes > rows[j].bytes
		}
		return rows[i].name < rows[j].name
	})
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("- %s: %d", r.name, r.bytes))
	}
	return strings.Join(lines, "\n")
}

// RenderExtraction renders the complete extraction markdown, including the
// stats and warnings trailer. This is the pre-budget document.
func RenderExtraction(d *Document, bytesPerToken float64) string {
	var b strings.Builder
	for _, c := range CanonicalOrder {
		b.WriteString(Header(c))
		b.WriteByte('\n')
		b.WriteString(d.Body(c, bytesPerToken))
		b.WriteString("\n\n")
	}

	b.WriteString("# Extraction Stats\n")
	total := 0
	for _, c := range []Category{Readme, Documentation, Tests, Code, BuildPackage} {
		n := d.contentBytes(c)
		total += n
		fmt.Fprintf(&b, "- %s_bytes: %d\n", c, n)
		fmt.Fprintf(&b, "- %s_estimated_tokens: %d\n", c, estimateTokens(n, bytesPerToken))
	}
	fmt.Fprintf(&b, "- total_utf8_bytes: %d\n", total)
	fmt.Fprintf(&b, "- total_estimated_tokens: %d\n", estimateTokens(total, bytesPerToken))

	b.WriteString("\n# Warnings\n")
	if len(d.Warnings) == 0 {
		b.WriteString("None\n")
	} else {
		for _, w := range d.Warnings {
			b.WriteString(w)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// RenderProcessed joins final section bodies in canonical order. The trailer
// sections are intentionally absent from the processed document.
func RenderProcessed(bodies map[Category]string) string {
	parts := make([]string, 0, len(CanonicalOrder))
	for _, c := range CanonicalOrder {
		parts = append(parts, Header(c)+"\n"+strings.TrimSpace(bodies[c]))
	}
	return strings.Join(parts, "\n\n") + "\n"
}

func (d *Document) contentBytes(c Category) int {
	s := d.Sections[c]
	if len(s.Items) > 0 {
		n := 0
		for _, it := range s.Items {
			n += it.Bytes
		}
		return n
	}
	if s.HasContent {
		return len(s.PlainBody)
	}
	return 0
}

func estimateTokens(byteCount int, bytesPerToken float64) int {
	if byteCount <= 0 {
		return 0
	}
	if bytesPerToken <= 0 {
		return byteCount
	}
	return int(math.Ceil(float64(byteCount) / bytesPerToken))
}
