// Package service orchestrates one summarize run: fetch the repository,
// render and budget the digest, call the model, retry once on a context
// overflow.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"repodigest/internal/budget"
	"repodigest/internal/config"
	"repodigest/internal/digest"
	"repodigest/internal/gitremote"
	"repodigest/internal/ignore"
	"repodigest/internal/llm"
)

// IncludeSet selects which optional categories a request wants fetched.
type IncludeSet struct {
	Documentation bool
	BuildPackage  bool
	Tests         bool
	Code          bool
}

// DefaultInclude requests every optional category.
func DefaultInclude() IncludeSet {
	return IncludeSet{Documentation: true, BuildPackage: true, Tests: true, Code: true}
}

func (s IncludeSet) requested(c digest.Category) bool {
	switch c {
	case digest.Documentation:
		return s.Documentation
	case digest.BuildPackage:
		return s.BuildPackage
	case digest.Tests:
		return s.Tests
	case digest.Code:
		return s.Code
	}
	return false
}

// Request is one summarize run.
type Request struct {
	GitHubURL string
	Include   IncludeSet
}

// DigestStats reports the budget outcome for observability.
type DigestStats struct {
	InputBytes       int  `json:"input_bytes"`
	InputTokens      int  `json:"input_estimated_tokens"`
	OutputBytes      int  `json:"output_bytes"`
	OutputTokens     int  `json:"output_estimated_tokens"`
	MaxRepoDataBytes int  `json:"max_repo_data_bytes"`
	Truncated        bool `json:"truncated"`
	OverflowRetried  bool `json:"overflow_retried"`
}

// Response is the summarize result.
type Response struct {
	Repository   string      `json:"repository"`
	Summary      string      `json:"summary"`
	Technologies []string    `json:"technologies"`
	Structure    string      `json:"structure"`
	Digest       DigestStats `json:"digest"`
	Warnings     []string    `json:"warnings"`
}

// summarizer is the model-facing surface the pipeline needs.
type summarizer interface {
	Summarize(ctx context.Context, digestMarkdown string) (llm.SummaryResult, error)
}

// Service wires the GitHub gate, the budget allocator and the LLM gate.
type Service struct {
	git   *gitremote.Client
	model summarizer
	cfg   config.Config
	rules *ignore.Rules
	log   *slog.Logger
}

func New(git *gitremote.Client, model *llm.Client, cfg config.Config, log *slog.Logger) *Service {
	return &Service{
		git:   git,
		model: model,
		cfg:   cfg,
		rules: ignore.Default(),
		log:   log,
	}
}

// Extraction is the raw pre-budget digest of one repository.
type Extraction struct {
	Repository string   `json:"repository"`
	Markdown   string   `json:"markdown"`
	Bytes      int      `json:"bytes"`
	Warnings   []string `json:"warnings"`
}

// Extract fetches the repository and returns the rendered extraction
// document, stats and warnings trailer included, without budgeting or
// calling the model.
func (s *Service) Extract(ctx context.Context, req Request) (Extraction, error) {
	ref, err := gitremote.ParseRepoURL(req.GitHubURL)
	if err != nil {
		return Extraction{}, err
	}
	if err := s.git.VerifyAccess(ctx, ref); err != nil {
		return Extraction{}, err
	}
	doc, err := s.extract(ctx, ref, req.Include, s.log.With("repo", ref.String()))
	if err != nil {
		return Extraction{}, err
	}
	markdown := digest.RenderExtraction(doc, s.cfg.BytesPerTokenEstimate)
	return Extraction{
		Repository: ref.String(),
		Markdown:   markdown,
		Bytes:      len(markdown),
		Warnings:   doc.Warnings,
	}, nil
}

// Summarize runs the full pipeline for one repository.
func (s *Service) Summarize(ctx context.Context, req Request) (Response, error) {
	ref, err := gitremote.ParseRepoURL(req.GitHubURL)
	if err != nil {
		return Response{}, err
	}
	log := s.log.With("repo", ref.String())

	if err := s.git.VerifyAccess(ctx, ref); err != nil {
		return Response{}, err
	}

	doc, err := s.extract(ctx, ref, req.Include, log)
	if err != nil {
		return Response{}, err
	}

	summary, alloc, retried, err := s.summarizeDocument(ctx, doc, log)
	if err != nil {
		return Response{}, err
	}

	warnings := make([]string, len(doc.Warnings))
	copy(warnings, doc.Warnings)
	for _, n := range alloc.Notes {
		warnings = append(warnings, n.String())
	}

	return Response{
		Repository:   ref.String(),
		Summary:      summary.Summary,
		Technologies: summary.Technologies,
		Structure:    summary.Structure,
		Digest: DigestStats{
			InputBytes:       alloc.InputBytes,
			InputTokens:      alloc.InputTokens,
			OutputBytes:      alloc.OutputBytes,
			OutputTokens:     alloc.OutputTokens,
			MaxRepoDataBytes: alloc.MaxRepoDataBytes,
			Truncated:        alloc.Truncated,
			OverflowRetried:  retried,
		},
		Warnings: warnings,
	}, nil
}

// summarizeDocument budgets the document, calls the model, and retries once
// with a reduced budget when the provider rejects the request for context
// overflow. A second overflow on the retry is fatal.
func (s *Service) summarizeDocument(ctx context.Context, doc *digest.Document, log *slog.Logger) (llm.SummaryResult, budget.Result, bool, error) {
	spec := budget.Spec{
		ContextWindowTokens: s.cfg.ContextWindowTokens,
		ReservationRatio:    s.cfg.MaxRepoDataRatio,
		BytesPerToken:       s.cfg.BytesPerTokenEstimate,
	}
	weights := budget.Weights(s.cfg.Weights())

	alloc, err := budget.Allocate(doc, spec, weights, log)
	if err != nil {
		return llm.SummaryResult{}, budget.Result{}, false, err
	}
	log.Info("digest budgeted",
		"input_bytes", alloc.InputBytes,
		"output_bytes", alloc.OutputBytes,
		"max_repo_data_bytes", alloc.MaxRepoDataBytes,
		"truncated", alloc.Truncated,
	)

	summary, err := s.model.Summarize(ctx, alloc.Output)
	if err == nil {
		return summary, alloc, false, nil
	}
	overflow, ok := llm.ParseContextOverflow(err)
	if !ok {
		return llm.SummaryResult{}, budget.Result{}, false, err
	}
	reduced, rerr := reducedSpec(spec, overflow)
	if rerr != nil {
		return llm.SummaryResult{}, budget.Result{}, false, fmt.Errorf("context overflow not recoverable: %w", err)
	}
	log.Warn("context overflow reported, retrying with reduced budget",
		"provider_max_tokens", overflow.MaxTokens,
		"observed_tokens", overflow.ObservedTokens,
		"old_ratio", spec.ReservationRatio,
		"new_ratio", reduced.ReservationRatio,
	)
	alloc, err = budget.Allocate(doc, reduced, weights, log)
	if err != nil {
		return llm.SummaryResult{}, budget.Result{}, false, err
	}
	summary, err = s.model.Summarize(ctx, alloc.Output)
	if err != nil {
		if _, again := llm.ParseContextOverflow(err); again {
			return llm.SummaryResult{}, budget.Result{}, false, fmt.Errorf("context overflow persists after retry: %w", err)
		}
		return llm.SummaryResult{}, budget.Result{}, false, err
	}
	return summary, alloc, true, nil
}

// reducedSpec computes the retry budget from a provider overflow report. The
// new ratio is the current one scaled by min(0.90, 0.90*max/observed) with a
// 0.05 floor; it must come out strictly smaller or the retry is pointless.
func reducedSpec(spec budget.Spec, o llm.ContextOverflow) (budget.Spec, error) {
	scale := 0.90
	if o.ObservedTokens > 0 {
		if s := 0.90 * float64(o.MaxTokens) / float64(o.ObservedTokens); s < scale {
			scale = s
		}
	}
	ratio := spec.ReservationRatio * scale
	if ratio < 0.05 {
		ratio = 0.05
	}
	if ratio >= spec.ReservationRatio {
		return budget.Spec{}, fmt.Errorf("reduced ratio %.4f is not below current %.4f", ratio, spec.ReservationRatio)
	}
	out := spec
	out.ReservationRatio = ratio
	return out, nil
}

// extract fetches everything and assembles the canonical document. Baseline
// metadata and tree failures abort the run; languages and readme degrade to
// warnings.
func (s *Service) extract(ctx context.Context, ref gitremote.RepoRef, include IncludeSet, log *slog.Logger) (*digest.Document, error) {
	doc := digest.NewDocument()

	meta, err := s.git.Metadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	doc.SetPlain(digest.Metadata, renderMetadata(meta))
	log.Info("metadata fetched", "default_branch", meta.DefaultBranch)

	tree, err := s.git.Tree(ctx, ref, meta.DefaultBranch)
	if err != nil {
		return nil, err
	}
	doc.SetPlain(digest.Tree, renderTree(tree))
	log.Info("tree fetched", "entries", len(tree))

	langs, err := s.git.Languages(ctx, ref)
	if err != nil {
		doc.Warnings = append(doc.Warnings, gitremote.Warning{Scope: "languages", Reason: err.Error()}.String())
		doc.SetPlain(digest.Languages, "")
	} else {
		doc.SetPlain(digest.Languages, digest.RenderLanguages(langs))
	}

	var readmeBody string
	readme, err := s.git.Readme(ctx, ref)
	if err != nil {
		doc.Warnings = append(doc.Warnings, gitremote.Warning{Scope: "readme", Reason: err.Error()}.String())
	} else if readme != nil {
		readmeBody = readme.Content
	}
	doc.SetPlain(digest.Readme, readmeBody)

	s.fetchOptional(ctx, meta, tree, readmeBody, include, doc, log)
	return doc, nil
}

type categoryResult struct {
	category digest.Category
	items    []digest.Item
	warnings []gitremote.Warning
	skipped  bool
}

// fetchOptional runs the requested optional categories concurrently under
// the overall fetch deadline. Output ordering stays fixed regardless of
// completion order.
func (s *Service) fetchOptional(ctx context.Context, meta gitremote.RepoMetadata, tree []gitremote.TreeEntry, readme string, include IncludeSet, doc *digest.Document, log *slog.Logger) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxTotalFetchTime)
	defer cancel()

	results := make(map[digest.Category]*categoryResult, len(digest.OptionalCategories))
	var wg sync.WaitGroup
	for _, c := range digest.OptionalCategories {
		if !include.requested(c) {
			continue
		}
		res := &categoryResult{category: c}
		results[c] = res
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fetchCategory(fetchCtx, meta, tree, readme, res, log)
		}()
	}
	wg.Wait()

	for _, c := range digest.OptionalCategories {
		res, ok := results[c]
		if !ok {
			continue
		}
		doc.SetItems(c, res.items)
		for _, w := range res.warnings {
			doc.Warnings = append(doc.Warnings, w.String())
		}
		if res.skipped {
			doc.Warnings = append(doc.Warnings, gitremote.Warning{
				Scope:  string(c),
				Reason: "stop_reason=max_duration (total fetch deadline)",
			}.String())
		}
	}
}

func (s *Service) fetchCategory(ctx context.Context, meta gitremote.RepoMetadata, tree []gitremote.TreeEntry, readme string, res *categoryResult, log *slog.Logger) {
	if ctx.Err() != nil {
		res.skipped = true
		return
	}
	c := res.category
	limits, maxDepth := s.categoryLimits(c)

	candidates, depthLimited := gitremote.SelectCandidates(tree, c, s.rules, maxDepth)
	if depthLimited {
		res.warnings = append(res.warnings, gitremote.Warning{
			Scope:  string(c),
			Reason: fmt.Sprintf("stop_reason=max_depth (%d)", maxDepth),
		})
	}

	catCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxCategoryFetchTime)
	defer cancel()

	collected := gitremote.Collect(catCtx, func(ctx context.Context, e gitremote.TreeEntry) (gitremote.FileContent, error) {
		return s.git.DownloadFile(ctx, e.Path, e.DownloadURL)
	}, candidates, limits, string(c))

	res.warnings = append(res.warnings, collected.Warnings...)
	for _, f := range collected.Files {
		res.items = append(res.items, digest.Item{
			Path:      f.Path,
			SourceURL: f.SourceURL,
			Content:   f.Content,
			Bytes:     f.Bytes,
		})
	}

	if c == digest.Documentation {
		if page, ok := s.fetchHomepage(catCtx, meta, readme, res); ok {
			res.items = append(res.items, page)
		}
	}

	log.Info("category fetched",
		"category", string(c),
		"candidates", len(candidates),
		"files", len(collected.Files),
		"bytes", collected.TotalBytes(),
		"stop_reason", string(collected.StopReason),
	)
}

// fetchHomepage pulls at most one external page into the documentation
// category: the metadata homepage when present, otherwise the first external
// link found in the README. Failures degrade to a warning.
func (s *Service) fetchHomepage(ctx context.Context, meta gitremote.RepoMetadata, readme string, res *categoryResult) (digest.Item, bool) {
	pageURL := strings.TrimSpace(meta.Homepage)
	if pageURL == "" && readme != "" {
		pageURL = gitremote.FirstExternalLink(readme)
	}
	if pageURL == "" {
		return digest.Item{}, false
	}
	page, err := s.git.FetchExternalPage(ctx, pageURL)
	if err != nil {
		res.warnings = append(res.warnings, gitremote.Warning{
			Scope: "documentation", Path: pageURL, Reason: err.Error(),
		})
		return digest.Item{}, false
	}
	if s.cfg.MaxSingleFileBytes > 0 && int64(page.Bytes) > s.cfg.MaxSingleFileBytes {
		res.warnings = append(res.warnings, gitremote.Warning{
			Scope: "documentation", Path: pageURL, Reason: "exceeds max single file bytes",
		})
		return digest.Item{}, false
	}
	return digest.Item{
		Path:      page.Path,
		SourceURL: page.SourceURL,
		Content:   page.Content,
		Bytes:     page.Bytes,
	}, true
}

func (s *Service) categoryLimits(c digest.Category) (gitremote.CollectLimits, int) {
	limits := gitremote.CollectLimits{
		MaxSingleFileBytes: int(s.cfg.MaxSingleFileBytes),
		MaxDuration:        s.cfg.MaxCategoryFetchTime,
	}
	switch c {
	case digest.Documentation:
		limits.MaxTotalBytes = int(s.cfg.MaxDocumentationBytes)
		return limits, 0
	case digest.Tests:
		limits.MaxTotalBytes = int(s.cfg.MaxTestsBytes)
		return limits, 0
	case digest.Code:
		limits.MaxTotalBytes = int(s.cfg.MaxCodeBytes)
		limits.MaxFiles = s.cfg.MaxCodeFiles
		limits.MaxDepth = s.cfg.MaxCodeDepth
		return limits, s.cfg.MaxCodeDepth
	case digest.BuildPackage:
		limits.MaxTotalBytes = int(s.cfg.MaxBuildPackageBytes)
		limits.MaxFiles = s.cfg.MaxBuildPackageFiles
		limits.MaxDepth = s.cfg.MaxBuildPackageDepth
		return limits, s.cfg.MaxBuildPackageDepth
	}
	return limits, 0
}

func renderMetadata(meta gitremote.RepoMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Repository: %s/%s\n", meta.Owner, meta.Repo)
	fmt.Fprintf(&b, "- Default Branch: %s\n", meta.DefaultBranch)
	if meta.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", meta.Description)
	}
	if len(meta.Topics) > 0 {
		fmt.Fprintf(&b, "- Topics: %s\n", strings.Join(meta.Topics, ", "))
	}
	if meta.Homepage != "" {
		fmt.Fprintf(&b, "- Homepage: %s\n", meta.Homepage)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderTree lists every entry in breadth-first order, one per line, with a
// trailing slash on directories. Line order mirrors traversal order so a
// tree truncation keeps the shallow prefix.
func renderTree(tree []gitremote.TreeEntry) string {
	sorted := gitremote.SortBFS(tree)
	lines := make([]string, 0, len(sorted))
	for _, e := range sorted {
		if e.Type == "tree" {
			lines = append(lines, e.Path+"/")
		} else {
			lines = append(lines, e.Path)
		}
	}
	return strings.Join(lines, "\n")
}
