package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"repodigest/internal/budget"
	"repodigest/internal/config"
	"repodigest/internal/digest"
	"repodigest/internal/gitremote"
	"repodigest/internal/ignore"
	"repodigest/internal/llm"
)

// modelStub answers Summarize calls from a scripted error list and records
// every payload it was handed.
type modelStub struct {
	result   llm.SummaryResult
	errs     []error
	payloads []string
}

func (m *modelStub) Summarize(_ context.Context, digestMarkdown string) (llm.SummaryResult, error) {
	m.payloads = append(m.payloads, digestMarkdown)
	i := len(m.payloads) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return llm.SummaryResult{}, m.errs[i]
	}
	return m.result, nil
}

func stubService(model summarizer) *Service {
	return &Service{
		model: model,
		cfg: config.Config{
			ContextWindowTokens:   1000,
			MaxRepoDataRatio:      0.5,
			BytesPerTokenEstimate: 4.0,
			WeightDocumentation:   0.40,
			WeightBuildPackage:    0.20,
			WeightTests:           0.20,
			WeightCode:            0.20,
		},
		rules: ignore.Default(),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// oversizedDoc renders well past the 2000-byte stub budget so every
// allocation pass has something to cut.
func oversizedDoc() *digest.Document {
	d := digest.NewDocument()
	d.SetPlain(digest.Metadata, "- Repository: octo/widget\n- Default Branch: main")
	d.SetPlain(digest.Languages, "- Go: 12000")
	d.SetPlain(digest.Tree, strings.TrimRight(strings.Repeat("pkg/file.go\n", 60), "\n"))
	d.SetPlain(digest.Readme, strings.Repeat("widget docs ", 40))
	content := strings.Repeat("a ", 1500)
	d.SetItems(digest.Code, []digest.Item{{
		Path:      "pkg/core.go",
		SourceURL: "https://raw.example.com/pkg/core.go",
		Content:   content,
		Bytes:     len(content),
	}})
	return d
}

func overflowErr() error {
	return &llm.APIError{
		Status: 400,
		Body:   `{"error":{"message":"This model's maximum context length is 500 tokens. However, your request has 600 input tokens."}}`,
	}
}

func TestSummarizeDocument_OverflowRetriesOnce(t *testing.T) {
	model := &modelStub{
		result: llm.SummaryResult{Summary: "ok", Structure: "flat", Technologies: []string{"Go"}},
		errs:   []error{overflowErr(), nil},
	}
	s := stubService(model)

	summary, alloc, retried, err := s.summarizeDocument(context.Background(), oversizedDoc(), s.log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !retried {
		t.Error("expected the retry flag to be set")
	}
	if len(model.payloads) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(model.payloads))
	}
	if len(model.payloads[1]) >= len(model.payloads[0]) {
		t.Errorf("retry payload %d bytes is not smaller than the first %d", len(model.payloads[1]), len(model.payloads[0]))
	}
	if alloc.MaxRepoDataBytes >= 2000 {
		t.Errorf("retry allocation budget %d was not reduced", alloc.MaxRepoDataBytes)
	}
	if summary.Summary != "ok" {
		t.Errorf("model result not passed through, got %q", summary.Summary)
	}
}

func TestSummarizeDocument_SecondOverflowFatal(t *testing.T) {
	model := &modelStub{errs: []error{overflowErr(), overflowErr()}}
	s := stubService(model)

	_, _, _, err := s.summarizeDocument(context.Background(), oversizedDoc(), s.log)
	if err == nil || !strings.Contains(err.Error(), "context overflow persists after retry") {
		t.Fatalf("expected the persistent-overflow error, got %v", err)
	}
	if len(model.payloads) != 2 {
		t.Errorf("expected exactly one retry, got %d model calls", len(model.payloads))
	}
}

func TestSummarizeDocument_NonOverflowErrorNotRetried(t *testing.T) {
	model := &modelStub{errs: []error{&llm.APIError{Status: 500, Body: "upstream failure"}}}
	s := stubService(model)

	_, _, _, err := s.summarizeDocument(context.Background(), oversizedDoc(), s.log)
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 500 {
		t.Fatalf("expected the model error back unchanged, got %v", err)
	}
	if len(model.payloads) != 1 {
		t.Errorf("non-overflow errors must not trigger a retry, got %d calls", len(model.payloads))
	}
}

func TestReducedSpec(t *testing.T) {
	spec := budget.Spec{ContextWindowTokens: 128000, ReservationRatio: 0.65, BytesPerToken: 4.0}

	got, err := reducedSpec(spec, llm.ContextOverflow{MaxTokens: 128000, ObservedTokens: 190000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 0.65 * 0.90 * 128000.0 / 190000.0
	if math.Abs(got.ReservationRatio-want) > 1e-9 {
		t.Errorf("expected ratio %.6f, got %.6f", want, got.ReservationRatio)
	}
	if got.ReservationRatio >= spec.ReservationRatio {
		t.Error("reduced ratio must be strictly smaller")
	}
	if got.ContextWindowTokens != spec.ContextWindowTokens || got.BytesPerToken != spec.BytesPerToken {
		t.Error("only the ratio may change")
	}
}

func TestReducedSpec_ScaleCapped(t *testing.T) {
	spec := budget.Spec{ContextWindowTokens: 128000, ReservationRatio: 0.65, BytesPerToken: 4.0}

	// Observed below the ceiling still shrinks by the 0.90 cap.
	got, err := reducedSpec(spec, llm.ContextOverflow{MaxTokens: 128000, ObservedTokens: 100000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got.ReservationRatio-0.65*0.90) > 1e-9 {
		t.Errorf("expected 0.90 scale, got ratio %.6f", got.ReservationRatio)
	}
}

func TestReducedSpec_Floor(t *testing.T) {
	spec := budget.Spec{ContextWindowTokens: 128000, ReservationRatio: 0.052, BytesPerToken: 4.0}
	got, err := reducedSpec(spec, llm.ContextOverflow{MaxTokens: 1000, ObservedTokens: 100000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ReservationRatio != 0.05 {
		t.Errorf("expected floor 0.05, got %.6f", got.ReservationRatio)
	}

	spec.ReservationRatio = 0.05
	if _, err := reducedSpec(spec, llm.ContextOverflow{MaxTokens: 1000, ObservedTokens: 100000}); err == nil {
		t.Error("a ratio already at the floor cannot be reduced further")
	}
}

func TestRenderMetadata(t *testing.T) {
	body := renderMetadata(gitremote.RepoMetadata{
		Owner:         "octo",
		Repo:          "widget",
		DefaultBranch: "main",
		Description:   "A widget service",
		Topics:        []string{"go", "widgets"},
		Homepage:      "https://widget.example.com",
	})
	for _, want := range []string{
		"- Repository: octo/widget",
		"- Default Branch: main",
		"- Description: A widget service",
		"- Topics: go, widgets",
		"- Homepage: https://widget.example.com",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}

	sparse := renderMetadata(gitremote.RepoMetadata{Owner: "a", Repo: "b", DefaultBranch: "main"})
	if strings.Contains(sparse, "Description") || strings.Contains(sparse, "Homepage") {
		t.Errorf("empty fields must be omitted:\n%s", sparse)
	}
}

func TestRenderTree(t *testing.T) {
	body := renderTree([]gitremote.TreeEntry{
		{Path: "src/deep/x.go", Type: "blob"},
		{Path: "src", Type: "tree"},
		{Path: "main.go", Type: "blob"},
	})
	lines := strings.Split(body, "\n")
	want := []string{"main.go", "src/", "src/deep/x.go"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestIncludeSet(t *testing.T) {
	all := DefaultInclude()
	for _, c := range digest.OptionalCategories {
		if !all.requested(c) {
			t.Errorf("default include must request %s", c)
		}
	}
	if all.requested(digest.Readme) {
		t.Error("baseline categories are not part of the include set")
	}

	only := IncludeSet{Code: true}
	if only.requested(digest.Documentation) || !only.requested(digest.Code) {
		t.Error("include set must reflect exactly the requested categories")
	}
}
