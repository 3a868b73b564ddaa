package digest

import (
	"strings"
	"testing"
)

func TestBody_Markers(t *testing.T) {
	d := NewDocument()

	if got := d.Body(Code, 4.0); got != MarkerNotRequested {
		t.Errorf("unrequested category: expected %q, got %q", MarkerNotRequested, got)
	}

	d.SetItems(Code, nil)
	if got := d.Body(Code, 4.0); got != MarkerNotFound {
		t.Errorf("requested-but-empty category: expected %q, got %q", MarkerNotFound, got)
	}

	if MarkerNotRequested == MarkerNotFound || MarkerNotFound == MarkerDropped || MarkerNotRequested == MarkerDropped {
		t.Error("markers must be textually distinct")
	}
}

func TestBody_PlainAndItems(t *testing.T) {
	d := NewDocument()
	d.SetPlain(Readme, "  # Hello\nworld\n")
	if got := d.Body(Readme, 4.0); got != "# Hello\nworld" {
		t.Errorf("expected trimmed plain body, got %q", got)
	}

	d.SetItems(Code, []Item{
		{Path: "main.go", SourceURL: "https://example.com/main.go", Content: "package main", Bytes: 12},
		{Path: "util.go", Content: "package main", Bytes: 12},
	})
	body := d.Body(Code, 4.0)
	if !strings.Contains(body, "## File: main.go") || !strings.Contains(body, "## File: util.go") {
		t.Fatalf("expected both file blocks, got %q", body)
	}
	if strings.Index(body, "main.go") > strings.Index(body, "util.go") {
		t.Error("items rendered out of order")
	}
}

func TestRenderFileBlock(t *testing.T) {
	block := RenderFileBlock(Item{
		Path:      "src/app.py",
		SourceURL: "https://raw.example.com/src/app.py",
		Content:   "print('hi')",
		Bytes:     11,
	}, 4.0)

	for _, want := range []string{
		"## File: src/app.py",
		"- Source: https://raw.example.com/src/app.py",
		"- UTF8 Bytes: 11",
		"- Estimated Tokens: 3",
		"```text\nprint('hi')\n```",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
}

func TestRenderFileBlock_MissingSource(t *testing.T) {
	block := RenderFileBlock(Item{Path: "a.md", Content: "x", Bytes: 1}, 4.0)
	if !strings.Contains(block, "- Source: n/a") {
		t.Errorf("expected n/a source, got:\n%s", block)
	}
}

func TestRenderLanguages_Deterministic(t *testing.T) {
	langs := map[string]int{"Go": 100, "Python": 500, "Shell": 100}
	got := RenderLanguages(langs)
	want := "- Python: 500\n- Go: 100\n- Shell: 100"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if again := RenderLanguages(langs); again != got {
		t.Error("rendering the same map twice produced different output")
	}
}

func TestRenderProcessed_CanonicalOrder(t *testing.T) {
	bodies := map[Category]string{}
	for _, c := range CanonicalOrder {
		bodies[c] = "body-" + string(c)
	}
	out := RenderProcessed(bodies)

	last := -1
	for _, c := range CanonicalOrder {
		idx := strings.Index(out, Header(c))
		if idx < 0 {
			t.Fatalf("missing header for %s", c)
		}
		if idx < last {
			t.Errorf("section %s out of canonical order", c)
		}
		last = idx
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("processed document must end with a newline")
	}
}

func TestRenderExtraction_StatsAndWarnings(t *testing.T) {
	d := NewDocument()
	d.SetPlain(Readme, "hello")
	d.SetItems(Code, []Item{{Path: "a.go", Content: "xxxx", Bytes: 4}})
	d.Warnings = append(d.Warnings, "code: a.go: something odd")

	out := RenderExtraction(d, 4.0)
	if !strings.Contains(out, "# Extraction Stats") {
		t.Fatal("missing stats section")
	}
	if !strings.Contains(out, "- code_bytes: 4") {
		t.Errorf("missing code byte count:\n%s", out)
	}
	if !strings.Contains(out, "code: a.go: something odd") {
		t.Error("missing warning line")
	}

	empty := NewDocument()
	if !strings.Contains(RenderExtraction(empty, 4.0), "# Warnings\nNone") {
		t.Error("expected None under warnings when there are none")
	}
}
