package render

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	out, err := svc.Render(ctx, ContentTypeMarkdown, "# Title\n\nSome **bold** text.")
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(out, "<h1") || !strings.Contains(out, "<strong>bold</strong>") {
		t.Errorf("unexpected markdown output: %q", out)
	}
}

func TestRenderSanitizesScripts(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	out, err := svc.Render(ctx, ContentTypeHTML, `<p>ok</p><script>alert(1)</script>`)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if strings.Contains(out, "<script") {
		t.Errorf("expected scripts to be stripped, got %q", out)
	}
	if !strings.Contains(out, "<p>ok</p>") {
		t.Errorf("expected safe markup to survive, got %q", out)
	}
}

func TestRenderKeepsLinkMarkerClasses(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	input := `<a href="/en/guides/setup" class="is-internal-link is-valid-page">Setup</a>`
	out, err := svc.Render(ctx, ContentTypeHTML, input)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(out, `class="is-internal-link is-valid-page"`) {
		t.Errorf("expected the link marker class to survive sanitization, got %q", out)
	}
}

func TestRenderPlainText(t *testing.T) {
	svc := NewService()
	out, err := svc.Render(context.Background(), ContentTypeText, "a < b & c")
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.HasPrefix(out, "<pre>") || strings.Contains(out, "a < b") {
		t.Errorf("expected escaped preformatted text, got %q", out)
	}
}

func TestRenderUnknownContentType(t *testing.T) {
	svc := NewService()
	if _, err := svc.Render(context.Background(), "asciidoc", "= Title"); err == nil {
		t.Error("expected an error for an unknown content type")
	}
}

func TestExtractInternalLinks(t *testing.T) {
	rendered := `<p><a href="/en/docs/a">one</a> <a href="/en/docs/a">again</a>` +
		` <a href="https://example.com/en/docs/b">external</a>` +
		` <a href="/de-at/start">localized</a> <a href="#anchor">fragment</a></p>`

	links := ExtractInternalLinks(rendered)
	if len(links) != 2 {
		t.Fatalf("expected 2 distinct internal links, got %v", links)
	}
	if links[0] != (InternalLink{Locale: "en", Path: "docs/a"}) {
		t.Errorf("unexpected first link: %+v", links[0])
	}
	if links[1] != (InternalLink{Locale: "de-at", Path: "start"}) {
		t.Errorf("unexpected second link: %+v", links[1])
	}
}

func TestMarkInternalLinks(t *testing.T) {
	rendered := `<p><a href="/en/docs/a" rel="nofollow">one</a> <a href="/de/start">two</a></p>`
	valid := map[InternalLink]bool{
		{Locale: "en", Path: "docs/a"}: true,
	}

	out := MarkInternalLinks(rendered, valid)
	if !strings.Contains(out, `<a href="/en/docs/a" class="`+LinkMarkerValid+`">`) {
		t.Errorf("expected the existing target marked valid, got %q", out)
	}
	if !strings.Contains(out, `<a href="/de/start" class="`+LinkMarkerInvalid+`">`) {
		t.Errorf("expected the missing target marked invalid, got %q", out)
	}
	if strings.Contains(out, "nofollow") {
		t.Errorf("expected stray anchor attributes dropped, got %q", out)
	}
}

func TestTableOfContents(t *testing.T) {
	svc := NewService()

	toc, err := svc.TableOfContents(ContentTypeMarkdown, "# One\n\ntext\n\n## Two\n\n### Three\n")
	if err != nil {
		t.Fatalf("TableOfContents returned error: %v", err)
	}
	var entries []TocEntry
	if err := json.Unmarshal([]byte(toc), &entries); err != nil {
		t.Fatalf("outline is not valid JSON: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 headings, got %d", len(entries))
	}
	if entries[0].Title != "One" || entries[0].Level != 1 {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Anchor != "two" {
		t.Errorf("expected the auto heading id, got %q", entries[1].Anchor)
	}

	t.Run("non-markdown is empty", func(t *testing.T) {
		toc, err := svc.TableOfContents(ContentTypeHTML, "<h1>One</h1>")
		if err != nil {
			t.Fatalf("TableOfContents returned error: %v", err)
		}
		if toc != "[]" {
			t.Errorf("expected an empty outline, got %q", toc)
		}
	})
}
