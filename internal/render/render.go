package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Supported content types.
const (
	ContentTypeMarkdown = "markdown"
	ContentTypeHTML     = "html"
	ContentTypeText     = "text"
)

// Stage is one step of a rendering pipeline. Stages transform content and
// are applied in order.
type Stage interface {
	Name() string
	Render(ctx context.Context, input string) (string, error)
}

// Pipeline is an ordered list of rendering stages for one content type.
type Pipeline []Stage

// Renderer produces sanitized HTML from raw page content.
type Renderer interface {
	GetPipeline(contentType string) (Pipeline, error)
	Render(ctx context.Context, contentType, content string) (string, error)
	TableOfContents(contentType, content string) (string, error)
}

// Service is the goldmark/bluemonday-backed Renderer.
type Service struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// NewService creates a Renderer with GFM extensions and a UGC sanitizing
// policy that keeps the internal-link marker classes intact.
func NewService() *Service {
	policy := bluemonday.UGCPolicy()
	// Internal link validity markers survive sanitization so the workflow
	// can rewrite them when pages move or disappear. Injected rel attrs
	// would break those exact-match rewrites.
	policy.AllowAttrs("class").OnElements("a")
	policy.RequireNoFollowOnLinks(false)

	return &Service{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		sanitizer: policy,
	}
}

// GetPipeline returns the stages for the given content type.
func (s *Service) GetPipeline(contentType string) (Pipeline, error) {
	switch contentType {
	case ContentTypeMarkdown:
		return Pipeline{&markdownStage{md: s.md}, &sanitizeStage{policy: s.sanitizer}}, nil
	case ContentTypeHTML:
		return Pipeline{&sanitizeStage{policy: s.sanitizer}}, nil
	case ContentTypeText, "":
		return Pipeline{&plainTextStage{}}, nil
	default:
		return nil, fmt.Errorf("no rendering pipeline for content type %q", contentType)
	}
}

// Render runs the full pipeline for the content type over the content.
func (s *Service) Render(ctx context.Context, contentType, content string) (string, error) {
	pipeline, err := s.GetPipeline(contentType)
	if err != nil {
		return "", err
	}
	out := content
	for _, stage := range pipeline {
		out, err = stage.Render(ctx, out)
		if err != nil {
			return "", fmt.Errorf("render stage %s failed: %w", stage.Name(), err)
		}
	}
	return out, nil
}

// TocEntry is one heading of the rendered document.
type TocEntry struct {
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
	Level  int    `json:"level"`
}

// TableOfContents extracts the heading outline of markdown content as a
// JSON array. Non-markdown content yields an empty outline.
func (s *Service) TableOfContents(contentType, content string) (string, error) {
	if contentType != ContentTypeMarkdown {
		return "[]", nil
	}
	source := []byte(content)
	doc := s.md.Parser().Parse(text.NewReader(source))
	entries := []TocEntry{}
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		for c := heading.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				sb.Write(t.Segment.Value(source))
			}
		}
		title := sb.String()
		anchor := ""
		if id, found := heading.AttributeString("id"); found {
			if b, ok := id.([]byte); ok {
				anchor = string(b)
			}
		}
		entries = append(entries, TocEntry{Title: title, Anchor: anchor, Level: heading.Level})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return "[]", fmt.Errorf("failed to walk markdown outline: %w", err)
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "[]", fmt.Errorf("failed to marshal table of contents: %w", err)
	}
	return string(b), nil
}

type markdownStage struct {
	md goldmark.Markdown
}

func (s *markdownStage) Name() string { return "markdown" }

func (s *markdownStage) Render(_ context.Context, input string) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type sanitizeStage struct {
	policy *bluemonday.Policy
}

func (s *sanitizeStage) Name() string { return "sanitize" }

func (s *sanitizeStage) Render(_ context.Context, input string) (string, error) {
	return s.policy.Sanitize(input), nil
}

type plainTextStage struct{}

func (s *plainTextStage) Name() string { return "plaintext" }

func (s *plainTextStage) Render(_ context.Context, input string) (string, error) {
	return "<pre>" + html.EscapeString(input) + "</pre>", nil
}
