package render

import (
	"fmt"
	"regexp"
)

// Marker classes stamped on internal anchors. The workflow flips them in
// place when a target page appears, moves or disappears, without
// re-rendering the linking pages.
const (
	LinkMarkerValid   = "is-internal-link is-valid-page"
	LinkMarkerInvalid = "is-internal-link is-invalid-page"
)

// InternalLink is one page location referenced by rendered output.
type InternalLink struct {
	Locale string
	Path   string
}

// Opening anchor tags whose href is an absolute /locale/path reference.
// External, fragment and query-only links never match.
var internalAnchor = regexp.MustCompile(`<a href="/([a-z]{2}(?:-[a-z0-9]+)?)/([^"#?]+)"[^>]*>`)

// ExtractInternalLinks returns the distinct page locations referenced by
// internal anchors in rendered output.
func ExtractInternalLinks(rendered string) []InternalLink {
	seen := make(map[InternalLink]bool)
	var links []InternalLink
	for _, m := range internalAnchor.FindAllStringSubmatch(rendered, -1) {
		link := InternalLink{Locale: m[1], Path: m[2]}
		if seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}
	return links
}

// MarkInternalLinks rewrites every internal anchor to the canonical marker
// form: exactly the href and the validity class. Later marker flips match
// that opening tag verbatim, so no other attributes may survive here.
func MarkInternalLinks(rendered string, valid map[InternalLink]bool) string {
	return internalAnchor.ReplaceAllStringFunc(rendered, func(tag string) string {
		m := internalAnchor.FindStringSubmatch(tag)
		link := InternalLink{Locale: m[1], Path: m[2]}
		marker := LinkMarkerInvalid
		if valid[link] {
			marker = LinkMarkerValid
		}
		return fmt.Sprintf(`<a href="/%s/%s" class="%s">`, link.Locale, link.Path, marker)
	})
}
