// Package render turns the constrained markup subset returned by workers into
// HTML safe to inject into the chat surface. The output vocabulary is fixed:
// h1..h6, strong, a, li, ul, p and sup, nothing else.
//
// Later passes use plain substitution, so tags produced by an earlier pass or
// present verbatim in the input are tokenized first and restored at the end.
// Rendering is deterministic, side-effect free and never fails; worst case the
// input comes back as plain paragraphs.
package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	anchorClass = "text-[#BB86FC] hover:text-[#9B66DC] underline"
	listClass   = "list-disc pl-6 space-y-2 my-4"
)

var (
	anchorTagPattern = regexp.MustCompile(`(?is)<a\s[^>]*>.*?</a>`)
	// Citation protection is deliberately narrow: only this exact tag shape
	// is recognized. Differently spelled citation markup goes through the
	// normal passes and the allow-list filter.
	citationPattern = regexp.MustCompile(`(?is)<sup class="citation">.*?</sup>`)

	headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	boldPattern    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkPattern    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	bulletPattern  = regexp.MustCompile(`(?m)^\s*[•*-]\s+(.+)$`)

	multiNewline = regexp.MustCompile(`\n{3,}`)

	tagPattern  = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)((?:\s[^<>]*)?)/?>`)
	attrPattern = regexp.MustCompile(`([a-zA-Z-]+)(?:\s*=\s*("[^"]*"|'[^']*'|[^\s>]+))?`)
)

// blockTags are the tags that may open a line without being wrapped in a
// paragraph. Inline tags (strong, a, sup) still get a paragraph around them.
var blockTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "li": true, "p": true,
}

// allowedAttrs is the attribute allow-list per permitted tag. Tags absent from
// this map are escaped entirely.
var allowedAttrs = map[string]map[string]bool{
	"h1":     {"class": true},
	"h2":     {"class": true},
	"h3":     {"class": true},
	"h4":     {"class": true},
	"h5":     {"class": true},
	"h6":     {"class": true},
	"strong": {},
	"a":      {"href": true, "target": true, "rel": true, "class": true},
	"li":     {},
	"ul":     {"class": true},
	"p":      {},
	"sup":    {"class": true},
}

// Render converts raw worker output to display markup. Re-rendering already
// rendered output is a no-op.
func Render(text string) string {
	protected, tokens := protect(text)

	out := convertHeadings(protected)
	out = boldPattern.ReplaceAllString(out, "<strong>$1</strong>")
	out = convertLinks(out)
	out = bulletPattern.ReplaceAllString(out, "<li>$1</li>")
	out = wrapLines(out)
	out = collapseLists(out)
	out = restore(out, tokens)
	out = multiNewline.ReplaceAllString(out, "\n")
	out = sanitize(out)

	return strings.TrimSpace(out)
}

// protect replaces pre-existing anchor and citation tags with opaque tokens so
// the substitution passes cannot corrupt them.
func protect(text string) (string, []string) {
	var tokens []string
	grab := func(match string) string {
		tokens = append(tokens, match)
		return fmt.Sprintf("\x00protected-%d\x00", len(tokens)-1)
	}
	text = anchorTagPattern.ReplaceAllStringFunc(text, grab)
	text = citationPattern.ReplaceAllStringFunc(text, grab)
	return text, tokens
}

func restore(text string, tokens []string) string {
	for i, original := range tokens {
		text = strings.Replace(text, fmt.Sprintf("\x00protected-%d\x00", i), original, 1)
	}
	return text
}

// convertHeadings maps #-prefixed lines to heading elements. Level N gets the
// size class 7-N, so level 1 renders largest.
func convertHeadings(text string) string {
	return headingPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := headingPattern.FindStringSubmatch(match)
		level := len(sub[1])
		size := 7 - level
		return fmt.Sprintf(`<h%d class="text-%dxl font-bold mb-4">%s</h%d>`, level, size, sub[2], level)
	})
}

// convertLinks turns [text](url) into anchors. A URL without an http prefix
// is coerced to https.
func convertLinks(text string) string {
	return linkPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := linkPattern.FindStringSubmatch(match)
		url := sub[2]
		if !strings.HasPrefix(url, "http") {
			url = "https://" + url
		}
		return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer" class="%s">%s</a>`, url, anchorClass, sub[1])
	})
}

// wrapLines trims each line, drops empty ones and wraps anything that does not
// already open with a block element in a paragraph. Lines opening with an
// inline tag (strong, a, sup) are wrapped too: a standalone bold or link line
// must end up inside a paragraph, and since p is a block tag the wrap happens
// only once, keeping re-rendering stable.
func wrapLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if startsWithBlockTag(line) {
			out = append(out, line)
			continue
		}
		out = append(out, "<p>"+line+"</p>")
	}
	return strings.Join(out, "\n")
}

func startsWithBlockTag(line string) bool {
	if !strings.HasPrefix(line, "<") {
		return false
	}
	loc := tagPattern.FindStringSubmatchIndex(line)
	if loc == nil || loc[0] != 0 {
		return false
	}
	name := strings.ToLower(line[loc[2]:loc[3]])
	return blockTags[name]
}

// collapseLists encloses each maximal run of list-item lines in a single
// unordered-list container. Runs already inside a container are left alone, so
// re-rendering rendered lists does not nest them.
func collapseLists(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	insideList := false
	run := 0 // open list items in the current unclosed run

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "<ul"):
			insideList = true
			out = append(out, line)
		case insideList:
			if strings.Contains(line, "</ul>") {
				insideList = false
			}
			out = append(out, line)
		case strings.HasPrefix(line, "<li>"):
			if run == 0 {
				out = append(out, fmt.Sprintf(`<ul class="%s">`, listClass))
			}
			run++
			out = append(out, line)
		default:
			if run > 0 {
				out = append(out, "</ul>")
				run = 0
			}
			out = append(out, line)
		}
	}
	if run > 0 {
		out = append(out, "</ul>")
	}
	return strings.Join(out, "\n")
}

// sanitize enforces the output allow-list: tags outside the fixed vocabulary
// are escaped to literal text, attributes outside the per-tag allow-list are
// dropped. Clean output passes through byte for byte.
func sanitize(text string) string {
	return tagPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := tagPattern.FindStringSubmatch(match)
		name := strings.ToLower(sub[1])
		allowed, ok := allowedAttrs[name]
		if !ok {
			return html.EscapeString(match)
		}
		if strings.HasPrefix(match, "</") {
			return "</" + name + ">"
		}
		attrs := filterAttrs(sub[2], allowed)
		return "<" + name + attrs + ">"
	})
}

func filterAttrs(raw string, allowed map[string]bool) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for _, m := range attrPattern.FindAllStringSubmatch(raw, -1) {
		key := strings.ToLower(m[1])
		if !allowed[key] {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		if m[2] != "" {
			b.WriteString("=")
			b.WriteString(m[2])
		}
	}
	return b.String()
}
