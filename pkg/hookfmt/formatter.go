// Copyright 2024-2026 Aiku AI

// Package hookfmt formats webhook payload dumps into Matrix message bodies.
//
// The plain path wraps the dump in a fenced code block so YAML and JSON
// newlines survive HTML rendering; the markdown path converts the dump to
// Matrix HTML, for sources that post human-written markdown.
package hookfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Message holds a formatted webhook message ready for template embedding.
type Message struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

// Format renders a payload dump for delivery. When showAppName is set, the
// plain body is prefixed with the sending application's name. Markdown
// conversion can mangle posted data like system logs, so it is opt-in; the
// default wraps the dump in a yaml-highlighted code block.
func Format(appName, text string, useMarkdown, showAppName bool) *Message {
	prefix := ""
	if showAppName && appName != "" {
		prefix = "**" + appName + "** says:  \n"
	}

	if useMarkdown {
		parsed := Parse(prefix + text)
		if parsed.Format == "" {
			// No markdown constructs in the dump; still deliver an HTML
			// variant so clients render it consistently.
			parsed.Format = event.FormatHTML
			parsed.FormattedBody = html.EscapeString(parsed.Body)
		}
		return parsed
	}

	formatted := "Information from the <b>" + html.EscapeString(appName) + "</b> webhook:\n" +
		`<pre><code class="language-yaml">` + html.EscapeString(text) + "</code></pre>"
	return &Message{
		Body:          prefix + text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(^|[^*\w])_(.+?)_([^*\w]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	olRe         = regexp.MustCompile(`(?m)^\d+\.\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s+(.+)$`)
)

// codeBlock holds extracted code block data.
type codeBlock struct {
	lang    string
	content string
}

// Parse converts markdown text to Matrix event content. Input without any
// markdown constructs comes back as a bare body with no format.
func Parse(text string) *Message {
	if text == "" {
		return &Message{}
	}

	hasFormatting := boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		strikeRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		linkRe.MatchString(text) ||
		headingRe.MatchString(text) ||
		blockquoteRe.MatchString(text) ||
		ulRe.MatchString(text) ||
		olRe.MatchString(text)

	if !hasFormatting {
		return &Message{Body: text}
	}

	// Step 1: Extract code blocks into placeholders.
	var codeBlocks []codeBlock
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		lang := ""
		content := ""
		if len(parts) >= 3 {
			lang = parts[1]
			content = parts[2]
		} else if len(parts) >= 2 {
			content = parts[1]
		}
		idx := len(codeBlocks)
		codeBlocks = append(codeBlocks, codeBlock{lang: lang, content: content})
		return "\x00CODEBLOCK" + strconv.Itoa(idx) + "\x00"
	})

	// Step 2: Process line-by-line for structural elements on raw text.
	lines := strings.Split(processed, "\n")
	var result []string
	var listType string // "ul", "ol", or ""
	var listItems []string

	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		tag := listType
		result = append(result, "<"+tag+">"+strings.Join(listItems, "")+"</"+tag+">")
		listItems = nil
		listType = ""
	}

	for _, line := range lines {
		// Check blockquote.
		if m := blockquoteRe.FindStringSubmatch(line); len(m) >= 2 {
			flushList()
			result = append(result, "<blockquote>"+html.EscapeString(m[1])+"</blockquote>")
			continue
		}

		// Check heading.
		if m := headingRe.FindStringSubmatch(line); len(m) >= 3 {
			flushList()
			level := min(len(m[1]), 6)
			lvl := strconv.Itoa(level)
			result = append(result, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
			continue
		}

		// Check unordered list.
		if m := ulRe.FindStringSubmatch(line); len(m) >= 2 {
			if listType != "ul" {
				flushList()
				listType = "ul"
			}
			listItems = append(listItems, "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}

		// Check ordered list.
		if m := olRe.FindStringSubmatch(line); len(m) >= 2 {
			if listType != "ol" {
				flushList()
				listType = "ol"
			}
			listItems = append(listItems, "<li>"+html.EscapeString(m[1])+"</li>")
			continue
		}

		// Regular line.
		flushList()
		result = append(result, html.EscapeString(line))
	}
	flushList()

	formatted := strings.Join(result, "\n")

	// Step 3: Inline formatting.
	formatted = codeRe.ReplaceAllString(formatted, "<code>$1</code>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = italicRe.ReplaceAllString(formatted, "$1<em>$2</em>$3")
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")

	// Links — only allow safe URL schemes.
	formatted = linkRe.ReplaceAllStringFunc(formatted, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		if len(parts) < 3 {
			return match
		}
		text, href := parts[1], parts[2]
		lower := strings.ToLower(strings.TrimSpace(href))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return `<a href="` + href + `">` + text + `</a>`
		}
		// Unsafe scheme (javascript:, data:, etc.) — render as plain text.
		return text
	})

	// Step 4: Paragraphs (double newlines).
	formatted = strings.ReplaceAll(formatted, "\n\n", "</p><p>")

	// Step 5: Line breaks (remaining single newlines).
	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")

	// Wrap in paragraph tags if we have paragraph breaks.
	if strings.Contains(formatted, "</p><p>") {
		formatted = "<p>" + formatted + "</p>"
	}

	// Step 6: Restore code blocks with language hints. Done after the line
	// break pass so newlines inside the blocks survive verbatim.
	for i, cb := range codeBlocks {
		placeholder := "\x00CODEBLOCK" + strconv.Itoa(i) + "\x00"
		escapedContent := html.EscapeString(cb.content)
		var replacement string
		if cb.lang != "" {
			replacement = `<pre><code class="language-` + html.EscapeString(cb.lang) + `">` + escapedContent + `</code></pre>`
		} else {
			replacement = `<pre><code>` + escapedContent + `</code></pre>`
		}
		formatted = strings.Replace(formatted, placeholder, replacement, 1)
	}

	return &Message{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}
