// Package render turns raw Moodle content into text suitable for chat output.
// It is not a general HTML parser: only a fixed whitelist of tags is
// rewritten and everything else passes through unchanged.
// No external dependencies - uses only standard library.
package render

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Whitelisted tags. Patterns are matched line by line and are greedy within
// a line, so nested or repeated tags on one line collapse into one match.
var (
	paragraphRe = regexp.MustCompile(`<p>(.*)</p>`)
	headingRe   = regexp.MustCompile(`<h([1-6])>(.*)</h[1-6]>`)
	strongRe    = regexp.MustCompile(`<strong>(.*)</strong>`)
	divRe       = regexp.MustCompile(`<div[^>]*>(.*)</div>`)
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// HTMLToText converts an event description to readable text.
//
// Rules, applied in order:
//
//	\r\n            -> \n
//	<p>X</p>        -> X
//	<hN>X</hN>      -> N dashes, a space, X
//	<strong>X</strong> -> **X**
//	<div ...>X</div>   -> X
func HTMLToText(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = paragraphRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := headingRe.FindStringSubmatch(m)
		level, _ := strconv.Atoi(sub[1])
		return strings.Repeat("-", level) + " " + sub[2]
	})
	text = strongRe.ReplaceAllString(text, "**$1**")
	text = divRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// TelegramHTML escapes text for Telegram's HTML parse mode and turns
// **bold** markers produced by HTMLToText into <b> tags.
func TelegramHTML(text string) string {
	escaped := html.EscapeString(text)
	return boldRe.ReplaceAllString(escaped, "<b>$1</b>")
}
