// Package sanitize cleans text that flows from users and the generator into
// stored sessions and later into generation prompts. It strips control
// characters, XML/HTML tags, and markdown structure so a stored note cannot
// smuggle prompt structure into the next round, while preserving semantic
// content.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxNoteLength caps stored free-text feedback notes.
const MaxNoteLength = 1000

// MaxInstructionLength caps stored instruction texts.
const MaxInstructionLength = 2000

var (
	// reXMLTag matches XML/HTML tags, including attributes, self-closing
	// tags, processing instructions, and unclosed tags at end-of-string.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?\s*>|<\?[^?]*\?>|<[/?!]?[a-zA-Z][^>]*$`)

	// reHTMLComment matches HTML comments like <!-- anything -->.
	reHTMLComment = regexp.MustCompile(`<!--[\s\S]*?-->`)

	// reMarkdownHeading matches markdown headings at the start of a line.
	reMarkdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)

	// reTripleBacktick matches triple (or more) backtick code fences.
	reTripleBacktick = regexp.MustCompile("```+")

	// reExcessiveNewlines matches 3 or more consecutive newlines.
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
)

// Note sanitizes a free-text feedback note for storage and prompt injection.
func Note(input string) string {
	return clean(input, MaxNoteLength)
}

// Instruction sanitizes a generated instruction text before it is persisted
// as a candidate.
func Instruction(input string) string {
	return clean(input, MaxInstructionLength)
}

func clean(input string, maxLen int) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reHTMLComment.ReplaceAllString(s, "")
	s = reXMLTag.ReplaceAllString(s, "")
	s = reMarkdownHeading.ReplaceAllString(s, "")
	s = reTripleBacktick.ReplaceAllString(s, "`")
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if len(s) > maxLen {
		s = truncateUTF8(s, maxLen)
	}
	return s
}

// stripControlChars removes null bytes and ASCII control characters except
// newline and tab.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// truncateUTF8 cuts s to at most maxLen bytes without splitting a rune.
func truncateUTF8(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
