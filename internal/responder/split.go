package responder

import (
	"strings"
	"unicode/utf8"
)

// SplitReply breaks text into chunks of at most max runes for posting as a
// thread. Words are kept whole unless a single word exceeds max, and
// paragraph breaks are kept inside a chunk.
func SplitReply(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for i, para := range strings.Split(text, "\n") {
		sep := " "
		if i > 0 {
			sep = "\n"
		}
		for _, word := range strings.Fields(para) {
			for utf8.RuneCountInString(word) > max {
				flush()
				runes := []rune(word)
				chunks = append(chunks, string(runes[:max]))
				word = string(runes[max:])
			}
			s := sep
			if curLen == 0 {
				s = ""
			}
			n := utf8.RuneCountInString(word)
			if curLen+len(s)+n > max {
				flush()
				s = ""
			}
			cur.WriteString(s)
			cur.WriteString(word)
			curLen += len(s) + n
			sep = " "
		}
	}
	flush()
	return chunks
}
