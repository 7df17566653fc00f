package service

import (
	"strings"
	"unicode"
)

// Minecraft chat payload limit. The bot's own name is not counted by the
// server, so the budget covers "author: body".
const mcChatLimit = 256

// sanitizeForMinecraft strips control characters and emoji, neutralizes
// mentions and truncates so that "author: body" fits the chat limit.
func sanitizeForMinecraft(author, body string) string {
	body = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		case isEmoji(r):
			return -1
		}
		return r
	}, body)
	body = strings.ReplaceAll(body, "@", "@​")
	body = strings.TrimSpace(body)

	padding := len(author) + 2 // "author: "
	if padding+len(body) > mcChatLimit {
		body = truncateRunesafe(body, mcChatLimit-padding)
	}
	return body
}

// escapeMarkdown protects Minecraft-originated text from Discord formatting.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "_", `\_`)
	s = strings.ReplaceAll(s, "*", `\*`)
	return s
}

// stripColour removes Minecraft §-prefixed colour codes.
func stripColour(s string) string {
	var b strings.Builder
	skip := false
	for _, r := range s {
		if skip {
			skip = false
			continue
		}
		if r == '§' {
			skip = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F6FF: // pictographs, transport
		return true
	case r >= 0x1F900 && r <= 0x1FAFF: // supplemental pictographs
		return true
	case r >= 0x1F1E0 && r <= 0x1F1FF: // flags
		return true
	}
	return false
}

func truncateRunesafe(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !isUTF8Start(cut[len(cut)-1]) {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && cut[len(cut)-1] >= 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func isUTF8Start(b byte) bool {
	return b < 0x80 || b >= 0xC0
}
