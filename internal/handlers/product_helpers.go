package handlers

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// slugify lowercases s, strips accents and joins the remaining
// letters and digits with single hyphens.
func slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range norm.NFD.String(strings.ToLower(strings.TrimSpace(s))) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}

// nextSlug returns base when it is free, otherwise base-N with N one above
// the highest suffix in use (starting at 2).
func nextSlug(base string, existing []string) string {
	taken := false
	highest := 1
	for _, slug := range existing {
		if slug == base {
			taken = true
			continue
		}
		suffix, ok := strings.CutPrefix(slug, base+"-")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > highest {
			taken = true
			highest = n
		}
	}
	if !taken {
		return base
	}
	return base + "-" + strconv.Itoa(highest+1)
}
