package project

import "strings"

// MaxSlugLen is the maximum length of a slug component.
const MaxSlugLen = 24

// Slug lowercases s, collapses every run of characters outside [a-z0-9]
// into a single '-', trims leading and trailing dashes and caps the result
// at MaxSlugLen. It returns fallback when nothing is left.
func Slug(s, fallback string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}

	slug := strings.Trim(sb.String(), "-")
	if len(slug) > MaxSlugLen {
		slug = strings.TrimRight(slug[:MaxSlugLen], "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}
