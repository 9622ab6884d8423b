package workflow

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 128

// Slugify는 이름을 URL에 안전한 slug로 변환합니다.
// 결합 문자(악센트)는 제거하고 문자/숫자가 아닌 연속 구간은 하나의 '-'로 합칩니다.
// 결과가 비어 있으면 fallback을 반환합니다.
func Slugify(name, fallback string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(truncateRunes(slug, maxSlugLength), "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}

// truncateRunes는 UTF-8 경계를 지키며 s를 최대 n 바이트로 자릅니다.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
