package dedup

import (
	"regexp"
	"strings"
)

var conflictKeywordPattern = regexp.MustCompile(`(?i)\b(reply|erratum|comment|corrigendum)\b`)

var numberPattern = regexp.MustCompile(`\d+`)

// normalizeTitle lowercases and strips punctuation down to word characters
// and spaces, so "COVID-19: A Review" and "covid 19 a review" compare equal.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(normalized string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		out[tok] = struct{}{}
	}
	return out
}

// bigramSet returns the set of adjacent character pairs in s, a cheap
// typo-tolerant complement to whole-token Jaccard.
func bigramSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	runes := []rune(strings.ReplaceAll(s, " ", ""))
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// authorOverlapScore counts normalized shared authors between a and b,
// saturating at saturation so one large collaboration author list can't
// inflate the score on its own.
func authorOverlapScore(a, b []string, saturation int) float64 {
	if saturation <= 0 {
		saturation = 1
	}
	setB := make(map[string]struct{}, len(b))
	for _, name := range b {
		setB[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	shared := 0
	for _, name := range a {
		if _, ok := setB[strings.ToLower(strings.TrimSpace(name))]; ok {
			shared++
		}
	}
	if shared > saturation {
		shared = saturation
	}
	return float64(shared) / float64(saturation)
}

func numberTokens(normalized string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, n := range numberPattern.FindAllString(normalized, -1) {
		out[n] = struct{}{}
	}
	return out
}

func numberTokensDisagree(a, b string) bool {
	na, nb := numberTokens(a), numberTokens(b)
	if len(na) == 0 && len(nb) == 0 {
		return false
	}
	for n := range na {
		if _, ok := nb[n]; !ok {
			return true
		}
	}
	for n := range nb {
		if _, ok := na[n]; !ok {
			return true
		}
	}
	return false
}

func hasConflictKeyword(a, b string) bool {
	return conflictKeywordPattern.MatchString(a) != conflictKeywordPattern.MatchString(b)
}

func lengthRatio(a, b string) float64 {
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}
