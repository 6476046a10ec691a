package timeline

import "strings"

// categoryKeywords is checked in order; the first keyword found in the
// filename wins.
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"rain", "rain"},
	{"thunder", "thunder"},
	{"bird", "nature"},
	{"forest", "nature"},
	{"nature", "nature"},
	{"cricket", "nature"},
	{"frog", "nature"},
	{"water", "water"},
	{"ocean", "water"},
	{"stream", "water"},
	{"river", "water"},
	{"fire", "fire"},
	{"coffee", "urban"},
	{"library", "urban"},
	{"city", "urban"},
	{"book", "urban"},
	{"wind", "wind"},
	{"meditation", "meditation"},
	{"temple", "meditation"},
	{"bowl", "meditation"},
}

// Category classifies an audio filename for display grouping.
func Category(filename string) string {
	lower := strings.ToLower(filename)
	for _, kw := range categoryKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.category
		}
	}
	return "default"
}
