package action

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// titleWord builds its own Caser: a Caser holds state and must not be shared
// between goroutines.
func titleWord(w string) string {
	if w == "" {
		return "Voice"
	}
	return cases.Title(language.English).String(w)
}
