package library

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DeriveTitle produces a display title from a media file name: the extension
// is dropped, runs of punctuation and whitespace become word breaks, and the
// words are title-cased. Names with no usable words yield "Unknown Asset".
func DeriveTitle(sourcePath string) string {
	base := filepath.Base(strings.TrimSpace(sourcePath))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return "Unknown Asset"
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}
