package tagme

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

const wikipediaURIBase = "https://%s.wikipedia.org/wiki/%s"

// Normalize converts a title to Wikipedia format, e.g. " barack Obama " becomes
// "Barack_Obama". An empty (or blank) title normalizes to "".
func Normalize(title string) string {
	title = strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
	if title == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

// Denormalize turns a Wikipedia title back into its display form, e.g.
// "Barack_Obama" becomes "Barack Obama". HTML entities are unescaped.
func Denormalize(title string) string {
	title = strings.Trim(title, " _")
	return html.UnescapeString(strings.ReplaceAll(title, "_", " "))
}

// TitleToURI returns the URI of the Wikipedia page describing an entity.
func TitleToURI(title, lang string) string {
	if lang == "" {
		lang = DefaultLang
	}
	return fmt.Sprintf(wikipediaURIBase, lang, Normalize(title))
}

// canonicalTitle is the form used for relatedness pair keys: display spacing
// with the first rune upper-cased.
func canonicalTitle(title string) string {
	return Denormalize(Normalize(title))
}
