package slug

import (
	"regexp"
	"strings"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

	transliterator = strings.NewReplacer(
		"ç", "c", "ğ", "g", "ı", "i", "ö", "o", "ş", "s", "ü", "u",
		"á", "a", "à", "a", "â", "a", "ä", "a", "é", "e", "è", "e", "ê", "e", "ë", "e",
		"í", "i", "î", "i", "ó", "o", "ô", "o", "ú", "u", "û", "u", "ñ", "n", "ß", "ss",
	)
)

// Generate returns a lower-case, hyphen-separated slug for name.
//
//	Generate("Kış İndirimi 20%") == "kis-indirimi-20"
func Generate(name string) string {
	s := transliterator.Replace(strings.ToLower(strings.TrimSpace(name)))
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// CodePrefix returns an upper-case alphanumeric token derived from name, at most
// maxLen characters long, suitable as the prefix of a discount code.
//
//	CodePrefix("Summer Sale 2026", 8) == "SUMMERSA"
func CodePrefix(name string, maxLen int) string {
	token := strings.ToUpper(strings.ReplaceAll(Generate(name), "-", ""))
	if maxLen > 0 && len(token) > maxLen {
		token = token[:maxLen]
	}
	return token
}
