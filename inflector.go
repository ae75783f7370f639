package changelog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Basename strips the package or namespace part of a type name: "*models.OrderItem" gives "OrderItem".
func Basename(typeName string) string {
	typeName = strings.TrimLeft(typeName, "*")
	if i := strings.LastIndexAny(typeName, `./\`); i >= 0 {
		return typeName[i+1:]
	}
	return typeName
}

// Titleize converts "order_item" and "OrderItem" to "Order Item".
func Titleize(name string) string {
	words := splitWords(name)
	if len(words) == 0 {
		return ""
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func splitWords(name string) []string {
	runes := []rune(name)
	words := make([]string, 0)
	current := make([]rune, 0, len(runes))
	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	for i, r := range runes {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextIsLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return words
}
