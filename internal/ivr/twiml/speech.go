package twiml

import (
	"strconv"
	"strings"
)

// SpeakAmount renders cents as a dollars-and-cents phrase, e.g.
// "42 dollars and 17 cents".
func SpeakAmount(cents int64) string {
	if cents < 0 {
		cents = -cents
	}
	dollars, rest := cents/100, cents%100

	switch {
	case dollars == 0 && rest == 0:
		return "0 dollars"
	case dollars == 0:
		return plural(rest, "cent")
	case rest == 0:
		return plural(dollars, "dollar")
	default:
		return plural(dollars, "dollar") + " and " + plural(rest, "cent")
	}
}

func plural(n int64, unit string) string {
	s := strconv.FormatInt(n, 10) + " " + unit
	if n != 1 {
		s += "s"
	}
	return s
}

// SpeakDigits spells a reference one character at a time so the speech
// engine does not read it as a number: "4081" becomes "4, 0, 8, 1".
// Separators such as dashes are dropped.
func SpeakDigits(ref string) string {
	parts := make([]string, 0, len(ref))
	for _, r := range ref {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			parts = append(parts, string(r))
		case r >= 'a' && r <= 'z':
			parts = append(parts, strings.ToUpper(string(r)))
		}
	}
	return strings.Join(parts, ", ")
}
