package email

import (
	"strings"

	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.English, // fallback must come first
	language.Italian,
	language.French,
	language.Spanish,
	language.German,
	language.Portuguese,
	language.Russian,
	language.Chinese,
	language.Japanese,
	language.Arabic,
	language.Hindi,
}

var matcher = language.NewMatcher(supported)

// Language maps an account language preference to a supported base
// language code, falling back to "en".
func Language(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "en"
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "en"
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return "en"
	}
	base, _ := supported[idx].Base()
	return base.String()
}
