package httpapi

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var targetLanguages = []string{
	"es", "pt", "fr", "de", "it", "nl", "pl", "sv", "da", "no",
	"fi", "cs", "hu", "ro", "hr", "sr-Latn", "tr", "id", "tl", "ms",
}

type languageInfo struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
}

func supportedLanguages() []languageInfo {
	ret := make([]languageInfo, 0, len(targetLanguages))
	for _, code := range targetLanguages {
		tag := language.MustParse(code)
		ret = append(ret, languageInfo{
			Code:       code,
			Name:       languageName(code),
			NativeName: display.Self.Name(tag),
		})
	}
	return ret
}

// languageName returns the English name of code, or code itself when it
// cannot be parsed.
func languageName(code string) string {
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
