package grading

import (
	"fmt"
	"strings"
)

// Language identifies a supported submission toolchain.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageC          Language = "c"
	LanguageCPP        Language = "cpp"
	LanguageRust       Language = "rust"
	LanguageJavaScript Language = "javascript"
)

// Languages lists every language in a stable order.
var Languages = []Language{
	LanguagePython,
	LanguageJava,
	LanguageC,
	LanguageCPP,
	LanguageRust,
	LanguageJavaScript,
}

// ParseLanguage normalises a user supplied language name.
func ParseLanguage(raw string) (Language, error) {
	name := Language(strings.ToLower(strings.TrimSpace(raw)))
	switch name {
	case "c++":
		return LanguageCPP, nil
	case "js", "node":
		return LanguageJavaScript, nil
	}
	for _, lang := range Languages {
		if lang == name {
			return lang, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, raw)
}
