package domain

import (
	"fmt"
	"strings"
)

type Language string

const (
	LangEnglish Language = "en"
	LangHindi   Language = "hi"
	LangFrench  Language = "fr"
	LangGerman  Language = "de"
	LangSpanish Language = "es"
)

var supportedLanguages = []Language{LangEnglish, LangHindi, LangFrench, LangGerman, LangSpanish}

func SupportedLanguages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	for _, sl := range supportedLanguages {
		if sl == l {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

func ParseLanguages(raw []string) ([]Language, error) {
	out := make([]Language, 0, len(raw))
	seen := make(map[Language]struct{}, len(raw))
	for _, s := range raw {
		l, err := ParseLanguage(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

// Suffix is the language code with an upper-cased first letter ("hi" -> "Hi").
func (l Language) Suffix() string {
	if l == "" {
		return ""
	}
	return strings.ToUpper(string(l[:1])) + string(l[1:])
}

// Tag is the marker used by the mock translator ("hi" -> "HI").
func (l Language) Tag() string {
	return strings.ToUpper(string(l))
}
