// Package i18n loads the embedded message catalogs and negotiates the
// language for a request or a recipient.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Supported lists the catalogs shipped with the binary, default first.
var Supported = []language.Tag{language.English, language.Spanish, language.German}

type Bundle struct {
	bundle  *i18n.Bundle
	matcher language.Matcher
}

// New parses every embedded catalog.
func New() (*Bundle, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", f.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", f.Name(), err)
		}
	}

	return &Bundle{
		bundle:  bundle,
		matcher: language.NewMatcher(Supported),
	}, nil
}

// Negotiate picks the supported base language for an Accept-Language header
// or a stored profile locale. fallback is used when nothing matches.
func (b *Bundle) Negotiate(acceptLanguage, fallback string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err == nil && len(tags) > 0 {
		_, index, confidence := b.matcher.Match(tags...)
		if confidence != language.No {
			return baseOf(Supported[index])
		}
	}
	if fallback != "" && fallback != acceptLanguage {
		return b.Negotiate(fallback, "")
	}
	return baseOf(Supported[0])
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// Localizer returns a translator for lang, falling back to English.
func (b *Bundle) Localizer(lang string) *Localizer {
	return &Localizer{
		lang:      lang,
		localizer: i18n.NewLocalizer(b.bundle, lang, language.English.String()),
	}
}

type Localizer struct {
	lang      string
	localizer *i18n.Localizer
}

func (l *Localizer) Lang() string {
	return l.lang
}

// T translates messageID with optional template data. A missing message
// yields the id itself.
func (l *Localizer) T(messageID string, data map[string]any) string {
	msg, ok := l.Lookup(messageID, data)
	if !ok {
		return messageID
	}
	return msg
}

func (l *Localizer) Lookup(messageID string, data map[string]any) (string, bool) {
	if l == nil || l.localizer == nil {
		return "", false
	}
	msg, err := l.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil || msg == "" {
		return "", false
	}
	return msg, true
}
