// Package i18n holds the user-facing bot text. Messages live in embedded
// YAML catalogs, one directory per locale and one file per namespace, and
// are served through golang.org/x/text/message printers.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// BaseLocale must define every key; other locales may be partial.
const BaseLocale = "en-US"

// Message keys.
const (
	KeyInvitationDM        = "dm.invitation"
	KeyButtonAccept        = "button.accept"
	KeyButtonJoin          = "button.join"
	KeyNoticeUnavailable   = "notice.unavailable"
	KeyNoticeNotForYou     = "notice.not_for_you"
	KeyNoticeChannelGone   = "notice.channel_gone"
	KeyNoticeAccessGranted = "notice.access_granted"
	KeyNoticeFailed        = "notice.failed"

	KeyAuditCreated   = "audit.created"
	KeyAuditAccepted  = "audit.accepted"
	KeyAuditExpired   = "audit.expired"
	KeyAuditVacated   = "audit.vacated"
	KeyAuditAbandoned = "audit.abandoned"
	KeyAuditRollback  = "audit.rollback"
)

//go:embed locales/*/*.yaml
var embeddedLocales embed.FS

type catalogFile struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

// Bundle resolves message keys for a locale, falling back to the
// configured default locale and then to BaseLocale.
type Bundle struct {
	builder  *catalog.Builder
	matcher  language.Matcher
	fallback language.Tag
	base     map[string]string
	locales  []string
}

// Load builds a Bundle from the embedded catalogs. fallback is used when a
// requested locale is empty or unsupported.
func Load(fallback string) (*Bundle, error) {
	return LoadFromFS(embeddedLocales, fallback)
}

// LoadFromFS builds a Bundle from catalogs laid out as locales/<locale>/<namespace>.yaml.
func LoadFromFS(fsys fs.FS, fallback string) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	messagesByLocale := map[string]map[string]string{}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}

		locale := strings.TrimSpace(file.Locale)
		if want := path.Base(path.Dir(p)); locale != want {
			return nil, fmt.Errorf("catalog %s: locale %q must match path locale %q", p, locale, want)
		}
		if want := strings.TrimSuffix(path.Base(p), path.Ext(p)); strings.TrimSpace(file.Namespace) != want {
			return nil, fmt.Errorf("catalog %s: namespace %q must match filename %q", p, file.Namespace, want)
		}
		if len(file.Messages) == 0 {
			return nil, fmt.Errorf("catalog %s: messages map is required", p)
		}

		messages, ok := messagesByLocale[locale]
		if !ok {
			messages = map[string]string{}
			messagesByLocale[locale] = messages
		}
		for key, value := range file.Messages {
			key = strings.TrimSpace(key)
			if key == "" {
				return nil, fmt.Errorf("catalog %s: message key cannot be blank", p)
			}
			if _, exists := messages[key]; exists {
				return nil, fmt.Errorf("catalog %s: duplicate key %q in locale %q", p, key, locale)
			}
			messages[key] = value
		}
	}

	base, ok := messagesByLocale[BaseLocale]
	if !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}

	fallbackTag, err := language.Parse(strings.TrimSpace(fallback))
	if err != nil {
		return nil, fmt.Errorf("parse fallback locale %q: %w", fallback, err)
	}
	if _, ok := messagesByLocale[fallbackTag.String()]; !ok {
		return nil, fmt.Errorf("fallback locale %q has no catalog", fallback)
	}

	builder := catalog.NewBuilder(catalog.Fallback(language.MustParse(BaseLocale)))
	locales := make([]string, 0, len(messagesByLocale))
	tags := []language.Tag{fallbackTag}
	for locale, messages := range messagesByLocale {
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("parse locale tag %q: %w", locale, err)
		}
		locales = append(locales, locale)
		if tag != fallbackTag {
			tags = append(tags, tag)
		}
		for key, value := range messages {
			if err := builder.SetString(tag, key, value); err != nil {
				return nil, fmt.Errorf("register %s/%s: %w", locale, key, err)
			}
		}
	}
	sort.Strings(locales)
	// Keep the fallback first so the matcher defaults to it.
	sort.SliceStable(tags[1:], func(i, j int) bool { return tags[1+i].String() < tags[1+j].String() })

	return &Bundle{
		builder:  builder,
		matcher:  language.NewMatcher(tags),
		fallback: fallbackTag,
		base:     base,
		locales:  locales,
	}, nil
}

// Locales returns the available locale identifiers.
func (b *Bundle) Locales() []string {
	return append([]string(nil), b.locales...)
}

// Printer returns a printer for the closest supported locale.
func (b *Bundle) Printer(locale string) *message.Printer {
	return message.NewPrinter(b.Match(locale), message.Catalog(b.builder))
}

// Match resolves a Discord locale such as "en-GB" or "ru" to a supported tag.
func (b *Bundle) Match(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return b.fallback
	}
	tag, _, confidence := b.matcher.Match(language.Make(locale))
	if confidence == language.No {
		return b.fallback
	}
	base, _ := tag.Base()
	for _, supported := range b.locales {
		if supported == tag.String() {
			return tag
		}
	}
	for _, supported := range b.locales {
		if strings.HasPrefix(supported, base.String()) {
			return language.MustParse(supported)
		}
	}
	return b.fallback
}

// Text formats key for locale. Unknown keys, and any key on a nil Bundle,
// come back unchanged.
func (b *Bundle) Text(locale, key string, args ...any) string {
	if b == nil {
		return key
	}
	if _, ok := b.base[key]; !ok {
		return key
	}
	return b.Printer(locale).Sprintf(key, args...)
}

// Default formats key in the fallback locale.
func (b *Bundle) Default(key string, args ...any) string {
	if b == nil {
		return key
	}
	return b.Text(b.fallback.String(), key, args...)
}
