package selection

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	keyBelowMinimum      = "selection.notice.below_minimum"
	keyAboveMaximum      = "selection.notice.above_maximum"
	keyAddExceedsMaximum = "selection.notice.add_exceeds_maximum"
	keyDisplayLabel      = "selection.label.display"
)

var supportedLocales = []language.Tag{
	language.English,
	language.Italian,
	language.Japanese,
}

var localizedMessages = map[language.Tag]map[string]string{
	language.English: {
		keyBelowMinimum:      "You selected %d items. Select at least %d to continue.",
		keyAboveMaximum:      "You selected %d items. The maximum allowed is %d.",
		keyAddExceedsMaximum: "The total quantity cannot exceed %d.",
		keyDisplayLabel:      "Added options",
	},
	language.Italian: {
		keyBelowMinimum:      "Hai selezionato %d prodotti. Devi selezionare almeno %d prodotti per procedere.",
		keyAboveMaximum:      "Hai selezionato %d prodotti. Il massimo consentito è %d.",
		keyAddExceedsMaximum: "La quantità totale non può superare %d.",
		keyDisplayLabel:      "Opzioni aggiunte",
	},
	language.Japanese: {
		keyBelowMinimum:      "%d 個選択されています。続行するには %d 個以上選択してください。",
		keyAboveMaximum:      "%d 個選択されています。選択できる上限は %d 個です。",
		keyAddExceedsMaximum: "合計数量は %d を超えられません。",
		keyDisplayLabel:      "追加オプション",
	},
}

// Localizer renders notices and the display label in the shopper's language.
type Localizer struct {
	catalog  *catalog.Builder
	matcher  language.Matcher
	fallback language.Tag
	label    string
}

// LocalizerOption customises Localizer construction.
type LocalizerOption func(*Localizer)

// WithDefaultLocale sets the locale used when no candidate matches.
func WithDefaultLocale(locale string) LocalizerOption {
	return func(l *Localizer) {
		tag, err := language.Parse(strings.TrimSpace(locale))
		if err != nil {
			return
		}
		_, index, confidence := l.matcher.Match(tag)
		if confidence != language.No {
			l.fallback = supportedLocales[index]
		}
	}
}

// WithDisplayLabel overrides the localized display label with a fixed string.
func WithDisplayLabel(label string) LocalizerOption {
	return func(l *Localizer) {
		l.label = strings.TrimSpace(label)
	}
}

// NewLocalizer constructs a Localizer backed by the built-in message catalog.
func NewLocalizer(opts ...LocalizerOption) *Localizer {
	l := &Localizer{
		catalog:  buildCatalog(),
		matcher:  language.NewMatcher(supportedLocales),
		fallback: language.English,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func buildCatalog() *catalog.Builder {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, messages := range localizedMessages {
		for key, msg := range messages {
			if err := builder.SetString(tag, key, msg); err != nil {
				panic(fmt.Sprintf("selection: register message %s/%s: %v", tag, key, err))
			}
		}
	}
	return builder
}

// Match resolves the first candidate that matches a supported locale. Candidates may
// be plain tags ("it-IT") or Accept-Language header values.
func (l *Localizer) Match(candidates ...string) language.Tag {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(candidate)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, index, confidence := l.matcher.Match(tags...)
		if confidence == language.No {
			continue
		}
		return supportedLocales[index]
	}
	return l.fallback
}

// Notice renders the notice text for locale.
func (l *Localizer) Notice(locale string, notice Notice) string {
	printer := l.printer(locale)
	switch notice.Kind {
	case NoticeBelowMinimum:
		return printer.Sprintf(keyBelowMinimum, notice.Total, notice.Limit)
	case NoticeAboveMaximum:
		return printer.Sprintf(keyAboveMaximum, notice.Total, notice.Limit)
	case NoticeAddExceedsMaximum:
		return printer.Sprintf(keyAddExceedsMaximum, notice.Limit)
	default:
		return ""
	}
}

// DisplayLabel returns the label shown next to rendered selections.
func (l *Localizer) DisplayLabel(locale string) string {
	if l.label != "" {
		return l.label
	}
	return l.printer(locale).Sprintf(keyDisplayLabel)
}

func (l *Localizer) printer(locale string) *message.Printer {
	return message.NewPrinter(l.Match(locale), message.Catalog(l.catalog))
}
